// Package postgres stores memorials in PostgreSQL. Slug uniqueness is a
// unique constraint; donations and tributes are child tables so appends and
// payout updates never rewrite the parent row.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"memoria/internal/apperr"
	"memoria/internal/entitlement"
	"memoria/internal/memorial"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	slugConstraint      = "memorials_slug_key"
)

const memorialColumns = `id, slug, user_id, status, plan, first_name, middle_name, last_name, full_name,
	birth_date, death_date, location, cause_of_death, cause_of_death_private, biography,
	profile_image_url, gallery, theme_id, layout_id, donation_info, email_settings, created_at, updated_at`

var fieldColumns = map[memorial.Field]string{
	memorial.FieldUserID: "user_id",
	memorial.FieldStatus: "status",
	memorial.FieldPlan:   "plan",
}

type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

func New(db *sql.DB) *Store {
	return &Store{db: db, tracer: otel.Tracer("memoria/store/postgres")}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperr.Unavailable("create schema", err)
	}
	return nil
}

func (s *Store) FindBySlug(ctx context.Context, slug string) (*memorial.Memorial, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.find_by_slug", trace.WithAttributes(attribute.String("slug", slug)))
	defer span.End()

	ms, err := s.query(ctx, `SELECT `+memorialColumns+` FROM memorials WHERE slug = $1`, slug)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, memorial.ErrNotFound
	}
	return ms[0], nil
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM memorials WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, apperr.Unavailable("probe slug", err)
	}
	return exists, nil
}

func (s *Store) Insert(ctx context.Context, m *memorial.Memorial) (string, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.insert", trace.WithAttributes(attribute.String("slug", m.Slug)))
	defer span.End()

	causes, gallery, info, email, err := encodeDocuments(m)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memorials (`+memorialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, id, m.Slug, m.UserID, m.Status, m.Plan, m.FirstName, m.MiddleName, m.LastName, m.FullName,
		m.BirthDate, m.DeathDate, m.Location, causes, m.CauseOfDeathPrivate, m.Biography,
		m.ProfileImageURL, gallery, m.ThemeID, m.LayoutID, info, email, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isSlugViolation(err) {
			span.SetAttributes(attribute.Bool("slug.conflict", true))
			return "", memorial.ErrSlugTaken
		}
		return "", apperr.Unavailable("insert memorial", err)
	}

	for _, d := range m.Donations {
		if err := s.AppendDonation(ctx, id, d); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*memorial.Memorial, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.get", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	ms, err := s.query(ctx, `SELECT `+memorialColumns+` FROM memorials WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, memorial.ErrNotFound
	}
	return ms[0], nil
}

func (s *Store) ListByField(ctx context.Context, field memorial.Field, value string) ([]*memorial.Memorial, error) {
	column, ok := fieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported field %q", field)
	}
	ctx, span := s.tracer.Start(ctx, "memorials.list", trace.WithAttributes(attribute.String("field", column)))
	defer span.End()

	return s.query(ctx, `SELECT `+memorialColumns+` FROM memorials WHERE `+column+` = $1 ORDER BY created_at, id`, value)
}

func (s *Store) Patch(ctx context.Context, id string, p memorial.Patch) error {
	ctx, span := s.tracer.Start(ctx, "memorials.patch", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	cols, args, err := patchColumns(p)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM memorials WHERE id = $1)`, id).Scan(&exists); err != nil {
			return apperr.Unavailable("patch memorial", err)
		}
		if !exists {
			return memorial.ErrNotFound
		}
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+2)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE memorials SET `+strings.Join(sets, ", ")+` WHERE id = $1`,
		append([]interface{}{id}, args...)...)
	if err != nil {
		return apperr.Unavailable("patch memorial", err)
	}
	return requireRow(res)
}

func (s *Store) SetSlug(ctx context.Context, id, slug string) error {
	ctx, span := s.tracer.Start(ctx, "memorials.set_slug", trace.WithAttributes(
		attribute.String("memorial.id", id), attribute.String("slug", slug)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE memorials SET slug = $2 WHERE id = $1`, id, slug)
	if err != nil {
		if isSlugViolation(err) {
			return memorial.ErrSlugTaken
		}
		return apperr.Unavailable("set slug", err)
	}
	return requireRow(res)
}

func (s *Store) ClaimOwner(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.claim", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM memorials WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, memorial.ErrNotFound
	}
	if err != nil {
		return false, apperr.Unavailable("lock memorial", err)
	}
	switch owner {
	case userID:
		return false, nil
	case "":
	default:
		return false, memorial.ErrOwnedByOther
	}

	if _, err := tx.ExecContext(ctx, `UPDATE memorials SET user_id = $2, updated_at = $3 WHERE id = $1`, id, userID, at); err != nil {
		return false, apperr.Unavailable("claim memorial", err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Unavailable("commit claim", err)
	}
	return true, nil
}

func (s *Store) RaisePlan(ctx context.Context, id string, plan entitlement.Plan, at time.Time) (entitlement.Plan, bool, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.raise_plan", trace.WithAttributes(
		attribute.String("memorial.id", id), attribute.String("plan", string(plan))))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, apperr.Unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	var previous entitlement.Plan
	err = tx.QueryRowContext(ctx, `SELECT plan FROM memorials WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if err == sql.ErrNoRows {
		return "", false, memorial.ErrNotFound
	}
	if err != nil {
		return "", false, apperr.Unavailable("lock memorial", err)
	}
	if plan.Rank() <= previous.Rank() {
		return previous, false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE memorials SET plan = $2, updated_at = $3 WHERE id = $1`, id, plan, at); err != nil {
		return "", false, apperr.Unavailable("raise plan", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, apperr.Unavailable("commit plan", err)
	}
	return previous, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "memorials.delete", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memorials WHERE id = $1`, id)
	if err != nil {
		return apperr.Unavailable("delete memorial", err)
	}
	return requireRow(res)
}

func (s *Store) AppendDonation(ctx context.Context, id string, d memorial.Donation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO donations (id, memorial_id, amount, name, email, message, is_anonymous, type, date, payout_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, id, d.Amount, d.Name, d.Email, d.Message, d.IsAnonymous, d.Type, d.Date, d.PayoutStatus)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return memorial.ErrNotFound
		}
		return apperr.Unavailable("append donation", err)
	}
	return nil
}

func (s *Store) TransitionPayouts(ctx context.Context, id string, from, to memorial.PayoutStatus) (int, error) {
	ctx, span := s.tracer.Start(ctx, "donations.transition", trace.WithAttributes(
		attribute.String("memorial.id", id), attribute.String("to", string(to))))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM memorials WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err == sql.ErrNoRows {
		return 0, memorial.ErrNotFound
	}
	if err != nil {
		return 0, apperr.Unavailable("lock memorial", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE donations SET payout_status = $3
		WHERE memorial_id = $1 AND payout_status = $2
	`, id, from, to)
	if err != nil {
		return 0, apperr.Unavailable("transition payouts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Unavailable("transition payouts", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Unavailable("commit payouts", err)
	}
	span.SetAttributes(attribute.Int64("donations.changed", n))
	return int(n), nil
}

func (s *Store) AddTribute(ctx context.Context, memorialID string, t memorial.Tribute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tributes (id, memorial_id, author_name, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, memorialID, t.AuthorName, t.Message, t.CreatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return memorial.ErrNotFound
		}
		return apperr.Unavailable("add tribute", err)
	}
	return nil
}

func (s *Store) ListTributes(ctx context.Context, memorialID string) ([]memorial.Tribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memorial_id, author_name, message, created_at
		FROM tributes WHERE memorial_id = $1
		ORDER BY created_at, id
	`, memorialID)
	if err != nil {
		return nil, apperr.Unavailable("list tributes", err)
	}
	defer rows.Close()

	var out []memorial.Tribute
	for rows.Next() {
		var t memorial.Tribute
		if err := rows.Scan(&t.ID, &t.MemorialID, &t.AuthorName, &t.Message, &t.CreatedAt); err != nil {
			return nil, apperr.Unavailable("scan tribute", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("iterate tributes", err)
	}
	return out, nil
}

// query loads memorials and their donations in two round trips.
func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]*memorial.Memorial, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Unavailable("query memorials", err)
	}
	defer rows.Close()

	var (
		out []*memorial.Memorial
		ids []string
	)
	for rows.Next() {
		m, err := scanMemorial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("iterate memorials", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	donations, err := s.loadDonations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range out {
		m.Donations = donations[m.ID]
		if m.Donations == nil {
			m.Donations = []memorial.Donation{}
		}
	}
	return out, nil
}

func (s *Store) loadDonations(ctx context.Context, ids []string) (map[string][]memorial.Donation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memorial_id, id, amount, name, email, message, is_anonymous, type, date, payout_status
		FROM donations WHERE memorial_id = ANY($1)
		ORDER BY seq
	`, pq.Array(ids))
	if err != nil {
		return nil, apperr.Unavailable("query donations", err)
	}
	defer rows.Close()

	out := make(map[string][]memorial.Donation, len(ids))
	for rows.Next() {
		var (
			memorialID string
			d          memorial.Donation
		)
		if err := rows.Scan(&memorialID, &d.ID, &d.Amount, &d.Name, &d.Email, &d.Message,
			&d.IsAnonymous, &d.Type, &d.Date, &d.PayoutStatus); err != nil {
			return nil, apperr.Unavailable("scan donation", err)
		}
		out[memorialID] = append(out[memorialID], d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("iterate donations", err)
	}
	return out, nil
}

func scanMemorial(rows *sql.Rows) (*memorial.Memorial, error) {
	var (
		m                            memorial.Memorial
		causes, gallery, info, email []byte
	)
	err := rows.Scan(&m.ID, &m.Slug, &m.UserID, &m.Status, &m.Plan, &m.FirstName, &m.MiddleName,
		&m.LastName, &m.FullName, &m.BirthDate, &m.DeathDate, &m.Location, &causes,
		&m.CauseOfDeathPrivate, &m.Biography, &m.ProfileImageURL, &gallery, &m.ThemeID,
		&m.LayoutID, &info, &email, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, apperr.Unavailable("scan memorial", err)
	}

	for _, doc := range []struct {
		raw  []byte
		into interface{}
	}{
		{causes, &m.CauseOfDeath},
		{gallery, &m.Gallery},
		{info, &m.DonationInfo},
		{email, &m.EmailSettings},
	} {
		if err := json.Unmarshal(doc.raw, doc.into); err != nil {
			return nil, fmt.Errorf("decode memorial %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func encodeDocuments(m *memorial.Memorial) (causes, gallery, info, email string, err error) {
	enc := func(v interface{}) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}
	causesList := m.CauseOfDeath
	if causesList == nil {
		causesList = []string{}
	}
	galleryList := m.Gallery
	if galleryList == nil {
		galleryList = []memorial.GalleryItem{}
	}
	causes = enc(causesList)
	gallery = enc(galleryList)
	info = enc(m.DonationInfo)
	email = enc(m.EmailSettings)
	return causes, gallery, info, email, err
}

// patchColumns maps the set fields of p onto columns and bind values.
func patchColumns(p memorial.Patch) ([]string, []interface{}, error) {
	var (
		cols []string
		args []interface{}
		err  error
	)
	set := func(col string, v interface{}) {
		cols = append(cols, col)
		args = append(args, v)
	}
	setJSON := func(col string, v interface{}) {
		if err != nil {
			return
		}
		var b []byte
		b, err = json.Marshal(v)
		set(col, string(b))
	}

	if p.UserID != nil {
		set("user_id", *p.UserID)
	}
	if p.Plan != nil {
		set("plan", *p.Plan)
	}
	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.FirstName != nil {
		set("first_name", *p.FirstName)
	}
	if p.MiddleName != nil {
		set("middle_name", *p.MiddleName)
	}
	if p.LastName != nil {
		set("last_name", *p.LastName)
	}
	if p.FullName != nil {
		set("full_name", *p.FullName)
	}
	if p.BirthDate != nil {
		set("birth_date", *p.BirthDate)
	}
	if p.DeathDate != nil {
		set("death_date", *p.DeathDate)
	}
	if p.Location != nil {
		set("location", *p.Location)
	}
	if p.CauseOfDeath != nil {
		causes := *p.CauseOfDeath
		if causes == nil {
			causes = []string{}
		}
		setJSON("cause_of_death", causes)
	}
	if p.CauseOfDeathPrivate != nil {
		set("cause_of_death_private", *p.CauseOfDeathPrivate)
	}
	if p.Biography != nil {
		set("biography", *p.Biography)
	}
	if p.ProfileImageURL != nil {
		set("profile_image_url", *p.ProfileImageURL)
	}
	if p.Gallery != nil {
		gallery := *p.Gallery
		if gallery == nil {
			gallery = []memorial.GalleryItem{}
		}
		setJSON("gallery", gallery)
	}
	if p.ThemeID != nil {
		set("theme_id", *p.ThemeID)
	}
	if p.LayoutID != nil {
		set("layout_id", *p.LayoutID)
	}
	if p.DonationInfo != nil {
		setJSON("donation_info", *p.DonationInfo)
	}
	if p.EmailSettings != nil {
		setJSON("email_settings", *p.EmailSettings)
	}
	if !p.UpdatedAt.IsZero() {
		set("updated_at", p.UpdatedAt)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("encode patch: %w", err)
	}
	return cols, args, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Unavailable("rows affected", err)
	}
	if n == 0 {
		return memorial.ErrNotFound
	}
	return nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func isSlugViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == slugConstraint
}
