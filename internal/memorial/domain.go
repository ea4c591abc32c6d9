// internal/memorial/domain.go
package memorial

import (
	"strings"
	"time"

	"memoria/internal/entitlement"
)

// Status is the publication state of a memorial.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
)

// PayoutStatus tracks whether a donation has been disbursed. It only ever
// moves from pending to paid.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
)

// DonationType is the cadence of a contribution.
type DonationType string

const (
	DonationOneTime DonationType = "one-time"
	DonationMonthly DonationType = "monthly"
)

// Default donation settings applied at creation.
const DefaultDonationPurpose = "General Support for the Family"

// DefaultSuggestedAmounts returns a fresh copy of the default amounts.
func DefaultSuggestedAmounts() []float64 {
	return []float64{25, 50, 100, 250}
}

// Memorial represents one published or draft tribute page.
type Memorial struct {
	ID                  string           `json:"id" firestore:"-"`
	Slug                string           `json:"slug" firestore:"slug"`
	UserID              string           `json:"user_id,omitempty" firestore:"userId"`
	Status              Status           `json:"status" firestore:"status"`
	Plan                entitlement.Plan `json:"plan" firestore:"plan"`
	FirstName           string           `json:"first_name" firestore:"firstName"`
	MiddleName          string           `json:"middle_name,omitempty" firestore:"middleName"`
	LastName            string           `json:"last_name" firestore:"lastName"`
	FullName            string           `json:"full_name" firestore:"fullName"`
	BirthDate           string           `json:"birth_date,omitempty" firestore:"birthDate"`
	DeathDate           string           `json:"death_date,omitempty" firestore:"deathDate"`
	Location            string           `json:"location,omitempty" firestore:"location"`
	CauseOfDeath        []string         `json:"cause_of_death,omitempty" firestore:"causeOfDeath"`
	CauseOfDeathPrivate bool             `json:"cause_of_death_private" firestore:"causeOfDeathPrivate"`
	Biography           string           `json:"biography,omitempty" firestore:"biography"`
	ProfileImageURL     string           `json:"profile_image_url,omitempty" firestore:"profileImageUrl"`
	Gallery             []GalleryItem    `json:"gallery" firestore:"gallery"`
	ThemeID             string           `json:"theme_id,omitempty" firestore:"themeId"`
	LayoutID            string           `json:"layout_id,omitempty" firestore:"layoutId"`
	DonationInfo        DonationInfo     `json:"donation_info" firestore:"donationInfo"`
	EmailSettings       EmailSettings    `json:"email_settings" firestore:"emailSettings"`
	Donations           []Donation       `json:"donations" firestore:"donations"`
	CreatedAt           time.Time        `json:"created_at" firestore:"createdAt"`
	UpdatedAt           time.Time        `json:"updated_at" firestore:"updatedAt"`
}

// EditableBy reports whether ownerID may modify m. Unclaimed memorials are
// editable by anyone until claimed.
func (m *Memorial) EditableBy(ownerID string) bool {
	return m.UserID == "" || m.UserID == ownerID
}

// GalleryItem is one entry of the heterogeneous media gallery.
type GalleryItem struct {
	ID      string `json:"id" firestore:"id"`
	Kind    string `json:"kind" firestore:"kind" validate:"oneof=photo video audio link"`
	URL     string `json:"url" firestore:"url" validate:"required,url"`
	Title   string `json:"title,omitempty" firestore:"title"`
	Caption string `json:"caption,omitempty" firestore:"caption"`
}

// DonationInfo configures the donation panel of a memorial.
type DonationInfo struct {
	Enabled          bool      `json:"enabled" firestore:"enabled"`
	Recipient        string    `json:"recipient" firestore:"recipient"`
	GoalAmount       float64   `json:"goal_amount" firestore:"goalAmount" validate:"gte=0"`
	SuggestedAmounts []float64 `json:"suggested_amounts" firestore:"suggestedAmounts" validate:"dive,gt=0"`
	Purpose          string    `json:"purpose" firestore:"purpose"`
	ShowDonorWall    bool      `json:"show_donor_wall" firestore:"showDonorWall"`
}

// EmailSettings personalizes emails sent on the family's behalf.
type EmailSettings struct {
	SenderName     string `json:"sender_name" firestore:"senderName"`
	ReplyTo        string `json:"reply_to" firestore:"replyTo" validate:"omitempty,email"`
	HeaderImageURL string `json:"header_image_url" firestore:"headerImageUrl"`
	FooterMessage  string `json:"footer_message" firestore:"footerMessage"`
}

// Donation is one contribution event.
type Donation struct {
	ID           string       `json:"id" firestore:"id"`
	Amount       float64      `json:"amount" firestore:"amount"`
	Name         string       `json:"name" firestore:"name"`
	Email        string       `json:"email" firestore:"email"`
	Message      string       `json:"message,omitempty" firestore:"message"`
	IsAnonymous  bool         `json:"is_anonymous" firestore:"isAnonymous"`
	Type         DonationType `json:"type" firestore:"type"`
	Date         time.Time    `json:"date" firestore:"date"`
	PayoutStatus PayoutStatus `json:"payout_status" firestore:"payoutStatus"`
}

// Tribute is a message left on a memorial.
type Tribute struct {
	ID         string    `json:"id" firestore:"id"`
	MemorialID string    `json:"memorial_id" firestore:"memorialId"`
	AuthorName string    `json:"author_name" firestore:"authorName"`
	Message    string    `json:"message" firestore:"message"`
	CreatedAt  time.Time `json:"created_at" firestore:"createdAt"`
}

// Draft is the input to Create. Nil sub-structures and empty enums are
// filled with defaults.
type Draft struct {
	UserID              string           `json:"-"`
	Status              Status           `json:"status,omitempty" validate:"omitempty,oneof=draft active"`
	Plan                entitlement.Plan `json:"plan,omitempty" validate:"omitempty,oneof=free premium eternal"`
	FirstName           string           `json:"first_name" validate:"required,max=100"`
	MiddleName          string           `json:"middle_name,omitempty" validate:"max=100"`
	LastName            string           `json:"last_name" validate:"required,max=100"`
	BirthDate           string           `json:"birth_date,omitempty"`
	DeathDate           string           `json:"death_date,omitempty"`
	Location            string           `json:"location,omitempty"`
	CauseOfDeath        []string         `json:"cause_of_death,omitempty"`
	CauseOfDeathPrivate bool             `json:"cause_of_death_private,omitempty"`
	Biography           string           `json:"biography,omitempty"`
	ProfileImageURL     string           `json:"profile_image_url,omitempty"`
	Gallery             []GalleryItem    `json:"gallery,omitempty" validate:"dive"`
	ThemeID             string           `json:"theme_id,omitempty"`
	LayoutID            string           `json:"layout_id,omitempty"`
	DonationInfo        *DonationInfo    `json:"donation_info,omitempty"`
	EmailSettings       *EmailSettings   `json:"email_settings,omitempty"`
}

// Patch carries merge-patch updates: nil fields are left alone, non-nil
// fields replace the stored value wholesale (slices and sub-structures
// included).
type Patch struct {
	UserID              *string           `json:"-"`
	Plan                *entitlement.Plan `json:"-"`
	Status              *Status           `json:"status,omitempty" validate:"omitempty,oneof=draft active"`
	FirstName           *string           `json:"first_name,omitempty" validate:"omitempty,min=1,max=100"`
	MiddleName          *string           `json:"middle_name,omitempty" validate:"omitempty,max=100"`
	LastName            *string           `json:"last_name,omitempty" validate:"omitempty,min=1,max=100"`
	FullName            *string           `json:"-"`
	BirthDate           *string           `json:"birth_date,omitempty"`
	DeathDate           *string           `json:"death_date,omitempty"`
	Location            *string           `json:"location,omitempty"`
	CauseOfDeath        *[]string         `json:"cause_of_death,omitempty"`
	CauseOfDeathPrivate *bool             `json:"cause_of_death_private,omitempty"`
	Biography           *string           `json:"biography,omitempty"`
	ProfileImageURL     *string           `json:"profile_image_url,omitempty"`
	Gallery             *[]GalleryItem    `json:"gallery,omitempty" validate:"omitempty,dive"`
	ThemeID             *string           `json:"theme_id,omitempty"`
	LayoutID            *string           `json:"layout_id,omitempty"`
	DonationInfo        *DonationInfo     `json:"donation_info,omitempty"`
	EmailSettings       *EmailSettings    `json:"email_settings,omitempty"`
	UpdatedAt           time.Time         `json:"-"`
}

// Fields names the fields set on p, in store column order.
func (p Patch) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.UserID != nil, "user_id")
	add(p.Plan != nil, "plan")
	add(p.Status != nil, "status")
	add(p.FirstName != nil, "first_name")
	add(p.MiddleName != nil, "middle_name")
	add(p.LastName != nil, "last_name")
	add(p.FullName != nil, "full_name")
	add(p.BirthDate != nil, "birth_date")
	add(p.DeathDate != nil, "death_date")
	add(p.Location != nil, "location")
	add(p.CauseOfDeath != nil, "cause_of_death")
	add(p.CauseOfDeathPrivate != nil, "cause_of_death_private")
	add(p.Biography != nil, "biography")
	add(p.ProfileImageURL != nil, "profile_image_url")
	add(p.Gallery != nil, "gallery")
	add(p.ThemeID != nil, "theme_id")
	add(p.LayoutID != nil, "layout_id")
	add(p.DonationInfo != nil, "donation_info")
	add(p.EmailSettings != nil, "email_settings")
	return fields
}

// Apply writes the set fields of p onto m. Store adapters that patch a
// decoded record in memory use it.
func (p Patch) Apply(m *Memorial) {
	if p.UserID != nil {
		m.UserID = *p.UserID
	}
	if p.Plan != nil {
		m.Plan = *p.Plan
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.FirstName != nil {
		m.FirstName = *p.FirstName
	}
	if p.MiddleName != nil {
		m.MiddleName = *p.MiddleName
	}
	if p.LastName != nil {
		m.LastName = *p.LastName
	}
	if p.FullName != nil {
		m.FullName = *p.FullName
	}
	if p.BirthDate != nil {
		m.BirthDate = *p.BirthDate
	}
	if p.DeathDate != nil {
		m.DeathDate = *p.DeathDate
	}
	if p.Location != nil {
		m.Location = *p.Location
	}
	if p.CauseOfDeath != nil {
		m.CauseOfDeath = append([]string(nil), (*p.CauseOfDeath)...)
	}
	if p.CauseOfDeathPrivate != nil {
		m.CauseOfDeathPrivate = *p.CauseOfDeathPrivate
	}
	if p.Biography != nil {
		m.Biography = *p.Biography
	}
	if p.ProfileImageURL != nil {
		m.ProfileImageURL = *p.ProfileImageURL
	}
	if p.Gallery != nil {
		m.Gallery = append([]GalleryItem(nil), (*p.Gallery)...)
	}
	if p.ThemeID != nil {
		m.ThemeID = *p.ThemeID
	}
	if p.LayoutID != nil {
		m.LayoutID = *p.LayoutID
	}
	if p.DonationInfo != nil {
		info := *p.DonationInfo
		info.SuggestedAmounts = append([]float64(nil), info.SuggestedAmounts...)
		m.DonationInfo = info
	}
	if p.EmailSettings != nil {
		m.EmailSettings = *p.EmailSettings
	}
	if !p.UpdatedAt.IsZero() {
		m.UpdatedAt = p.UpdatedAt
	}
}

// FullName joins the non-empty name parts with single spaces.
func FullName(first, middle, last string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{first, middle, last} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// DefaultDonationInfo is the donation panel of a new memorial.
func DefaultDonationInfo() DonationInfo {
	return DonationInfo{
		Enabled:          false,
		Recipient:        "",
		GoalAmount:       0,
		SuggestedAmounts: DefaultSuggestedAmounts(),
		Purpose:          DefaultDonationPurpose,
		ShowDonorWall:    true,
	}
}

// DefaultEmailSettings derives email settings from the memorial's name and
// profile image.
func DefaultEmailSettings(fullName, profileImageURL string) EmailSettings {
	return EmailSettings{
		SenderName:     fullName + " Tribute Team",
		ReplyTo:        "",
		HeaderImageURL: profileImageURL,
		FooterMessage:  "In loving memory of " + fullName + ".",
	}
}

// Clone returns a deep copy of m.
func (m *Memorial) Clone() *Memorial {
	if m == nil {
		return nil
	}
	c := *m
	c.CauseOfDeath = append([]string(nil), m.CauseOfDeath...)
	c.Gallery = append([]GalleryItem(nil), m.Gallery...)
	c.DonationInfo.SuggestedAmounts = append([]float64(nil), m.DonationInfo.SuggestedAmounts...)
	c.Donations = append([]Donation{}, m.Donations...)
	return &c
}

// Event represents a domain event related to a memorial.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MemorialCreatedEvent is recorded when a memorial is persisted.
type MemorialCreatedEvent struct {
	ID     string           `json:"id"`
	Slug   string           `json:"slug"`
	UserID string           `json:"user_id,omitempty"`
	Plan   entitlement.Plan `json:"plan"`
	Status Status           `json:"status"`
}

// MemorialUpdatedEvent lists the fields an update replaced.
type MemorialUpdatedEvent struct {
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// SlugChangedEvent is recorded on rename.
type SlugChangedEvent struct {
	ID      string `json:"id"`
	OldSlug string `json:"old_slug"`
	NewSlug string `json:"new_slug"`
}

// MemorialClaimedEvent is recorded when a guest draft gets an owner.
type MemorialClaimedEvent struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// PlanUpgradedEvent is recorded when a payment raises the plan.
type PlanUpgradedEvent struct {
	ID      string           `json:"id"`
	OldPlan entitlement.Plan `json:"old_plan"`
	NewPlan entitlement.Plan `json:"new_plan"`
}

// MemorialDeletedEvent is recorded on hard delete.
type MemorialDeletedEvent struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}
