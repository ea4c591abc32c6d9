package donation_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"pgregory.net/rapid"

	"memoria/internal/apperr"
	"memoria/internal/donation"
	"memoria/internal/memorial"
	"memoria/internal/store/memory"
	"memoria/internal/store/storetest"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedger(store memorial.Store, opts ...donation.Option) donation.Service {
	opts = append([]donation.Option{donation.WithClock(memorial.ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	return donation.NewService(store, quietLogger(), opts...)
}

func seed(t require.TestingT, store memorial.Store, owner string) string {
	id, err := store.Insert(context.Background(), storetest.Sample(owner))
	require.NoError(t, err)
	return id
}

func gift(amount float64) donation.Input {
	return donation.Input{Amount: amount, Name: "Sam", Email: "sam@example.com"}
}

func TestRecordStampsAndAppends(t *testing.T) {
	store := memory.New()
	ledger := newLedger(store)
	ctx := context.Background()
	id := seed(t, store, "owner")

	d, err := ledger.Record(ctx, id, gift(50))
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, fixedNow, d.Date)
	assert.Equal(t, memorial.PayoutPending, d.PayoutStatus)
	assert.Equal(t, memorial.DonationOneTime, d.Type)

	m, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, m.Donations, 1)
	assert.Equal(t, *d, m.Donations[0])
}

func TestRecordValidates(t *testing.T) {
	store := memory.New()
	ledger := newLedger(store)
	id := seed(t, store, "owner")

	for name, in := range map[string]donation.Input{
		"zero amount": {Amount: 0, Name: "Sam", Email: "sam@example.com"},
		"bad email":   {Amount: 5, Name: "Sam", Email: "sam"},
		"bad type":    {Amount: 5, Name: "Sam", Email: "sam@example.com", Type: "weekly"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.Record(context.Background(), id, in)
			var ve *apperr.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	_, err := ledger.Record(context.Background(), "missing", gift(5))
	assert.True(t, apperr.IsNotFound(err))
}

func TestAppendPreservesPriorEntries(t *testing.T) {
	store := memory.New()
	ledger := newLedger(store)
	ctx := context.Background()
	id := seed(t, store, "owner")

	for i := 0; i < 3; i++ {
		_, err := ledger.Record(ctx, id, gift(10))
		require.NoError(t, err)
	}
	_, err := ledger.MarkPaidForOwner(ctx, "owner", memorial.PayoutPaid)
	require.NoError(t, err)

	const more = 4
	for i := 0; i < more; i++ {
		_, err := ledger.Record(ctx, id, gift(20))
		require.NoError(t, err)
	}

	m, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, m.Donations, 3+more)
	for i, d := range m.Donations {
		if i < 3 {
			assert.Equal(t, memorial.PayoutPaid, d.PayoutStatus)
		} else {
			assert.Equal(t, memorial.PayoutPending, d.PayoutStatus)
		}
	}
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := memory.New()
		ledger := newLedger(store)
		ctx := context.Background()

		counts := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 4).Draw(t, "donations per memorial")
		total := 0
		for _, n := range counts {
			id := seed(t, store, "owner")
			for i := 0; i < n; i++ {
				_, err := ledger.Record(ctx, id, gift(float64(i+1)))
				require.NoError(t, err)
			}
			total += n
		}
		seed(t, store, "other-owner")

		first, err := ledger.MarkPaidForOwner(ctx, "owner", "")
		require.NoError(t, err)
		assert.Equal(t, total, first.Donations)

		before, err := store.ListByField(ctx, memorial.FieldUserID, "owner")
		require.NoError(t, err)
		for _, m := range before {
			for _, d := range m.Donations {
				assert.Equal(t, memorial.PayoutPaid, d.PayoutStatus)
			}
		}

		second, err := ledger.MarkPaidForOwner(ctx, "owner", memorial.PayoutPaid)
		require.NoError(t, err)
		assert.Zero(t, second.Donations)
		assert.Zero(t, second.Memorials)

		after, err := store.ListByField(ctx, memorial.FieldUserID, "owner")
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestMarkPaidRejectsReverseTransition(t *testing.T) {
	ledger := newLedger(memory.New())
	_, err := ledger.MarkPaidForOwner(context.Background(), "owner", memorial.PayoutPending)

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, apperr.CodeInvalidPayoutTransition, ve.Code)
}

type flakyStore struct {
	*memory.Store
	failID string
}

func (s *flakyStore) TransitionPayouts(ctx context.Context, id string, from, to memorial.PayoutStatus) (int, error) {
	if id == s.failID {
		return 0, apperr.Unavailable("transition payouts", errors.New("connection reset"))
	}
	return s.Store.TransitionPayouts(ctx, id, from, to)
}

func TestMarkPaidPartialFailure(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	ledger := newLedger(store)
	ctx := context.Background()

	good := seed(t, store, "owner")
	bad := seed(t, store, "owner")
	store.failID = bad
	for _, id := range []string{good, bad} {
		_, err := ledger.Record(ctx, id, gift(10))
		require.NoError(t, err)
	}

	rec, err := ledger.MarkPaidForOwner(ctx, "owner", memorial.PayoutPaid)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Memorials)
	assert.Equal(t, []string{bad}, rec.Failed)

	m, err := store.GetByID(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, memorial.PayoutPaid, m.Donations[0].PayoutStatus)
}

func TestNotifiersRunDetached(t *testing.T) {
	store := memory.New()
	got := make(chan string, 2)
	ledger := newLedger(store, donation.WithNotifiers(
		donation.NotifierFunc(func(ctx context.Context, m *memorial.Memorial, d memorial.Donation) error {
			got <- fmt.Sprintf("%s:%d", m.FullName, len(m.Donations))
			return ctx.Err()
		}),
		donation.NotifierFunc(func(context.Context, *memorial.Memorial, memorial.Donation) error {
			got <- "failing"
			return errors.New("smtp down")
		}),
	))
	id := seed(t, store, "owner")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := ledger.Record(ctx, id, gift(5))
	cancel()
	require.NoError(t, err)

	var seen []string
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			seen = append(seen, s)
		case <-time.After(2 * time.Second):
			t.Fatal("notifier was not called")
		}
	}
	assert.ElementsMatch(t, []string{"Jane Doe:1", "failing"}, seen)
}

func TestSummary(t *testing.T) {
	store := memory.New()
	ledger := newLedger(store)
	ctx := context.Background()

	m := storetest.Sample("owner")
	m.DonationInfo.GoalAmount = 200
	id, err := store.Insert(ctx, m)
	require.NoError(t, err)

	_, err = ledger.Record(ctx, id, gift(50))
	require.NoError(t, err)
	_, err = ledger.MarkPaidForOwner(ctx, "owner", memorial.PayoutPaid)
	require.NoError(t, err)
	_, err = ledger.Record(ctx, id, gift(30))
	require.NoError(t, err)

	s, err := ledger.Summary(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 80.0, s.TotalRaised)
	assert.Equal(t, 30.0, s.PendingPayout)
	assert.Equal(t, 50.0, s.PaidOut)
	assert.InDelta(t, 0.4, s.GoalProgress, 1e-9)
}

func TestHandleRecordRateLimited(t *testing.T) {
	store := memory.New()
	id := seed(t, store, "owner")
	h := donation.NewHandler(newLedger(store), rate.NewLimiter(rate.Every(time.Hour), 1))
	r := chi.NewRouter()
	h.Routes(r)

	body := `{"amount":25,"name":"Sam","email":"sam@example.com"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials/"+id+"/donations", strings.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials/"+id+"/donations", strings.NewReader(body)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleReconcile(t *testing.T) {
	store := memory.New()
	ledger := newLedger(store)
	id := seed(t, store, "owner")
	_, err := ledger.Record(context.Background(), id, gift(10))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/admin", donation.NewHandler(ledger, nil).AdminRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/owners/owner/payouts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"owner_id":"owner","memorials":1,"donations":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/owners/owner/payouts", strings.NewReader(`{"status":"pending"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// chunked builds a request whose body length is unknown, as with
// Transfer-Encoding: chunked.
func chunked(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, io.NopCloser(strings.NewReader(body)))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	return req
}

func TestHandleReconcileChunkedBody(t *testing.T) {
	store := memory.New()
	ledger := newLedger(store)
	id := seed(t, store, "owner")
	_, err := ledger.Record(context.Background(), id, gift(10))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/admin", donation.NewHandler(ledger, nil).AdminRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, chunked("/admin/owners/owner/payouts", `{"status":"pending"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperr.CodeInvalidPayoutTransition))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, chunked("/admin/owners/owner/payouts", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"owner_id":"owner","memorials":1,"donations":1}`, rec.Body.String())
}
