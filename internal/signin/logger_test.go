package signin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
	"github.com/wolfeidau/storefront/internal/store/memory"
)

var errStoreDown = errors.New("connection refused")

// failingStore fails every call.
type failingStore struct {
	inserts int
}

func (f *failingStore) InsertSignIn(context.Context, *models.SignInRecord) error {
	f.inserts++
	return errStoreDown
}

func (f *failingStore) ListSignIns(context.Context, store.SignInQuery) ([]*models.SignInRecord, error) {
	return nil, errStoreDown
}

// recordingStore captures queries and returns canned records.
type recordingStore struct {
	queries []store.SignInQuery
	records []*models.SignInRecord
}

func (r *recordingStore) InsertSignIn(context.Context, *models.SignInRecord) error { return nil }

func (r *recordingStore) ListSignIns(_ context.Context, q store.SignInQuery) ([]*models.SignInRecord, error) {
	r.queries = append(r.queries, q)
	return r.records, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLogSignIn(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	s := memory.NewSignInStore()
	l := New(s, WithClock(fixedClock(at)))

	l.LogSignIn(ctx, Attempt{
		UserID:    "u1",
		Email:     "u1@example.com",
		Success:   true,
		SessionID: "sess-1",
		IPAddress: "198.51.100.4",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36",
	})

	l.LogSignIn(ctx, Attempt{
		UserID:        "u2",
		Email:         "u2@example.com",
		FailureReason: "Invalid login credentials",
		DeviceInfo:    &models.DeviceInfo{Browser: "Kiosk", DeviceType: "Tablet"},
		LocationInfo:  &models.LocationInfo{Country: "AU"},
	})

	records, err := s.ListSignIns(ctx, store.SignInQuery{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	byUser := map[string]*models.SignInRecord{}
	for _, r := range records {
		byUser[r.UserID] = r
	}

	success := byUser["u1"]
	require.NotNil(t, success)
	assert.Equal(t, at, success.SignInAt)
	assert.True(t, success.Success)
	assert.Equal(t, "sess-1", success.SessionID)
	assert.Equal(t, "198.51.100.4", success.IPAddress)
	assert.Equal(t, models.DeviceInfo{Browser: "Chrome", OS: "Windows", DeviceType: "Desktop"}, success.DeviceInfo)
	assert.Equal(t, uuid.Version(7), success.ID.Version())

	failure := byUser["u2"]
	require.NotNil(t, failure)
	assert.False(t, failure.Success)
	assert.Equal(t, "Invalid login credentials", failure.FailureReason)
	assert.Equal(t, models.DeviceInfo{Browser: "Kiosk", DeviceType: "Tablet"}, failure.DeviceInfo)
	require.NotNil(t, failure.LocationInfo)
	assert.Equal(t, "AU", failure.LocationInfo.Country)
}

func TestLogSignIn_StoreErrorIsSwallowed(t *testing.T) {
	s := &failingStore{}
	l := New(s)

	require.NotPanics(t, func() {
		l.LogSignIn(context.Background(), Attempt{UserID: "u1", Email: "u1@example.com", Success: true})
	})
	assert.Equal(t, 1, s.inserts)
}

func TestReads_DegradeOnError(t *testing.T) {
	ctx := context.Background()
	l := New(&failingStore{})

	history := l.GetUserSignInHistory(ctx, "u1", 5)
	require.NotNil(t, history)
	assert.Empty(t, history)

	recent := l.GetRecentSignIns(ctx, 5)
	require.NotNil(t, recent)
	assert.Empty(t, recent)

	assert.Equal(t, models.SignInStats{}, l.GetSignInStats(ctx, nil, nil))
}

func TestReads_DefaultLimits(t *testing.T) {
	ctx := context.Background()
	s := &recordingStore{}
	l := New(s)

	assert.NotNil(t, l.GetUserSignInHistory(ctx, "u1", 0))
	assert.NotNil(t, l.GetRecentSignIns(ctx, -1))
	l.GetRecentSignIns(ctx, 3)

	require.Len(t, s.queries, 3)
	assert.Equal(t, store.SignInQuery{UserID: "u1", Limit: DefaultHistoryLimit}, s.queries[0])
	assert.Equal(t, store.SignInQuery{Limit: DefaultRecentLimit}, s.queries[1])
	assert.Equal(t, store.SignInQuery{Limit: 3}, s.queries[2])
}

func TestGetSignInStats(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := memory.NewSignInStore()

	attempts := []struct {
		userID  string
		success bool
	}{
		{"a", true},
		{"a", true},
		{"b", false},
		{"c", true},
	}
	for i, a := range attempts {
		l := New(s, WithClock(fixedClock(base.Add(time.Duration(i)*24*time.Hour))))
		l.LogSignIn(ctx, Attempt{UserID: a.userID, Email: a.userID + "@example.com", Success: a.success})
	}

	l := New(s)

	stats := l.GetSignInStats(ctx, nil, nil)
	assert.Equal(t, models.SignInStats{TotalSignIns: 4, SuccessfulSignIns: 3, FailedSignIns: 1, UniqueUsers: 3}, stats)

	start := base.Add(24 * time.Hour)
	end := base.Add(2 * 24 * time.Hour)
	stats = l.GetSignInStats(ctx, &start, &end)
	assert.Equal(t, models.SignInStats{TotalSignIns: 2, SuccessfulSignIns: 1, FailedSignIns: 1, UniqueUsers: 2}, stats)

	stats = l.GetSignInStats(ctx, &end, nil)
	assert.Equal(t, models.SignInStats{TotalSignIns: 2, SuccessfulSignIns: 1, FailedSignIns: 1, UniqueUsers: 2}, stats)

	// inverted range is a query error, which degrades to zero stats
	assert.Equal(t, models.SignInStats{}, l.GetSignInStats(ctx, &end, &start))
}

func TestAggregate(t *testing.T) {
	records := []*models.SignInRecord{
		{UserID: "a", Success: true},
		{UserID: "a", Success: true},
		{UserID: "b", Success: false},
		{UserID: "c", Success: true},
	}

	assert.Equal(t, models.SignInStats{TotalSignIns: 4, SuccessfulSignIns: 3, FailedSignIns: 1, UniqueUsers: 3}, Aggregate(records))
	assert.Equal(t, models.SignInStats{}, Aggregate(nil))
}
