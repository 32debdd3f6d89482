// Package signin records sign-in attempts and answers the audit queries used
// by back-office screens. Nothing here returns an error: failed writes are
// logged and dropped, failed reads degrade to empty results.
package signin

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
	"github.com/wolfeidau/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultHistoryLimit = 10
	DefaultRecentLimit  = 50
)

// Attempt describes one sign-in attempt. A failed attempt may carry no user
// id when the provider never identified one.
type Attempt struct {
	UserID        string               `json:"user_id" validate:"required_if=Success true,max=255"`
	Email         string               `json:"email" validate:"required,email,max=320"`
	Success       bool                 `json:"success"`
	FailureReason string               `json:"failure_reason,omitempty" validate:"max=512"`
	SessionID     string               `json:"session_id,omitempty" validate:"max=255"`
	IPAddress     string               `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent     string               `json:"user_agent,omitempty" validate:"max=1024"`
	DeviceInfo    *models.DeviceInfo   `json:"device_info,omitempty"`
	LocationInfo  *models.LocationInfo `json:"location_info,omitempty"`
}

// Logger appends sign-in records and reads them back.
type Logger struct {
	store store.SignInStore
	now   func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source used for SignInAt.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New creates a Logger over s.
func New(s store.SignInStore, opts ...Option) *Logger {
	l := &Logger{
		store: s,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogSignIn records the attempt with SignInAt set to now. Device info is
// derived from the user agent unless supplied. Store errors are logged and
// swallowed so sign-in flows never fail on audit.
func (l *Logger) LogSignIn(ctx context.Context, a Attempt) {
	record, err := l.newRecord(a)
	if err != nil {
		log.Error().Err(err).Str("user_id", a.UserID).Msg("failed to build sign-in record")
		return
	}

	metrics := telemetry.GetMetrics()

	if err := l.store.InsertSignIn(ctx, record); err != nil {
		metrics.SignInLogErrorsTotal.Add(ctx, 1)
		log.Error().Err(err).
			Str("user_id", record.UserID).
			Bool("success", record.Success).
			Msg("failed to log sign-in")
		return
	}

	metrics.SignInsLoggedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("success", strconv.FormatBool(record.Success))))

	log.Debug().
		Str("id", record.ID.String()).
		Str("user_id", record.UserID).
		Bool("success", record.Success).
		Str("browser", record.DeviceInfo.Browser).
		Msg("logged sign-in")
}

func (l *Logger) newRecord(a Attempt) (*models.SignInRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	deviceInfo := GetDeviceInfo(a.UserAgent)
	if a.DeviceInfo != nil {
		deviceInfo = *a.DeviceInfo
	}

	return &models.SignInRecord{
		ID:            id,
		UserID:        a.UserID,
		Email:         a.Email,
		Success:       a.Success,
		FailureReason: a.FailureReason,
		SessionID:     a.SessionID,
		IPAddress:     a.IPAddress,
		UserAgent:     a.UserAgent,
		DeviceInfo:    deviceInfo,
		LocationInfo:  a.LocationInfo,
		SignInAt:      l.now().UTC(),
	}, nil
}

// GetUserSignInHistory returns the user's most recent records, newest first.
// A limit of zero or less uses DefaultHistoryLimit.
func (l *Logger) GetUserSignInHistory(ctx context.Context, userID string, limit int) []*models.SignInRecord {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	records, err := l.store.ListSignIns(ctx, store.SignInQuery{UserID: userID, Limit: limit})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to fetch sign-in history")
		return []*models.SignInRecord{}
	}

	return nonNil(records)
}

// GetRecentSignIns returns the most recent records across all users.
// A limit of zero or less uses DefaultRecentLimit.
func (l *Logger) GetRecentSignIns(ctx context.Context, limit int) []*models.SignInRecord {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	records, err := l.store.ListSignIns(ctx, store.SignInQuery{Limit: limit})
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch recent sign-ins")
		return []*models.SignInRecord{}
	}

	return nonNil(records)
}

// GetSignInStats counts records inside the optional inclusive range.
func (l *Logger) GetSignInStats(ctx context.Context, start, end *time.Time) models.SignInStats {
	records, err := l.store.ListSignIns(ctx, store.SignInQuery{Since: start, Until: end})
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch sign-in stats")
		return models.SignInStats{}
	}

	return Aggregate(records)
}

// Aggregate counts successes, failures and distinct users.
func Aggregate(records []*models.SignInRecord) models.SignInStats {
	stats := models.SignInStats{TotalSignIns: len(records)}
	users := make(map[string]struct{})

	for _, r := range records {
		if r.Success {
			stats.SuccessfulSignIns++
		} else {
			stats.FailedSignIns++
		}
		users[r.UserID] = struct{}{}
	}

	stats.UniqueUsers = len(users)
	return stats
}

func nonNil(records []*models.SignInRecord) []*models.SignInRecord {
	if records == nil {
		return []*models.SignInRecord{}
	}
	return records
}
