package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/storefront"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle metrics
	SessionRefreshTotal    metric.Int64Counter
	SessionRecoveriesTotal metric.Int64Counter
	SessionClearedTotal    metric.Int64Counter
	BootstrapDuration      metric.Float64Histogram

	// Role lookup metrics
	RoleFetchTotal metric.Int64Counter

	// Sign-in audit metrics
	SignInsLoggedTotal   metric.Int64Counter
	SignInLogErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments bind to the global meter provider at first use, so InitTelemetry
// must run before the first call for metrics to be exported.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionRefreshTotal, _ = meter.Int64Counter(
		"storefront.session.refresh.total",
		metric.WithDescription("Total number of provider session refreshes by trigger and outcome"),
		metric.WithUnit("{refresh}"),
	)

	m.SessionRecoveriesTotal, _ = meter.Int64Counter(
		"storefront.session.recovery.total",
		metric.WithDescription("Total number of session recovery attempts by outcome"),
		metric.WithUnit("{recovery}"),
	)

	m.SessionClearedTotal, _ = meter.Int64Counter(
		"storefront.session.cleared.total",
		metric.WithDescription("Total number of times a live session was cleared, by reason"),
		metric.WithUnit("{session}"),
	)

	m.BootstrapDuration, _ = meter.Float64Histogram(
		"storefront.session.bootstrap.duration",
		metric.WithDescription("Time until the session lifecycle finished loading"),
		metric.WithUnit("ms"),
	)

	m.RoleFetchTotal, _ = meter.Int64Counter(
		"storefront.role.fetch.total",
		metric.WithDescription("Total number of user role lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)

	m.SignInsLoggedTotal, _ = meter.Int64Counter(
		"storefront.signin.logged.total",
		metric.WithDescription("Total number of sign-in attempts recorded"),
		metric.WithUnit("{signin}"),
	)

	m.SignInLogErrorsTotal, _ = meter.Int64Counter(
		"storefront.signin.log_errors.total",
		metric.WithDescription("Total number of sign-in records that failed to persist"),
		metric.WithUnit("{error}"),
	)

	return m
}
