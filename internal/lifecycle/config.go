package lifecycle

import (
	"slices"
	"time"
)

// Defaults returned by DefaultConfig.
const (
	DefaultBootstrapTimeout    = 5 * time.Second
	DefaultRefreshInterval     = 10 * time.Minute
	DefaultHealthCheckInterval = 5 * time.Minute
	DefaultActivityDebounce    = 30 * time.Second
	DefaultRoleRetries         = 3
	DefaultRoleRetryDelay      = time.Second
)

// ActivityEvents are the interaction events that arm the activity refresh.
var ActivityEvents = []string{"mousedown", "keydown", "scroll", "touchstart", "click"}

// Config holds the controller's timing configuration.
type Config struct {
	// BootstrapTimeout caps how long IsLoading stays true.
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
	// RefreshInterval is the periodic refresh cadence while authenticated.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// HealthCheckInterval is the cadence of the provider reconciliation.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// ActivityDebounce is the quiet period after the last interaction
	// before an activity refresh fires.
	ActivityDebounce time.Duration `yaml:"activity_debounce"`
	// RoleRetries is the number of retries after the first role lookup.
	// Zero means a single lookup.
	RoleRetries int `yaml:"role_retries"`
	// RoleRetryDelay is the fixed wait between role lookups.
	RoleRetryDelay time.Duration `yaml:"role_retry_delay"`
}

// DefaultConfig returns the default timing configuration.
func DefaultConfig() Config {
	return Config{
		BootstrapTimeout:    DefaultBootstrapTimeout,
		RefreshInterval:     DefaultRefreshInterval,
		HealthCheckInterval: DefaultHealthCheckInterval,
		ActivityDebounce:    DefaultActivityDebounce,
		RoleRetries:         DefaultRoleRetries,
		RoleRetryDelay:      DefaultRoleRetryDelay,
	}
}

// ApplyDefaults fills unset durations. RoleRetries has no unset state, so it
// is only clamped to zero; start from DefaultConfig to get the default count.
func (c *Config) ApplyDefaults() {
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.ActivityDebounce <= 0 {
		c.ActivityDebounce = DefaultActivityDebounce
	}
	if c.RoleRetries < 0 {
		c.RoleRetries = 0
	}
	if c.RoleRetryDelay <= 0 {
		c.RoleRetryDelay = DefaultRoleRetryDelay
	}
}

func isActivityEvent(event string) bool {
	return slices.Contains(ActivityEvents, event)
}
