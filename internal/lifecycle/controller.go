// Package lifecycle owns the authoritative in-memory session and role for one
// client context and keeps them in step with the identity provider.
//
// The controller bootstraps from the provider (falling back to the stored
// snapshot), follows provider events, refreshes periodically and on user
// activity, and reconciles against the provider on a health check interval
// and whenever the host reports it became visible. None of its operations
// return errors: provider and store failures degrade to "absent" or leave the
// state unchanged.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/provider"
	"github.com/wolfeidau/storefront/internal/recovery"
	"github.com/wolfeidau/storefront/internal/snapshot"
	"github.com/wolfeidau/storefront/internal/store"
)

var (
	ErrAlreadyStarted = errors.New("controller already started")
	ErrClosed         = errors.New("controller closed")
)

// State is a point-in-time copy of the controller's public state.
type State struct {
	Session   *models.Session
	UserRole  string
	IsLoading bool
}

// IsSessionValid returns true if the session has a user with an id and email.
func (s State) IsSessionValid() bool {
	return s.Session.IsValid()
}

// Deps are the collaborators the controller is built from.
type Deps struct {
	Provider provider.Provider
	Roles    store.RoleStore
	Adapter  *snapshot.Adapter
	// Recovery defaults to an engine over Provider and Adapter.
	Recovery *recovery.Engine
}

// Controller is the session lifecycle state machine.
type Controller struct {
	provider provider.Provider
	roles    store.RoleStore
	adapter  *snapshot.Adapter
	recovery *recovery.Engine
	cfg      Config

	mu        sync.Mutex
	session   *models.Session
	role      string
	loading   bool
	started   bool
	closed    bool
	listeners map[int]func(State)
	nextID    int
	stops     []func()
	activity  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
	startedAt time.Time
}

// New creates a controller. Nothing runs until Start.
func New(deps Deps, cfg Config) *Controller {
	cfg.ApplyDefaults()

	rec := deps.Recovery
	if rec == nil {
		rec = recovery.New(deps.Provider, deps.Adapter)
	}

	return &Controller{
		provider:  deps.Provider,
		roles:     deps.Roles,
		adapter:   deps.Adapter,
		recovery:  rec,
		cfg:       cfg,
		loading:   true,
		listeners: make(map[int]func(State)),
		ctx:       context.Background(),
		cancel:    func() {},
		ready:     make(chan struct{}),
	}
}

// Start subscribes to provider events, begins bootstrap and starts the
// periodic refresh and health check tasks. The controller runs until Close;
// cancelling ctx also stops in-flight provider calls.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.startedAt = time.Now()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	sub := c.provider.OnAuthStateChange(c.handleAuthEvent)
	c.addStop(sub.Unsubscribe)

	timeout := time.AfterFunc(c.cfg.BootstrapTimeout, func() {
		log.Warn().Dur("timeout", c.cfg.BootstrapTimeout).Msg("session bootstrap timed out, continuing in background")
		c.finishLoading("timeout")
	})
	c.addStop(func() { timeout.Stop() })

	c.spawn(func(ctx context.Context) {
		c.bootstrap(ctx)
		c.finishLoading("bootstrap")
	})

	c.addStop(c.every(c.cfg.RefreshInterval, c.periodicRefresh))
	c.addStop(c.every(c.cfg.HealthCheckInterval, func(ctx context.Context) {
		c.healthCheck(ctx, "health_check")
	}))

	log.Debug().
		Dur("refresh_interval", c.cfg.RefreshInterval).
		Dur("health_check_interval", c.cfg.HealthCheckInterval).
		Msg("session lifecycle started")

	return nil
}

// Close unsubscribes from the provider, stops every task, cancels in-flight
// calls and waits for task goroutines. Results that arrive afterwards are
// discarded. Close must not be called from an OnChange callback.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stops := c.stops
	c.stops = nil
	if c.activity != nil {
		c.activity.Stop()
	}
	c.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}

	c.cancel()
	c.wg.Wait()

	c.readyOnce.Do(func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
		close(c.ready)
	})

	log.Debug().Msg("session lifecycle closed")
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Session returns a copy of the current session, or nil.
func (c *Controller) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// UserRole returns the current role, "" when unknown.
func (c *Controller) UserRole() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// IsLoading is true until bootstrap completes or times out.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// IsSessionValid returns true if the session has a user with an id and email.
func (c *Controller) IsSessionValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.IsValid()
}

// Ready is closed once IsLoading becomes false.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// OnChange registers fn to be called after every state change. Callbacks run
// synchronously on the goroutine that made the change.
func (c *Controller) OnChange(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// ForceRefreshSession re-syncs with the provider: the current provider
// session is adopted if there is one, otherwise a refresh is attempted.
func (c *Controller) ForceRefreshSession(ctx context.Context) {
	session, err := c.getSession(ctx)
	switch {
	case err == nil && session.HasUser():
		c.adopt(ctx, session, true)
		return
	case err != nil && provider.IsRefreshTokenError(err):
		c.clearInvalid(ctx, "force_refresh", err)
		return
	case err != nil:
		log.Debug().Err(err).Msg("failed to get session, trying refresh")
	}

	c.refresh(ctx, "force")
}

// SignOut signs out at the provider and clears the session and role. A
// provider failure is logged; local state is cleared regardless.
func (c *Controller) SignOut(ctx context.Context) {
	prev := c.Session()

	_, err := provider.Guard("sign out", func() (struct{}, error) {
		return struct{}{}, c.provider.SignOut(ctx)
	})
	if err != nil {
		log.Warn().Err(err).Str("session", prev.Fingerprint()).Msg("provider sign out failed, clearing local session")
	}

	if c.setSession(nil) && prev != nil {
		recordCleared(ctx, "sign_out")
	}
}

// FetchUserRoleWithRetry looks up the role for userID, retrying failed or
// empty lookups up to retries times with the configured fixed delay. On
// success the role is applied and returned; once retries are exhausted the
// role is reset to "" and ok is false. Either way the role is only applied
// while userID is still the session's user.
func (c *Controller) FetchUserRoleWithRetry(ctx context.Context, userID string, retries int) (role string, ok bool) {
	role, err := c.lookupRoleWithRetry(ctx, userID, retries)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Int("retries", retries).Msg("failed to fetch user role")
		c.setRoleFor(userID, models.RoleUnknown)
		return "", false
	}

	c.setRoleFor(userID, role)
	return role, true
}

// NotifyVisibilityChange reports the host became visible or hidden. Becoming
// visible runs the same reconciliation as the health check.
func (c *Controller) NotifyVisibilityChange(visible bool) {
	if !visible {
		return
	}

	c.spawn(func(ctx context.Context) {
		c.healthCheck(ctx, "visibility")
	})
}

// NotifyActivity reports a user interaction. Events listed in ActivityEvents
// restart the debounce timer; when it fires while authenticated the session
// is refreshed.
func (c *Controller) NotifyActivity(event string) {
	if !isActivityEvent(event) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.closed {
		return
	}

	if c.activity == nil {
		c.activity = time.AfterFunc(c.cfg.ActivityDebounce, c.activityFired)
		return
	}
	c.activity.Reset(c.cfg.ActivityDebounce)
}

func (c *Controller) activityFired() {
	c.spawn(func(ctx context.Context) {
		if !c.authenticated() {
			return
		}
		c.refresh(ctx, "activity")
	})
}

func (c *Controller) stateLocked() State {
	return State{
		Session:   c.session.Clone(),
		UserRole:  c.role,
		IsLoading: c.loading,
	}
}

func (c *Controller) listenersLocked() []func(State) {
	out := make([]func(State), 0, len(c.listeners))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}

func (c *Controller) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.HasUser()
}

// setSession replaces the session and mirrors it to the snapshot. The role is
// reset when the session is cleared or belongs to a different user. It returns
// false once the controller is closed.
func (c *Controller) setSession(session *models.Session) bool {
	if !session.HasUser() {
		session = nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.session.Same(session) {
		c.mu.Unlock()
		return true
	}
	if c.session.UserID() != session.UserID() {
		c.role = models.RoleUnknown
	}
	c.session = session.Clone()
	// persisted under the lock so storage never lags behind a later write
	c.adapter.Persist(session)
	state := c.stateLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, state)
	return true
}

// setRoleFor applies role only while userID is still the session's user.
func (c *Controller) setRoleFor(userID, role string) {
	c.mu.Lock()
	if c.closed || c.session.UserID() != userID || c.role == role {
		c.mu.Unlock()
		return
	}
	c.role = role
	state := c.stateLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, state)
}

func (c *Controller) finishLoading(reason string) {
	c.readyOnce.Do(func() {
		c.mu.Lock()
		c.loading = false
		closed := c.closed
		state := c.stateLocked()
		listeners := c.listenersLocked()
		elapsed := time.Since(c.startedAt)
		c.mu.Unlock()

		close(c.ready)
		recordBootstrap(c.ctx, reason, elapsed)

		log.Debug().
			Str("reason", reason).
			Dur("elapsed", elapsed).
			Bool("authenticated", state.Session.HasUser()).
			Msg("session bootstrap finished")

		if !closed {
			notify(listeners, state)
		}
	})
}

// addStop registers a teardown func, running it at once if already closed.
func (c *Controller) addStop(stop func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stop()
		return
	}
	c.stops = append(c.stops, stop)
	c.mu.Unlock()
}

// spawn runs fn on a tracked goroutine unless the controller is closed.
func (c *Controller) spawn(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if c.closed || !c.started {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
	return true
}

// every runs fn on each tick until the returned stop func is called or the
// controller's context is cancelled.
func (c *Controller) every(interval time.Duration, fn func(ctx context.Context)) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	c.spawn(func(ctx context.Context) {
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
