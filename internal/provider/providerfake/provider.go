// Package providerfake provides a scriptable provider.Provider for tests.
package providerfake

import (
	"context"
	"sync"

	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

// Call names recorded by Calls.
const (
	CallGetSession = "GetSession"
	CallRefresh    = "RefreshSession"
	CallRestore    = "RestoreSession"
	CallSignOut    = "SignOut"
)

// SessionFunc scripts GetSession and RefreshSession.
type SessionFunc func(ctx context.Context) (*models.Session, error)

// RestoreFunc scripts RestoreSession.
type RestoreFunc func(ctx context.Context, tokens provider.TokenPair) (*models.Session, error)

// ErrSessionMissing is the default RefreshSession outcome.
var ErrSessionMissing = &provider.AuthError{Status: 400, Message: "Auth session missing!", Kind: provider.KindSessionMissing}

// Provider is an in-memory provider whose every call can be scripted.
type Provider struct {
	mu sync.Mutex

	getSession SessionFunc
	refresh    SessionFunc
	restore    RestoreFunc
	signOut    func(ctx context.Context) error

	listeners map[int]provider.Listener
	nextID    int

	calls        map[string]int
	restoreCalls []provider.TokenPair
}

// New returns a provider with no session: GetSession returns nil, refresh and
// restore fail with a non-terminal error, sign out succeeds.
func New() *Provider {
	return &Provider{
		getSession: Returns(nil, nil),
		refresh:    Returns(nil, ErrSessionMissing),
		restore: func(context.Context, provider.TokenPair) (*models.Session, error) {
			return nil, ErrSessionMissing
		},
		signOut:   func(context.Context) error { return nil },
		listeners: make(map[int]provider.Listener),
		calls:     make(map[string]int),
	}
}

// Returns builds a SessionFunc with a fixed outcome.
func Returns(session *models.Session, err error) SessionFunc {
	return func(context.Context) (*models.Session, error) {
		return session.Clone(), err
	}
}

// Blocks builds a SessionFunc that never resolves until ctx is done.
func Blocks() SessionFunc {
	return func(ctx context.Context) (*models.Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Panics builds a SessionFunc that panics, simulating a misbehaving client.
func Panics(v any) SessionFunc {
	return func(context.Context) (*models.Session, error) {
		panic(v)
	}
}

// RestoreReturns builds a RestoreFunc with a fixed outcome.
func RestoreReturns(session *models.Session, err error) RestoreFunc {
	return func(context.Context, provider.TokenPair) (*models.Session, error) {
		return session.Clone(), err
	}
}

func (p *Provider) SetGetSession(fn SessionFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getSession = fn
}

func (p *Provider) SetRefresh(fn SessionFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh = fn
}

func (p *Provider) SetRestore(fn RestoreFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restore = fn
}

func (p *Provider) SetSignOut(fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOut = fn
}

// Calls returns how many times the named call was made.
func (p *Provider) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

// RestoreCalls returns the token pairs passed to RestoreSession, in order.
func (p *Provider) RestoreCalls() []provider.TokenPair {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.TokenPair(nil), p.restoreCalls...)
}

// Listeners returns the number of active subscriptions.
func (p *Provider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Emit delivers an event to every listener, in subscription order.
func (p *Provider) Emit(event provider.Event, session *models.Session) {
	p.mu.Lock()
	listeners := make([]provider.Listener, 0, len(p.listeners))
	for i := 0; i < p.nextID; i++ {
		if l, ok := p.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(event, session.Clone())
	}
}

func (p *Provider) GetSession(ctx context.Context) (*models.Session, error) {
	p.mu.Lock()
	p.calls[CallGetSession]++
	fn := p.getSession
	p.mu.Unlock()

	return fn(ctx)
}

func (p *Provider) RefreshSession(ctx context.Context) (*models.Session, error) {
	p.mu.Lock()
	p.calls[CallRefresh]++
	fn := p.refresh
	p.mu.Unlock()

	return fn(ctx)
}

func (p *Provider) RestoreSession(ctx context.Context, tokens provider.TokenPair) (*models.Session, error) {
	p.mu.Lock()
	p.calls[CallRestore]++
	p.restoreCalls = append(p.restoreCalls, tokens)
	fn := p.restore
	p.mu.Unlock()

	return fn(ctx, tokens)
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.calls[CallSignOut]++
	fn := p.signOut
	p.mu.Unlock()

	return fn(ctx)
}

func (p *Provider) OnAuthStateChange(listener provider.Listener) provider.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = listener

	return provider.SubscriptionFunc(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	})
}
