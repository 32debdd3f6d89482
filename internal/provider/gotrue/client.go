// Package gotrue implements provider.Provider against a GoTrue (Supabase Auth)
// server using its REST API.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/provider"
	"github.com/wolfeidau/storefront/internal/storage"
	"golang.org/x/oauth2"
)

var _ provider.Provider = (*Client)(nil)

// ErrSessionMissing is returned when an operation needs a session and there is none.
var ErrSessionMissing = &provider.AuthError{
	Status:  http.StatusBadRequest,
	Message: "Auth session missing!",
	Kind:    provider.KindSessionMissing,
}

const (
	defaultExpiryMargin = 30 * time.Second
	defaultTimeout      = 30 * time.Second
	maxErrorBody        = 64 << 10
)

// Config holds the GoTrue client configuration
type Config struct {
	// URL is the project URL, e.g. https://abcdefgh.supabase.co
	URL string
	// APIKey is the project's anon key sent in the apikey header.
	APIKey string
	// StorageKey overrides the default sb-<project-ref>-auth-token key.
	StorageKey string
	// Storage persists the client's own session. Optional.
	Storage storage.Storage
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// ExpiryMargin is how close to expiry GetSession refreshes. Default: 30s
	ExpiryMargin time.Duration
}

// Client talks to GoTrue and keeps the current session in memory and storage.
type Client struct {
	baseURL      string
	apiKey       string
	storageKey   string
	storage      storage.Storage
	httpClient   *http.Client
	expiryMargin time.Duration

	mu        sync.Mutex
	session   *models.Session
	listeners map[int]provider.Listener
	nextID    int
}

// New creates a client and loads any session previously stored under its key.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider url must be absolute: %q", cfg.URL)
	}

	if cfg.StorageKey == "" {
		cfg.StorageKey = StorageKeyFor(u)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = defaultExpiryMargin
	}

	c := &Client{
		baseURL:      strings.TrimRight(u.String(), "/") + "/auth/v1",
		apiKey:       cfg.APIKey,
		storageKey:   cfg.StorageKey,
		storage:      cfg.Storage,
		httpClient:   cfg.HTTPClient,
		expiryMargin: cfg.ExpiryMargin,
		listeners:    make(map[int]provider.Listener),
	}

	c.session = c.loadStored()

	return c, nil
}

// StorageKeyFor returns the provider-namespaced key for a project URL:
// sb-<first host label>-auth-token.
func StorageKeyFor(u *url.URL) string {
	ref, _, _ := strings.Cut(u.Hostname(), ".")
	return "sb-" + ref + "-auth-token"
}

// StorageKey returns the key the client stores its session under.
func (c *Client) StorageKey() string {
	return c.storageKey
}

// GetSession returns the current session, refreshing it first when the access
// token is about to expire.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	if current.ExpiresWithin(c.expiryMargin) {
		log.Debug().Str("session", current.Fingerprint()).Msg("access token near expiry, refreshing")
		return c.RefreshSession(ctx)
	}

	return current, nil
}

// RefreshSession exchanges the current refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	if current == nil || current.RefreshToken == "" {
		return nil, ErrSessionMissing
	}

	session, err := c.refreshWith(ctx, current.RefreshToken)
	if err != nil {
		if provider.IsRefreshTokenError(err) {
			log.Info().Err(err).Str("session", current.Fingerprint()).Msg("refresh token rejected, signing out locally")
			c.setSession(nil, provider.EventSignedOut)
		}
		return nil, err
	}

	c.setSession(session, provider.EventTokenRefreshed)

	return session.Clone(), nil
}

// RestoreSession adopts a stored token pair. An expired access token is
// refreshed with the supplied refresh token, otherwise the user is fetched
// with the access token to confirm it is still live.
func (c *Client) RestoreSession(ctx context.Context, tokens provider.TokenPair) (*models.Session, error) {
	if tokens.AccessToken == "" {
		return nil, ErrSessionMissing
	}

	expiresAt, err := accessTokenExpiry(tokens.AccessToken)
	if err != nil {
		return nil, provider.NewAuthError(http.StatusBadRequest, "bad_jwt", err.Error())
	}

	var session *models.Session
	if time.Now().Add(c.expiryMargin).After(expiresAt) {
		if tokens.RefreshToken == "" {
			return nil, ErrSessionMissing
		}
		session, err = c.refreshWith(ctx, tokens.RefreshToken)
		if err != nil {
			return nil, err
		}
	} else {
		user, err := c.getUser(ctx, tokens.AccessToken)
		if err != nil {
			return nil, err
		}
		session = &models.Session{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    expiresAt.Unix(),
			User:         user,
		}
	}

	c.setSession(session, provider.EventSignedIn)

	return session.Clone(), nil
}

// SignInWithPassword authenticates with an email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	session, err := c.token(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	c.setSession(session, provider.EventSignedIn)

	return session.Clone(), nil
}

// SignOut revokes the session server side and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	var err error
	if current != nil && current.AccessToken != "" {
		err = c.logout(ctx, current.AccessToken)
		if err != nil {
			log.Warn().Err(err).Str("session", current.Fingerprint()).Msg("failed to revoke session")
		}
	}

	c.setSession(nil, provider.EventSignedOut)

	return err
}

// OnAuthStateChange registers a listener. Listeners are called synchronously,
// in registration order, after the client's lock is released.
func (c *Client) OnAuthStateChange(listener provider.Listener) provider.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	return provider.SubscriptionFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	})
}

func (c *Client) setSession(session *models.Session, event provider.Event) {
	c.mu.Lock()
	c.session = session.Clone()
	listeners := make([]provider.Listener, 0, len(c.listeners))
	for i := 0; i < c.nextID; i++ {
		if l, ok := c.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	c.mu.Unlock()

	c.store(session)

	for _, l := range listeners {
		l(event, session.Clone())
	}
}

func (c *Client) loadStored() *models.Session {
	if c.storage == nil {
		return nil
	}

	raw, ok, err := c.storage.GetItem(c.storageKey)
	if err != nil {
		log.Debug().Err(err).Str("key", c.storageKey).Msg("failed to read stored session")
		return nil
	}
	if !ok {
		return nil
	}

	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		log.Debug().Err(err).Str("key", c.storageKey).Msg("ignoring unparseable stored session")
		return nil
	}
	if !session.HasUser() {
		return nil
	}

	return &session
}

func (c *Client) store(session *models.Session) {
	if c.storage == nil {
		return
	}

	if session == nil {
		if err := c.storage.RemoveItem(c.storageKey); err != nil {
			log.Debug().Err(err).Str("key", c.storageKey).Msg("failed to remove stored session")
		}
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		log.Debug().Err(err).Msg("failed to encode session")
		return
	}
	if err := c.storage.SetItem(c.storageKey, string(data)); err != nil {
		log.Debug().Err(err).Str("key", c.storageKey).Msg("failed to store session")
	}
}

// tokenResponse is the body returned by the token endpoint.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         *models.User `json:"user"`
}

func (t *tokenResponse) session() *models.Session {
	expiresAt := t.ExpiresAt
	if expiresAt == 0 && t.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second).Unix()
	}
	return &models.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         t.User,
	}
}

func (c *Client) refreshWith(ctx context.Context, refreshToken string) (*models.Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) token(ctx context.Context, grantType string, body map[string]string) (*models.Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	endpoint := c.baseURL + "/token?grant_type=" + url.QueryEscape(grantType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp tokenResponse
	if err := c.do(c.httpClient, req, &resp); err != nil {
		return nil, err
	}

	session := resp.session()
	if !session.HasUser() || session.AccessToken == "" {
		return nil, provider.NewAuthError(http.StatusOK, "", "token response missing session")
	}

	return session, nil
}

func (c *Client) getUser(ctx context.Context, accessToken string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}

	var user models.User
	if err := c.do(c.bearerClient(ctx, accessToken), req, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, provider.NewAuthError(http.StatusOK, "", "user response missing id")
	}

	return &user, nil
}

func (c *Client) logout(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}

	return c.do(c.bearerClient(ctx, accessToken), req, nil)
}

// bearerClient wraps the configured http client with a static bearer token.
func (c *Client) bearerClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", req.URL.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return parseError(res)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}

	return nil
}

// parseError converts a GoTrue error body into a classified AuthError. Older
// servers use error/error_description, newer ones error_code/msg.
func parseError(res *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("failed to read error response: %w", err)
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return provider.NewAuthError(res.StatusCode, "", strings.TrimSpace(string(data)))
	}

	code := firstString(body, "error_code", "code", "error")
	message := firstString(body, "msg", "message", "error_description", "error")

	return provider.NewAuthError(res.StatusCode, code, message)
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := body[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func accessTokenExpiry(accessToken string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode access token: %w", err)
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read access token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("access token has no expiry")
	}

	return exp.Time, nil
}
