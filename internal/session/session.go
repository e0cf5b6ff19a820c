package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"autoshop-api/internal/event"
	"autoshop-api/internal/model"
)

const (
	requestTimeout = 10 * time.Second
	refreshKey     = "refresh"
)

var (
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrSessionExpired   = errors.New("session: expired")
)

// APIError is a non-2xx answer from the API decoded from its error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api.
	BaseURL    string
	Store      Store
	HTTPClient *http.Client
	Bus        event.Bus

	// OnExpired is called with the URL of the request that could not be
	// authorized once the session has been cleared.
	OnExpired func(originalURL string)
	Now       func() time.Time
}

// Session owns the client side of the token lifecycle. It is safe for
// concurrent use; at most one refresh call is in flight at a time.
type Session struct {
	baseURL   *url.URL
	store     Store
	client    *http.Client
	bus       event.Bus
	onExpired func(string)
	now       func() time.Time

	flight singleflight.Group

	mu      sync.RWMutex
	tokens  Tokens
	claims  Claims
	decoded bool
}

// New builds a session and hydrates it from the store.
func New(opts Options) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	s := &Session{
		baseURL:   base,
		store:     opts.Store,
		bus:       opts.Bus,
		onExpired: opts.OnExpired,
		now:       opts.Now,
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.bus == nil {
		s.bus = event.NewBus()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.client = &http.Client{Timeout: requestTimeout}
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		s.client.Transport = opts.HTTPClient.Transport
	}

	tokens, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	s.setTokens(tokens)

	return s, nil
}

func (s *Session) setTokens(t Tokens) {
	claims, err := DecodeClaims(t.AccessToken)
	if err != nil && t.AccessToken != "" {
		slog.Warn("stored access token is unreadable", "error", err)
	}

	s.mu.Lock()
	s.tokens = t
	s.claims = claims
	s.decoded = err == nil
	s.mu.Unlock()
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

// Claims returns the locally decoded access token claims.
func (s *Session) Claims() Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

// IsAuthenticated is a local check: an access token is present, decodes, and
// is not past its expiry. No request is made.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.decoded {
		return false
	}
	return !s.claims.Expired(s.now())
}

// Roles returns a copy of the current role set.
func (s *Session) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.claims.Roles))
	copy(out, s.claims.Roles)
	return out
}

func (s *Session) HasRole(roles ...string) bool {
	for _, have := range s.Roles() {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// Subscribe streams session changes. Call the returned func to stop.
func (s *Session) Subscribe() (<-chan event.Event, func()) {
	return s.bus.Subscribe()
}

func (s *Session) publish(t event.Type) {
	claims := s.Claims()
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	s.bus.Publish(event.Event{
		Type:      t,
		Roles:     roles,
		Username:  claims.Username,
		Timestamp: s.now(),
	})
}

func (s *Session) Login(ctx context.Context, username, password string) (model.AuthUser, error) {
	var resp model.AuthResponse
	err := s.call(ctx, http.MethodPost, "/auth/login", model.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return model.AuthUser{}, err
	}

	if err := s.replaceTokens(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}); err != nil {
		return model.AuthUser{}, err
	}
	s.publish(event.TypeSessionStarted)
	return resp.User, nil
}

// Logout revokes the refresh token on the server and clears local state.
// The local state is cleared even when the server cannot be reached.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.tokens.RefreshToken
	s.mu.RUnlock()

	var serverErr error
	if refresh != "" {
		serverErr = s.call(ctx, http.MethodPost, "/auth/logout", model.RefreshRequest{RefreshToken: refresh}, nil)
		if serverErr != nil {
			slog.Warn("server logout failed", "error", serverErr)
		}
	}

	if err := s.Clear(); err != nil {
		return err
	}
	return serverErr
}

// Clear drops both tokens locally without contacting the server.
func (s *Session) Clear() error {
	s.mu.Lock()
	hadTokens := !s.tokens.Empty()
	s.tokens = Tokens{}
	s.claims = Claims{}
	s.decoded = false
	s.mu.Unlock()

	err := s.store.Clear()
	if hadTokens {
		s.publish(event.TypeSessionCleared)
	}
	return err
}

// EnsureRefreshed returns the current access token when it is still valid,
// otherwise joins or starts the single in-flight refresh.
func (s *Session) EnsureRefreshed(ctx context.Context) (string, error) {
	if s.IsAuthenticated() {
		return s.AccessToken(), nil
	}
	return s.refresh(ctx)
}

// ForceRefresh refreshes regardless of local expiry, sharing any refresh
// already in flight.
func (s *Session) ForceRefresh(ctx context.Context) (string, error) {
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	// The flight outlives any single caller; a cancelled waiter must not
	// abort the refresh the others are waiting on.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(refreshKey, func() (any, error) {
		return s.doRefresh(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Session) doRefresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	refresh := s.tokens.RefreshToken
	s.mu.RUnlock()

	if refresh == "" {
		return "", ErrNotAuthenticated
	}

	var pair model.TokenPair
	err := s.call(ctx, http.MethodPost, "/auth/refresh", model.RefreshRequest{RefreshToken: refresh}, &pair)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			if clearErr := s.Clear(); clearErr != nil {
				slog.Warn("clear rejected session", "error", clearErr)
			}
			return "", fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Message)
		}
		return "", fmt.Errorf("refresh session: %w", err)
	}

	if err := s.replaceTokens(Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}); err != nil {
		return "", err
	}
	s.publish(event.TypeSessionRefreshed)
	return pair.AccessToken, nil
}

func (s *Session) replaceTokens(t Tokens) error {
	if t.AccessToken == "" || t.RefreshToken == "" {
		return fmt.Errorf("server returned an incomplete token pair")
	}
	if err := s.store.Save(t); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	s.setTokens(t)
	return nil
}

// Profile fetches the current user through the authorizing transport.
func (s *Session) Profile(ctx context.Context) (model.AuthUser, error) {
	client := &http.Client{Transport: s.Transport(s.client.Transport), Timeout: requestTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/auth/profile"), nil)
	if err != nil {
		return model.AuthUser{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return model.AuthUser{}, err
	}
	defer resp.Body.Close()

	var out model.UserResponse
	if err := decodeResponse(resp, &out); err != nil {
		return model.AuthUser{}, err
	}
	return out.User, nil
}

// Client returns an http.Client whose requests to the API carry the session.
func (s *Session) Client() *http.Client {
	return &http.Client{Transport: s.Transport(s.client.Transport)}
}

func (s *Session) endpoint(path string) string {
	return s.baseURL.String() + path
}

// call talks to the auth endpoints directly, bypassing Transport.
func (s *Session) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body model.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// expire clears the session and hands the originating URL to OnExpired so
// the caller can send the user back there after logging in again.
func (s *Session) expire(originalURL string) {
	if err := s.Clear(); err != nil {
		slog.Warn("clear expired session", "error", err)
	}
	if s.onExpired != nil {
		s.onExpired(originalURL)
	}
}
