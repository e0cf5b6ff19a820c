package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggedIn(t *testing.T, api *fakeAPI, srv *httptest.Server, onExpired func(string)) *Session {
	t.Helper()
	s := newTestSession(t, srv, NewMemoryStore(), onExpired)
	_, err := s.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	return s
}

func TestTransportAuthorizesOnlySameOriginAPICalls(t *testing.T) {
	api, srv := newFakeAPI(t)
	s := loggedIn(t, api, srv, nil)

	base := srv.URL + "/api"
	cases := []struct {
		url  string
		want bool
	}{
		{base + "/roles", true},
		{base + "/auth/profile", true},
		{base + "/auth/logout-all", true},
		{base + "/auth/login", false},
		{base + "/auth/register", false},
		{base + "/auth/refresh", false},
		{base + "/auth/logout", false},
		{base + "/auth/forgot-password", false},
		{base + "/auth/reset-password", false},
		{"https://elsewhere.example.com/api/roles", false},
		{strings.Replace(base, "http://", "https://", 1) + "/roles", false},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.url, nil)
		assert.Equal(t, tc.want, s.authorizes(req.URL), tc.url)
	}
}

func TestTransportAttachesBearer(t *testing.T) {
	api, srv := newFakeAPI(t)
	s := loggedIn(t, api, srv, nil)

	resp, err := s.Client().Get(srv.URL + "/api/roles")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	auth, _, _ := api.snapshot()
	assert.Equal(t, []string{"Bearer " + s.AccessToken()}, auth)
	assert.Zero(t, api.refreshCalls.Load())
}

func TestTransportRefreshesExpiredTokenBeforeSending(t *testing.T) {
	api, srv := newFakeAPI(t)
	pair := api.issue()
	store := NewMemoryStore()
	require.NoError(t, store.Save(Tokens{
		AccessToken:  accessToken(t, 100, []string{"MECHANIC"}, testNow.Add(-time.Second)),
		RefreshToken: pair.RefreshToken,
	}))
	s := newTestSession(t, srv, store, nil)

	resp, err := s.Client().Get(srv.URL + "/api/roles")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	auth, _, _ := api.snapshot()
	require.Len(t, auth, 1)
	assert.Equal(t, "Bearer "+s.AccessToken(), auth[0])
}

func TestTransportRetriesOnceAfterUnauthorized(t *testing.T) {
	api, srv := newFakeAPI(t)
	s := loggedIn(t, api, srv, nil)
	stale := s.AccessToken()
	api.revokeAccess(stale)

	resp, err := s.Client().Post(srv.URL+"/api/work-orders", "application/json", strings.NewReader(`{"plate":"ABC-123"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), api.refreshCalls.Load())

	auth, bodies, _ := api.snapshot()
	require.Len(t, auth, 2)
	assert.Equal(t, "Bearer "+stale, auth[0])
	assert.Equal(t, "Bearer "+s.AccessToken(), auth[1])
	assert.Equal(t, []string{`{"plate":"ABC-123"}`, `{"plate":"ABC-123"}`}, bodies)
}

func TestTransportSecondUnauthorizedExpiresSession(t *testing.T) {
	api, srv := newFakeAPI(t)

	var expiredURL string
	s := loggedIn(t, api, srv, func(u string) { expiredURL = u })

	api.mu.Lock()
	api.rejectAll = true
	api.mu.Unlock()

	target := srv.URL + "/api/roles?page=2"
	resp, err := s.Client().Get(target)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, target, expiredURL)
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.AccessToken())

	auth, _, _ := api.snapshot()
	assert.Len(t, auth, 2)
}

func TestTransportRefreshFailureExpiresSession(t *testing.T) {
	api, srv := newFakeAPI(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(Tokens{
		AccessToken:  accessToken(t, 100, []string{"MECHANIC"}, testNow.Add(-time.Second)),
		RefreshToken: "revoked",
	}))

	var expiredURL string
	s := newTestSession(t, srv, store, func(u string) { expiredURL = u })

	_, err := s.Client().Get(srv.URL + "/api/roles")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, srv.URL+"/api/roles", expiredURL)

	auth, _, _ := api.snapshot()
	assert.Empty(t, auth, "request must not be sent without a usable token")
}

func TestTransportPassesAuthEndpointsThrough(t *testing.T) {
	api, srv := newFakeAPI(t)
	s := newTestSession(t, srv, NewMemoryStore(), func(string) {
		t.Fatal("auth endpoints must not expire the session")
	})

	resp, err := s.Client().Post(srv.URL+"/api/auth/logout", "application/json", strings.NewReader(`{"refreshToken":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, api.refreshCalls.Load())
}

func TestProfileUsesTransport(t *testing.T) {
	api, srv := newFakeAPI(t)
	s := loggedIn(t, api, srv, nil)

	user, err := s.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, []string{"MECHANIC"}, user.Roles)
}

type trackedBody struct {
	io.Reader
	closed *atomic.Int32
}

func (b trackedBody) Close() error {
	b.closed.Add(1)
	return nil
}

func trackedRequest(t *testing.T, target string, closed, replayClosed *atomic.Int32) *http.Request {
	t.Helper()
	const payload = `{"plate":"XYZ-9"}`
	req, err := http.NewRequest(http.MethodPost, target, trackedBody{strings.NewReader(payload), closed})
	require.NoError(t, err)
	req.GetBody = func() (io.ReadCloser, error) {
		return trackedBody{strings.NewReader(payload), replayClosed}, nil
	}
	return req
}

func TestTransportClosesBodyWhenRefreshFailsBeforeSend(t *testing.T) {
	_, srv := newFakeAPI(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(Tokens{
		AccessToken:  accessToken(t, 100, []string{"MECHANIC"}, testNow.Add(-time.Second)),
		RefreshToken: "revoked",
	}))
	s := newTestSession(t, srv, store, nil)

	var closed, replayClosed atomic.Int32
	_, err := s.Transport(nil).RoundTrip(trackedRequest(t, srv.URL+"/api/work-orders", &closed, &replayClosed))
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), closed.Load())
	assert.Zero(t, replayClosed.Load())
}

func TestTransportClosesReplayBodyWhenRetryRefreshFails(t *testing.T) {
	api, srv := newFakeAPI(t)
	s := loggedIn(t, api, srv, nil)
	api.revokeAccess(s.AccessToken())
	api.setRefreshStatus(http.StatusUnauthorized)

	var closed, replayClosed atomic.Int32
	_, err := s.Transport(nil).RoundTrip(trackedRequest(t, srv.URL+"/api/work-orders", &closed, &replayClosed))
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), replayClosed.Load(), "the replay body never went out")
}
