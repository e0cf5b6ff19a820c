package session

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Endpoints under /auth that authenticate by body, not bearer. Sending them
// through the refresh logic would recurse.
var authEndpoints = map[string]bool{
	"login":           true,
	"register":        true,
	"refresh":         true,
	"logout":          true,
	"forgot-password": true,
	"reset-password":  true,
}

// Transport attaches the session's bearer token to requests bound for the
// API origin. An expired token is refreshed before sending and a 401 is
// retried once after a forced refresh.
type Transport struct {
	session *Session
	base    http.RoundTripper
}

func (s *Session) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{session: s, base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.session.authorizes(req.URL) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	originalURL := req.URL.String()

	token, err := t.session.EnsureRefreshed(ctx)
	if err != nil {
		closeBody(req)
		return nil, t.fail(req, originalURL, err)
	}

	resp, err := t.send(req, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	retry, err := rewind(req)
	if err != nil {
		// Body cannot be replayed; hand the 401 back untouched.
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	fresh, err := t.retryToken(req, token)
	if err != nil {
		closeBody(retry)
		return nil, t.fail(req, originalURL, err)
	}

	resp, err = t.send(retry, fresh)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.session.expire(originalURL)
	}
	return resp, nil
}

// closeBody releases a body that will never reach the base transport;
// RoundTrip owns the request body even when it fails.
func closeBody(req *http.Request) {
	if req.Body != nil && req.Body != http.NoBody {
		_ = req.Body.Close()
	}
}

// retryToken reuses a token another request already refreshed to, otherwise
// forces a refresh.
func (t *Transport) retryToken(req *http.Request, rejected string) (string, error) {
	if current := t.session.AccessToken(); current != rejected && t.session.IsAuthenticated() {
		return current, nil
	}
	return t.session.ForceRefresh(req.Context())
}

func (t *Transport) fail(req *http.Request, originalURL string, err error) error {
	if ctxErr := req.Context().Err(); ctxErr != nil {
		return ctxErr
	}
	t.session.expire(originalURL)
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotAuthenticated) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, err)
}

func (t *Transport) send(req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(out)
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, nil
}

// authorizes reports whether u is a same-origin API call that should carry
// the bearer token.
func (s *Session) authorizes(u *url.URL) bool {
	if !strings.EqualFold(u.Scheme, s.baseURL.Scheme) || !strings.EqualFold(u.Host, s.baseURL.Host) {
		return false
	}

	rest, ok := strings.CutPrefix(u.Path, s.baseURL.Path+"/auth/")
	if !ok {
		return true
	}
	return !authEndpoints[strings.Trim(rest, "/")]
}
