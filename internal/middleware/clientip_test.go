package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyTrustResolve(t *testing.T) {
	trust, err := NewProxyTrust([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	cases := []struct {
		name      string
		remote    string
		forwarded string
		realIP    string
		want      string
	}{
		{"direct client spoofing header", "203.0.113.50:5000", "1.2.3.4", "5.6.7.8", "203.0.113.50"},
		{"trusted proxy forwards client", "10.1.2.3:443", "198.51.100.7", "", "198.51.100.7"},
		{"trusted chain skips inner proxies", "10.1.2.3:443", "1.2.3.4, 198.51.100.7, 10.9.9.9", "", "198.51.100.7"},
		{"single trusted host", "192.0.2.1:80", "198.51.100.8", "", "198.51.100.8"},
		{"all hops trusted", "10.1.2.3:443", "10.4.4.4, 10.5.5.5", "", "10.4.4.4"},
		{"real ip from trusted proxy", "10.1.2.3:443", "", "198.51.100.9", "198.51.100.9"},
		{"garbage header falls back to peer", "10.1.2.3:443", "not-an-ip", "", "10.1.2.3"},
		{"untrusted neighbour of single host", "192.0.2.2:80", "198.51.100.8", "", "192.0.2.2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			assert.Equal(t, tc.want, trust.Resolve(req))
		})
	}
}

func TestProxyTrustHandlerFeedsClientIP(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.50:5000"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	var none *ProxyTrust
	none.Handler(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.50", seen, "no trusted proxies means headers are ignored")

	trust, err := NewProxyTrust([]string{"203.0.113.0/24"})
	require.NoError(t, err)
	trust.Handler(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "1.2.3.4", seen)
}

func TestClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.50:5000"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "203.0.113.50", ClientIP(req))

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientIP(req))
}

func TestNewProxyTrustRejectsGarbage(t *testing.T) {
	_, err := NewProxyTrust([]string{"10.0.0.0/8", "proxy.internal"})
	require.Error(t, err)
}
