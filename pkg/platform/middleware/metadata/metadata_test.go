package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"fraudengine/pkg/requestcontext"
)

func TestClientMetadata(t *testing.T) {
	proxy := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name       string
		trusted    []netip.Prefix
		headers    map[string]string
		remoteAddr string
		expectedIP string
		expectedUA string
	}{
		{
			name:       "uses X-Forwarded-For from trusted proxy",
			trusted:    []netip.Prefix{proxy},
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2", "User-Agent": "Mozilla/5.0"},
			remoteAddr: "10.0.0.2:443",
			expectedIP: "203.0.113.1",
			expectedUA: "Mozilla/5.0",
		},
		{
			name:       "ignores X-Forwarded-For from untrusted peer",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "198.51.100.7:5555",
			expectedIP: "198.51.100.7",
		},
		{
			name:       "uses X-Real-IP from trusted proxy",
			trusted:    []netip.Prefix{proxy},
			headers:    map[string]string{"X-Real-IP": "203.0.113.2"},
			remoteAddr: "10.1.1.1:80",
			expectedIP: "203.0.113.2",
		},
		{
			name:       "falls back to peer on malformed forwarded value",
			trusted:    []netip.Prefix{proxy},
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			remoteAddr: "10.0.0.9:80",
			expectedIP: "10.0.0.9",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:8080",
			expectedIP: "2001:db8::1",
		},
		{
			name:       "missing remote addr",
			remoteAddr: "",
			expectedIP: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIP, gotUA string
			h := NewMiddleware(&Config{TrustedProxies: tt.trusted}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotIP = requestcontext.ClientIP(r.Context())
				gotUA = requestcontext.UserAgent(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/reports", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.expectedIP, gotIP)
			assert.Equal(t, tt.expectedUA, gotUA)
		})
	}
}
