package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/flowguard/internal/logging"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generates new request ID when not present"},
		{name: "propagates existing request ID", incoming: "existing-req-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = logging.RequestIDFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.NotEmpty(t, captured)
			assert.Equal(t, captured, rec.Header().Get(HeaderRequestID))
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, captured)
				return
			}
			_, err := uuid.Parse(captured)
			assert.NoError(t, err)
		})
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	tests := []struct {
		name         string
		origins      []string
		origin       string
		method       string
		wantOrigin   string
		wantStatus   int
		wantBodyText string
	}{
		{name: "any origin", origins: []string{"*"}, origin: "http://localhost:5173", method: http.MethodGet, wantOrigin: "*", wantStatus: http.StatusOK, wantBodyText: "OK"},
		{name: "exact match", origins: []string{"https://dash.example.com"}, origin: "https://dash.example.com", method: http.MethodGet, wantOrigin: "https://dash.example.com", wantStatus: http.StatusOK, wantBodyText: "OK"},
		{name: "wildcard subdomain", origins: []string{"*.example.com"}, origin: "https://app.example.com", method: http.MethodGet, wantOrigin: "https://app.example.com", wantStatus: http.StatusOK, wantBodyText: "OK"},
		{name: "origin not allowed", origins: []string{"https://dash.example.com"}, origin: "https://evil.test", method: http.MethodGet, wantStatus: http.StatusOK, wantBodyText: "OK"},
		{name: "preflight short-circuits", origins: []string{"*"}, origin: "https://dash.example.com", method: http.MethodOptions, wantOrigin: "*", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(CORSConfig{
				AllowedOrigins: tt.origins,
				AllowedMethods: []string{"GET", "POST"},
				AllowedHeaders: []string{"Content-Type"},
			})(ok)

			req := httptest.NewRequest(tt.method, "/api/v1/alerts", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
			assert.Equal(t, tt.wantBodyText, rec.Body.String())
		})
	}
}
