package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRequireTenant(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewTenantMiddleware(logger)

	var gotSlug, gotActor string
	handler := m.RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSlug = GetTenantSlugFromContext(r.Context())
		gotActor = GetActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		slug       string
		actor      string
		wantStatus int
	}{
		{"valid slug", "acme", "u-42", http.StatusOK},
		{"valid slug with hyphen", "acme-corp", "", http.StatusOK},
		{"missing slug", "", "", http.StatusBadRequest},
		{"uppercase rejected", "Acme", "", http.StatusBadRequest},
		{"leading hyphen rejected", "-acme", "", http.StatusBadRequest},
		{"spaces rejected", "ac me", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSlug, gotActor = "", ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
			if tt.slug != "" {
				req.Header.Set(TenantHeader, tt.slug)
			}
			if tt.actor != "" {
				req.Header.Set(ActorHeader, tt.actor)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.slug, gotSlug)
				assert.Equal(t, tt.actor, gotActor)
			}
		})
	}
}
