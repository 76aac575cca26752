package middleware

import (
	"net/http"
	"regexp"

	"github.com/syspro/erp-automation/utils"
	"go.uber.org/zap"
)

// TenantHeader carries the tenant slug on every scoped request.
const TenantHeader = "X-Tenant-Slug"

// ActorHeader optionally carries the acting user identifier.
const ActorHeader = "X-Actor"

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// TenantMiddleware resolves the tenant scope of each request
type TenantMiddleware struct {
	logger *zap.Logger
}

// NewTenantMiddleware creates a new TenantMiddleware
func NewTenantMiddleware(logger *zap.Logger) *TenantMiddleware {
	return &TenantMiddleware{logger: logger}
}

// RequireTenant rejects requests without a well-formed tenant slug and
// stores the slug and actor on the request context.
func (m *TenantMiddleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		slug := r.Header.Get(TenantHeader)
		if slug == "" {
			m.logger.Warn("missing tenant header",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteBadRequest(w, "X-Tenant-Slug header is required", nil)
			return
		}
		if !slugPattern.MatchString(slug) {
			m.logger.Warn("malformed tenant slug",
				zap.String("request_id", requestID),
				zap.String("tenant_slug", slug))
			_ = utils.WriteBadRequest(w, "Invalid tenant slug", nil)
			return
		}

		ctx = WithTenantSlug(ctx, slug)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = WithActor(ctx, actor)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
