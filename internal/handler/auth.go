package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Authenticate requires a valid bearer token and stores the principal in the
// request context.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := ExtractBearerToken(c.GetHeader("Authorization"))
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Error: "missing bearer token"})
			return
		}
		p, err := v.Verify(token)
		if err != nil {
			zctx.From(c.Request.Context()).Debug("Token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Error: "invalid token"})
			return
		}

		ctx := auth.WithPrincipal(c.Request.Context(), p)
		ctx = zctx.With(ctx, zap.String("user_id", p.ID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>"
// header value. Surrounding quotes and trailing garbage after a comma or
// space are dropped.
func ExtractBearerToken(header string) (string, bool) {
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	t := strings.Trim(strings.TrimSpace(rest), `"'`)
	if i := strings.IndexAny(t, ", "); i >= 0 {
		t = t[:i]
	}
	return strings.Trim(t, `"'`), true
}

// principal returns the caller set by Authenticate.
func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c.Request.Context())
	return p
}
