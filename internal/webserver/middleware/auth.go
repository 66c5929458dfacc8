package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/rekbox/internal/identity"
	"github.com/mdouchement/rekbox/internal/webserver/weberror"
)

// ClaimsKey is the context key of the verified claims.
const ClaimsKey = "claims"

// Authenticate rejects the requests without a valid bearer token.
func Authenticate(verifier identity.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				return weberror.NewWithReason(http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			}

			claims, err := verifier.Verify(c.Request().Context(), strings.TrimSpace(token))
			if err != nil {
				return weberror.NewWithReason(http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
			}

			c.Set(ClaimsKey, claims)
			return next(c)
		}
	}
}

// Claims returns the claims set by Authenticate.
func Claims(c echo.Context) *identity.Claims {
	claims, _ := c.Get(ClaimsKey).(*identity.Claims)
	return claims
}
