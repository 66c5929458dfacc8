package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/rekbox/internal/webserver/weberror"
)

// AllowOrigin sets the permissive cross-origin header on every response, errors included.
func AllowOrigin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
			return next(c)
		}
	}
}

// RequireParams rejects the requests missing one of the given query parameters.
func RequireParams(names ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, name := range names {
				if c.QueryParam(name) == "" {
					return weberror.NewWithReason(http.StatusBadRequest, "MissingParameter", "missing required parameter "+name)
				}
			}
			return next(c)
		}
	}
}
