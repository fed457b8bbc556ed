package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"offlinecache/internal/core"
)

// AdminAuthMiddleware guards the cache inspection routes with a bearer key.
// If adminKey is empty, no authentication is required.
func AdminAuthMiddleware(adminKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if adminKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return handleError(c, core.NewAuthenticationError("missing authorization header"))
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return handleError(c, core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'"))
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
				return handleError(c, core.NewAuthenticationError("invalid admin key"))
			}
			return next(c)
		}
	}
}
