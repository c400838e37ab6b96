package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nuruedu/nuru/core/user"
)

// holdAllowedPaths is the closed set of routes a hold-scope token may reach.
var holdAllowedPaths = map[string]bool{
	"/api/auth/me":                         true,
	"/api/users/access/verify-employee-id": true,
}

// accessGateMiddleware rejects hold-scope tokens on any route outside the
// allow-list, whatever the account's role or stage.
func accessGateMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.Scope == user.ScopeHold && !holdAllowedPaths[ctx.Path()] {
			return errHoldRestricted
		}
		return next(ctx)
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
