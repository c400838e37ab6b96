package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/user"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAccountDeactivated = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired     = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden      = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound       = echo.NewHTTPError(http.StatusNotFound, "not found")
	errHoldRestricted     = echo.NewHTTPError(http.StatusForbidden, "account pending activation")
	errTooManyRequests    = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, try again later")
)

// sentinelHTTPError maps domain errors to HTTP errors; nil when no mapping applies.
func sentinelHTTPError(err error) *echo.HTTPError {
	switch err {
	case user.ErrNotFound:
		return errHttpNotFound
	case user.ErrIDTaken, user.ErrAlreadyVerified:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case user.ErrRateLimited:
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case user.ErrNotApproved:
		return echo.NewHTTPError(http.StatusBadRequest, "Confirm user first")
	case user.ErrNotIssued:
		return echo.NewHTTPError(http.StatusBadRequest, "Issue an Employee ID first")
	case user.ErrNotNotified:
		return echo.NewHTTPError(http.StatusBadRequest, "Employee ID email not sent yet")
	case user.ErrInvalidIssuedID:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		if herr := sentinelHTTPError(errors.Cause(err)); herr != nil {
			code = herr.Code
			message = herr.Message
		} else {
			switch origErr := errors.Cause(err).(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(origErr))
				for _, vErr := range origErr {
					fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					fldErrs := make(map[string]string, len(origErr.Fields))
					for _, fErr := range origErr.Fields {
						fldErrs[fErr.Field] = fErr.Error
					}
					message = fldErrs
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var usr user.User
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr.ID = claims.Subject
					usr.UserID = claims.UserID
					usr.Email = claims.Email
				}
				if logger != nil {
					logger.Error(msg, errors.Wrap(err, msg), usr)
				}

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
