package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/user"
)

// authApi serves registration, sessions and the account holder's side of the
// staged activation pipeline.
type authApi struct {
	svc user.Service
}

func registerAuthAPI(g *echo.Group, jwt, limiter echo.MiddlewareFunc, svc user.Service) {
	api := authApi{svc: svc}

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/register", api.register, limiter)
	ag.POST("/login", api.login, limiter)
	ag.POST("/password-reset", api.resetPassword, limiter)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset, limiter)

	// authed endpoints; /me is reachable with a hold token
	authed := ag.Group("", jwt, accessGateMiddleware)
	authed.GET("/me", api.me)
	authed.POST("/logout", api.logout)
	authed.POST("/token-refresh", api.refreshToken)
}

// register creates the account. No credentials are returned: privileged roles
// stay locked until the activation pipeline completes, and the others log in
// on their own.
func (api *authApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	return ctx.JSON(http.StatusCreated, RegisterResponse{
		User:               usr,
		RequiresActivation: usr.RequiresActivation(),
	})
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	usr, err := api.svc.Authenticate(reqCtx, data.LoginID, data.Password)
	if err != nil {
		if errors.Cause(err) == user.ErrInvalidCredentials {
			return core.NewValidationError(errors.New("invalid credentials"))
		}
		return errors.Wrap(err, "authenticating")
	}
	if !usr.IsActive {
		return errAccountDeactivated
	}

	// a held account gets a restricted short-lived token and its stage,
	// never full credentials
	if usr.RequiresActivation() {
		usr, err = api.svc.EnsureActivationRequest(reqCtx, usr)
		if err != nil {
			return errors.Wrap(err, "recording activation request")
		}
		token, err := GenerateToken(GetHoldClaims(usr))
		if err != nil {
			return errors.Wrap(err, "generating hold token")
		}
		return ctx.JSON(http.StatusForbidden, HoldResponse{
			Hold:  true,
			Stage: usr.ActivationStage(),
			Token: token,
			User:  usr,
		})
	}

	usr, err = api.svc.SetLastLogin(reqCtx, usr)
	if err != nil {
		return errors.Wrap(err, "setting lastLogin")
	}
	token, err := GenerateToken(GetUserClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, User: usr})
}

func (api *authApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	res := MeResponse{
		User:               usr,
		RequiresActivation: usr.RequiresActivation(),
	}
	if res.RequiresActivation {
		res.Stage = usr.ActivationStage()
		// only whether an ID exists; the value itself travels out-of-band
		res.IDIssued = usr.IssuedID.Valid
	}
	return ctx.JSON(http.StatusOK, res)
}

// logout is a client-side affair with stateless tokens; the endpoint exists so
// clients have a uniform call to clear their session against.
func (api *authApi) logout(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Logged out."})
}

func (api *authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

type (
	LoginRequest struct {
		LoginID  string `json:"login_id" validate:"required"` // UserID or email
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}

	// HoldResponse is returned (with a 403) when valid credentials belong to an
	// account still in the activation pipeline.
	HoldResponse struct {
		Hold  bool       `json:"hold"`
		Stage user.Stage `json:"stage"`
		Token string     `json:"token"`
		User  user.User  `json:"user"`
	}

	RegisterResponse struct {
		User               user.User `json:"user"`
		RequiresActivation bool      `json:"requires_activation"`
	}

	MeResponse struct {
		User               user.User  `json:"user"`
		RequiresActivation bool       `json:"requires_activation"`
		Stage              user.Stage `json:"stage,omitempty"`
		IDIssued           bool       `json:"id_issued,omitempty"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.LoginID = core.CleanString(lr.LoginID, true /* lower */)
	return core.Validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate() error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return core.Validate.Struct(pr)
}
