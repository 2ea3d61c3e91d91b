package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// RegisterAuthRoutes mounts the session endpoints on app under the
// controller prefix. Profile, password change and logout sit behind the
// controller AccessGuard.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController) {
	if controller.AccessGuard == nil {
		panic("Missing AccessGuard in auth controller...")
	}

	group := app.Group(controller.Routes.Prefix)
	guard := controller.AccessGuard

	group.Post(controller.Routes.Register, controller.RegisterPost).Name("auth.register")
	group.Post(controller.Routes.Login, controller.LoginPost).Name("auth.login")
	group.Post(controller.Routes.Confirm, controller.ConfirmPost).Name("auth.confirm")
	group.Post(controller.Routes.Refresh, controller.RefreshPost).Name("auth.refresh")
	group.Post(controller.Routes.ResendConfirmation, controller.ResendConfirmationPost).Name("auth.confirmation.resend")
	group.Post(controller.Routes.ForgotPassword, controller.ForgotPasswordPost).Name("auth.password.forgot")
	group.Post(controller.Routes.ResetPassword, controller.ResetPasswordPost).Name("auth.password.reset")
	group.Post(controller.Routes.ChangePassword, guard, controller.ChangePasswordPost).Name("auth.password.change")
	group.Post(controller.Routes.Logout, guard, controller.LogoutPost).Name("auth.logout")
	group.Get(controller.Routes.Profile, guard, controller.ProfileGet).Name("auth.profile")
}

type AuthControllerRoutes struct {
	Prefix             string
	Register           string
	Login              string
	Confirm            string
	Refresh            string
	ResendConfirmation string
	ForgotPassword     string
	ResetPassword      string
	ChangePassword     string
	Logout             string
	Profile            string
}

// AuthController maps HTTP requests onto SessionManager flows. It owns the
// refresh cookie, the core only hands back token values and expirations.
type AuthController struct {
	Debug   bool
	Logger  Logger
	Manager *SessionManager
	Cookies CookieConfig
	Routes  *AuthControllerRoutes

	// AccessGuard verifies the access token of protected routes and stores
	// the claims and raw token under ClaimsKey and TokenKey
	AccessGuard fiber.Handler
	ClaimsKey   string
	TokenKey    string
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Logger = normalizeLogger(logger)
		return a
	}
}

// WithControllerPrefix sets the route prefix, "/auth" by default
func WithControllerPrefix(prefix string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Routes.Prefix = prefix
		return a
	}
}

// WithControllerDebug logs error metadata
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

func NewAuthController(manager *SessionManager, cookies CookieConfig, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:  defaultLogger(),
		Manager:   manager,
		Cookies:   cookies,
		ClaimsKey: DefaultClaimsKey,
		TokenKey:  DefaultTokenKey,
		Routes: &AuthControllerRoutes{
			Prefix:             "/auth",
			Register:           "/register",
			Login:              "/login",
			Confirm:            "/confirm",
			Refresh:            "/refresh",
			ResendConfirmation: "/confirmation/resend",
			ForgotPassword:     "/password/forgot",
			ResetPassword:      "/password/reset",
			ChangePassword:     "/password/change",
			Logout:             "/logout",
			Profile:            "/profile",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Manager == nil {
		panic("Missing SessionManager in auth controller...")
	}

	if c.Cookies == nil {
		panic("Missing CookieConfig in auth controller...")
	}

	return c
}

type tokenResponse struct {
	SubjectKey  string    `json:"ukey"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type errorBody struct {
	TextCode string `json:"text_code"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (a *AuthController) RegisterPost(c *fiber.Ctx) error {
	payload := RegisterMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}

	account, err := a.Manager.Register(c.UserContext(), payload)
	if err != nil {
		return a.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(Profile{
		SubjectKey: account.SubjectKey,
		Email:      account.Email,
	})
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := LoginMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}

	pair, err := a.Manager.Login(c.UserContext(), payload)
	if err != nil {
		return a.respondError(c, err)
	}

	return a.respondTokens(c, pair)
}

func (a *AuthController) RefreshPost(c *fiber.Ctx) error {
	token := c.Cookies(a.Cookies.GetRefreshCookieName())
	if token == "" {
		return a.respondError(c, unauthorized("missing_refresh_cookie"))
	}

	pair, err := a.Manager.Refresh(c.UserContext(), token)
	if err != nil {
		// a rejected token is dead, a store outage is not
		if KindOf(err) == KindUnauthorized {
			a.clearRefreshCookie(c)
		}
		return a.respondError(c, err)
	}

	return a.respondTokens(c, pair)
}

func (a *AuthController) ConfirmPost(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return a.respondError(c, err)
	}

	payload := EmailMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}

	if err := a.Manager.Confirm(c.UserContext(), ConfirmMessage{Token: token, Email: payload.Email}); err != nil {
		return a.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) ResendConfirmationPost(c *fiber.Ctx) error {
	payload := EmailMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}

	if err := a.Manager.ResendConfirmation(c.UserContext(), payload); err != nil {
		return a.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) ForgotPasswordPost(c *fiber.Ctx) error {
	payload := EmailMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}

	if err := a.Manager.ForgotPassword(c.UserContext(), payload); err != nil {
		return a.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) ResetPasswordPost(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return a.respondError(c, err)
	}

	payload := ResetPasswordMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}
	payload.Token = token

	if err := a.Manager.ResetPassword(c.UserContext(), payload); err != nil {
		return a.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) ChangePasswordPost(c *fiber.Ctx) error {
	token, _, err := a.accessToken(c)
	if err != nil {
		return a.respondError(c, err)
	}

	payload := ChangePasswordMessage{}
	if err := c.BodyParser(&payload); err != nil {
		return a.respondError(c, invalidBody(err))
	}
	payload.Token = token

	if err := a.Manager.ChangePassword(c.UserContext(), payload); err != nil {
		return a.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) LogoutPost(c *fiber.Ctx) error {
	token, claims, err := a.accessToken(c)
	if err != nil {
		return a.respondError(c, err)
	}

	refresh := c.Cookies(a.Cookies.GetRefreshCookieName())

	if err := a.Manager.Logout(c.UserContext(), token, refresh); err != nil {
		return a.respondError(c, err)
	}

	a.clearRefreshCookie(c)
	a.Logger.Debug("session closed", "subject_key", claims.SubjectKey)

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) ProfileGet(c *fiber.Ctx) error {
	token, _, err := a.accessToken(c)
	if err != nil {
		return a.respondError(c, err)
	}

	profile, err := a.Manager.Profile(c.UserContext(), token)
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(profile)
}

func (a *AuthController) respondTokens(c *fiber.Ctx, pair *TokenPair) error {
	c.Cookie(&fiber.Cookie{
		Name:     a.Cookies.GetRefreshCookieName(),
		Value:    pair.RefreshToken,
		Path:     a.cookiePath(),
		Domain:   a.Cookies.GetRefreshCookieDomain(),
		Expires:  pair.RefreshExpiresAt,
		Secure:   a.Cookies.GetRefreshCookieSecure(),
		HTTPOnly: a.Cookies.GetRefreshCookieHTTPOnly(),
		SameSite: a.Cookies.GetRefreshCookieSameSite(),
	})

	return c.JSON(tokenResponse{
		SubjectKey:  pair.SubjectKey,
		AccessToken: pair.AccessToken,
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

func (a *AuthController) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.Cookies.GetRefreshCookieName(),
		Value:    "",
		Path:     a.cookiePath(),
		Domain:   a.Cookies.GetRefreshCookieDomain(),
		Expires:  time.Unix(0, 0),
		Secure:   a.Cookies.GetRefreshCookieSecure(),
		HTTPOnly: a.Cookies.GetRefreshCookieHTTPOnly(),
		SameSite: a.Cookies.GetRefreshCookieSameSite(),
	})
}

func (a *AuthController) cookiePath() string {
	if p := a.Cookies.GetRefreshCookiePath(); p != "" {
		return p
	}
	if a.Routes.Prefix != "" {
		return a.Routes.Prefix
	}
	return "/"
}

func (a *AuthController) respondError(c *fiber.Ctx, err error) error {
	status := StatusCode(err)

	body := errorBody{
		TextCode: TextCodeOf(err),
		Message:  "internal server error",
	}
	if body.TextCode == "" {
		body.TextCode = TextCodeInternal
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && status < fiber.StatusInternalServerError {
		body.Message = richErr.Message
	}

	fields := []any{"path", c.Path(), "status", status, "error", err}
	if subject, ok := SubjectKeyFromContext(c.UserContext()); ok {
		fields = append(fields, "subject_key", subject)
	}

	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("auth request failed", fields...)
	} else if a.Debug {
		a.Logger.Debug("auth request rejected", fields...)
	}

	if a.Debug && richErr != nil {
		a.Logger.Debug("auth error metadata", "metadata", print.MaybePrettyJSON(richErr.Metadata))
	}

	return c.Status(status).JSON(errorResponse{Error: body})
}

// AccessDenied renders access guard failures with the controller error
// envelope. Extraction failures carry no text code and become UNAUTHORIZED.
func (a *AuthController) AccessDenied(c *fiber.Ctx, err error) error {
	if TextCodeOf(err) == "" {
		err = unauthorized("missing_bearer_token")
	}
	return a.respondError(c, err)
}

// accessToken returns the token and claims the access guard verified
func (a *AuthController) accessToken(c *fiber.Ctx) (string, *SessionClaims, error) {
	claims, ok := ClaimsFromLocals(c, a.ClaimsKey)
	if !ok {
		return "", nil, unauthorized("missing_session_claims")
	}

	token, ok := TokenFromLocals(c, a.TokenKey)
	if !ok {
		return "", nil, unauthorized("missing_access_token")
	}

	return token, claims, nil
}

// bearerToken reads the token of an "Authorization: Bearer" header. Confirm
// and reset tokens are checked against their own policies by the manager.
func bearerToken(c *fiber.Ctx) (string, error) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", unauthorized("missing_bearer_token")
	}
	return strings.TrimSpace(token), nil
}

func invalidBody(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeInvalidPayload)
}
