package social

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// FlowStarter is implemented by providers that can send the user to the
// provider to start a round trip.
type FlowStarter interface {
	AuthCodeURL(redirect string) (string, error)
}

// callbackParams are the query values forwarded to providers.
var callbackParams = []string{"code", "state", "error", "error_description"}

// HTTPController exposes the link flow over go-router.
type HTTPController struct {
	authenticator *Authenticator
	oneTime       *OneTimeTokenLogin
	redirects     *RedirectPolicy
	config        HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/auth")
	PathPrefix string

	// SessionContextKey is the router locals key holding the session
	// *auth.Account (default: "account")
	SessionContextKey string

	// ErrorRedirect receives recoverable failures with an error text code
	// (default: "/login")
	ErrorRedirect string

	// SessionWriter persists the session after a login outcome (optional)
	SessionWriter func(ctx router.Context, account *auth.Account) error

	// ErrorHandler handles non recoverable errors (optional)
	ErrorHandler func(ctx router.Context, err error) error

	// ForceGuard wraps both force routes, e.g. csrf.New (optional)
	ForceGuard router.MiddlewareFunc

	// ForceTokenKey is the locals key the guard stores its token under;
	// the prompt echoes it back (default: "csrf_token")
	ForceTokenKey string
}

// NewHTTPController creates the controller. oneTime may be nil, in which
// case the one-time login route is not registered.
func NewHTTPController(authenticator *Authenticator, oneTime *OneTimeTokenLogin, redirects *RedirectPolicy, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	cfg.PathPrefix = "/" + strings.Trim(cfg.PathPrefix, "/")
	if cfg.SessionContextKey == "" {
		cfg.SessionContextKey = "account"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/login"
	}
	if cfg.ForceTokenKey == "" {
		cfg.ForceTokenKey = "csrf_token"
	}
	if redirects == nil {
		redirects = NewRedirectPolicy("/")
	}

	return &HTTPController{
		authenticator: authenticator,
		oneTime:       oneTime,
		redirects:     redirects,
		config:        cfg,
	}
}

// RegisterRoutes registers the link routes on a group mounted at PathPrefix.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	if c.oneTime != nil {
		group.Get("/otp/:token/:redirect", c.OneTimeLogin)
	}
	var guard []router.MiddlewareFunc
	if c.config.ForceGuard != nil {
		guard = append(guard, c.config.ForceGuard)
	}
	group.Get("/:type/force", c.ForcePrompt, guard...)
	group.Post("/:type/force", c.ForceConfirm, guard...)
	group.Get("/:type", c.Callback)
}

// Callback handles GET /:type. Without callback params it starts the
// provider round trip; with them it completes it.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerType := auth.NormalizeProviderType(ctx.Param("type"))

	params := map[string]string{}
	for _, key := range callbackParams {
		if v := ctx.Query(key); v != "" {
			params[key] = v
		}
	}

	if len(params) == 0 {
		return c.begin(ctx, providerType)
	}

	session := c.session(ctx)
	result, err := c.authenticator.Authenticate(ctx.Context(), AuthRequest{
		Type:    providerType,
		Session: session,
		Params:  params,
	})
	if err != nil {
		if errors.Is(err, auth.ErrForceRequired) {
			return ctx.Redirect(c.path(providerType, "force"), http.StatusSeeOther)
		}
		return c.handleError(ctx, err)
	}

	if result.Outcome.IsLogin() && c.config.SessionWriter != nil {
		if err := c.config.SessionWriter(ctx, result.Account); err != nil {
			return c.handleError(ctx, err)
		}
	}

	target := result.Redirect
	if target == "" {
		target = ctx.Query("redirect")
	}
	return ctx.Redirect(c.redirects.Resolve(target), http.StatusSeeOther)
}

func (c *HTTPController) begin(ctx router.Context, providerType string) error {
	provider, err := c.authenticator.Providers().Lookup(providerType)
	if err != nil {
		return c.handleError(ctx, err)
	}

	starter, ok := provider.(FlowStarter)
	if !ok {
		return c.handleError(ctx, auth.ErrAssertionFailed)
	}

	authURL, err := starter.AuthCodeURL(c.redirects.Resolve(ctx.Query("redirect")))
	if err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.Redirect(authURL, http.StatusTemporaryRedirect)
}

// ForcePrompt handles GET /:type/force and describes the pending
// confirmation.
func (c *HTTPController) ForcePrompt(ctx router.Context) error {
	providerType := auth.NormalizeProviderType(ctx.Param("type"))

	if c.session(ctx) == nil {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}
	if _, err := c.authenticator.Providers().Lookup(providerType); err != nil {
		return c.handleError(ctx, err)
	}

	payload := map[string]any{
		"type":    providerType,
		"code":    auth.TextCodeForceRequired,
		"message": "this " + providerType + " identity belongs to another account; confirm to move it to yours",
		"confirm": c.path(providerType, "force"),
	}
	if token, ok := ctx.Locals(c.config.ForceTokenKey).(string); ok && token != "" {
		payload["token"] = token
	}
	return ctx.JSON(router.StatusOK, payload)
}

// ForceConfirm handles POST /:type/force: it records the confirmation and
// restarts the round trip, whose callback then completes the force-link.
func (c *HTTPController) ForceConfirm(ctx router.Context) error {
	providerType := auth.NormalizeProviderType(ctx.Param("type"))

	session := c.session(ctx)
	if session == nil {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	if err := c.authenticator.Confirm(ctx.Context(), session, providerType); err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.Redirect(c.path(providerType), http.StatusSeeOther)
}

// OneTimeLogin handles GET /otp/:token/:redirect. An unknown token falls
// through to the redirect target without a session.
func (c *HTTPController) OneTimeLogin(ctx router.Context) error {
	target := c.redirects.Resolve(ctx.Param("redirect"))

	account, err := c.oneTime.Consume(ctx.Context(), ctx.Param("token"))
	if err != nil {
		if errors.Is(err, auth.ErrOneTimeTokenNotFound) {
			return ctx.Redirect(target, http.StatusSeeOther)
		}
		return c.handleError(ctx, err)
	}

	if c.config.SessionWriter != nil {
		if err := c.config.SessionWriter(ctx, account); err != nil {
			return c.handleError(ctx, err)
		}
	}
	return ctx.Redirect(target, http.StatusSeeOther)
}

func (c *HTTPController) session(ctx router.Context) *auth.Account {
	if account, ok := ctx.Locals(c.config.SessionContextKey).(*auth.Account); ok && account != nil {
		return account
	}
	if reqCtx := ctx.Context(); reqCtx != nil {
		if account, ok := auth.FromContext(reqCtx); ok {
			return account
		}
	}
	return nil
}

func (c *HTTPController) path(parts ...string) string {
	return c.config.PathPrefix + "/" + strings.Join(parts, "/")
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if auth.IsRecoverable(err) {
		code := auth.TextCode(err)
		if code == "" {
			code = "LINK_FAILED"
		}
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", code), http.StatusSeeOther)
	}
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}
	return err
}

func appendQueryParam(rawURL, key, value string) string {
	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
