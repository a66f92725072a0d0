// Package csrf guards state changing link routes, such as the force-link
// confirmation, with a per session token.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrTokenExpired     = errors.New("CSRF token expired")
	ErrSecureKeyMissing = errors.New("CSRF secure key required for stateless mode")
)

// DefaultTokenLength is the default length for CSRF tokens
const DefaultTokenLength = 32

// DefaultContextKey is the locals key holding the request token
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultSessionLocalsKey is the locals key holding the session *auth.Account
const DefaultSessionLocalsKey = "account"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// TokenLength defines the length of the generated token
	TokenLength int

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// SessionLocalsKey is where the session account is read from
	SessionLocalsKey string

	// SessionKey overrides how requests are bound to a session
	SessionKey func(router.Context) string

	// Storage defines how tokens are stored and retrieved.
	// If nil, tokens are HMAC signed and verified without state.
	Storage Storage

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	// SecureKey signs stateless tokens, at least 32 bytes
	SecureKey []byte
}

// New creates a new CSRF middleware
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return hf(ctx)
			}

			token, err := getOrGenerateToken(ctx, cfg)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				return hf(ctx)
			}

			if err := validateToken(ctx, cfg, token); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			// single use in storage mode
			if cfg.Storage != nil {
				_ = cfg.Storage.Delete(cfg.SessionKey(ctx))
			}

			return hf(ctx)
		}
	}
}

// Token returns the token the middleware stored for this request.
func Token(ctx router.Context, contextKey ...string) string {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	token, _ := ctx.Locals(key).(string)
	return token
}

func getOrGenerateToken(ctx router.Context, cfg Config) (string, error) {
	if cfg.Storage == nil {
		return generateStatelessToken(ctx, cfg)
	}

	sessionKey := cfg.SessionKey(ctx)
	if token, err := cfg.Storage.Get(sessionKey); err == nil && token != "" {
		return token, nil
	}

	token, err := generateToken(cfg.TokenLength)
	if err != nil {
		return "", err
	}
	if err := cfg.Storage.Set(sessionKey, token, cfg.Expiration); err != nil {
		return "", err
	}
	return token, nil
}

func validateToken(ctx router.Context, cfg Config, expectedToken string) error {
	receivedToken := extractToken(ctx, cfg)
	if receivedToken == "" {
		return ErrTokenMissing
	}

	if cfg.Storage != nil {
		if expectedToken == "" {
			return ErrTokenMismatch
		}
		if subtle.ConstantTimeCompare([]byte(receivedToken), []byte(expectedToken)) != 1 {
			return ErrTokenMismatch
		}
		return nil
	}

	return validateStatelessToken(ctx, cfg, receivedToken)
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func generateStatelessToken(ctx router.Context, cfg Config) (string, error) {
	if len(cfg.SecureKey) == 0 {
		return "", ErrSecureKeyMissing
	}

	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", time.Now().UTC().Unix(), hex.EncodeToString(nonce), cfg.SessionKey(ctx))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateStatelessToken(ctx router.Context, cfg Config, token string) error {
	if len(cfg.SecureKey) == 0 {
		return ErrSecureKeyMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	// session keys never contain ':' so the payload splits in four
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return ErrTokenMismatch
	}
	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(cfg.SessionKey(ctx))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && time.Now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func extractToken(ctx router.Context, cfg Config) string {
	if token := ctx.FormValue(cfg.FormFieldName); token != "" {
		return token
	}
	return ctx.GetString(cfg.HeaderName, "")
}

// sessionKeyFromLocals binds tokens to the session account, falling back
// to the client IP for anonymous requests.
func sessionKeyFromLocals(localsKey string) func(router.Context) string {
	return func(ctx router.Context) string {
		if account, ok := ctx.Locals(localsKey).(*auth.Account); ok && account != nil {
			return "csrf_account_" + account.ID.String()
		}
		return "csrf_ip_" + strings.ReplaceAll(ctx.IP(), ":", "_")
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SessionLocalsKey == "" {
		cfg.SessionLocalsKey = DefaultSessionLocalsKey
	}
	if cfg.SessionKey == nil {
		cfg.SessionKey = sessionKeyFromLocals(cfg.SessionLocalsKey)
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = time.Hour
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey, cfg.Storage)
	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	status := router.StatusForbidden
	switch {
	case errors.Is(err, ErrTokenMissing):
		status = router.StatusBadRequest
	case errors.Is(err, ErrSecureKeyMissing):
		status = router.StatusInternalServerError
	}
	return ctx.JSON(status, map[string]string{
		"error": err.Error(),
		"code":  "CSRF_FAILED",
	})
}

func initializeSecureKey(current []byte, storage Storage) []byte {
	if storage != nil {
		return current
	}
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
