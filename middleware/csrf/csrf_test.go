package csrf

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSecureKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newMockContextWithBase(method string, session *auth.Account) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Method").Return(method)
	ctx.On("IP").Return("127.0.0.1")
	ctx.On("Locals", DefaultContextKey, mock.Anything).Return(nil)
	ctx.On("Locals", DefaultContextKey+"_field", mock.Anything).Return(nil)
	ctx.On("Locals", DefaultContextKey+"_header", mock.Anything).Return(nil)
	if session != nil {
		ctx.LocalsMock[DefaultSessionLocalsKey] = session
	}
	return ctx
}

func passErrors(captured *error) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		if captured != nil {
			*captured = err
		}
		return err
	}
}

func TestStatelessTokenValidationSuccess(t *testing.T) {
	session := auth.NewAccount()
	handler := New(Config{
		SecureKey:    newTestSecureKey(),
		ErrorHandler: passErrors(nil),
	})(func(ctx router.Context) error { return nil })

	getCtx := newMockContextWithBase("GET", session)
	require.NoError(t, handler(getCtx))

	tokenVal, ok := getCtx.LocalsMock[DefaultContextKey].(string)
	require.True(t, ok)
	require.NotEmpty(t, tokenVal)

	called := false
	confirm := New(Config{
		SecureKey:    newTestSecureKey(),
		ErrorHandler: passErrors(nil),
	})(func(ctx router.Context) error {
		called = true
		return nil
	})

	postCtx := newMockContextWithBase("POST", session)
	postCtx.On("FormValue", DefaultFormFieldName).Return(tokenVal)

	require.NoError(t, confirm(postCtx))
	require.True(t, called)
}

func TestStatelessTokenBoundToSession(t *testing.T) {
	var captured error
	handler := New(Config{
		SecureKey:    newTestSecureKey(),
		ErrorHandler: passErrors(&captured),
	})(func(ctx router.Context) error { return nil })

	getCtx := newMockContextWithBase("GET", auth.NewAccount())
	require.NoError(t, handler(getCtx))
	tokenVal := getCtx.LocalsMock[DefaultContextKey].(string)

	postCtx := newMockContextWithBase("POST", auth.NewAccount())
	postCtx.On("FormValue", DefaultFormFieldName).Return(tokenVal)

	require.Error(t, handler(postCtx))
	require.ErrorIs(t, captured, ErrTokenMismatch)
}

func TestStatelessTokenValidationMismatch(t *testing.T) {
	var captured error
	handler := New(Config{
		SecureKey:    newTestSecureKey(),
		ErrorHandler: passErrors(&captured),
	})(func(ctx router.Context) error { return nil })

	session := auth.NewAccount()
	require.NoError(t, handler(newMockContextWithBase("GET", session)))

	postCtx := newMockContextWithBase("POST", session)
	postCtx.On("FormValue", DefaultFormFieldName).Return("tampered")

	require.Error(t, handler(postCtx))
	require.ErrorIs(t, captured, ErrTokenMismatch)
}

func TestTokenMissingFallsBackToHeader(t *testing.T) {
	var captured error
	handler := New(Config{
		SecureKey:    newTestSecureKey(),
		ErrorHandler: passErrors(&captured),
	})(func(ctx router.Context) error { return nil })

	postCtx := newMockContextWithBase("POST", auth.NewAccount())
	postCtx.On("FormValue", DefaultFormFieldName).Return("")
	postCtx.On("GetString", DefaultHeaderName, "").Return("")

	require.Error(t, handler(postCtx))
	require.ErrorIs(t, captured, ErrTokenMissing)
}

func TestStatelessTokenExpiration(t *testing.T) {
	cfg := Config{
		SecureKey:    newTestSecureKey(),
		Expiration:   time.Nanosecond,
		ErrorHandler: passErrors(nil),
	}
	handler := New(cfg)(func(ctx router.Context) error { return nil })

	session := auth.NewAccount()
	getCtx := newMockContextWithBase("GET", session)
	require.NoError(t, handler(getCtx))
	tokenVal := getCtx.LocalsMock[DefaultContextKey].(string)

	// token timestamps have second precision
	time.Sleep(1100 * time.Millisecond)

	postCtx := newMockContextWithBase("POST", session)
	postCtx.On("FormValue", DefaultFormFieldName).Return(tokenVal)

	err := handler(postCtx)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestStorageTokenIsSingleUse(t *testing.T) {
	storage := NewMemoryStorage()
	var captured error
	handler := New(Config{
		Storage:      storage,
		ErrorHandler: passErrors(&captured),
	})(func(ctx router.Context) error { return nil })

	session := auth.NewAccount()
	getCtx := newMockContextWithBase("GET", session)
	require.NoError(t, handler(getCtx))
	tokenVal := getCtx.LocalsMock[DefaultContextKey].(string)

	stored, err := storage.Get("csrf_account_" + session.ID.String())
	require.NoError(t, err)
	require.Equal(t, tokenVal, stored)

	postCtx := newMockContextWithBase("POST", session)
	postCtx.On("FormValue", DefaultFormFieldName).Return(tokenVal)
	require.NoError(t, handler(postCtx))

	replay := newMockContextWithBase("POST", session)
	replay.On("FormValue", DefaultFormFieldName).Return(tokenVal)
	require.Error(t, handler(replay))
	require.ErrorIs(t, captured, ErrTokenMismatch)
}

func TestMemoryStorageExpires(t *testing.T) {
	storage := NewMemoryStorage()
	now := time.Now()
	storage.now = func() time.Time { return now }

	require.NoError(t, storage.Set("k", "v", time.Minute))
	value, err := storage.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", value)

	now = now.Add(2 * time.Minute)
	value, err = storage.Get("k")
	require.NoError(t, err)
	require.Empty(t, value)
}

func TestSkipBypassesValidation(t *testing.T) {
	called := false
	handler := New(Config{
		SecureKey: newTestSecureKey(),
		Skip:      func(router.Context) bool { return true },
	})(func(ctx router.Context) error {
		called = true
		return nil
	})

	require.NoError(t, handler(router.NewMockContext()))
	require.True(t, called)
}

func TestShortSecureKeyPanics(t *testing.T) {
	require.Panics(t, func() {
		New(Config{SecureKey: []byte("short")})
	})
}
