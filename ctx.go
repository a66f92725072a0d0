package auth

import "context"

var accountCtxKey = &contextKey{"account"}
var requestCtxKey = &contextKey{"request"}

type contextKey struct {
	name string
}

// WithContext sets the session Account in the given context
func WithContext(r context.Context, account *Account) context.Context {
	return context.WithValue(r, accountCtxKey, account)
}

// FromContext finds the session Account from the context.
func FromContext(ctx context.Context) (*Account, bool) {
	raw, ok := ctx.Value(accountCtxKey).(*Account)
	return raw, ok && raw != nil
}

// WithRequestContext attaches request scoped values (remote address,
// user agent, route params) that hooks may inspect.
func WithRequestContext(r context.Context, values map[string]any) context.Context {
	return context.WithValue(r, requestCtxKey, values)
}

// RequestContext returns the values set with WithRequestContext.
func RequestContext(ctx context.Context) map[string]any {
	raw, _ := ctx.Value(requestCtxKey).(map[string]any)
	return raw
}
