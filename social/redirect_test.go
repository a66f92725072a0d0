package social

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedirectPolicy_Resolve(t *testing.T) {
	policy := NewRedirectPolicy("/home", "/app", "/settings/")

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "/home"},
		{"allowed", "/app", "/app"},
		{"nested", "/app/profile?tab=links", "/app/profile?tab=links"},
		{"trailing slash prefix", "/settings/linked", "/settings/linked"},
		{"escaped once", "%2Fapp%2Fprofile", "/app/profile"},
		{"outside allowed", "/admin", "/home"},
		{"prefix is not a segment", "/application", "/home"},
		{"absolute url", "https://evil.example/app", "/home"},
		{"protocol relative", "//evil.example/app", "/home"},
		{"escaped protocol relative", "%2F%2Fevil.example", "/home"},
		{"backslash", `/\evil.example`, "/home"},
		{"newline", "/app\r\nLocation: x", "/home"},
		{"relative", "app", "/home"},
		{"dot segments escape prefix", "/app/../admin", "/home"},
		{"escaped dot segments", "%2Fapp%2F..%2Fadmin", "/home"},
		{"double escaped dot segments", "/app/%252e%252e/admin", "/home"},
		{"dot segments stay inside", "/app/./profile/../links?x=1", "/app/links?x=1"},
		{"trailing slash kept", "/settings/linked/", "/settings/linked/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Resolve(tt.raw))
		})
	}
}

func TestRedirectPolicy_Defaults(t *testing.T) {
	policy := NewRedirectPolicy("https://evil.example")
	assert.Equal(t, "/", policy.Default())
	assert.Equal(t, "/anything", policy.Resolve("/anything"))
}
