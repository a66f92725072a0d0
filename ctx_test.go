package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountContext(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	_, ok = FromContext(WithContext(ctx, nil))
	assert.False(t, ok)

	account := NewAccount()
	got, ok := FromContext(WithContext(ctx, account))
	assert.True(t, ok)
	assert.Same(t, account, got)
}

func TestRequestContext(t *testing.T) {
	assert.Nil(t, RequestContext(context.Background()))

	ctx := WithRequestContext(context.Background(), map[string]any{"remote_addr": "10.0.0.1"})
	assert.Equal(t, "10.0.0.1", RequestContext(ctx)["remote_addr"])
}
