package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowIsPerHost(t *testing.T) {
	l := NewHostLimiter(0.001, 1)

	assert.True(t, l.Allow("a.example"))
	assert.False(t, l.Allow("A.example"))
	assert.True(t, l.Allow("b.example"))
	assert.Equal(t, 2, l.Hosts())
}

func TestUnlimited(t *testing.T) {
	l := NewHostLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a.example"))
	}

	var nilLimiter *HostLimiter
	assert.True(t, nilLimiter.Allow("x"))
	assert.NoError(t, nilLimiter.Wait(context.Background(), "x"))
}

func TestWaitURLRespectsContext(t *testing.T) {
	l := NewHostLimiter(0.001, 1)
	require.NoError(t, l.WaitURL(context.Background(), "https://slow.example/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.WaitURL(ctx, "https://slow.example/b"))
}
