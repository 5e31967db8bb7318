package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowExhaustsBucket(t *testing.T) {
	l := New(Config{MaxRequestsPerMinute: 3, Window: time.Minute})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("client-1"), "request %d should pass", i+1)
	}
	assert.False(t, l.allow("client-1"))
}

func TestAllowIsolatesClients(t *testing.T) {
	l := New(Config{MaxRequestsPerMinute: 1, Window: time.Minute})
	defer l.Stop()

	assert.True(t, l.allow("client-1"))
	assert.False(t, l.allow("client-1"))
	assert.True(t, l.allow("client-2"))
}

func TestAllowRefills(t *testing.T) {
	l := New(Config{MaxRequestsPerMinute: 2, Window: 20 * time.Millisecond})
	defer l.Stop()

	assert.True(t, l.allow("client-1"))
	assert.True(t, l.allow("client-1"))
	assert.False(t, l.allow("client-1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.allow("client-1"))
}

func TestNewDefaults(t *testing.T) {
	l := New(Config{})
	defer l.Stop()

	assert.Equal(t, 60, l.maxTokens)
	assert.Equal(t, time.Second, l.refillRate)
}
