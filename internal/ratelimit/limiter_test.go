package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewRequestLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewRequestLimiter(0))
	assert.Nil(t, NewRequestLimiter(-5))
}

func TestNewRequestLimiterBurst(t *testing.T) {
	l := NewRequestLimiter(60)
	require.NotNil(t, l)
	assert.Equal(t, rate.Limit(1), l.Limit())
	assert.Equal(t, 60, l.Burst())

	for i := 0; i < 60; i++ {
		require.True(t, l.Allow(), "request %d within burst", i)
	}
	assert.False(t, l.Allow())
}
