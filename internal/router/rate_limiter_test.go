package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"classhub/internal/clock"
)

func TestRateLimiter_Window(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(3, time.Second, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "request %d", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	clk.Advance(time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_ForgetAndCleanup(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(1, time.Second, clk)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	rl.Forget("a")
	assert.True(t, rl.Allow("a"))

	rl.Allow("b")
	clk.Advance(6 * time.Second)
	rl.Allow("c")
	assert.Equal(t, 2, rl.Cleanup())
	assert.Equal(t, 0, rl.Cleanup())
}

func TestRateLimiter_DisabledAndNil(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("a"))
	assert.NotPanics(t, func() { nilLimiter.Forget("a") })
	assert.Zero(t, nilLimiter.Cleanup())

	off := NewRateLimiter(0, time.Second, clock.Real{})
	for i := 0; i < 100; i++ {
		assert.True(t, off.Allow("a"))
	}
}
