package realtime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/contatto/internal/infrastructure/realtime"
)

func TestBackoffPolicy_Schedule(t *testing.T) {
	p := realtime.DefaultBackoffPolicy()

	want := map[int]time.Duration{
		0:   5 * time.Second,
		1:   5 * time.Second,
		5:   5 * time.Second,
		6:   10 * time.Second,
		7:   20 * time.Second,
		8:   40 * time.Second,
		9:   300 * time.Second,
		50:  300 * time.Second,
		500: 300 * time.Second,
	}
	for attempt, delay := range want {
		assert.Equal(t, delay, p.Delay(attempt), "attempt %d", attempt)
	}
}

func TestBackoffPolicy_NonDecreasing(t *testing.T) {
	p := realtime.DefaultBackoffPolicy()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 100; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestBackoffPolicy_CapWithinDoubling(t *testing.T) {
	p := realtime.BackoffPolicy{BaseDelay: time.Second, FixedAttempts: 1, DoublingSteps: 10, MaxDelay: 5 * time.Second}
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
}

func TestBackoffPolicy_ResetsAfter(t *testing.T) {
	p := realtime.DefaultBackoffPolicy()
	assert.False(t, p.ResetsAfter(0))
	assert.False(t, p.ResetsAfter(4*time.Minute+59*time.Second))
	assert.True(t, p.ResetsAfter(5*time.Minute))
}
