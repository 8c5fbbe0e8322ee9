package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := newBackoffWithJitter(func() float64 { return 0 })

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, b.Next(false), "attempt %d", i)
	}
}

func TestBackoffRateLimitedTriplesWithHigherCap(t *testing.T) {
	b := newBackoffWithJitter(func() float64 { return 0 })

	assert.Equal(t, 6*time.Second, b.Next(true))
	assert.Equal(t, 18*time.Second, b.Next(true))
	assert.Equal(t, 54*time.Second, b.Next(true))
	assert.Equal(t, 120*time.Second, b.Next(true))
	assert.Equal(t, 120*time.Second, b.Next(true))
}

func TestBackoffJitterBounds(t *testing.T) {
	low := newBackoffWithJitter(func() float64 { return 0 })
	high := newBackoffWithJitter(func() float64 { return 0.999 })

	base := low.Next(false)
	jittered := high.Next(false)

	assert.GreaterOrEqual(t, jittered, base)
	assert.Less(t, jittered, base+time.Duration(0.3*float64(base))+time.Millisecond)
}

func TestBackoffReset(t *testing.T) {
	b := newBackoffWithJitter(func() float64 { return 0 })
	b.Next(false)
	b.Next(false)
	b.Reset()
	assert.Equal(t, 2*time.Second, b.Next(false))
}
