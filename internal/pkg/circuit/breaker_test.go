package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow(), "still closed below the threshold")
	b.RecordFailure()
	assert.False(t, b.Allow(), "open after three consecutive failures")
	assert.Equal(t, 3, b.Failures())
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures(), "a success clears the consecutive count")
	b.RecordFailure()
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow(), "timeout elapsed, probe allowed")

	b.RecordSuccess()
	assert.True(t, b.Allow(), "successful probe closes the breaker")
}
