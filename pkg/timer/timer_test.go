package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationUntilNextTimeoutReflectsEarliestDeadline(t *testing.T) {
	w := New()
	_, ok := w.DurationUntilNextTimeout()
	assert.False(t, ok, "empty wheel reports no next timeout")

	w.AddOneShot(50 * time.Millisecond)
	w.AddOneShot(10 * time.Millisecond)

	d, ok := w.DurationUntilNextTimeout()
	assert.True(t, ok)
	assert.LessOrEqual(t, d, 10*time.Millisecond)
}

func TestMissedTimeoutsFiresOncePerExpiredTimer(t *testing.T) {
	w := New()
	w.nowFunc = func() time.Time { return time.Unix(0, 0) }

	id := w.AddOneShot(time.Millisecond)
	w.nowFunc = func() time.Time { return time.Unix(0, 0).Add(time.Second) }

	var fired []ID
	w.MissedTimeouts(func(got ID) { fired = append(fired, got) })

	assert.Equal(t, []ID{id}, fired)
	assert.Equal(t, 0, w.Len(), "one-shot timer is removed after firing")

	// a second call with no new expirations fires nothing
	fired = nil
	w.MissedTimeouts(func(got ID) { fired = append(fired, got) })
	assert.Empty(t, fired)
}

func TestCyclicTimerAutoRearms(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)
	w.nowFunc = func() time.Time { return now }

	id := w.AddCyclic(10 * time.Millisecond)

	now = now.Add(25 * time.Millisecond)
	fireCount := 0
	w.MissedTimeouts(func(got ID) {
		assert.Equal(t, id, got)
		fireCount++
	})

	// missed intermediate periods are not replayed: exactly one callback,
	// and the timer is still registered for its next period.
	assert.Equal(t, 1, fireCount)
	assert.Equal(t, 1, w.Len())
}

func TestRemoveCancelsTimer(t *testing.T) {
	w := New()
	id := w.AddOneShot(time.Millisecond)
	w.Remove(id)
	assert.Equal(t, 0, w.Len())

	// removing twice is a no-op
	w.Remove(id)
	assert.Equal(t, 0, w.Len())
}

func TestResetRearmsWithoutChangingID(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)
	w.nowFunc = func() time.Time { return now }

	id := w.AddOneShot(5 * time.Millisecond)
	w.Reset(id, time.Hour)

	d, ok := w.DurationUntilNextTimeout()
	assert.True(t, ok)
	assert.Greater(t, d, 5*time.Minute)
	assert.Equal(t, 1, w.Len())
}
