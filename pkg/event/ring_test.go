package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingCoalescesRepeatedSets(t *testing.T) {
	r := newRing(make([]byte, 4))

	for i := 0; i < 1000; i++ {
		r.Set(3)
	}

	var drained []uint64
	r.DrainAll(func(id uint64) { drained = append(drained, id) })

	assert.Equal(t, []uint64{3}, drained, "a burst of the same id collapses to one notification")
}

func TestRingDrainOneReturnsLowestPendingID(t *testing.T) {
	r := newRing(make([]byte, 8))
	r.Set(40)
	r.Set(5)
	r.Set(12)

	id, ok := r.DrainOne()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), id)

	id, ok = r.DrainOne()
	assert.True(t, ok)
	assert.Equal(t, uint64(12), id)
}

func TestRingDrainOneEmptyReturnsFalse(t *testing.T) {
	r := newRing(make([]byte, 4))
	_, ok := r.DrainOne()
	assert.False(t, ok)
}

func TestRingTestAndClear(t *testing.T) {
	r := newRing(make([]byte, 4))
	assert.False(t, r.TestAndClear(1))

	r.Set(1)
	assert.True(t, r.TestAndClear(1))
	assert.False(t, r.TestAndClear(1), "clearing is one-shot")
}

func TestRingDrainAllVisitsEveryPendingIDAscending(t *testing.T) {
	r := newRing(make([]byte, 8))
	ids := []uint64{50, 1, 33, 17}
	for _, id := range ids {
		r.Set(id)
	}

	var drained []uint64
	r.DrainAll(func(id uint64) { drained = append(drained, id) })

	assert.Equal(t, []uint64{1, 17, 33, 50}, drained)
}
