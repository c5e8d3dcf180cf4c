package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestRegistry(capacity uint32) *Registry {
	return New(make([]byte, uint32(SlotSize)*capacity), capacity)
}

func TestClaimAssignsDistinctSlots(t *testing.T) {
	r := newTestRegistry(4)

	tok1, ok := r.Claim(100, 1, 0xAAAA, nil)
	assert.True(t, ok)
	tok2, ok := r.Claim(101, 1, 0xBBBB, nil)
	assert.True(t, ok)

	assert.NotEqual(t, tok1.Index, tok2.Index)
	assert.Equal(t, Live, r.Slot(tok1.Index).State())
	assert.Equal(t, uint64(0xAAAA), r.Slot(tok1.Index).UniqueID())
}

func TestClaimFailsAtCapacity(t *testing.T) {
	r := newTestRegistry(1)

	_, ok := r.Claim(1, 1, 1, nil)
	assert.True(t, ok)

	_, ok = r.Claim(2, 1, 2, nil)
	assert.False(t, ok)
}

func TestReleaseFreesSlotAndBumpsGeneration(t *testing.T) {
	r := newTestRegistry(2)
	tok, ok := r.Claim(1, 1, 42, nil)
	assert.True(t, ok)
	gen0 := tok.Generation

	cleaned := false
	r.Release(tok, func(Slot) { cleaned = true })

	assert.True(t, cleaned)
	assert.Equal(t, Free, r.Slot(tok.Index).State())
	assert.Equal(t, gen0+1, r.Slot(tok.Index).Generation())
	assert.Equal(t, uint64(0), r.Slot(tok.Index).UniqueID())

	// the freed slot can be reclaimed
	tok2, ok := r.Claim(1, 1, 43, nil)
	assert.True(t, ok)
	assert.Equal(t, tok.Index, tok2.Index)
	assert.Equal(t, gen0+1, tok2.Generation)
}

func TestReapOnlyReclaimsDeadOwners(t *testing.T) {
	r := newTestRegistry(2)
	tok, ok := r.Claim(999, 123, 7, nil)
	assert.True(t, ok)

	alive := func(pid int32, startTime uint64) bool { return pid == 999 && startTime == 123 }
	assert.False(t, r.Reap(tok.Index, alive, nil))
	assert.Equal(t, Live, r.Slot(tok.Index).State())

	dead := func(pid int32, startTime uint64) bool { return false }
	assert.True(t, r.Reap(tok.Index, dead, nil))
	assert.Equal(t, Free, r.Slot(tok.Index).State())

	// idempotent: reaping an already-free slot is a no-op
	assert.False(t, r.Reap(tok.Index, dead, nil))
}

func TestEnumerateOnlyVisitsLiveSlots(t *testing.T) {
	r := newTestRegistry(3)
	tok1, _ := r.Claim(1, 1, 10, nil)
	_, _ = r.Claim(2, 1, 20, nil)
	r.Release(tok1, nil)

	var seen []uint64
	r.Enumerate(func(_ uint32, s Slot) {
		seen = append(seen, s.UniqueID())
	})

	assert.ElementsMatch(t, []uint64{20}, seen)
}

func TestAddendumRoundTrips(t *testing.T) {
	r := newTestRegistry(1)
	addendum := []byte("listener-semaphore-path")
	tok, ok := r.Claim(1, 1, 1, addendum)
	assert.True(t, ok)

	got := r.Slot(tok.Index).Addendum()
	assert.Equal(t, addendum, got[:len(addendum)])
}
