package event

import (
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// ring is the coalescing bitset of spec §4.4: one bit per EventId,
// shared between notifier writers and the owning listener reader. It
// lives in shared memory (a []byte view into the service's DynamicConfig
// ring arena, sized to a multiple of 4 bytes by dynstore so it can be
// manipulated one 32-bit word at a time), so every access goes through
// sync/atomic CAS loops rather than a mutex.
type ring struct {
	words []uint32
}

func newRing(bytes []byte) ring {
	n := len(bytes) / 4
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&bytes[0])), n)
	return ring{words: words}
}

// Set publishes eventID, coalescing repeated posts of the same id into a
// single pending bit (spec §4.4 "Ring semantics", §8 coalescing law).
func (r ring) Set(eventID uint64) {
	wordIdx := eventID / 32
	mask := uint32(1) << (eventID % 32)
	addr := &r.words[wordIdx]
	for {
		old := atomic.LoadUint32(addr)
		if old&mask != 0 {
			return // already pending, nothing to coalesce
		}
		if atomic.CompareAndSwapUint32(addr, old, old|mask) {
			return
		}
	}
}

// TestAndClear atomically clears eventID's bit and reports whether it had
// been set, the draining half of the coalescing ring.
func (r ring) TestAndClear(eventID uint64) bool {
	wordIdx := eventID / 32
	mask := uint32(1) << (eventID % 32)
	addr := &r.words[wordIdx]
	for {
		old := atomic.LoadUint32(addr)
		if old&mask == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(addr, old, old&^mask) {
			return true
		}
	}
}

// DrainOne returns the lowest pending EventId and clears it, or ok=false
// if the ring is empty.
func (r ring) DrainOne() (eventID uint64, ok bool) {
	for wordIdx := range r.words {
		for {
			old := atomic.LoadUint32(&r.words[wordIdx])
			if old == 0 {
				break
			}
			bit := bits.TrailingZeros32(old)
			mask := uint32(1) << uint(bit)
			if atomic.CompareAndSwapUint32(&r.words[wordIdx], old, old&^mask) {
				return uint64(wordIdx)*32 + uint64(bit), true
			}
		}
	}
	return 0, false
}

// DrainAll clears every pending bit and invokes fn once per id, in
// ascending order, matching try_wait_all/timed_wait_all/blocking_wait_all.
func (r ring) DrainAll(fn func(eventID uint64)) {
	for {
		id, ok := r.DrainOne()
		if !ok {
			return
		}
		fn(id)
	}
}

