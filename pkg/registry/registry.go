// Package registry implements the fixed-capacity lock-free port slot table
// of spec §4.3: a CAS-driven state machine per slot (free → claiming →
// live → releasing → free), monotonic per-slot generation counters, and a
// lock-free enumeration snapshot. It is deliberately built on
// sync/atomic and raw memory offsets rather than any third-party library:
// this *is* the lock-free primitive the spec calls for, and intermediating
// it behind a generic concurrent-map library would hide the exact
// CAS/ordering behaviour the invariants in spec §3/§8 depend on.
package registry

import (
	"sync/atomic"
	"unsafe"
)

// State is a slot's lifecycle state (spec §3 "Port slot" lifecycle).
type State uint32

const (
	Free State = iota
	Claiming
	Live
	Releasing
)

// SlotSize is the fixed stride of one slot in bytes:
//
//	state(4) generation(4) ownerPid(4) pad(4) ownerStartTime(8) uniqueID(8) addendum(32)
const SlotSize = 64

const (
	offState         = 0
	offGeneration     = 4
	offOwnerPid       = 8
	offOwnerStartTime = 16
	offUniqueID       = 24
	offAddendum       = 32
	addendumSize      = SlotSize - offAddendum
)

// Slot is a lightweight accessor over one slot's bytes. It does not own
// the memory; the memory may be a view into an mmap'd shared segment, so
// every field access below goes through sync/atomic to behave correctly
// under concurrent access from other processes mapping the same region.
type Slot struct {
	base unsafe.Pointer
}

func slotAt(data []byte, index uint32) Slot {
	return Slot{base: unsafe.Pointer(&data[uintptr(index)*SlotSize])}
}

func (s Slot) ptr32(off uintptr) *uint32 { return (*uint32)(unsafe.Pointer(uintptr(s.base) + off)) }
func (s Slot) ptr64(off uintptr) *uint64 { return (*uint64)(unsafe.Pointer(uintptr(s.base) + off)) }

// State returns the slot's current lifecycle state.
func (s Slot) State() State { return State(atomic.LoadUint32(s.ptr32(offState))) }

func (s Slot) casState(old, new State) bool {
	return atomic.CompareAndSwapUint32(s.ptr32(offState), uint32(old), uint32(new))
}

// Generation returns the slot's monotonic generation counter, bumped each
// time a slot is released or reaped back to free, so stale tokens (pid+slot+generation)
// from a prior occupant can be told apart from a later one (spec §9).
func (s Slot) Generation() uint32 { return atomic.LoadUint32(s.ptr32(offGeneration)) }

// Owner returns the owning process's pid and a liveness timestamp used
// for the ABA-safe reaping check of spec §9 (pid alone is racy on reuse).
func (s Slot) Owner() (pid int32, startTimeTicks uint64) {
	return int32(atomic.LoadUint32(s.ptr32(offOwnerPid))), atomic.LoadUint64(s.ptr64(offOwnerStartTime))
}

// UniqueID returns the port's UniqueId, required to be distinct across
// every listener of a service (spec §4.4 "id_is_unique").
func (s Slot) UniqueID() uint64 { return atomic.LoadUint64(s.ptr64(offUniqueID)) }

// Addendum returns the port-specific bytes (e.g. an identifier of a
// listener's semaphore), as a slice over the live shared memory. Callers must encode/
// decode via encoding/binary themselves; the registry has no opinion on
// the addendum's shape.
func (s Slot) Addendum() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(s.base)+offAddendum)), addendumSize)
}

// Token is the non-pointer identity a port holds for its own slot (spec §9
// "never store process-memory pointers in shared memory"). Peers
// dereference it through their own mapping of the same registry.
type Token struct {
	Index      uint32
	Generation uint32
}

// Registry is a fixed-capacity array of slots backed by shared memory.
type Registry struct {
	data     []byte
	capacity uint32
}

// New wraps data (a capacity*SlotSize byte region, typically a view into
// an mmap'd segment) as a Registry.
func New(data []byte, capacity uint32) *Registry {
	return &Registry{data: data, capacity: capacity}
}

// Capacity returns the fixed slot count.
func (r *Registry) Capacity() uint32 { return r.capacity }

// Slot returns the accessor for slot i.
func (r *Registry) Slot(i uint32) Slot { return slotAt(r.data, i) }

// Claim scans for a free slot and atomically claims it for ownerPid,
// writing uniqueID and the port-specific addendum before publishing the
// Live state — the liveness token is written last, per spec §3 invariant.
// Returns ok=false if the registry is at capacity.
func (r *Registry) Claim(ownerPid int32, ownerStartTimeTicks uint64, uniqueID uint64, addendum []byte) (Token, bool) {
	for i := uint32(0); i < r.capacity; i++ {
		slot := r.Slot(i)
		if slot.State() != Free {
			continue
		}
		if !slot.casState(Free, Claiming) {
			continue
		}

		atomic.StoreUint32(slot.ptr32(offOwnerPid), uint32(ownerPid))
		atomic.StoreUint64(slot.ptr64(offOwnerStartTime), ownerStartTimeTicks)
		atomic.StoreUint64(slot.ptr64(offUniqueID), uniqueID)
		copy(slot.Addendum(), addendum)

		// Liveness token: publishing State=Live is what makes the slot
		// visible to enumeration and reaping.
		atomic.StoreUint32(slot.ptr32(offState), uint32(Live))

		return Token{Index: i, Generation: slot.Generation()}, true
	}
	return Token{}, false
}

// Release transitions a live slot back to free, running cleanup (e.g.
// unlinking a listener's semaphore) between clearing the liveness token
// and freeing the slot for reuse, per spec §3 ("cleared first").
func (r *Registry) Release(tok Token, cleanup func(Slot)) {
	slot := r.Slot(tok.Index)
	if !slot.casState(Live, Releasing) {
		return
	}
	if cleanup != nil {
		cleanup(slot)
	}
	atomic.StoreUint32(slot.ptr32(offOwnerPid), 0)
	atomic.StoreUint64(slot.ptr64(offOwnerStartTime), 0)
	atomic.StoreUint64(slot.ptr64(offUniqueID), 0)
	for i := range slot.Addendum() {
		slot.Addendum()[i] = 0
	}
	atomic.AddUint32(slot.ptr32(offGeneration), 1)
	atomic.StoreUint32(slot.ptr32(offState), uint32(Free))
}

// Reap tests a live slot's owner for liveness via isAlive and, if the
// owner is gone, reclaims the slot: Live→Releasing (CAS-serialized against
// racing reapers, idempotent), cleanup, Releasing→Free. Returns true if
// this call performed the reap.
func (r *Registry) Reap(index uint32, isAlive func(pid int32, startTimeTicks uint64) bool, cleanup func(Slot)) bool {
	slot := r.Slot(index)
	if slot.State() != Live {
		return false
	}
	pid, start := slot.Owner()
	if pid == 0 || isAlive(pid, start) {
		return false
	}
	if !slot.casState(Live, Releasing) {
		// another reaper won the race
		return false
	}
	if cleanup != nil {
		cleanup(slot)
	}
	atomic.StoreUint32(slot.ptr32(offOwnerPid), 0)
	atomic.StoreUint64(slot.ptr64(offOwnerStartTime), 0)
	atomic.StoreUint64(slot.ptr64(offUniqueID), 0)
	for i := range slot.Addendum() {
		slot.Addendum()[i] = 0
	}
	atomic.AddUint32(slot.ptr32(offGeneration), 1)
	atomic.StoreUint32(slot.ptr32(offState), uint32(Free))
	return true
}

// Enumerate performs a lock-free snapshot: for every slot observed Live
// with an unchanged generation across the read, fn is invoked with the
// slot's index and its accessor. Slots that transition mid-scan are
// simply skipped this round, matching spec §4.3's "lock-free snapshot"
// semantics (callers are expected to re-scan periodically, e.g. Notifier
// re-snapshots on every Notify call).
func (r *Registry) Enumerate(fn func(index uint32, slot Slot)) {
	for i := uint32(0); i < r.capacity; i++ {
		slot := r.Slot(i)
		gen0 := slot.Generation()
		if slot.State() != Live {
			continue
		}
		gen1 := slot.Generation()
		if gen0 != gen1 {
			continue
		}
		fn(i, slot)
	}
}
