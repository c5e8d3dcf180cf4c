// Package event implements the Event messaging pattern's ports (spec
// §4.4): Notifier.Notify, and Listener's try/timed/blocking wait
// operations over a coalescing ring backed by a named semaphore.
package event

import (
	"os"
	"sync/atomic"
)

// EventId is a bounded non-negative integer used as a notification tag
// (spec §3).
type EventId = uint64

var uniqueIDCounter uint64

// nextUniqueID hands out a UniqueId guaranteed distinct across every port
// created by this process (spec §4.4 "id_is_unique"): the high 32 bits
// are this process's pid, the low 32 an atomic per-process counter, so
// two processes can never collide and two ports in one process never
// race on the same value.
func nextUniqueID() uint64 {
	n := atomic.AddUint64(&uniqueIDCounter, 1)
	return uint64(uint32(os.Getpid()))<<32 | uint64(uint32(n))
}
