package event

import (
	"fmt"
	"os"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/internal/procliveness"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
	"github.com/iceoryx2-go/iceoryx2/pkg/registry"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/dynstore"
)

// Notifier is the sending half of an Event service port (spec §4.4).
type Notifier struct {
	dyn      *dynstore.Segment
	layout   pathutil.Layout
	token    registry.Token
	uniqueID uint64
	closed   bool
}

// NewNotifier claims a slot in the service's notifier registry. A
// notifier has no ring or semaphore of its own; it writes into every
// live listener's ring and posts every live listener's semaphore.
func NewNotifier(dyn *dynstore.Segment, layout pathutil.Layout) (*Notifier, error) {
	uid := nextUniqueID()

	token, ok := dyn.NotifierRegistry.Claim(int32(os.Getpid()), procliveness.CurrentStartTimeTicks(), uid, nil)
	if !ok {
		reapDeadNotifiers(dyn)
		token, ok = dyn.NotifierRegistry.Claim(int32(os.Getpid()), procliveness.CurrentStartTimeTicks(), uid, nil)
	}
	if !ok {
		return nil, ipcerrors.New(ipcerrors.ExceedsMaxSupportedNotifiers, "Notifier.create", "", nil)
	}

	return &Notifier{dyn: dyn, layout: layout, token: token, uniqueID: uid}, nil
}

// ID returns the notifier's UniqueId.
func (n *Notifier) ID() uint64 { return n.uniqueID }

// Notify sets eventID in every live listener's ring and wakes it via its
// semaphore (spec §4.4 "notify"). It re-snapshots the listener registry
// on every call (spec §4.3 "lock-free snapshot"), so listeners attached
// after a prior Notify still receive the next one. Returns the number of
// listeners reached; a listener whose semaphore post is dropped (e.g. its
// FIFO buffer is momentarily full) still has its ring bit set and is
// counted as reached, per spec §9's "post count need not equal notify
// count" allowance.
func (n *Notifier) Notify(eventID EventId) (reached int, err error) {
	if eventID > n.dyn.EventIDMaxValue {
		return 0, ipcerrors.New(ipcerrors.EventIdOutOfBounds, "Notifier.notify", "", nil)
	}

	reapDeadListeners(n.dyn, n.layout)

	n.dyn.ListenerRegistry.Enumerate(func(index uint32, slot registry.Slot) {
		r := newRing(n.dyn.RingFor(index))
		r.Set(eventID)

		uid := slot.UniqueID()
		path := n.layout.SemaphorePath(fmt.Sprintf("%x", uid))
		postSemaphore(path) // best-effort; dropped posts don't lose the event

		reached++
	})

	return reached, nil
}

// Close releases the notifier's registry slot.
func (n *Notifier) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true
	n.dyn.NotifierRegistry.Release(n.token, nil)
	return nil
}
