package event

import (
	"fmt"
	"os"
	"time"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/internal/procliveness"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
	"github.com/iceoryx2-go/iceoryx2/pkg/registry"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/dynstore"
)

// Listener is the receiving half of an Event service port (spec §4.4).
type Listener struct {
	dyn      *dynstore.Segment
	layout   pathutil.Layout
	token    registry.Token
	ring     ring
	sem      *semaphore
	uniqueID uint64
	closed   bool
}

// NewListener claims a slot in the service's listener registry and
// creates its backing semaphore, per spec §4.4/§6.
func NewListener(dyn *dynstore.Segment, layout pathutil.Layout) (*Listener, error) {
	uid := nextUniqueID()
	semPath := layout.SemaphorePath(fmt.Sprintf("%x", uid))

	sem, err := createSemaphore(semPath)
	if err != nil {
		return nil, err
	}

	token, ok := dyn.ListenerRegistry.Claim(int32(os.Getpid()), procliveness.CurrentStartTimeTicks(), uid, nil)
	if !ok {
		// The registry may look full only because it still holds slots whose
		// owning process is gone (spec §4.3/§9, §8 scenario 4): reap those
		// before giving up, then retry once.
		reapDeadListeners(dyn, layout)
		token, ok = dyn.ListenerRegistry.Claim(int32(os.Getpid()), procliveness.CurrentStartTimeTicks(), uid, nil)
	}
	if !ok {
		sem.Close()
		unlinkSemaphore(semPath)
		return nil, ipcerrors.New(ipcerrors.ExceedsMaxSupportedListeners, "Listener.create", "", nil)
	}

	return &Listener{
		dyn:      dyn,
		layout:   layout,
		token:    token,
		ring:     newRing(dyn.RingFor(token.Index)),
		sem:      sem,
		uniqueID: uid,
	}, nil
}

// ID returns the listener's UniqueId, distinct from every other listener
// of the same service (spec §4.4 "id_is_unique").
func (l *Listener) ID() uint64 { return l.uniqueID }

// FileDescriptor exposes a readable fd usable by multiplexers (spec
// §4.4); it becomes readable iff the semaphore has pending posts.
func (l *Listener) FileDescriptor() int { return l.sem.FD() }

// TryWaitOne is non-blocking: returns the next pending id, or ok=false.
func (l *Listener) TryWaitOne() (id EventId, ok bool) {
	id, ok = l.ring.DrainOne()
	if ok {
		l.sem.drain(1)
	}
	return id, ok
}

// TimedWaitOne waits on the semaphore up to d, then drains one id.
func (l *Listener) TimedWaitOne(d time.Duration) (id EventId, ok bool, err error) {
	if id, ok := l.ring.DrainOne(); ok {
		l.sem.drain(1)
		return id, true, nil
	}
	ready, err := l.sem.waitReadable(d)
	if err != nil {
		return 0, false, err
	}
	if !ready {
		return 0, false, nil
	}
	id, ok = l.ring.DrainOne()
	if ok {
		l.sem.drain(1)
	}
	return id, ok, nil
}

// BlockingWaitOne waits indefinitely.
func (l *Listener) BlockingWaitOne() (EventId, error) {
	id, ok, err := l.TimedWaitOne(0)
	if err != nil {
		return 0, err
	}
	if !ok {
		// timeout==0 means block indefinitely in TimedWaitOne/waitReadable,
		// so !ok only happens on a spurious wakeup with an already-drained
		// ring; retry.
		return l.BlockingWaitOne()
	}
	return id, nil
}

// TryWaitAll drains every pending id without blocking.
func (l *Listener) TryWaitAll(fn func(EventId)) {
	l.ring.DrainAll(fn)
	l.sem.drain(-1)
}

// TimedWaitAll waits up to d for at least one id, then drains the full
// pending set.
func (l *Listener) TimedWaitAll(d time.Duration, fn func(EventId)) error {
	ready, err := l.sem.waitReadable(d)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	l.ring.DrainAll(fn)
	l.sem.drain(-1)
	return nil
}

// BlockingWaitAll blocks until at least one id is pending, then drains
// the full pending set.
func (l *Listener) BlockingWaitAll(fn func(EventId)) error {
	return l.TimedWaitAll(0, fn)
}

// Close releases the listener's slot and unlinks its semaphore (spec
// §3/§5: guards cancel their underlying resources on drop).
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	semPath := l.layout.SemaphorePath(fmt.Sprintf("%x", l.uniqueID))
	l.dyn.ListenerRegistry.Release(l.token, func(registry.Slot) {})
	cerr := l.sem.Close()
	uerr := unlinkSemaphore(semPath)
	if cerr != nil {
		return cerr
	}
	return uerr
}
