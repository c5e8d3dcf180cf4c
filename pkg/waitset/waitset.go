// Package waitset implements the WaitSet of spec §4.7: a single-threaded
// multiplexer composing one reactor, one timer wheel, and the process's
// signal handler, driving a user callback with typed attachment
// identifiers.
package waitset

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
	"github.com/iceoryx2-go/iceoryx2/pkg/reactor"
	"github.com/iceoryx2-go/iceoryx2/pkg/timer"
)

// AttachmentKind classifies why a callback was invoked (spec §4.7).
type AttachmentKind int

const (
	Notification AttachmentKind = iota
	Deadline
	Tick
)

func (k AttachmentKind) String() string {
	switch k {
	case Notification:
		return "notification"
	case Deadline:
		return "deadline"
	case Tick:
		return "tick"
	default:
		return "unknown"
	}
}

// AttachmentId is the opaque, comparable identifier of spec §4.7: it
// tags the waitset it belongs to (so ids from different wait sets never
// compare equal) plus the attachment's fd and/or timer index.
type AttachmentId struct {
	waitSetID uint64
	Kind      AttachmentKind
	FD        int
	TimerIdx  timer.ID
}

// OriginatesFrom reports whether id refers to the same attachment as g
// (spec §4.7 "originates_from(guard)").
func (id AttachmentId) OriginatesFrom(g *Guard) bool {
	return id.waitSetID == g.waitSetID && id.Kind == g.Kind() && id.FD == g.fd && id.TimerIdx == g.timerID
}

// WaitEventKind classifies the outcome of one Run call.
type WaitEventKind int

const (
	Timeout WaitEventKind = iota
	EventDelivered
	Interrupt
	TerminationRequest
)

// WaitEvent is the result of one Run call (spec §4.7 "run(callback) →
// WaitEvent"). Attachments lists every id the callback was invoked with
// during this cycle, in delivery order.
type WaitEvent struct {
	Kind        WaitEventKind
	Attachments []AttachmentId
}

type attachment struct {
	fd              int // -1 for a bare tick attachment
	hasDeadline     bool
	timerID         timer.ID
	deadlinePeriod  time.Duration
	guard           *reactor.Guard
}

// WaitSet composes a Reactor and a Wheel; spec §4.7/§5: single-threaded,
// Run is not reentrant, owns its timer and reactor exclusively.
type WaitSet struct {
	id uint64

	reactor *reactor.Reactor
	wheel   *timer.Wheel

	mu          deadlock.Mutex
	byFD        map[int]*attachment
	byTimerID   map[timer.ID]*attachment
	pending     []AttachmentId

	running int32 // guards Run against reentrant/concurrent calls
}

var waitSetCounter uint64

// New creates a WaitSet whose reactor accepts up to capacity simultaneous
// fd attachments.
func New(capacity int) (*WaitSet, error) {
	r, err := reactor.New(capacity)
	if err != nil {
		return nil, err
	}

	return &WaitSet{
		id:        atomic.AddUint64(&waitSetCounter, 1),
		reactor:   r,
		wheel:     timer.New(),
		byFD:      make(map[int]*attachment),
		byTimerID: make(map[timer.ID]*attachment),
	}, nil
}

// Guard is the scoped handle returned by every Attach* call; closing it
// detaches the attachment from the reactor and/or timer wheel (spec §3/§5
// "guards cancel their underlying resources on drop").
type Guard struct {
	ws       *WaitSet
	kind     AttachmentKind
	fd       int
	timerID  timer.ID
	waitSetID uint64
	closed   bool
}

// Kind reports the attachment kind this guard was created with.
func (g *Guard) Kind() AttachmentKind { return g.kind }

// Close detaches the guard. Idempotent (spec §8 "dropping a Guard twice
// is impossible... repeated detach calls are no-ops").
func (g *Guard) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.ws.detach(g)
}

// AttachNotification observes fd for readiness; on ready, Run's callback
// receives a Notification attachment id (spec §4.7).
func (ws *WaitSet) AttachNotification(fd int) (*Guard, error) {
	return ws.attach(fd, false, 0)
}

// AttachDeadline observes fd for readiness AND arms a cyclic deadline
// timer of period d: if fd becomes ready first, the timer resets and the
// callback receives a Notification id; if the timer fires first, the
// callback receives a Deadline id (spec §4.7).
func (ws *WaitSet) AttachDeadline(fd int, d time.Duration) (*Guard, error) {
	return ws.attach(fd, true, d)
}

// AttachTick arms a bare cyclic timer with no associated fd; on each
// firing, Run's callback receives a Tick attachment id (spec §4.7).
func (ws *WaitSet) AttachTick(period time.Duration) (*Guard, error) {
	ws.mu.Lock()
	timerID := ws.wheel.AddCyclic(period)
	a := &attachment{fd: -1, timerID: timerID}
	ws.byTimerID[timerID] = a
	ws.mu.Unlock()

	return &Guard{ws: ws, kind: Tick, fd: -1, timerID: timerID, waitSetID: ws.id}, nil
}

func (ws *WaitSet) attach(fd int, hasDeadline bool, period time.Duration) (*Guard, error) {
	ws.mu.Lock()
	if _, exists := ws.byFD[fd]; exists {
		ws.mu.Unlock()
		return nil, ipcerrors.New(ipcerrors.AlreadyAttached, "WaitSet.attach", "", nil)
	}
	ws.mu.Unlock()

	var timerID timer.ID
	if hasDeadline {
		timerID = ws.wheel.AddCyclic(period)
	}

	g, err := ws.reactor.Attach(fd, func() { ws.onFDReady(fd) })
	if err != nil {
		if hasDeadline {
			ws.wheel.Remove(timerID)
		}
		return nil, err
	}

	a := &attachment{fd: fd, hasDeadline: hasDeadline, timerID: timerID, deadlinePeriod: period, guard: g}

	ws.mu.Lock()
	ws.byFD[fd] = a
	if hasDeadline {
		ws.byTimerID[timerID] = a
	}
	ws.mu.Unlock()

	kind := Notification
	if hasDeadline {
		kind = Deadline
	}
	return &Guard{ws: ws, kind: kind, fd: fd, timerID: timerID, waitSetID: ws.id}, nil
}

func (ws *WaitSet) detach(g *Guard) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if g.kind == Tick {
		delete(ws.byTimerID, g.timerID)
		ws.wheel.Remove(g.timerID)
		return nil
	}

	a, ok := ws.byFD[g.fd]
	if !ok {
		return nil
	}
	delete(ws.byFD, g.fd)
	if a.hasDeadline {
		delete(ws.byTimerID, a.timerID)
		ws.wheel.Remove(a.timerID)
	}
	return a.guard.Close()
}

// onFDReady runs on the Reactor's single-threaded TimedWait call (spec
// §4.7 step 3: collect ready fds into a local buffer before any callback
// runs, so a long user callback cannot extend a sibling's deadline): it
// only records the attachment id and resets the paired deadline timer,
// it never invokes the user's callback directly.
func (ws *WaitSet) onFDReady(fd int) {
	ws.mu.Lock()
	a, ok := ws.byFD[fd]
	if !ok {
		ws.mu.Unlock()
		return
	}
	if a.hasDeadline {
		ws.wheel.Reset(a.timerID, a.deadlinePeriod)
	}
	ws.pending = append(ws.pending, AttachmentId{waitSetID: ws.id, Kind: Notification, FD: fd})
	ws.mu.Unlock()
}

// pollInterval bounds how long a Run call blocks when no timer is armed,
// so a process-wide SIGINT/SIGTERM is noticed promptly even though a
// blocking epoll_wait is not guaranteed to observe EINTR for a signal
// Go's runtime intercepts via os/signal rather than delivering raw to the
// blocked thread.
const pollInterval = 200 * time.Millisecond

// Run is the core loop body of spec §4.7: checks for termination, computes
// the next timeout, waits on the reactor, and invokes callback once per
// attachment that became ready or whose deadline/tick timer fired.
func (ws *WaitSet) Run(callback func(AttachmentId)) (WaitEvent, error) {
	if !atomic.CompareAndSwapInt32(&ws.running, 0, 1) {
		return WaitEvent{}, ipcerrors.New(ipcerrors.InternalError, "WaitSet.run", "", nil)
	}
	defer atomic.StoreInt32(&ws.running, 0)

	installSignalHandlerOnce()
	if terminationRequested() {
		return WaitEvent{Kind: TerminationRequest}, nil
	}
	if interruptRequested() {
		return WaitEvent{Kind: Interrupt}, nil
	}

	timeout := pollInterval
	if d, ok := ws.wheel.DurationUntilNextTimeout(); ok && d < timeout {
		if d <= 0 {
			// Already due: poll the reactor without blocking. A zero
			// timeout would make TimedWait block indefinitely.
			d = time.Nanosecond
		}
		timeout = d
	}

	ws.mu.Lock()
	ws.pending = ws.pending[:0]
	ws.mu.Unlock()

	n, err := ws.reactor.TimedWait(timeout)
	if err != nil {
		return WaitEvent{}, err
	}

	ws.mu.Lock()
	events := append([]AttachmentId(nil), ws.pending...)
	ws.mu.Unlock()

	if n == 0 || len(events) == 0 {
		ws.wheel.MissedTimeouts(func(id timer.ID) {
			ws.mu.Lock()
			a, ok := ws.byTimerID[id]
			ws.mu.Unlock()
			if !ok {
				return
			}
			kind := Tick
			if a.hasDeadline {
				kind = Deadline
			}
			events = append(events, AttachmentId{waitSetID: ws.id, Kind: kind, FD: a.fd, TimerIdx: id})
		})
	}

	for _, id := range events {
		callback(id)
	}

	if len(events) == 0 {
		return WaitEvent{Kind: Timeout}, nil
	}
	return WaitEvent{Kind: EventDelivered, Attachments: events}, nil
}

// Close releases the waitset's reactor. Already-detached guards are
// unaffected.
func (ws *WaitSet) Close() error {
	return ws.reactor.Close()
}

var (
	signalOnce     sync.Once
	terminateFlag  int32
	interruptFlag  int32
)

// installSignalHandlerOnce installs the process-wide SIGINT/SIGTERM
// handler exactly once, on the first WaitSet.Run call, and keeps it for
// the remainder of the process (spec §5 "Signal handling": never
// per-WaitSet).
func installSignalHandlerOnce() {
	signalOnce.Do(func() {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			for sig := range ch {
				switch sig {
				case syscall.SIGTERM:
					atomic.StoreInt32(&terminateFlag, 1)
				case syscall.SIGINT:
					atomic.StoreInt32(&interruptFlag, 1)
				}
			}
		}()
	})
}

func terminationRequested() bool { return atomic.LoadInt32(&terminateFlag) != 0 }
func interruptRequested() bool {
	return atomic.CompareAndSwapInt32(&interruptFlag, 1, 0)
}
