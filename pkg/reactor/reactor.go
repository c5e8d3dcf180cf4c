// Package reactor implements the single-threaded readiness multiplexer of
// spec §4.5: a thin epoll wrapper that a WaitSet polls for every attached
// service's notification fd, plus the service's event fd directly.
package reactor

import (
	"time"

	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sys/unix"

	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
)

// Reactor multiplexes readiness across a bounded set of attached fds.
// Attach/Detach mutate the epoll interest list, which is not itself
// lock-free, so access is serialized with a mutex rather than built as a
// second lock-free structure alongside the registry's (spec §4.5 scopes
// the reactor to "single-threaded use," a WaitSet's own Run loop, so the
// mutex only ever guards against concurrent Attach/Detach from other
// goroutines of the same process, not against other processes).
type Reactor struct {
	epfd     int
	capacity int

	mu          deadlock.Mutex
	attachments map[int32]func()
}

// New creates an epoll instance with room for up to capacity simultaneous
// attachments (spec §4.5 "bounded by a configured capacity").
func New(capacity int) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ipcerrors.New(ipcerrors.InternalError, "Reactor.create", "", err)
	}
	return &Reactor{
		epfd:        epfd,
		capacity:    capacity,
		attachments: make(map[int32]func(), capacity),
	}, nil
}

// Capacity returns the configured maximum number of simultaneous
// attachments.
func (r *Reactor) Capacity() int { return r.capacity }

// Len returns the number of currently attached fds.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attachments)
}

// IsEmpty reports whether no fd is currently attached.
func (r *Reactor) IsEmpty() bool { return r.Len() == 0 }

// Guard represents one attached fd; Close detaches it (spec §3/§5: guard
// types release their resource exactly once, on Close/drop).
type Guard struct {
	r      *Reactor
	fd     int32
	closed bool
}

// Attach registers fd for readability and arranges for onReady to be
// invoked from TimedWait whenever fd becomes readable. Returns
// InsufficientCapacity if the reactor is already at capacity.
func (r *Reactor) Attach(fd int, onReady func()) (*Guard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.attachments) >= r.capacity {
		return nil, ipcerrors.New(ipcerrors.InsufficientCapacity, "Reactor.attach", "", nil)
	}
	if _, exists := r.attachments[int32(fd)]; exists {
		return nil, ipcerrors.New(ipcerrors.AlreadyAttached, "Reactor.attach", "", nil)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, ipcerrors.New(ipcerrors.InternalError, "Reactor.attach", "", err)
	}
	r.attachments[int32(fd)] = onReady

	return &Guard{r: r, fd: int32(fd)}, nil
}

// Close detaches the guard's fd. Safe to call more than once.
func (g *Guard) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.r.detach(g.fd)
}

func (r *Reactor) detach(fd int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attachments[fd]; !ok {
		return nil
	}
	delete(r.attachments, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return ipcerrors.New(ipcerrors.InternalError, "Reactor.detach", "", err)
	}
	return nil
}

// TimedWait blocks until at least one attached fd is readable or timeout
// elapses (0 blocks indefinitely), invoking each ready fd's callback.
// Spurious wakeups (a fd reported ready whose guard was detached between
// epoll_wait returning and the callback lookup) are silently tolerated,
// per spec §4.5. EPERM from epoll_wait (e.g. a seccomp filter denying the
// syscall) is reported as InsufficientPermissions rather than the generic
// InternalError, per spec §4.7's reactor-error mapping.
func (r *Reactor) TimedWait(timeout time.Duration) (ready int, err error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout.Milliseconds())
	}

	events := make([]unix.EpollEvent, r.capacity+1)
	var n int
	for {
		n, err = unix.EpollWait(r.epfd, events, ms)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err == unix.EPERM {
		return 0, ipcerrors.New(ipcerrors.InsufficientPermissions, "Reactor.wait", "", err)
	}
	if err != nil {
		return 0, ipcerrors.New(ipcerrors.InternalError, "Reactor.wait", "", err)
	}

	for i := 0; i < n; i++ {
		r.mu.Lock()
		cb, ok := r.attachments[events[i].Fd]
		r.mu.Unlock()
		if ok && cb != nil {
			cb()
		}
	}
	return n, nil
}

// Close releases the underlying epoll fd.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
