package event

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
)

// semaphore is the cross-process, filesystem-addressable notification
// channel of spec §4.4/§6 ("ports/<listener-unique-id>.sem"). It is
// backed by a POSIX named FIFO rather than a cgo named semaphore or an
// eventfd: a FIFO is nameable at exactly the path spec §6 calls for, its
// read end is natively pollable (readable iff there is unread data, the
// semaphore's "pending post" condition), and every other IPC primitive in
// this module already goes through golang.org/x/sys/unix rather than cgo.
type semaphore struct {
	path string
	file *os.File // opened O_RDWR so the open never blocks on a peer
}

// createSemaphore makes the named FIFO and opens it for the owning
// listener.
func createSemaphore(path string) (*semaphore, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, ipcerrors.New(ipcerrors.InternalFailure, "Listener.create", "", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		os.Remove(path)
		return nil, ipcerrors.New(ipcerrors.InternalFailure, "Listener.create", "", err)
	}
	return &semaphore{path: path, file: f}, nil
}

// unlinkSemaphore removes the named FIFO, the cleanup hook run when a
// listener's slot is released or reaped (spec §4.3).
func unlinkSemaphore(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// post writes one notification byte. Writers that are not the owning
// listener open their own O_WRONLY|O_NONBLOCK fd per post rather than
// holding one open, since a notifier may outlive or be outlived by any
// given listener.
func postSemaphore(path string) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return ipcerrors.New(ipcerrors.InternalFailure, "Notifier.notify", "", err)
	}
	defer unix.Close(fd)
	_, err = unix.Write(fd, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return ipcerrors.New(ipcerrors.InternalFailure, "Notifier.notify", "", err)
	}
	// EAGAIN means the FIFO's buffer is full: the post is dropped, which is
	// within spec's "drop on ring full, counting as delivered" allowance
	// and the documented open question on post/notify count equivalence.
	return nil
}

// FD returns the fd to expose via Listener.FileDescriptor / the reactor.
func (s *semaphore) FD() int { return int(s.file.Fd()) }

// drain consumes up to max pending bytes (64 when max <= 0) in one
// non-blocking read, returning how many were consumed. Used after a ring drain to keep fd readiness
// roughly tracking pending state (spec §9: post count need not equal
// notify count).
func (s *semaphore) drain(max int) int {
	if max <= 0 {
		max = 64
	}
	buf := make([]byte, max)
	if err := unix.SetNonblock(int(s.file.Fd()), true); err != nil {
		return 0
	}
	n, err := unix.Read(int(s.file.Fd()), buf)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// waitReadable blocks until the fd is readable or timeout elapses (0 ==
// block indefinitely), backing Listener's blocking/timed waits.
func (s *semaphore) waitReadable(timeout time.Duration) (ready bool, err error) {
	fd := int(s.file.Fd())
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	ms := -1
	if timeout > 0 {
		ms = int(timeout.Milliseconds())
	}

	for {
		n, perr := unix.Poll(pfd, ms)
		if perr == unix.EINTR {
			continue
		}
		if perr != nil {
			return false, ipcerrors.New(ipcerrors.InternalError, "Listener.wait", "", perr)
		}
		return n > 0, nil
	}
}

func (s *semaphore) Close() error {
	return s.file.Close()
}
