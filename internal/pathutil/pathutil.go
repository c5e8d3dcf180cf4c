// Package pathutil resolves the deterministic filesystem paths of spec §6
// ("Under a configurable root ... services/<hash>.static ...") and wraps
// the exclusive-create / advisory-lock primitives every other package
// needs to implement the two-phase static-storage protocol of §4.2.
//
// The candidate-resolution shape (root, then well-known subpaths) is
// adapted from the teacher's socket-candidate probing idiom
// (pkg/commands/socket_detection_unix.go): a short ordered list of
// directories is ensured to exist once, cheaply, rather than re-derived on
// every call.
package pathutil

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Layout resolves the on-disk locations for a given configured root.
type Layout struct {
	Root string
}

// NewLayout ensures root/services and root/ports exist and returns a
// Layout rooted there.
func NewLayout(root string) (Layout, error) {
	for _, sub := range []string{"services", "ports"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return Layout{}, err
		}
	}
	return Layout{Root: root}, nil
}

// StaticPath returns the path of the (sealed) static config blob for a
// given ServiceId hash.
func (l Layout) StaticPath(serviceIDHex string) string {
	return filepath.Join(l.Root, "services", serviceIDHex+".static")
}

// StaticLockPath returns the path the static blob is created under before
// it is sealed, per §6 ("during creation suffixed .lock").
func (l Layout) StaticLockPath(serviceIDHex string) string {
	return l.StaticPath(serviceIDHex) + ".lock"
}

// DynamicPath returns the shared-memory object path backing a service's
// DynamicConfig.
func (l Layout) DynamicPath(serviceIDHex string) string {
	return filepath.Join(l.Root, "services", serviceIDHex+".dynamic")
}

// SemaphorePath returns the path of the OS resource backing a listener's
// semaphore, named by the listener's UniqueId.
func (l Layout) SemaphorePath(listenerUniqueID string) string {
	return filepath.Join(l.Root, "ports", listenerUniqueID+".sem")
}

// CreateExclusive attempts an O_CREAT|O_EXCL create at path, the building
// block for the static-storage "create-and-lock" step of §4.2. Returns
// os.ErrExist if the path is already taken.
func CreateExclusive(path string, mode os.FileMode) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, mode)
}

// Flock places an advisory exclusive lock on f, held by a static-storage
// creator for the entire BeginCreate..Seal/Abort window. The OS drops the
// lock automatically if the holding process dies, which is what lets a
// later creator distinguish "still being created by a live process" from
// "abandoned by a creator that crashed" via TryFlock below.
func Flock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// Funlock releases a lock taken with Flock.
func Funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// TryFlock attempts a non-blocking exclusive lock on f, reporting ok=false
// (rather than blocking) if another process already holds it. Used to test
// whether a lock file's original creator is still alive: if the lock can be
// acquired, nothing holds it anymore and the file was abandoned.
func TryFlock(f *os.File) (ok bool, err error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Exists reports whether path exists, collapsing the os.Stat error into a
// bool the way the teacher's socket-candidate probing does ("fast path:
// check if socket file exists").
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
