// Package procliveness implements the ABA-safe "is this process still
// alive" check spec §9 requires for stale-slot reaping: a bare pid check
// is racy once the OS recycles pids, so every liveness test also compares
// the process's start time against the one recorded when the slot was
// claimed.
package procliveness

import (
	"os"
	"strconv"
	"strings"

	gops "github.com/mitchellh/go-ps"
)

// IsAlive reports whether pid is still running the same process that
// claimed a registry slot at startTimeTicks (spec §9 "include the
// creation timestamp in the slot's owner record and require the pid *and*
// timestamp to match the live process").
func IsAlive(pid int32, startTimeTicks uint64) bool {
	if pid <= 0 {
		return false
	}
	proc, err := gops.FindProcess(int(pid))
	if err != nil || proc == nil {
		return false
	}
	current, ok := startTime(pid)
	if !ok {
		// Can't read /proc (non-Linux, or it raced away between FindProcess
		// and here); fall back to the pid-only check rather than reaping a
		// live peer on a platform we can't fully verify.
		return true
	}
	return current == startTimeTicks
}

// CurrentStartTimeTicks returns this process's own start-time tag, stored
// in a slot's owner record when it claims a port.
func CurrentStartTimeTicks() uint64 {
	t, ok := startTime(int32(os.Getpid()))
	if !ok {
		return 0
	}
	return t
}

// startTime reads the kernel's process-start-time field (field 22 of
// /proc/<pid>/stat, in clock ticks since boot) as a stable identity tag
// that a pid-reuse can never reproduce for an unrelated process.
func startTime(pid int32) (uint64, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(int(pid)) + "/stat")
	if err != nil {
		return 0, false
	}
	// Fields after the parenthesized comm name are space-separated; comm
	// itself may contain spaces/parens, so split on the last ')'.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data[idx+1:]))
	// field 22 overall == fields[22-3] after the first two (pid, comm).
	const startTimeField = 22 - 2 - 1
	if len(fields) <= startTimeField {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[startTimeField], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
