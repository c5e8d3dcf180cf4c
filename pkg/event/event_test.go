package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/dynstore"
)

func newTestSegment(t *testing.T) (*dynstore.Segment, pathutil.Layout) {
	t.Helper()
	layout, err := pathutil.NewLayout(t.TempDir())
	require.NoError(t, err)

	seg, err := dynstore.Create(layout, "svc", 2, 2, 15)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })

	return seg, layout
}

func TestNotifyThenTryWaitOneDeliversEventOnce(t *testing.T) {
	seg, layout := newTestSegment(t)

	listener, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer listener.Close()

	notifier, err := NewNotifier(seg, layout)
	require.NoError(t, err)
	defer notifier.Close()

	reached, err := notifier.Notify(7)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)

	id, ok := listener.TryWaitOne()
	assert.True(t, ok)
	assert.Equal(t, EventId(7), id)

	_, ok = listener.TryWaitOne()
	assert.False(t, ok, "second try_wait_one finds nothing pending")
}

func TestNotifyBurstCoalescesToOneEvent(t *testing.T) {
	seg, layout := newTestSegment(t)

	listener, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer listener.Close()

	notifier, err := NewNotifier(seg, layout)
	require.NoError(t, err)
	defer notifier.Close()

	for i := 0; i < 1000; i++ {
		_, err := notifier.Notify(3)
		require.NoError(t, err)
	}

	var drained []EventId
	listener.TryWaitAll(func(id EventId) { drained = append(drained, id) })

	assert.Equal(t, []EventId{3}, drained)
}

func TestNotifyOutOfBoundsEventIDFails(t *testing.T) {
	seg, layout := newTestSegment(t)

	notifier, err := NewNotifier(seg, layout)
	require.NoError(t, err)
	defer notifier.Close()

	_, err = notifier.Notify(seg.EventIDMaxValue + 1)
	assert.True(t, ipcerrors.Of(err, ipcerrors.EventIdOutOfBounds))
}

func TestEveryListenerOfAServiceHasDistinctID(t *testing.T) {
	seg, layout := newTestSegment(t)

	l1, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer l1.Close()

	l2, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer l2.Close()

	assert.NotEqual(t, l1.ID(), l2.ID())
}

func TestListenerExceedsCapacityFails(t *testing.T) {
	seg, layout := newTestSegment(t)

	l1, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer l1.Close()
	l2, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer l2.Close()

	_, err = NewListener(seg, layout)
	assert.True(t, ipcerrors.Of(err, ipcerrors.ExceedsMaxSupportedListeners))
}

func TestNewListenerReapsDeadOwnersBeforeFailing(t *testing.T) {
	seg, layout := newTestSegment(t)

	const deadPid = 1 << 30 // practically never a real pid in any test environment
	_, ok := seg.ListenerRegistry.Claim(deadPid, 0, 0xdead1, nil)
	require.True(t, ok)
	_, ok = seg.ListenerRegistry.Claim(deadPid, 0, 0xdead2, nil)
	require.True(t, ok)

	listener, err := NewListener(seg, layout)
	require.NoError(t, err, "a registry full of dead owners is reaped before NewListener gives up")
	defer listener.Close()
}

func TestNotifyReapsDeadListenersBeforeEnumerating(t *testing.T) {
	seg, layout := newTestSegment(t)

	const deadPid = 1 << 30
	_, ok := seg.ListenerRegistry.Claim(deadPid, 0, 0xdead3, nil)
	require.True(t, ok)

	notifier, err := NewNotifier(seg, layout)
	require.NoError(t, err)
	defer notifier.Close()

	reached, err := notifier.Notify(2)
	require.NoError(t, err)
	assert.Equal(t, 0, reached, "the dead listener's slot is reaped, not counted as reached")
}

func TestTimedWaitOneTimesOutWithNoNotification(t *testing.T) {
	seg, layout := newTestSegment(t)

	listener, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer listener.Close()

	start := time.Now()
	_, ok, err := listener.TimedWaitOne(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestFileDescriptorBecomesReadableAfterNotify(t *testing.T) {
	seg, layout := newTestSegment(t)

	listener, err := NewListener(seg, layout)
	require.NoError(t, err)
	defer listener.Close()
	notifier, err := NewNotifier(seg, layout)
	require.NoError(t, err)
	defer notifier.Close()

	fd := listener.FileDescriptor()
	assert.Greater(t, fd, 0)

	_, err = notifier.Notify(1)
	require.NoError(t, err)

	ready, err := listener.sem.waitReadable(time.Second)
	require.NoError(t, err)
	assert.True(t, ready, "the listener's fd is readable once a notification is pending")

	id, ok, err := listener.TimedWaitOne(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, EventId(1), id)
}
