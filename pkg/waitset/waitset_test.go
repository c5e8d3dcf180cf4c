package waitset

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachNotificationDeliversOnFDReady(t *testing.T) {
	ws, err := New(4)
	require.NoError(t, err)
	defer ws.Close()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	guard, err := ws.AttachNotification(int(rd.Fd()))
	require.NoError(t, err)
	defer guard.Close()

	_, err = wr.Write([]byte{1})
	require.NoError(t, err)

	var seen []AttachmentId
	event, err := ws.Run(func(id AttachmentId) { seen = append(seen, id) })
	require.NoError(t, err)

	assert.Equal(t, EventDelivered, event.Kind)
	require.Len(t, seen, 1)
	assert.Equal(t, Notification, seen[0].Kind)
	assert.True(t, seen[0].OriginatesFrom(guard))
}

func TestRunReturnsTimeoutWhenNothingPending(t *testing.T) {
	ws, err := New(4)
	require.NoError(t, err)
	defer ws.Close()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	guard, err := ws.AttachNotification(int(rd.Fd()))
	require.NoError(t, err)
	defer guard.Close()

	event, err := ws.Run(func(AttachmentId) { t.Fatal("callback should not fire") })
	require.NoError(t, err)
	assert.Equal(t, Timeout, event.Kind)
	assert.Empty(t, event.Attachments)
}

func TestAttachTickFiresAsTickKind(t *testing.T) {
	ws, err := New(4)
	require.NoError(t, err)
	defer ws.Close()

	guard, err := ws.AttachTick(10 * time.Millisecond)
	require.NoError(t, err)
	defer guard.Close()

	time.Sleep(15 * time.Millisecond)

	var seen []AttachmentId
	event, err := ws.Run(func(id AttachmentId) { seen = append(seen, id) })
	require.NoError(t, err)

	assert.Equal(t, EventDelivered, event.Kind)
	require.Len(t, seen, 1)
	assert.Equal(t, Tick, seen[0].Kind)
}

func TestAttachDeadlineFiresWhenFDNeverReady(t *testing.T) {
	ws, err := New(4)
	require.NoError(t, err)
	defer ws.Close()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	guard, err := ws.AttachDeadline(int(rd.Fd()), 10*time.Millisecond)
	require.NoError(t, err)
	defer guard.Close()

	time.Sleep(15 * time.Millisecond)

	var seen []AttachmentId
	event, err := ws.Run(func(id AttachmentId) { seen = append(seen, id) })
	require.NoError(t, err)

	assert.Equal(t, EventDelivered, event.Kind)
	require.Len(t, seen, 1)
	assert.Equal(t, Deadline, seen[0].Kind)
}

func TestAttachDeadlineReportsNotificationWhenFDReadyFirst(t *testing.T) {
	ws, err := New(4)
	require.NoError(t, err)
	defer ws.Close()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	guard, err := ws.AttachDeadline(int(rd.Fd()), time.Second)
	require.NoError(t, err)
	defer guard.Close()

	_, err = wr.Write([]byte{1})
	require.NoError(t, err)

	var seen []AttachmentId
	event, err := ws.Run(func(id AttachmentId) { seen = append(seen, id) })
	require.NoError(t, err)

	assert.Equal(t, EventDelivered, event.Kind)
	require.Len(t, seen, 1)
	assert.Equal(t, Notification, seen[0].Kind, "an fd that becomes ready before its deadline reports as a notification")
}

func TestGuardCloseDetachesNotification(t *testing.T) {
	ws, err := New(4)
	require.NoError(t, err)
	defer ws.Close()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	guard, err := ws.AttachNotification(int(rd.Fd()))
	require.NoError(t, err)
	require.NoError(t, guard.Close())
	// closing twice is a no-op
	require.NoError(t, guard.Close())

	// re-attaching the same fd after detach must succeed
	guard2, err := ws.AttachNotification(int(rd.Fd()))
	require.NoError(t, err)
	defer guard2.Close()
}
