package staticstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
)

func newTestLayout(t *testing.T) pathutil.Layout {
	t.Helper()
	layout, err := pathutil.NewLayout(t.TempDir())
	require.NoError(t, err)
	return layout
}

func TestSampleReportsAbsentThenBeingCreatedThenAvailable(t *testing.T) {
	layout := newTestLayout(t)

	assert.Equal(t, Absent, Sample(layout, "svc1"))

	lock, err := BeginCreate(layout, "svc1")
	require.NoError(t, err)
	assert.Equal(t, BeingCreated, Sample(layout, "svc1"))

	cfg := StaticConfig{ServiceID: "svc1", ServiceName: "my-service", Pattern: "Event"}
	require.NoError(t, Seal(layout, "svc1", lock, cfg))

	assert.Equal(t, Available, Sample(layout, "svc1"))
}

func TestSealThenReadRoundTrips(t *testing.T) {
	layout := newTestLayout(t)

	lock, err := BeginCreate(layout, "svc2")
	require.NoError(t, err)

	want := StaticConfig{
		ServiceID:   "svc2",
		ServiceName: "events",
		Pattern:     "Event",
		Event: EventSettings{
			MaxNotifiers:    4,
			MaxListeners:    8,
			EventIDMaxValue: 255,
		},
		CreatorPID: 4242,
	}
	require.NoError(t, Seal(layout, "svc2", lock, want))

	got, err := Read(layout, "svc2")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBeginCreateConflictsWithExistingLock(t *testing.T) {
	layout := newTestLayout(t)

	_, err := BeginCreate(layout, "svc3")
	require.NoError(t, err)

	_, err = BeginCreate(layout, "svc3")
	assert.Error(t, err)
}

func TestReadOnMissingArtifactReportsDoesNotExist(t *testing.T) {
	layout := newTestLayout(t)

	_, err := Read(layout, "nonexistent")
	assert.True(t, ipcerrors.Of(err, ipcerrors.DoesNotExist))
}

func TestAbortRemovesLockWithoutSealing(t *testing.T) {
	layout := newTestLayout(t)

	lock, err := BeginCreate(layout, "svc4")
	require.NoError(t, err)
	require.NoError(t, Abort(layout, "svc4", lock))

	assert.Equal(t, Absent, Sample(layout, "svc4"))
}

func TestBeginCreateReclaimsAnAbandonedLock(t *testing.T) {
	layout := newTestLayout(t)

	lock, err := BeginCreate(layout, "svc6")
	require.NoError(t, err)
	require.NoError(t, lock.Close()) // crash simulation: no Seal, no Abort, flock drops

	assert.Equal(t, BeingCreated, Sample(layout, "svc6"))

	lock2, err := BeginCreate(layout, "svc6")
	require.NoError(t, err, "a lock abandoned by a dead creator must be reclaimable")
	require.NoError(t, Seal(layout, "svc6", lock2, StaticConfig{ServiceID: "svc6", Pattern: "Event"}))

	assert.Equal(t, Available, Sample(layout, "svc6"))
}

func TestBeginCreateStillConflictsWithALiveCreator(t *testing.T) {
	layout := newTestLayout(t)

	lock, err := BeginCreate(layout, "svc7")
	require.NoError(t, err)
	defer lock.Close()

	_, err = BeginCreate(layout, "svc7")
	assert.Error(t, err, "a lock held by a still-open creator must not be reclaimed")
}

func TestDestroyRemovesSealedArtifact(t *testing.T) {
	layout := newTestLayout(t)

	lock, err := BeginCreate(layout, "svc5")
	require.NoError(t, err)
	require.NoError(t, Seal(layout, "svc5", lock, StaticConfig{ServiceID: "svc5", Pattern: "Event"}))
	require.Equal(t, Available, Sample(layout, "svc5"))

	require.NoError(t, Destroy(layout, "svc5"))
	assert.Equal(t, Absent, Sample(layout, "svc5"))
}
