package node

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceoryx2-go/iceoryx2/pkg/config"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/staticstore"
)

func TestServiceIDIsStableAndDistinguishesSettings(t *testing.T) {
	a := ServiceID("svc", "Event", eventTypeDetails(staticstore.EventSettings{MaxNotifiers: 1, MaxListeners: 1, EventIDMaxValue: 7}))
	b := ServiceID("svc", "Event", eventTypeDetails(staticstore.EventSettings{MaxNotifiers: 1, MaxListeners: 1, EventIDMaxValue: 7}))
	c := ServiceID("svc", "Event", eventTypeDetails(staticstore.EventSettings{MaxNotifiers: 2, MaxListeners: 1, EventIDMaxValue: 7}))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestValidateServiceNamePanicsOnViolations(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"too long":       strings.Repeat("a", MaxServiceNameBytes+1),
		"slash":          "foo/bar",
		"backslash":      "foo\\bar",
	}
	for name, svc := range cases {
		svc := svc
		t.Run(name, func(t *testing.T) {
			assert.Panics(t, func() { validateServiceName(svc) })
		})
	}
}

func TestValidateServiceNameAcceptsWellFormedNames(t *testing.T) {
	assert.NotPanics(t, func() { validateServiceName("my-service_v2") })
}

func TestNodeCreateThenListServicesFindsIt(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()

	n, err := New(cfg)
	require.NoError(t, err)
	defer n.Close()

	_, err = n.CreateEventService("discoverable", staticstore.EventSettings{MaxNotifiers: 1, MaxListeners: 1, EventIDMaxValue: 7})
	require.NoError(t, err)

	services, err := n.ListServices()
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "discoverable", services[0].ServiceName)
}

func TestNodeCloseDeregistersPorts(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()

	n, err := New(cfg)
	require.NoError(t, err)

	f, err := n.CreateEventService("svc", staticstore.EventSettings{MaxNotifiers: 1, MaxListeners: 1, EventIDMaxValue: 7})
	require.NoError(t, err)

	_, err = n.NewNotifier(f)
	require.NoError(t, err)

	assert.NoError(t, n.Close())
	// closing twice is a no-op
	assert.NoError(t, n.Close())
}
