// Package service implements the service state machine of spec §4.1: the
// distributed Open/Create/OpenOrCreate protocol by which any process can
// join a named Event service described by a StaticConfig, even while
// other processes race the same operation.
package service

import (
	"os"
	"time"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/pkg/event"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipcerrors"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/dynstore"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/staticstore"
)

const (
	initialBackoff = time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// Factory is the result of a successful Open/Create/OpenOrCreate: a
// live handle over a service's static and dynamic configuration, ready
// to construct ports (spec §4.1 "produce a port factory").
type Factory struct {
	ServiceIDHex string
	Static       staticstore.StaticConfig
	Dyn          *dynstore.Segment
	Layout       pathutil.Layout
}

// NewNotifier constructs a Notifier port participating in this service.
func (f *Factory) NewNotifier() (*event.Notifier, error) {
	return event.NewNotifier(f.Dyn, f.Layout)
}

// NewListener constructs a Listener port participating in this service.
func (f *Factory) NewListener() (*event.Listener, error) {
	return event.NewListener(f.Dyn, f.Layout)
}

// Close drops this handle's reference to the dynamic configuration,
// unmapping and unlinking it if this was the last one (spec §4.2).
func (f *Factory) Close() error {
	return f.Dyn.Close()
}

// Open implements spec §4.1 `open`: re-sample the static artifact's state
// with an adaptive-backoff wait, up to creationTimeout, and attach to an
// existing service whose capacities are at least as large as requested.
func Open(layout pathutil.Layout, serviceIDHex, serviceName string, requested staticstore.EventSettings, creationTimeout time.Duration) (*Factory, error) {
	deadline := time.Now().Add(creationTimeout)
	backoff := initialBackoff

	for {
		state := staticstore.Sample(layout, serviceIDHex)

		switch state {
		case staticstore.Available:
			return openAvailable(layout, serviceIDHex, requested)

		case staticstore.Absent:
			return nil, ipcerrors.New(ipcerrors.DoesNotExist, "Service.Open", serviceName, nil)

		case staticstore.Corrupted:
			return nil, ipcerrors.New(ipcerrors.EventInCorruptedState, "Service.Open", serviceName, nil)

		case staticstore.PermissionDenied:
			return nil, ipcerrors.New(ipcerrors.PermissionDenied, "Service.Open", serviceName, nil)

		case staticstore.BeingCreated:
			if !time.Now().Before(deadline) {
				return nil, ipcerrors.New(ipcerrors.HangsInCreation, "Service.Open", serviceName, nil)
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
	}
}

func openAvailable(layout pathutil.Layout, serviceIDHex string, requested staticstore.EventSettings) (*Factory, error) {
	cfg, err := staticstore.Read(layout, serviceIDHex)
	if err != nil {
		return nil, err
	}
	if cfg.Pattern != "Event" {
		return nil, ipcerrors.New(ipcerrors.IncompatibleMessagingPattern, "Service.Open", cfg.ServiceName, nil)
	}
	if requested.MaxNotifiers > cfg.Event.MaxNotifiers {
		return nil, ipcerrors.New(ipcerrors.DoesNotSupportRequestedAmountOfNotifiers, "Service.Open", cfg.ServiceName, nil)
	}
	if requested.MaxListeners > cfg.Event.MaxListeners {
		return nil, ipcerrors.New(ipcerrors.DoesNotSupportRequestedAmountOfListeners, "Service.Open", cfg.ServiceName, nil)
	}
	if requested.EventIDMaxValue > cfg.Event.EventIDMaxValue {
		return nil, ipcerrors.New(ipcerrors.DoesNotSupportRequestedMaxEventId, "Service.Open", cfg.ServiceName, nil)
	}

	dyn, err := dynstore.Open(layout, serviceIDHex)
	if err != nil {
		return nil, err
	}
	return &Factory{ServiceIDHex: serviceIDHex, Static: cfg, Dyn: dyn, Layout: layout}, nil
}

// Create implements spec §4.1 `create`: exclusively create the static
// artifact, allocate its dynamic configuration, then seal — the moment
// the service becomes visible to every other process.
func Create(layout pathutil.Layout, serviceIDHex, serviceName string, requested staticstore.EventSettings) (*Factory, error) {
	settings := requested
	if settings.MaxNotifiers == 0 {
		settings.MaxNotifiers = 1
	}
	if settings.MaxListeners == 0 {
		settings.MaxListeners = 1
	}

	lockFile, err := staticstore.BeginCreate(layout, serviceIDHex)
	if err != nil {
		if os.IsExist(err) {
			if staticstore.Sample(layout, serviceIDHex) == staticstore.Available {
				return nil, ipcerrors.New(ipcerrors.AlreadyExists, "Service.Create", serviceName, nil)
			}
			return nil, ipcerrors.New(ipcerrors.IsBeingCreatedByAnotherInstance, "Service.Create", serviceName, nil)
		}
		return nil, ipcerrors.New(ipcerrors.UnableToCreateStaticServiceInformation, "Service.Create", serviceName, err)
	}
	// Seal removes the lock file, so a free lock path does not mean the
	// service is absent: a sealed artifact may already exist.
	if pathutil.Exists(layout.StaticPath(serviceIDHex)) {
		staticstore.Abort(layout, serviceIDHex, lockFile)
		return nil, ipcerrors.New(ipcerrors.AlreadyExists, "Service.Create", serviceName, nil)
	}

	dyn, err := dynstore.Create(layout, serviceIDHex, settings.MaxNotifiers, settings.MaxListeners, settings.EventIDMaxValue)
	if err != nil {
		staticstore.Abort(layout, serviceIDHex, lockFile)
		if os.IsExist(err) {
			return nil, ipcerrors.New(ipcerrors.OldConnectionsStillActive, "Service.Create", serviceName, nil)
		}
		return nil, err
	}

	cfg := staticstore.StaticConfig{
		ServiceID:         serviceIDHex,
		ServiceName:       serviceName,
		Pattern:           "Event",
		Event:             settings,
		CreatorPID:        int32(os.Getpid()),
		CreatedAtUnixNano: time.Now().UnixNano(),
	}

	if err := staticstore.Seal(layout, serviceIDHex, lockFile, cfg); err != nil {
		dyn.Close()
		return nil, err
	}

	return &Factory{ServiceIDHex: serviceIDHex, Static: cfg, Dyn: dyn, Layout: layout}, nil
}

// OpenOrCreate implements spec §4.1 `open_or_create`: dispatch to Open on
// Available/BeingCreated, to Create on Absent, falling back to Open if
// Create loses the creation race. This is the only entry point that
// tolerates racing creators.
func OpenOrCreate(layout pathutil.Layout, serviceIDHex, serviceName string, requested staticstore.EventSettings, creationTimeout time.Duration) (*Factory, error) {
	switch staticstore.Sample(layout, serviceIDHex) {
	case staticstore.Available, staticstore.BeingCreated:
		return Open(layout, serviceIDHex, serviceName, requested, creationTimeout)

	case staticstore.Corrupted:
		return nil, ipcerrors.New(ipcerrors.EventInCorruptedState, "Service.OpenOrCreate", serviceName, nil)

	case staticstore.PermissionDenied:
		return nil, ipcerrors.New(ipcerrors.PermissionDenied, "Service.OpenOrCreate", serviceName, nil)
	}

	f, err := Create(layout, serviceIDHex, serviceName, requested)
	if err == nil {
		return f, nil
	}
	if ipcerrors.Of(err, ipcerrors.AlreadyExists) || ipcerrors.Of(err, ipcerrors.IsBeingCreatedByAnotherInstance) {
		return Open(layout, serviceIDHex, serviceName, requested, creationTimeout)
	}
	return nil, err
}
