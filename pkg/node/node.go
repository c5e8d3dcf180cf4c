// Package node implements the process-local handle of spec §3: a Node
// owns a configuration and a table of the services it currently
// participates in, and deregisters every port it holds when closed.
package node

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/sasha-s/go-deadlock"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/pkg/config"
	"github.com/iceoryx2-go/iceoryx2/pkg/event"
	"github.com/iceoryx2-go/iceoryx2/pkg/service"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/staticstore"
)

// MaxServiceNameBytes bounds a ServiceName per spec §3.
const MaxServiceNameBytes = 255

// validateServiceName enforces spec §3's ServiceName invariant: bounded
// UTF-8, non-empty, ≤255 bytes, no path separators. A violation is a
// caller programming error, not an I/O condition, so per spec §7
// ("panics are reserved for invariant violations... never for I/O") it
// panics rather than returning a typed error.
func validateServiceName(name string) {
	if name == "" {
		panic("node: service name must not be empty")
	}
	if len(name) > MaxServiceNameBytes {
		panic("node: service name exceeds " + strconv.Itoa(MaxServiceNameBytes) + " bytes")
	}
	if strings.ContainsAny(name, "/\\") {
		panic("node: service name must not contain path separators")
	}
	if !utf8.ValidString(name) {
		panic("node: service name must be valid UTF-8")
	}
}

// ServiceID computes the stable hash of spec §3's ServiceId: FNV-1a over
// the service name, messaging pattern discriminator, and a type-details
// string (the pattern's settings that must match for two participants to
// agree they're joining the same service), rendered as lowercase hex so
// it doubles as a filesystem-safe path component (spec §6).
//
// FNV-1a is used rather than a cryptographic hash: ServiceId only needs
// to be a stable, fast, well-distributed filename, with no adversarial
// input to defend against, and no library in the pack offers a
// non-cryptographic hash more idiomatic for this than stdlib hash/fnv.
func ServiceID(serviceName, pattern, typeDetails string) string {
	h := fnv.New64a()
	h.Write([]byte(serviceName))
	h.Write([]byte{0})
	h.Write([]byte(pattern))
	h.Write([]byte{0})
	h.Write([]byte(typeDetails))
	return strconv.FormatUint(h.Sum64(), 16)
}

// eventTypeDetails renders the Event pattern's capacity settings into the
// ServiceId's type-details component, so two Open calls with incompatible
// capacities never collide on the same hash by accident.
func eventTypeDetails(settings staticstore.EventSettings) string {
	return strconv.FormatUint(uint64(settings.MaxNotifiers), 10) + "," +
		strconv.FormatUint(uint64(settings.MaxListeners), 10) + "," +
		strconv.FormatUint(settings.EventIDMaxValue, 10)
}

// closer is satisfied by both *event.Notifier and *event.Listener.
type closer interface {
	Close() error
}

// Node is the process-local handle of spec §3.
type Node struct {
	cfg    config.Global
	layout pathutil.Layout

	mu           deadlock.Mutex
	participants map[string]*service.Factory // keyed by ServiceId hex
	ports        []closer
	closed       bool
}

// New creates a Node over the given configuration, ensuring its
// filesystem layout exists.
func New(cfg config.Global) (*Node, error) {
	layout, err := pathutil.NewLayout(cfg.Root)
	if err != nil {
		return nil, err
	}
	return &Node{
		cfg:          cfg,
		layout:       layout,
		participants: make(map[string]*service.Factory),
	}, nil
}

// Config returns this node's effective configuration.
func (n *Node) Config() config.Global { return n.cfg }

func (n *Node) requested(settings staticstore.EventSettings) staticstore.EventSettings {
	if settings.MaxNotifiers == 0 {
		settings.MaxNotifiers = n.cfg.Event.MaxNotifiers
	}
	if settings.MaxListeners == 0 {
		settings.MaxListeners = n.cfg.Event.MaxListeners
	}
	if settings.EventIDMaxValue == 0 {
		settings.EventIDMaxValue = n.cfg.Event.EventIDMaxValue
	}
	return settings
}

// OpenEventService implements spec §4.1 `open` for the Event pattern,
// using this node's configured creation timeout.
func (n *Node) OpenEventService(serviceName string, settings staticstore.EventSettings) (*service.Factory, error) {
	validateServiceName(serviceName)
	req := n.requested(settings)
	id := ServiceID(serviceName, "Event", eventTypeDetails(req))
	f, err := service.Open(n.layout, id, serviceName, req, n.creationTimeout())
	if err != nil {
		return nil, err
	}
	n.track(id, f)
	return f, nil
}

// CreateEventService implements spec §4.1 `create` for the Event pattern.
func (n *Node) CreateEventService(serviceName string, settings staticstore.EventSettings) (*service.Factory, error) {
	validateServiceName(serviceName)
	req := n.requested(settings)
	id := ServiceID(serviceName, "Event", eventTypeDetails(req))
	f, err := service.Create(n.layout, id, serviceName, req)
	if err != nil {
		return nil, err
	}
	n.track(id, f)
	return f, nil
}

// OpenOrCreateEventService implements spec §4.1 `open_or_create` for the
// Event pattern.
func (n *Node) OpenOrCreateEventService(serviceName string, settings staticstore.EventSettings) (*service.Factory, error) {
	validateServiceName(serviceName)
	req := n.requested(settings)
	id := ServiceID(serviceName, "Event", eventTypeDetails(req))
	f, err := service.OpenOrCreate(n.layout, id, serviceName, req, n.creationTimeout())
	if err != nil {
		return nil, err
	}
	n.track(id, f)
	return f, nil
}

func (n *Node) creationTimeout() time.Duration {
	return time.Duration(n.cfg.CreationTimeoutMillis) * time.Millisecond
}

func (n *Node) track(id string, f *service.Factory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.participants[id] = f
}

// NewNotifier builds a Notifier participating in f's service and tracks
// it for deregistration on Node.Close.
func (n *Node) NewNotifier(f *service.Factory) (*event.Notifier, error) {
	notifier, err := f.NewNotifier()
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.ports = append(n.ports, notifier)
	n.mu.Unlock()
	return notifier, nil
}

// NewListener builds a Listener participating in f's service and tracks
// it for deregistration on Node.Close.
func (n *Node) NewListener(f *service.Factory) (*event.Listener, error) {
	listener, err := f.NewListener()
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.ports = append(n.ports, listener)
	n.mu.Unlock()
	return listener, nil
}

// Close deregisters every port this Node holds and releases its service
// participations, aggregating any errors encountered (spec §3 "dropped at
// exit, which triggers deregistration of all its ports").
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	var result *multierror.Error
	for _, p := range n.ports {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, f := range n.participants {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ListServices implements the discovery-iteration half of spec §6's CLI
// surface: it scans the node's configured root for sealed static
// artifacts and reports each one's StaticConfig. Artifacts still
// `.lock`ed (mid-creation) or unreadable by this user are skipped rather
// than surfaced as errors, matching the CLI's "iterate services visible
// to the calling user" contract.
func (n *Node) ListServices() ([]staticstore.StaticConfig, error) {
	entries, err := os.ReadDir(filepath.Join(n.layout.Root, "services"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	hexIDs := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".static") {
			return "", false
		}
		return strings.TrimSuffix(name, ".static"), true
	})

	configs := make([]staticstore.StaticConfig, 0, len(hexIDs))
	for _, id := range hexIDs {
		cfg, err := staticstore.Read(n.layout, id)
		if err != nil {
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
