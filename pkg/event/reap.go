package event

import (
	"fmt"

	"github.com/iceoryx2-go/iceoryx2/internal/pathutil"
	"github.com/iceoryx2-go/iceoryx2/internal/procliveness"
	"github.com/iceoryx2-go/iceoryx2/pkg/registry"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/dynstore"
)

// reapDeadListeners reclaims every listener slot whose owning process is no
// longer alive (spec §4.3 "any participant scanning the registry may test a
// live slot's owner-pid", §8 scenario 4: a peer that outlives a crashed
// listener observes 0 live listeners and reclaims its slot). Slots whose
// owner is still alive are left untouched.
func reapDeadListeners(dyn *dynstore.Segment, layout pathutil.Layout) {
	reg := dyn.ListenerRegistry
	for i := uint32(0); i < reg.Capacity(); i++ {
		reg.Reap(i, procliveness.IsAlive, func(slot registry.Slot) {
			unlinkSemaphore(layout.SemaphorePath(fmt.Sprintf("%x", slot.UniqueID())))
		})
	}
}

// reapDeadNotifiers reclaims every notifier slot whose owning process is no
// longer alive. Notifiers own no out-of-band resource, so cleanup is a
// no-op beyond the registry's own slot reset.
func reapDeadNotifiers(dyn *dynstore.Segment) {
	reg := dyn.NotifierRegistry
	for i := uint32(0); i < reg.Capacity(); i++ {
		reg.Reap(i, procliveness.IsAlive, nil)
	}
}
