// Package reconcile reacts to catalog redefinition events and replays
// the equivalent grant/revoke deltas against every principal currently
// entitled through the changed target.
package reconcile

import "github.com/meridian-platform/capsync/internal/catalog"

// Event is the tagged union of catalog-change notifications. Dispatch
// is an exhaustive switch in Reconciler.Handle; there is no
// reflection-based listener wiring.
type Event interface {
	isEvent()
}

// CapabilityUpdated carries the definition before and after an owning
// module redefined a capability's endpoint list.
type CapabilityUpdated struct {
	Old catalog.Capability `json:"old"`
	New catalog.Capability `json:"new"`
}

// CapabilityDeleted carries the last snapshot of a retired capability.
type CapabilityDeleted struct {
	Target catalog.Capability `json:"target"`
}

// CapabilitySetUpdated carries the membership before and after a
// capability-set redefinition.
type CapabilitySetUpdated struct {
	Old catalog.CapabilitySet `json:"old"`
	New catalog.CapabilitySet `json:"new"`
}

// CapabilitySetDeleted carries the last snapshot of a retired set.
type CapabilitySetDeleted struct {
	Target catalog.CapabilitySet `json:"target"`
}

func (CapabilityUpdated) isEvent()    {}
func (CapabilityDeleted) isEvent()    {}
func (CapabilitySetUpdated) isEvent() {}
func (CapabilitySetDeleted) isEvent() {}
