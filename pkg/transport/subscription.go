package transport

import (
	canard "github.com/samsamfire/gocanard"
)

const sessionsPerSubscription = int(canard.NodeIDMax) + 1

// A Subscription declares interest in transfers of one kind on one port.
// The storage is supplied by the caller and must not be mutated while it is
// linked into an Instance. Reassembly sessions are created lazily, one per
// remote source node.
type Subscription struct {
	next      *Subscription
	portID    canard.PortID
	extent    int
	timeoutUs uint64
	sessions  [sessionsPerSubscription]*rxSession
}

// PortID returns the subscribed port
func (sub *Subscription) PortID() canard.PortID {
	return sub.portID
}

func (inst *Instance) findSubscription(kind canard.TransferKind, portID canard.PortID) *Subscription {
	sub := inst.subscriptions[kind]
	for sub != nil && sub.portID != portID {
		sub = sub.next
	}
	return sub
}

// Subscribe links sub into the instance for the given transfer kind and
// port. An existing subscription on the same kind and port is replaced, its
// sessions are destroyed first because the new extent may differ from the
// old one. Returns true if the subscription is new, false if it replaced
// an existing one.
func (inst *Instance) Subscribe(kind canard.TransferKind, portID canard.PortID, extent int, timeoutUs uint64, sub *Subscription) (bool, error) {
	if sub == nil || kind >= canard.NumTransferKinds || extent < 0 {
		return false, canard.ErrInvalidArgument
	}
	replaced := inst.Unsubscribe(kind, portID)
	*sub = Subscription{
		portID:    portID,
		extent:    extent,
		timeoutUs: timeoutUs,
		next:      inst.subscriptions[kind],
	}
	inst.subscriptions[kind] = sub
	inst.logger.Debug("subscribed", "kind", kind, "port", portID, "extent", extent)
	return !replaced, nil
}

// Unsubscribe removes the subscription for the given kind and port and
// releases every reassembly session it holds. Returns false if no such
// subscription exists.
func (inst *Instance) Unsubscribe(kind canard.TransferKind, portID canard.PortID) bool {
	if kind >= canard.NumTransferKinds {
		return false
	}
	var prev *Subscription
	sub := inst.subscriptions[kind]
	for sub != nil && sub.portID != portID {
		prev = sub
		sub = sub.next
	}
	if sub == nil {
		return false
	}
	if prev != nil {
		prev.next = sub.next
	} else {
		inst.subscriptions[kind] = sub.next
	}
	sub.next = nil
	for i := range sub.sessions {
		if sub.sessions[i] != nil {
			if sub.sessions[i].payload != nil {
				inst.alloc.Free(sub.sessions[i].payload)
			}
			sub.sessions[i] = nil
		}
	}
	inst.logger.Debug("unsubscribed", "kind", kind, "port", portID)
	return true
}
