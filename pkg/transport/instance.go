// Package transport implements the UAVCAN/CAN v1 transport layer protocol
// engine : conversion of transfers into priority ordered CAN frames and
// reassembly of received frames into transfers.
//
// The engine performs no I/O and reads no clock. An Instance is not safe
// for concurrent use, calls must be serialized by the application.
package transport

import (
	"log/slog"

	canard "github.com/samsamfire/gocanard"
	"github.com/samsamfire/gocanard/internal/dlc"
)

// An Instance holds the transmission queue and the receive subscriptions
// of one local node on one (possibly redundant) CAN network.
type Instance struct {
	alloc         canard.Allocator
	logger        *slog.Logger
	mtu           int
	nodeID        canard.NodeID
	subscriptions [canard.NumTransferKinds]*Subscription
	txQueue       *txQueueItem
}

// New creates an Instance with the default configuration :
// CAN FD MTU and an unset (anonymous) node-id.
func New(alloc canard.Allocator, logger *slog.Logger) *Instance {
	if logger == nil {
		logger = slog.Default()
	}
	if alloc == nil {
		alloc = canard.NewHeapAllocator()
	}
	return &Instance{
		alloc:  alloc,
		logger: logger.With("service", "[TRANSPORT]"),
		mtu:    canard.MTUFd,
		nodeID: canard.NodeIDUnset,
	}
}

// SetNodeID sets the local node-id, or NodeIDUnset to operate anonymously
func (inst *Instance) SetNodeID(nodeID canard.NodeID) error {
	if nodeID > canard.NodeIDMax && nodeID != canard.NodeIDUnset {
		return canard.ErrInvalidArgument
	}
	inst.nodeID = nodeID
	return nil
}

// NodeID returns the configured local node-id
func (inst *Instance) NodeID() canard.NodeID {
	return inst.nodeID
}

// SetMTU selects between Classic CAN (8) and CAN FD (64) framing
func (inst *Instance) SetMTU(mtu int) error {
	if mtu != canard.MTUClassic && mtu != canard.MTUFd {
		return canard.ErrInvalidArgument
	}
	inst.mtu = mtu
	return nil
}

// MTU returns the configured transport MTU in bytes
func (inst *Instance) MTU() int {
	return inst.mtu
}

// The number of payload bytes available per frame once the tail byte is
// reserved : 7 for Classic CAN, 63 for CAN FD.
func (inst *Instance) presentationLayerMTU() int {
	mtu := inst.mtu
	if mtu < canard.MTUClassic {
		mtu = canard.MTUClassic
	} else if mtu > canard.MTUFd {
		mtu = canard.MTUFd
	}
	return dlc.RoundUp(mtu) - 1
}

// Reset drops all queued frames and removes every subscription, releasing
// all memory held by the instance back to its allocator.
func (inst *Instance) Reset() {
	for inst.txQueue != nil {
		inst.TxPop()
	}
	for kind := canard.TransferKind(0); kind < canard.NumTransferKinds; kind++ {
		for inst.subscriptions[kind] != nil {
			inst.Unsubscribe(kind, inst.subscriptions[kind].portID)
		}
	}
}
