package transport

import (
	canard "github.com/samsamfire/gocanard"
)

// RxAccept processes one received CAN frame. ifaceIndex identifies the
// interface the frame arrived on when redundant buses feed the same
// instance, pass 0 otherwise.
//
// It returns a non nil transfer when the frame completed one. Ownership of
// the transfer payload passes to the caller. Frames that are not valid
// transport frames, are addressed to another node, belong to a port without
// subscription or violate the reassembly rules are ignored without error.
func (inst *Instance) RxAccept(frame canard.Frame, ifaceIndex uint8) (*canard.Transfer, error) {
	if frame.ID > canard.CanExtendedIdMask || int(frame.Length) > canard.MTUFd {
		return nil, canard.ErrInvalidArgument
	}
	var model frameModel
	if !parseFrame(&frame, &model) {
		return nil, nil
	}
	if model.dstNodeID != canard.NodeIDUnset && model.dstNodeID != inst.nodeID {
		// Mis-addressed frame
		return nil, nil
	}
	sub := inst.findSubscription(model.kind, model.portID)
	if sub == nil {
		return nil, nil
	}

	if model.srcNodeID > canard.NodeIDMax {
		// Anonymous transfers are stateless single-frame transfers,
		// deliver straight from the frame
		n := len(model.payload)
		if n > sub.extent {
			n = sub.extent
		}
		return &canard.Transfer{
			Timestamp:    model.timestamp,
			Priority:     model.priority,
			Kind:         model.kind,
			PortID:       model.portID,
			RemoteNodeID: canard.NodeIDUnset,
			TransferID:   model.transferID,
			Payload:      model.payload[:n],
		}, nil
	}

	session := sub.sessions[model.srcNodeID]
	if session == nil {
		// A session is only worth creating on a start-of-transfer frame,
		// later frames of the transfer could not be reassembled anyway
		if !model.sot {
			return nil, nil
		}
		session = &rxSession{transferID: noTransferID}
		sub.sessions[model.srcNodeID] = session
	}
	return session.update(inst, sub, &model, ifaceIndex)
}
