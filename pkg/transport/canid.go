package transport

import (
	canard "github.com/samsamfire/gocanard"
	"github.com/samsamfire/gocanard/internal/crc"
)

// 29-bit extended identifier layout
const (
	offsetPriority  = 26
	offsetSubjectID = 8
	offsetServiceID = 14
	offsetDstNodeID = 7

	flagServiceNotMessage  = uint32(1) << 25
	flagAnonymousMessage   = uint32(1) << 24
	flagRequestNotResponse = uint32(1) << 24
	flagReserved23         = uint32(1) << 23
	flagReserved07         = uint32(1) << 7
)

func makeMessageSessionSpecifier(subjectID canard.PortID, srcNodeID canard.NodeID) uint32 {
	return uint32(srcNodeID) | uint32(subjectID)<<offsetSubjectID
}

func makeServiceSessionSpecifier(serviceID canard.PortID, request bool, srcNodeID canard.NodeID, dstNodeID canard.NodeID) uint32 {
	specifier := uint32(srcNodeID) |
		uint32(dstNodeID)<<offsetDstNodeID |
		uint32(serviceID)<<offsetServiceID |
		flagServiceNotMessage
	if request {
		specifier |= flagRequestNotResponse
	}
	return specifier
}

// makeCanID builds the extended CAN identifier for a transfer pushed by the
// local node. An anonymous node derives a pseudo source node-id from the
// payload checksum so that identifier collisions between concurrent
// anonymous publishers stay unlikely.
func makeCanID(transfer *canard.Transfer, localNodeID canard.NodeID, presentationLayerMTU int) (uint32, error) {
	var specifier uint32
	switch {
	case transfer.Kind == canard.TransferKindMessage &&
		transfer.RemoteNodeID == canard.NodeIDUnset &&
		transfer.PortID <= canard.SubjectIDMax:
		if localNodeID <= canard.NodeIDMax {
			specifier = makeMessageSessionSpecifier(transfer.PortID, localNodeID)
		} else if len(transfer.Payload) <= presentationLayerMTU {
			c := crc.New()
			c.Add(transfer.Payload)
			pseudoID := canard.NodeID(c) & canard.NodeIDMax
			specifier = makeMessageSessionSpecifier(transfer.PortID, pseudoID) | flagAnonymousMessage
		} else {
			// Anonymous transfers must fit a single frame
			return 0, canard.ErrInvalidArgument
		}
	case (transfer.Kind == canard.TransferKindRequest || transfer.Kind == canard.TransferKindResponse) &&
		transfer.RemoteNodeID <= canard.NodeIDMax &&
		transfer.PortID <= canard.ServiceIDMax:
		if localNodeID > canard.NodeIDMax {
			// Anonymous service transfers are not allowed
			return 0, canard.ErrInvalidArgument
		}
		specifier = makeServiceSessionSpecifier(transfer.PortID,
			transfer.Kind == canard.TransferKindRequest,
			localNodeID,
			transfer.RemoteNodeID)
	default:
		return 0, canard.ErrInvalidArgument
	}
	if transfer.Priority > canard.PriorityMax {
		return 0, canard.ErrInvalidArgument
	}
	return specifier | uint32(transfer.Priority)<<offsetPriority, nil
}

// Parsed view of a received frame
type frameModel struct {
	timestamp  uint64
	priority   canard.Priority
	kind       canard.TransferKind
	portID     canard.PortID
	srcNodeID  canard.NodeID
	dstNodeID  canard.NodeID
	transferID canard.TransferID
	sot        bool
	eot        bool
	toggle     bool
	payload    []byte
}

// parseFrame validates a raw CAN frame against the transport rules.
// It reports false for any frame that is not a valid v1 transport frame,
// such frames are silently ignored by the reception pipeline.
func parseFrame(frame *canard.Frame, out *frameModel) bool {
	if frame.Length == 0 {
		return false
	}
	canID := frame.ID
	out.timestamp = frame.Timestamp
	out.priority = canard.Priority(canID>>offsetPriority) & canard.PriorityMax
	out.srcNodeID = canard.NodeID(canID) & canard.NodeIDMax

	valid := false
	if canID&flagServiceNotMessage == 0 {
		valid = canID&flagReserved23 == 0 && canID&flagReserved07 == 0
		out.kind = canard.TransferKindMessage
		out.portID = canard.PortID(canID>>offsetSubjectID) & canard.SubjectIDMax
		if canID&flagAnonymousMessage != 0 {
			out.srcNodeID = canard.NodeIDUnset
		}
		out.dstNodeID = canard.NodeIDUnset
	} else {
		valid = canID&flagReserved23 == 0
		if canID&flagRequestNotResponse != 0 {
			out.kind = canard.TransferKindRequest
		} else {
			out.kind = canard.TransferKindResponse
		}
		out.portID = canard.PortID(canID>>offsetServiceID) & canard.ServiceIDMax
		out.dstNodeID = canard.NodeID(canID>>offsetDstNodeID) & canard.NodeIDMax
	}

	// The last byte is the tail byte, the rest is the frame body
	out.payload = frame.Data[:frame.Length-1]
	tail := frame.Data[frame.Length-1]
	out.transferID = canard.TransferID(tail) & canard.TransferIDMax
	out.sot = tail&tailStartOfTransfer != 0
	out.eot = tail&tailEndOfTransfer != 0
	out.toggle = tail&tailToggle != 0

	// Protocol version discrimination : the toggle starts at 1
	valid = valid && (!out.sot || out.toggle)
	// Anonymous transfers are always single-frame
	valid = valid && (out.srcNodeID != canard.NodeIDUnset || (out.sot && out.eot))
	return valid
}
