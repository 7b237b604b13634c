package canard

// Transfer priority, 0 is highest and maps to the smallest CAN-ID
type Priority uint8

const (
	PriorityExceptional Priority = 0
	PriorityImmediate   Priority = 1
	PriorityFast        Priority = 2
	PriorityHigh        Priority = 3
	PriorityNominal     Priority = 4
	PriorityLow         Priority = 5
	PrioritySlow        Priority = 6
	PriorityOptional    Priority = 7

	PriorityMax Priority = 7
)

// Node-id is 7 bits wide. NodeIDUnset marks an anonymous local node or a
// broadcast destination.
type NodeID uint8

const (
	NodeIDMax   NodeID = 127
	NodeIDUnset NodeID = 128
)

// Port-id identifies a subject (13 bits) or a service (9 bits)
type PortID uint16

const (
	SubjectIDMax PortID = 8191
	ServiceIDMax PortID = 511
)

// Transfer-id is a modulo 32 counter per session
type TransferID uint8

const TransferIDMax TransferID = 31

// The three kinds of transfers defined by the transport
type TransferKind uint8

const (
	TransferKindMessage  TransferKind = 0 // Broadcast, from publisher to all subscribers
	TransferKindResponse TransferKind = 1 // Point to point, from server to client
	TransferKindRequest  TransferKind = 2 // Point to point, from client to server

	NumTransferKinds = 3
)

func (kind TransferKind) String() string {
	switch kind {
	case TransferKindMessage:
		return "message"
	case TransferKindResponse:
		return "response"
	case TransferKindRequest:
		return "request"
	}
	return "unknown"
}

// A Transfer is the unit exchanged with the application, on transmission
// as well as on reception. It may span several CAN frames.
//
// On transmission Timestamp is the deadline in microseconds after which the
// frames of this transfer are no longer useful; the library does not drop
// them itself, the caller inspects the deadline when draining the queue.
// On reception Timestamp is the timestamp of the first frame of the
// transfer as provided by the driver.
type Transfer struct {
	Timestamp    uint64
	Priority     Priority
	Kind         TransferKind
	PortID       PortID
	RemoteNodeID NodeID // Source on reception, destination on transmission, NodeIDUnset for broadcast
	TransferID   TransferID
	Payload      []byte
}
