package transport

import (
	canard "github.com/samsamfire/gocanard"
	"github.com/samsamfire/gocanard/internal/crc"
)

type sessionState uint8

const (
	stateIdle       sessionState = 0
	stateAssembling sessionState = 1
)

// Sentinel meaning no transfer has been seen on this session yet,
// transfer-ids on the wire are 5 bits wide so this value never matches
const noTransferID canard.TransferID = 0xFF

// Per source-node reassembly state within a subscription.
// A session is created on the first start-of-transfer frame from a source
// and lives until the subscription is removed. After a transfer completes
// the session idles but keeps the transfer-id so that duplicates arriving
// within the transfer-id timeout, typically from a redundant interface,
// are rejected.
type rxSession struct {
	state      sessionState
	startUs    uint64 // Timestamp of the accepted start-of-transfer frame
	transferID canard.TransferID
	toggle     bool // Expected toggle of the next frame
	iface      uint8
	checksum   crc.CRC16
	payload    []byte // Allocator owned, nil until the first body byte
	payloadLen int
	totalLen   int // All body bytes seen, including truncated tail and CRC
}

func (s *rxSession) timedOut(timestampUs uint64, timeoutUs uint64) bool {
	return timestampUs > s.startUs && timestampUs-s.startUs > timeoutUs
}

// absorb appends a frame body to the reassembly buffer, bounded by the
// subscription extent. Truncated bytes still feed the running checksum so
// the end-of-transfer check remains valid for conforming transfers.
func (s *rxSession) absorb(inst *Instance, sub *Subscription, body []byte) error {
	s.checksum.Add(body)
	s.totalLen += len(body)
	if len(body) == 0 || s.payloadLen >= sub.extent {
		return nil
	}
	if s.payload == nil && sub.extent > 0 {
		s.payload = inst.alloc.Allocate(sub.extent)
		if s.payload == nil {
			return canard.ErrOutOfMemory
		}
		s.payload = s.payload[:sub.extent]
	}
	s.payloadLen += copy(s.payload[s.payloadLen:], body)
	return nil
}

// deliver hands the reassembled payload off to the application and idles
// the session. The transfer-id and timestamp are kept for deduplication.
func (s *rxSession) deliver(sub *Subscription, frame *frameModel, payloadLen int) *canard.Transfer {
	payload := s.payload
	if payload != nil {
		payload = payload[:payloadLen]
	}
	s.payload = nil
	s.payloadLen = 0
	s.state = stateIdle
	return &canard.Transfer{
		Timestamp:    s.startUs,
		Priority:     frame.priority,
		Kind:         frame.kind,
		PortID:       frame.portID,
		RemoteNodeID: frame.srcNodeID,
		TransferID:   frame.transferID,
		Payload:      payload,
	}
}

// abort drops the transfer in progress. The transfer-id is forgotten so a
// retransmission of the same transfer can start over immediately.
func (s *rxSession) abort() {
	s.state = stateIdle
	s.transferID = noTransferID
	s.payloadLen = 0
}

// restart begins reassembly of a new transfer from its first frame
func (s *rxSession) restart(inst *Instance, sub *Subscription, frame *frameModel, iface uint8) (*canard.Transfer, error) {
	s.state = stateAssembling
	s.startUs = frame.timestamp
	s.transferID = frame.transferID
	s.toggle = false // The frame after start-of-transfer has toggle 0
	s.iface = iface
	s.checksum = crc.New()
	s.payloadLen = 0
	s.totalLen = 0
	if err := s.absorb(inst, sub, frame.payload); err != nil {
		s.abort()
		return nil, err
	}
	if frame.eot {
		// Single-frame transfer, no CRC on the wire
		return s.deliver(sub, frame, s.payloadLen), nil
	}
	return nil, nil
}

// update advances the session state machine with one parsed frame.
// It returns a non nil transfer when the frame completed reassembly.
// Frames that violate the toggle, transfer-id, interface or timeout rules
// are dropped silently, per the transport specification.
func (s *rxSession) update(inst *Instance, sub *Subscription, frame *frameModel, iface uint8) (*canard.Transfer, error) {
	timedOut := s.timedOut(frame.timestamp, sub.timeoutUs)

	if s.state == stateIdle {
		if !frame.sot {
			return nil, nil
		}
		if frame.transferID == s.transferID && !timedOut {
			// Duplicate of the most recent transfer, e.g. the same frames
			// arriving over a redundant interface
			return nil, nil
		}
		return s.restart(inst, sub, frame, iface)
	}

	// Assembling. A live session is advanced only by its own interface,
	// other interfaces may take over once the session timed out.
	if iface != s.iface {
		if timedOut && frame.sot {
			return s.restart(inst, sub, frame, iface)
		}
		return nil, nil
	}
	if frame.sot {
		// A start-of-transfer always begins a new reassembly, whatever was
		// in progress is abandoned
		return s.restart(inst, sub, frame, iface)
	}
	if timedOut || frame.transferID != s.transferID || frame.toggle != s.toggle {
		s.abort()
		return nil, nil
	}

	if err := s.absorb(inst, sub, frame.payload); err != nil {
		s.abort()
		return nil, err
	}
	if !frame.eot {
		s.toggle = !s.toggle
		return nil, nil
	}

	// End of a multi-frame transfer : the transfer CRC was folded into the
	// running checksum together with the payload and must self-annihilate
	if s.checksum != 0 {
		s.abort()
		return nil, nil
	}
	payloadLen := s.totalLen - crcSizeBytes
	if payloadLen > s.payloadLen {
		payloadLen = s.payloadLen
	}
	if payloadLen < 0 {
		payloadLen = 0
	}
	return s.deliver(sub, frame, payloadLen), nil
}
