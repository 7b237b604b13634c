package transport

import (
	canard "github.com/samsamfire/gocanard"
	"github.com/samsamfire/gocanard/internal/crc"
	"github.com/samsamfire/gocanard/internal/dlc"
)

// Tail byte layout, the last byte of every frame
const (
	tailStartOfTransfer = 0x80
	tailEndOfTransfer   = 0x40
	tailToggle          = 0x20
)

const paddingByte = 0x00
const crcSizeBytes = 2

// A queued outgoing frame. The queue is a singly linked list sorted by
// ascending CAN-ID with FIFO ordering among equal identifiers, which makes
// the software transmission order match the bus arbitration order.
type txQueueItem struct {
	next       *txQueueItem
	deadlineUs uint64
	id         uint32
	payload    []byte
}

func makeTailByte(sot bool, eot bool, toggle bool, transferID canard.TransferID) byte {
	tail := byte(transferID & canard.TransferIDMax)
	if sot {
		tail |= tailStartOfTransfer
	}
	if eot {
		tail |= tailEndOfTransfer
	}
	if toggle {
		tail |= tailToggle
	}
	return tail
}

func (inst *Instance) allocateTxItem(id uint32, deadlineUs uint64, payloadSize int) *txQueueItem {
	payload := inst.alloc.Allocate(payloadSize)
	if payload == nil {
		return nil
	}
	return &txQueueItem{deadlineUs: deadlineUs, id: id, payload: payload[:payloadSize]}
}

// findTxQueueSupremum returns the last queued item whose CAN-ID is <= id,
// or nil if the new frames belong at the head of the queue. Inserting after
// the returned item keeps the queue sorted with stable ties.
func (inst *Instance) findTxQueueSupremum(id uint32) *txQueueItem {
	item := inst.txQueue
	if item == nil || item.id > id {
		return nil
	}
	for item.next != nil && item.next.id <= id {
		item = item.next
	}
	return item
}

// spliceTxQueue inserts the chain head..tail at its priority position
func (inst *Instance) spliceTxQueue(head *txQueueItem, tail *txQueueItem) {
	sup := inst.findTxQueueSupremum(head.id)
	if sup == nil {
		tail.next = inst.txQueue
		inst.txQueue = head
	} else {
		tail.next = sup.next
		sup.next = head
	}
}

func (inst *Instance) pushSingleFrameTransfer(deadlineUs uint64, canID uint32, transferID canard.TransferID, payload []byte) (int, error) {
	frameSize := dlc.RoundUp(len(payload) + 1)
	item := inst.allocateTxItem(canID, deadlineUs, frameSize)
	if item == nil {
		return 0, canard.ErrOutOfMemory
	}
	n := copy(item.payload, payload)
	for i := n; i < frameSize-1; i++ {
		item.payload[i] = paddingByte
	}
	item.payload[frameSize-1] = makeTailByte(true, true, true, transferID)
	inst.spliceTxQueue(item, item)
	return 1, nil
}

func (inst *Instance) pushMultiFrameTransfer(presentationLayerMTU int, deadlineUs uint64, canID uint32, transferID canard.TransferID, payload []byte) (int, error) {
	var head, tail *txQueueItem
	count := 0

	// The payload checksum is seeded up front, padding of the last frame is
	// folded in as it is emitted
	checksum := crc.New()
	checksum.Add(payload)

	sizeWithCRC := len(payload) + crcSizeBytes
	offset := 0
	sot := true
	toggle := true

	for offset < sizeWithCRC {
		count++
		var frameSize int
		if sizeWithCRC-offset < presentationLayerMTU {
			// Last frame, pad up to the next valid length
			frameSize = dlc.RoundUp(sizeWithCRC - offset + 1)
		} else {
			frameSize = presentationLayerMTU + 1
		}
		item := inst.allocateTxItem(canID, deadlineUs, frameSize)
		if item == nil {
			// Allocation failed mid-transfer : free what was built and
			// leave the queue untouched, partial transfers never go out
			for head != nil {
				next := head.next
				inst.alloc.Free(head.payload)
				head = next
			}
			return 0, canard.ErrOutOfMemory
		}
		if head == nil {
			head = item
		} else {
			tail.next = item
		}
		tail = item

		frameOffset := 0
		if offset < len(payload) {
			moveSize := len(payload) - offset
			if moveSize > frameSize-1 {
				moveSize = frameSize - 1
			}
			copy(item.payload[:moveSize], payload[offset:offset+moveSize])
			frameOffset += moveSize
			offset += moveSize
		}

		// The closing frames also carry padding and the transfer CRC,
		// which may straddle the last two frames
		if offset >= len(payload) {
			for frameOffset+crcSizeBytes < frameSize-1 {
				item.payload[frameOffset] = paddingByte
				frameOffset++
				checksum.Single(paddingByte)
			}
			if frameOffset < frameSize-1 && offset == len(payload) {
				item.payload[frameOffset] = byte(checksum >> 8)
				frameOffset++
				offset++
			}
			if frameOffset < frameSize-1 && offset > len(payload) {
				item.payload[frameOffset] = byte(checksum & 0xFF)
				frameOffset++
				offset++
			}
		}

		item.payload[frameOffset] = makeTailByte(sot, offset >= sizeWithCRC, toggle, transferID)
		sot = false
		toggle = !toggle
	}

	// Insert the whole frame sequence with a single supremum lookup
	inst.spliceTxQueue(head, tail)
	return count, nil
}

// TxPush splits a transfer into frames and inserts them into the
// transmission queue. It returns the number of frames enqueued.
// On allocation failure nothing is enqueued and the queue is unchanged.
func (inst *Instance) TxPush(transfer *canard.Transfer) (int, error) {
	if transfer == nil {
		return 0, canard.ErrInvalidArgument
	}
	mtu := inst.presentationLayerMTU()
	canID, err := makeCanID(transfer, inst.nodeID, mtu)
	if err != nil {
		return 0, err
	}
	if len(transfer.Payload) <= mtu {
		return inst.pushSingleFrameTransfer(transfer.Timestamp, canID, transfer.TransferID, transfer.Payload)
	}
	return inst.pushMultiFrameTransfer(mtu, transfer.Timestamp, canID, transfer.TransferID, transfer.Payload)
}

// TxPeek returns a copy of the highest priority queued frame without
// removing it. The frame Timestamp carries the transmission deadline of the
// originating transfer, callers drop expired frames with TxPop.
func (inst *Instance) TxPeek() (canard.Frame, bool) {
	item := inst.txQueue
	if item == nil {
		return canard.Frame{}, false
	}
	frame := canard.Frame{
		ID:        item.id,
		Length:    uint8(len(item.payload)),
		Timestamp: item.deadlineUs,
	}
	copy(frame.Data[:], item.payload)
	return frame, true
}

// TxPop removes the head of the transmission queue and releases its memory
func (inst *Instance) TxPop() {
	if inst.txQueue == nil {
		return
	}
	next := inst.txQueue.next
	inst.alloc.Free(inst.txQueue.payload)
	inst.txQueue = next
}
