package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	canard "github.com/samsamfire/gocanard"
)

func TestMakeCanIDMessage(t *testing.T) {
	id, err := makeCanID(&canard.Transfer{
		Priority:     canard.PriorityNominal,
		Kind:         canard.TransferKindMessage,
		PortID:       7168,
		RemoteNodeID: canard.NodeIDUnset,
	}, 42, 7)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0x101C002A), id)
}

func TestMakeCanIDService(t *testing.T) {
	id, err := makeCanID(&canard.Transfer{
		Priority:     canard.PriorityFast,
		Kind:         canard.TransferKindRequest,
		PortID:       5,
		RemoteNodeID: 10,
	}, 1, 63)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0x0B014501), id)

	id, err = makeCanID(&canard.Transfer{
		Priority:     canard.PriorityFast,
		Kind:         canard.TransferKindResponse,
		PortID:       5,
		RemoteNodeID: 10,
	}, 1, 63)
	assert.Nil(t, err)
	// Response clears the request flag (bit 24)
	assert.Equal(t, uint32(0x0A014501), id)
}

func TestParseFrameMessage(t *testing.T) {
	frame := canard.NewFrame(0x101C002A, 4)
	copy(frame.Data[:], []byte{0x10, 0x20, 0x30, 0xE1})
	frame.Timestamp = 12345

	var model frameModel
	assert.True(t, parseFrame(&frame, &model))
	assert.Equal(t, canard.PriorityNominal, model.priority)
	assert.Equal(t, canard.TransferKindMessage, model.kind)
	assert.EqualValues(t, 7168, model.portID)
	assert.EqualValues(t, 42, model.srcNodeID)
	assert.Equal(t, canard.NodeIDUnset, model.dstNodeID)
	assert.EqualValues(t, 1, model.transferID)
	assert.True(t, model.sot)
	assert.True(t, model.eot)
	assert.True(t, model.toggle)
	assert.Equal(t, []byte{0x10, 0x20, 0x30}, model.payload)
	assert.EqualValues(t, 12345, model.timestamp)
}

func TestParseFrameService(t *testing.T) {
	frame := canard.NewFrame(0x0B014501, 2)
	copy(frame.Data[:], []byte{0x55, 0xA3})

	var model frameModel
	assert.True(t, parseFrame(&frame, &model))
	assert.Equal(t, canard.TransferKindRequest, model.kind)
	assert.EqualValues(t, 5, model.portID)
	assert.EqualValues(t, 1, model.srcNodeID)
	assert.EqualValues(t, 10, model.dstNodeID)
	assert.EqualValues(t, 3, model.transferID)
	assert.True(t, model.sot)
	assert.False(t, model.eot)
}

func TestParseFrameAnonymous(t *testing.T) {
	frame := canard.NewFrame(uint32(1)<<24|uint32(100)<<8|0x15, 3)
	copy(frame.Data[:], []byte{0xAA, 0xBB, 0xE0})

	var model frameModel
	assert.True(t, parseFrame(&frame, &model))
	assert.Equal(t, canard.NodeIDUnset, model.srcNodeID)
	assert.EqualValues(t, 100, model.portID)
}

func TestParseFrameRejections(t *testing.T) {
	var model frameModel

	// Empty frame
	frame := canard.NewFrame(0x101C002A, 0)
	assert.False(t, parseFrame(&frame, &model))

	// Reserved bit 23 set
	frame = canard.NewFrame(0x101C002A|1<<23, 2)
	frame.Data[1] = 0xE0
	assert.False(t, parseFrame(&frame, &model))

	// Reserved bit 7 set on a message frame
	frame = canard.NewFrame(0x101C002A|1<<7, 2)
	frame.Data[1] = 0xE0
	assert.False(t, parseFrame(&frame, &model))

	// Start-of-transfer with toggle cleared, transport version mismatch
	frame = canard.NewFrame(0x101C002A, 2)
	frame.Data[1] = 0x80 | 0x40
	assert.False(t, parseFrame(&frame, &model))

	// Anonymous multi-frame
	frame = canard.NewFrame(uint32(1)<<24|uint32(100)<<8|0x15, 2)
	frame.Data[1] = 0x80 | 0x20 // start but no end
	assert.False(t, parseFrame(&frame, &model))
}
