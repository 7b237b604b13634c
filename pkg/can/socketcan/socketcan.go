package socketcan

import (
	"time"

	sockcan "github.com/brutella/can"

	canard "github.com/samsamfire/gocanard"
)

// Basic wrapper for socketcan, it uses the implementation
// that can be found here : https://github.com/brutella/can
// Classic CAN only : frames longer than 8 bytes cannot be sent, so the
// transport instance should be configured with the Classic CAN MTU.

func init() {
	canard.RegisterInterface("socketcan", NewSocketCanBus)
}

// SocketCAN extended frame format flag
const canEffFlag uint32 = 0x80000000

type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback canard.FrameListener
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	go socketcan.bus.ConnectAndPublish()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame canard.Frame) error {
	if frame.Length > canard.MTUClassic {
		return canard.ErrInvalidArgument
	}
	txFrame := sockcan.Frame{
		ID:     frame.ID | canEffFlag,
		Length: frame.Length,
	}
	copy(txFrame.Data[:], frame.Data[:frame.Length])
	return socketcan.bus.Publish(txFrame)
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback canard.FrameListener) error {
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	// Convert socketcan frame to transport frame
	rxFrame := canard.Frame{
		ID:        frame.ID & canard.CanExtendedIdMask,
		Length:    frame.Length,
		Timestamp: uint64(time.Now().UnixMicro()),
	}
	copy(rxFrame.Data[:], frame.Data[:])
	socketcan.rxCallback.Handle(rxFrame)
}

func NewSocketCanBus(name string) (canard.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	return &SocketcanBus{bus: bus}, err
}
