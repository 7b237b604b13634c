package virtual

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	canard "github.com/samsamfire/gocanard"
)

// Virtual CAN bus implementation over TCP, primarily used for testing and
// examples. This needs a broker server to relay CAN frames to all connected
// clients. More information : https://github.com/windelbouwman/virtualcan
// Unlike SocketCAN this transports full CAN FD frames.

func init() {
	canard.RegisterInterface("virtual", NewVirtualCanBus)
	canard.RegisterInterface("virtualcan", NewVirtualCanBus)
}

type Bus struct {
	logger        *slog.Logger
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	receiveOwn    bool
	framehandler  canard.FrameListener
	stopChan      chan bool
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

func NewVirtualCanBus(channel string) (canard.Bus, error) {
	return &Bus{
		channel:  channel,
		stopChan: make(chan bool),
		logger:   slog.Default(),
	}, nil
}

// Wire representation : 4 byte big endian id, 1 byte length, 1 byte flags,
// then the payload, the whole message preceded by a 4 byte length prefix
func serializeFrame(frame canard.Frame) []byte {
	body := make([]byte, 6+int(frame.Length))
	binary.BigEndian.PutUint32(body[0:4], frame.ID)
	body[4] = frame.Length
	body[5] = frame.Flags
	copy(body[6:], frame.Data[:frame.Length])
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func deserializeFrame(buffer []byte) (*canard.Frame, error) {
	if len(buffer) < 6 {
		return nil, fmt.Errorf("error deserializing : message too short (%v bytes)", len(buffer))
	}
	frame := &canard.Frame{
		ID:     binary.BigEndian.Uint32(buffer[0:4]),
		Length: buffer[4],
		Flags:  buffer[5],
	}
	if int(frame.Length) > len(frame.Data) || len(buffer) < 6+int(frame.Length) {
		return nil, fmt.Errorf("error deserializing : invalid length %v", frame.Length)
	}
	copy(frame.Data[:], buffer[6:6+int(frame.Length)])
	return frame, nil
}

// "Connect" to server e.g. localhost:18888
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		err := tcpConn.SetNoDelay(true)
		if err != nil {
			return err
		}
	}
	return nil
}

// "Disconnect" from server
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.errSubscriber && b.isRunning {
		b.stopChan <- true
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame canard.Frame) error {
	// Local loopback
	if b.receiveOwn && b.framehandler != nil {
		frame.Timestamp = uint64(time.Now().UnixMicro())
		b.framehandler.Handle(frame)
	} else if b.conn == nil {
		return errors.New("error : no active connection, abort send")
	}
	if b.conn != nil {
		_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
		_, err := b.conn.Write(serializeFrame(frame))
		return err
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler canard.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to framehandler
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

// Receive new CAN frame. The frame timestamp is stamped on reception.
func (b *Bus) Recv() (*canard.Frame, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("error : no active connection, abort receive")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	headerBytes := make([]byte, 4)
	n, err := b.conn.Read(headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n < 4 || err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v, err : %v", 4, n, err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = b.conn.Read(frameBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n != int(length) || err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v", length, n)
	}
	frame, err := deserializeFrame(frameBytes)
	if err != nil {
		return nil, err
	}
	frame.Timestamp = uint64(time.Now().UnixMicro())
	return frame, nil
}

// Handle incoming traffic
func (b *Bus) handleReception() {
	defer func() {
		b.isRunning = false
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			// Avoid blocking if lock is already taken (in particular for disconnect, subscribe, etc)
			success := b.mu.TryLock()
			if !success {
				break
			}
			frame, err := b.Recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No message received, this is OK
			} else if err != nil {
				b.logger.Error("listening routine has closed because", "err", err)
				b.errSubscriber = true
				b.mu.Unlock()
				return
			} else if b.framehandler != nil {
				b.framehandler.Handle(*frame)
			}
			b.mu.Unlock()
		}
	}
}

// SetReceiveOwn enables local loopback of sent frames, useful for testing
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}
