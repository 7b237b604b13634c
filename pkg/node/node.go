// Package node binds a transport instance to a CAN bus driver. It owns the
// bookkeeping the transport layer leaves to the application : draining the
// transmission queue, dropping frames whose deadline expired, stamping
// timestamps, incrementing transfer-ids and dispatching received transfers
// to handlers.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	canard "github.com/samsamfire/gocanard"
	"github.com/samsamfire/gocanard/pkg/transport"
)

const defaultRxQueueSize = 128

// Handler processes one reassembled transfer. It is called from the node
// processing goroutine, ownership of the transfer payload is passed to it.
type Handler func(transfer *canard.Transfer)

type portKey struct {
	kind   canard.TransferKind
	portID canard.PortID
}

type sessionKey struct {
	kind   canard.TransferKind
	portID canard.PortID
	remote canard.NodeID
}

// A Node is one local UAVCAN node on one CAN bus
type Node struct {
	logger        *slog.Logger
	bus           canard.Bus
	mu            sync.Mutex
	inst          *transport.Instance
	handlers      map[portKey]Handler
	subscriptions map[portKey]*transport.Subscription
	transferIDs   map[sessionKey]canard.TransferID
	rxChan        chan canard.Frame
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a node around the given transport instance and bus.
// The bus should already be connected, the node subscribes to its frames.
func New(inst *transport.Instance, bus canard.Bus, logger *slog.Logger) (*Node, error) {
	if inst == nil || bus == nil {
		return nil, canard.ErrInvalidArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	node := &Node{
		logger:        logger.With("service", "[NODE]", "id", inst.NodeID()),
		bus:           bus,
		inst:          inst,
		handlers:      make(map[portKey]Handler),
		subscriptions: make(map[portKey]*transport.Subscription),
		transferIDs:   make(map[sessionKey]canard.TransferID),
		rxChan:        make(chan canard.Frame, defaultRxQueueSize),
	}
	if err := bus.Subscribe(node); err != nil {
		return nil, err
	}
	return node, nil
}

// Handle implements canard.FrameListener, it is called by the bus driver
func (node *Node) Handle(frame canard.Frame) {
	select {
	case node.rxChan <- frame:
	default:
		node.logger.Warn("rx queue full, frame dropped", "id", frame.ID)
	}
}

// Start node processing, this will be run inside of a go routine
// Call Stop() to stop processing or cancel the context
// Call Wait() to wait for end of execution
func (node *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	node.cancel = cancel
	node.wg.Add(1)
	go func() {
		defer node.wg.Done()
		node.run(ctx)
	}()
}

// Stop node processing
func (node *Node) Stop() {
	if node.cancel != nil {
		node.cancel()
	}
}

// Wait for processing to finish
func (node *Node) Wait() {
	node.wg.Wait()
}

func (node *Node) run(ctx context.Context) {
	node.logger.Info("starting node processing")
	for {
		select {
		case <-ctx.Done():
			node.logger.Info("exited node processing")
			return
		case frame := <-node.rxChan:
			node.processFrame(frame)
		}
	}
}

func (node *Node) processFrame(frame canard.Frame) {
	if frame.Timestamp == 0 {
		frame.Timestamp = uint64(time.Now().UnixMicro())
	}
	node.mu.Lock()
	transfer, err := node.inst.RxAccept(frame, 0)
	var handler Handler
	if transfer != nil {
		handler = node.handlers[portKey{kind: transfer.Kind, portID: transfer.PortID}]
	}
	node.mu.Unlock()
	if err != nil {
		node.logger.Error("failed to accept frame", "id", frame.ID, "err", err)
		return
	}
	// Dispatch outside the lock, handlers may publish
	if transfer != nil && handler != nil {
		handler(transfer)
	}
}

// Subscribe registers a handler for transfers of the given kind and port
func (node *Node) Subscribe(kind canard.TransferKind, portID canard.PortID, extent int, timeoutUs uint64, handler Handler) error {
	node.mu.Lock()
	defer node.mu.Unlock()
	key := portKey{kind: kind, portID: portID}
	sub, ok := node.subscriptions[key]
	if !ok {
		sub = &transport.Subscription{}
	}
	_, err := node.inst.Subscribe(kind, portID, extent, timeoutUs, sub)
	if err != nil {
		return err
	}
	node.subscriptions[key] = sub
	node.handlers[key] = handler
	return nil
}

// Unsubscribe removes the subscription and handler for the given port
func (node *Node) Unsubscribe(kind canard.TransferKind, portID canard.PortID) {
	node.mu.Lock()
	defer node.mu.Unlock()
	key := portKey{kind: kind, portID: portID}
	node.inst.Unsubscribe(kind, portID)
	delete(node.subscriptions, key)
	delete(node.handlers, key)
}

func (node *Node) nextTransferID(kind canard.TransferKind, portID canard.PortID, remote canard.NodeID) canard.TransferID {
	key := sessionKey{kind: kind, portID: portID, remote: remote}
	id := node.transferIDs[key]
	node.transferIDs[key] = (id + 1) & canard.TransferIDMax
	return id
}

func (node *Node) push(transfer *canard.Transfer) error {
	_, err := node.inst.TxPush(transfer)
	if err != nil {
		return err
	}
	return node.flush()
}

// flush drains the transmission queue onto the bus, dropping frames whose
// deadline already passed. Must be called with the lock held.
func (node *Node) flush() error {
	nowUs := uint64(time.Now().UnixMicro())
	for {
		frame, ok := node.inst.TxPeek()
		if !ok {
			return nil
		}
		if frame.Timestamp != 0 && frame.Timestamp < nowUs {
			node.logger.Warn("dropping expired frame", "id", frame.ID)
			node.inst.TxPop()
			continue
		}
		if err := node.bus.Send(frame); err != nil {
			return err
		}
		node.inst.TxPop()
	}
}

// Publish broadcasts a message transfer on the given subject.
// deadlineUs is an absolute Unix time in microseconds, compared with
// time.Now().UnixMicro() when the queue is drained; frames past it are
// dropped. Zero disables the check.
func (node *Node) Publish(priority canard.Priority, subjectID canard.PortID, payload []byte, deadlineUs uint64) error {
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.push(&canard.Transfer{
		Timestamp:    deadlineUs,
		Priority:     priority,
		Kind:         canard.TransferKindMessage,
		PortID:       subjectID,
		RemoteNodeID: canard.NodeIDUnset,
		TransferID:   node.nextTransferID(canard.TransferKindMessage, subjectID, canard.NodeIDUnset),
		Payload:      payload,
	})
}

// Request sends a service request to the given server node
func (node *Node) Request(priority canard.Priority, serviceID canard.PortID, server canard.NodeID, payload []byte, deadlineUs uint64) error {
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.push(&canard.Transfer{
		Timestamp:    deadlineUs,
		Priority:     priority,
		Kind:         canard.TransferKindRequest,
		PortID:       serviceID,
		RemoteNodeID: server,
		TransferID:   node.nextTransferID(canard.TransferKindRequest, serviceID, server),
		Payload:      payload,
	})
}

// Respond sends a service response back to a client. The transfer-id must
// echo the transfer-id of the request being answered.
func (node *Node) Respond(priority canard.Priority, serviceID canard.PortID, client canard.NodeID, transferID canard.TransferID, payload []byte, deadlineUs uint64) error {
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.push(&canard.Transfer{
		Timestamp:    deadlineUs,
		Priority:     priority,
		Kind:         canard.TransferKindResponse,
		PortID:       serviceID,
		RemoteNodeID: client,
		TransferID:   transferID,
		Payload:      payload,
	})
}
