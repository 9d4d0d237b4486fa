// Package fabric implements the Bilateral Channel Fabric (spec §4.4, C4):
// point-to-point message delivery between entities with per-(source,
// destination) FIFO sequence numbers and no global ordering.
//
// Grounded on the teacher's internal/p2p/manager.go (a peer registry keyed
// by address, with per-peer send queues) and internal/p2p/message.go (a
// typed envelope with a sequence-like message id), generalized from a
// physical peer-to-peer overlay into the logical, in-process point-to-point
// model the spec calls for: no peer discovery, no connection pool, direct
// addressed delivery between registered Nodes.
package fabric

import (
	"fmt"
	"sync"

	"github.com/xlnfinance/xln/internal/consensus"
	"github.com/xlnfinance/xln/internal/xid"
)

// ConnectionStatus mirrors a Channel's liveness (spec §4.4).
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
)

// Message is one unit of delivery between two entities (spec §4.4).
type Message struct {
	MessageID      string
	From           xid.EntityId
	To             xid.EntityId
	SignerID       xid.SignerId
	Input          consensus.EntityInput
	SequenceNumber uint64
}

// Channel is one directed (local, remote) pairing's sequencing state.
type Channel struct {
	LocalEntityID    xid.EntityId
	RemoteEntityID   xid.EntityId
	NextOutgoingSeq  uint64
	LastIncomingSeq  uint64
	ConnectionStatus ConnectionStatus
}

// Node is one entity's view of the fabric: its channels to counterparties
// and its inbound message queue.
type Node struct {
	EntityID xid.EntityId
	channels map[xid.EntityId]*Channel
	inQueue  []Message
}

func newNode(id xid.EntityId) *Node {
	return &Node{EntityID: id, channels: make(map[xid.EntityId]*Channel)}
}

func (n *Node) channelTo(remote xid.EntityId) *Channel {
	ch, ok := n.channels[remote]
	if !ok {
		ch = &Channel{LocalEntityID: n.EntityID, RemoteEntityID: remote, ConnectionStatus: Connected}
		n.channels[remote] = ch
	}
	return ch
}

// ErrUnknownSender is returned by Send when the source entity has no
// registered Node (spec §4.4 "Send contract").
var ErrUnknownSender = fmt.Errorf("fabric: unknown sender")

// Fabric is the process-wide registry of Nodes (spec §9 design note:
// modeled as an explicit component owned by the Runtime Kernel, not a
// package-level singleton like the teacher's channel-manager/gossip
// globals).
type Fabric struct {
	mu    sync.Mutex
	nodes map[xid.EntityId]*Node
}

// New returns an empty Fabric.
func New() *Fabric {
	return &Fabric{nodes: make(map[xid.EntityId]*Node)}
}

// Register creates a Node for entity if one does not already exist.
func (f *Fabric) Register(entity xid.EntityId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[entity]; !ok {
		f.nodes[entity] = newNode(entity)
	}
}

// Send delivers one message from -> to (spec §4.4 "Send contract").
// Delivery is synchronous within the process; sequence numbers are
// assigned from the sender's channel to the given remote.
func (f *Fabric) Send(from, to xid.EntityId, signerID xid.SignerId, input consensus.EntityInput) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sender, ok := f.nodes[from]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownSender, from)
	}
	if _, ok := f.nodes[to]; !ok {
		f.nodes[to] = newNode(to)
	}

	ch := sender.channelTo(to)
	seq := ch.NextOutgoingSeq
	ch.NextOutgoingSeq++

	msg := Message{
		MessageID:      fmt.Sprintf("%s:%s:%d", from, to, seq),
		From:           from,
		To:             to,
		SignerID:       signerID,
		Input:          input,
		SequenceNumber: seq,
	}

	receiver := f.nodes[to]
	receiverChannel := receiver.channelTo(from)
	receiverChannel.LastIncomingSeq = seq
	receiver.inQueue = append(receiver.inQueue, msg)

	return msg, nil
}

// Broadcast sends input from `from` to every entity in `to` (spec §4.4
// "Broadcast": convenience over looped send).
func (f *Fabric) Broadcast(from xid.EntityId, to []xid.EntityId, signerID xid.SignerId, input consensus.EntityInput) ([]Message, error) {
	msgs := make([]Message, 0, len(to))
	for _, t := range to {
		msg, err := f.Send(from, t, signerID, input)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// GetPending drains and returns entity's in-queue (spec §4.4 "Pending
// retrieval"), in delivery order — FIFO per (source, destination), though
// no ordering is promised across distinct source channels.
func (f *Fabric) GetPending(entity xid.EntityId) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.nodes[entity]
	if !ok || len(node.inQueue) == 0 {
		return nil
	}
	drained := node.inQueue
	node.inQueue = nil
	return drained
}
