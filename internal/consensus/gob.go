package consensus

import (
	"bytes"
	"encoding/gob"

	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/xid"
)

// replicaWire is the gob wire shape of a Replica, deliberately omitting
// Keys: a private signing key must never be written into a shared
// snapshot blob. GobEncode/GobDecode below keep this invisible to
// callers — snapshot.Encode(env) just works — while ensuring a decoded
// Replica comes back with Keys == nil; the Runtime Kernel must reattach a
// keystore-backed KeyPair after Replay before the replica can sign again.
type replicaWire struct {
	EntityID    xid.EntityId
	SignerID    xid.SignerId
	Config      entitytx.Config
	State       *entitytx.EntityState
	Mempool     []entitytx.EntityTx
	Proposal    *ProposedFrame
	LockedFrame *ProposedFrame
	LockedSig   []byte
}

func (r *Replica) GobEncode() ([]byte, error) {
	w := replicaWire{
		EntityID:    r.EntityID,
		SignerID:    r.SignerID,
		Config:      r.Config,
		State:       r.State,
		Mempool:     r.Mempool,
		Proposal:    r.Proposal,
		LockedFrame: r.LockedFrame,
		LockedSig:   r.LockedSig,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Replica) GobDecode(data []byte) error {
	var w replicaWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	r.EntityID = w.EntityID
	r.SignerID = w.SignerID
	r.Config = w.Config
	r.State = w.State
	r.Mempool = w.Mempool
	r.Proposal = w.Proposal
	r.LockedFrame = w.LockedFrame
	r.LockedSig = w.LockedSig
	r.Keys = nil
	return nil
}
