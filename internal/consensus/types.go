// Package consensus implements the Consensus Engine (spec §4.3, C3): the
// propose/precommit/commit state machine driven once per EntityInput for a
// single entity's Replica.
//
// Grounded on the teacher's internal/consensus/consensus_engine.go for the
// overall shape (engine holding state plus a set of collaborator services)
// and internal/core/block.go for hash-then-sign framing, adapted from a
// long-running block-proposal loop into a pure per-input step function —
// the Runtime Kernel (internal/runtime), not this package, owns the tick
// loop and delivery of RoutedInput across replicas.
package consensus

import (
	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/xcrypto"
	"github.com/xlnfinance/xln/internal/xid"
)

// MempoolCap bounds a replica's pending-tx mempool (spec §4.3 step 2).
// A var, not a const, so cmd/xlnd's `mempool_cap` runtime option (§6) can
// override the default of 10 000 at startup.
var MempoolCap uint64 = 10000

// MaxDriftMillis is the accepted clock drift window for a proposer's
// frame timestamp (spec §4.3 "Proposal hash", §7). A var so cmd/xlnd's
// `frame_timestamp_drift_ms` option (§6) can override the default of
// 30 000.
var MaxDriftMillis int64 = 30_000

// ProposedFrame is a candidate next EntityState awaiting signatures.
type ProposedFrame struct {
	Height     uint64
	Timestamp  int64
	Txs        []entitytx.EntityTx
	Hash       []byte
	NewState   *entitytx.EntityState
	Signatures map[xid.SignerId][]byte
}

// EntityInput is one unit of work delivered to a Replica in a tick: new
// transactions to absorb, and/or a proposal and/or precommits relating to
// an in-flight round (spec §4.3 "Per-tick algorithm").
type EntityInput struct {
	EntityTxs     []entitytx.EntityTx
	ProposedFrame *ProposedFrame
	Precommits    map[xid.SignerId][]byte
}

// IsEmpty reports whether the input carries nothing at all.
func (in EntityInput) IsEmpty() bool {
	return len(in.EntityTxs) == 0 && in.ProposedFrame == nil && len(in.Precommits) == 0
}

// RoutedInput addresses an EntityInput to a specific signer, for the
// Runtime Kernel/Channel Fabric to deliver (spec §4.4).
type RoutedInput struct {
	To    xid.SignerId
	Input EntityInput
}

// Replica is one validator's view of one entity (spec §3).
type Replica struct {
	EntityID xid.EntityId
	SignerID xid.SignerId
	Keys     *xcrypto.KeyPair

	Config entitytx.Config
	State  *entitytx.EntityState

	Mempool     []entitytx.EntityTx
	Proposal    *ProposedFrame // set when this replica is the proposer of an in-flight round
	LockedFrame *ProposedFrame // set when this replica has precommitted to a round
	LockedSig   []byte         // this replica's own precommit signature over LockedFrame.Hash
}

// IsProposer reports whether this replica is the one that drafts new
// frames for its entity: Validators[0] in both consensus modes (spec §3,
// §4.3). Gossip-based mode still designates a frame drafter — it differs
// from proposer-based only in how the resulting precommits are
// distributed (broadcast to every validator in step 5, rather than
// funneled back through a single aggregator).
func (r *Replica) IsProposer() bool {
	return r.Config.Proposer() == r.SignerID
}
