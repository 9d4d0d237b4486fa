package consensus

import (
	"bytes"

	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/xerr"
	"github.com/xlnfinance/xln/internal/xid"
)

// ProcessInput runs one tick of the per-tick algorithm of spec §4.3 for a
// single replica against a single EntityInput. It returns RoutedInputs to
// deliver to other signers of the same entity (the Runtime Kernel feeds
// them back as the next tick's input) and diagnostic/
// announce Outputs from the State Machine. now is the replica's own wall
// clock in unix milliseconds, used for the proposal timestamp drift check.
func ProcessInput(r *Replica, input EntityInput, now int64) ([]RoutedInput, []entitytx.Output, error) {
	// Step 1: validate input. A nil replica is a validation fault: no
	// outputs and a Validation error, which xerr.Recoverable classifies as
	// locally recovered, so the caller does not treat this tick as fatal.
	if r == nil {
		return nil, nil, xerr.Validation("consensus: nil replica")
	}

	var routed []RoutedInput
	var outputs []entitytx.Output

	// Step 2: absorb transactions into mempool, bounded.
	if len(input.EntityTxs) > 0 {
		if len(input.EntityTxs) > 3 {
			outputs = append(outputs, entitytx.Output{Kind: entitytx.OutputDiagnostic, Message: "large batch: more than 3 txs in one input", Entity: r.EntityID})
		}
		for _, tx := range input.EntityTxs {
			if uint64(len(r.Mempool)) >= MempoolCap {
				outputs = append(outputs, entitytx.Output{Kind: entitytx.OutputDiagnostic, Message: "mempool full, dropping tx", Entity: r.EntityID})
				break
			}
			r.Mempool = append(r.Mempool, tx)
		}
	}

	// Step 3: forward phase (non-proposers), must precede commit handling
	// so a commit that clears the mempool cannot race a pending forward.
	if !r.IsProposer() && len(r.Mempool) > 0 {
		forward := r.Mempool
		r.Mempool = nil
		routed = append(routed, RoutedInput{To: r.Config.Proposer(), Input: EntityInput{EntityTxs: forward}})
	}

	// Step 4: commit-notification handling (non-proposer receiver).
	if input.ProposedFrame != nil && input.Precommits != nil && r.Proposal == nil {
		power := tallyPower(r.Config, input.Precommits)
		if power >= r.Config.Threshold {
			r.State = input.ProposedFrame.NewState
			r.Mempool = nil
			r.LockedFrame = nil
			r.LockedSig = nil
			return routed, outputs, nil
		}
	}

	// Step 5: proposal handling (any replica receiving a ProposedFrame).
	if input.ProposedFrame != nil {
		alreadyLockedSameHash := r.LockedFrame != nil && r.LockedFrame.Height == input.ProposedFrame.Height && bytes.Equal(r.LockedFrame.Hash, input.ProposedFrame.Hash)
		switch {
		case r.LockedFrame != nil && r.LockedFrame.Height == input.ProposedFrame.Height && !alreadyLockedSameHash:
			outputs = append(outputs, entitytx.Output{Kind: entitytx.OutputDiagnostic, Message: "already locked to a conflicting frame at this height", Entity: r.EntityID})
		case !alreadyLockedSameHash && driftExceeded(input.ProposedFrame.Timestamp, now):
			outputs = append(outputs, entitytx.Output{Kind: entitytx.OutputDiagnostic, Message: "proposal timestamp outside drift window", Entity: r.EntityID})
		default:
			var sig []byte
			if alreadyLockedSameHash {
				// Re-delivery of a proposal we already precommitted to:
				// resend the signature we already produced rather than
				// signing again — ECDSA signing is randomized per call,
				// so a fresh signature here would differ byte-for-byte
				// from the first and be mistaken for a double-sign by
				// the aggregator (spec §4.3 step 6).
				sig = r.LockedSig
			} else {
				var err error
				sig, err = r.Keys.Sign(input.ProposedFrame.Hash)
				if err != nil {
					return routed, outputs, xerr.Validation("consensus: sign precommit: %v", err)
				}
				r.LockedFrame = input.ProposedFrame
				r.LockedSig = sig
			}
			precommit := EntityInput{Precommits: map[xid.SignerId][]byte{r.SignerID: sig}}
			if r.Config.Mode == entitytx.GossipBased {
				for _, v := range r.Config.Validators {
					if v != r.SignerID {
						routed = append(routed, RoutedInput{To: v, Input: precommit})
					}
				}
			} else {
				routed = append(routed, RoutedInput{To: r.Config.Proposer(), Input: precommit})
			}
		}
	}

	// Step 6: precommit aggregation. Only the designated proposer
	// (Validators[0]) ever has r.Proposal set (step 7), in both consensus
	// modes — gossip mode's distinction is step 5 broadcasting precommits
	// to every validator rather than funneling them back through a single
	// aggregator's inbox, not a different aggregation point.
	// Byzantine detection is checked for the whole batch before any
	// signature is recorded, so a mixed input (valid sigs + one
	// double-sign) leaves r.Proposal entirely untouched, per spec "do not
	// alter state".
	if len(input.Precommits) > 0 && r.Proposal != nil {
		for signer, sig := range input.Precommits {
			if existing, seen := r.Proposal.Signatures[signer]; seen && !bytes.Equal(existing, sig) {
				return nil, nil, xerr.Byzantine("consensus: signer %q double-signed frame at height %d", signer, r.Proposal.Height)
			}
		}
		for signer, sig := range input.Precommits {
			r.Proposal.Signatures[signer] = sig
		}
		power := tallyPower(r.Config, r.Proposal.Signatures)
		if power >= r.Config.Threshold {
			committed := r.Proposal
			r.State = committed.NewState
			r.Mempool = nil
			r.Proposal = nil
			r.LockedFrame = nil
			r.LockedSig = nil
			// Only the designated proposer (Validators[0], both modes —
			// see IsProposer) ever populates r.Proposal via step 7, so it
			// is the only replica that reaches this aggregation branch;
			// every other validator learns of the commit through this
			// notification regardless of mode.
			notification := EntityInput{ProposedFrame: committed, Precommits: committed.Signatures}
			for _, v := range r.Config.Validators {
				if v != r.SignerID {
					routed = append(routed, RoutedInput{To: v, Input: notification})
				}
			}
		}
	}

	// Step 7: auto-propose.
	if r.IsProposer() && len(r.Mempool) > 0 && r.Proposal == nil {
		if r.Config.IsSingleSignerFastPath() {
			next, frameOutputs := entitytx.ApplyEntityFrame(r.State, r.Mempool, now)
			r.State = next
			r.Mempool = nil
			outputs = append(outputs, frameOutputs...)
		} else {
			txs := append([]entitytx.EntityTx(nil), r.Mempool...)
			next, frameOutputs := entitytx.ApplyEntityFrame(r.State, txs, now)
			hash := frameHash(next.Height, now, txs)
			sig, err := r.Keys.Sign(hash)
			if err != nil {
				return routed, outputs, xerr.Validation("consensus: sign proposal: %v", err)
			}
			r.Proposal = &ProposedFrame{
				Height:     next.Height,
				Timestamp:  now,
				Txs:        txs,
				Hash:       hash,
				NewState:   next,
				Signatures: map[xid.SignerId][]byte{r.SignerID: sig},
			}
			r.Mempool = nil
			outputs = append(outputs, frameOutputs...)
			proposal := EntityInput{ProposedFrame: r.Proposal}
			for _, v := range r.Config.Validators {
				if v != r.SignerID {
					routed = append(routed, RoutedInput{To: v, Input: proposal})
				}
			}
		}
	}

	return routed, outputs, nil
}

func tallyPower(cfg entitytx.Config, signatures map[xid.SignerId][]byte) uint64 {
	var power uint64
	for signer := range signatures {
		power += cfg.Shares[signer]
	}
	return power
}

func driftExceeded(proposalTimestamp, now int64) bool {
	drift := proposalTimestamp - now
	if drift < 0 {
		drift = -drift
	}
	return drift > MaxDriftMillis
}
