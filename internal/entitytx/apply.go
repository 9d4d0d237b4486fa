package entitytx

import (
	"math/big"

	"github.com/xlnfinance/xln/internal/invariant"
	"github.com/xlnfinance/xln/internal/xerr"
	"github.com/xlnfinance/xln/internal/xid"
)

// OutputKind classifies an Output emitted while applying a frame.
type OutputKind string

const (
	// OutputDiagnostic records a tx that was silently dropped (malformed,
	// unauthorized, replayed nonce, ...) instead of aborting the whole
	// frame (spec §4.2 edge cases: "drop with diagnostic, never halt").
	OutputDiagnostic OutputKind = "diagnostic"
	// OutputProfileAnnounce signals a profile-update that downstream
	// gossip/indexing may want to propagate (spec §3 supplemented feature).
	OutputProfileAnnounce OutputKind = "profile-announce"
)

// Output is a side-effect of ApplyEntityFrame that is not itself state:
// a diagnostic message or an announcement for an external subscriber.
type Output struct {
	Kind    OutputKind
	Message string
	Entity  xid.EntityId
}

// ApplyEntityFrame applies txs in order against a clone of state and returns
// the resulting state plus any Outputs. It has no error return: per-tx
// problems become diagnostic Outputs (spec §4.2) and the frame is always
// applied, with Height incremented even when every tx is dropped.
func ApplyEntityFrame(state *EntityState, txs []EntityTx, timestamp int64) (*EntityState, []Output) {
	next := state.Clone()
	next.Height++
	next.Timestamp = timestamp

	var outputs []Output
	for _, tx := range txs {
		if out, ok := applyEntityTx(next, tx); !ok {
			outputs = append(outputs, out)
		} else if out.Kind != "" {
			outputs = append(outputs, out)
		}
	}
	return next, outputs
}

// applyEntityTx mutates state in place for one tx. The bool return reports
// whether the tx was applied (true) or dropped (false, out is a diagnostic).
// When a non-diagnostic Output is produced alongside a successful apply,
// out.Kind is set and the caller appends it regardless of ok.
func applyEntityTx(state *EntityState, tx EntityTx) (Output, bool) {
	if !KnownTxTypes[tx.Type] {
		return diagnostic(tx, "unknown tx type %q"), false
	}

	// j_event carries no signer/nonce: it is system-injected by the
	// runtime kernel after anchor-event ingestion (spec §4.5), not
	// authored by a validator.
	if tx.Type != TxJEvent {
		if !validSigner(state, tx.From) {
			return diagnostic(tx, "signer %q is not a validator of this entity", tx.From), false
		}
		if !checkAndAdvanceNonce(state, tx.From, tx.Nonce) {
			return diagnostic(tx, "nonce %d for signer %q is not the next expected nonce", tx.Nonce, tx.From), false
		}
	}

	switch tx.Type {
	case TxChat:
		return applyChat(state, tx)
	case TxPropose:
		return applyPropose(state, tx)
	case TxVote:
		return applyVote(state, tx)
	case TxProfileUpdate:
		return applyProfileUpdate(state, tx)
	case TxJEvent:
		return applyJEvent(state, tx)
	case TxAccountInput:
		return applyAccountInput(state, tx)
	case TxOpenAccount:
		return applyOpenAccount(state, tx)
	default:
		return diagnostic(tx, "unhandled tx type %q", tx.Type), false
	}
}

func validSigner(state *EntityState, signer xid.SignerId) bool {
	if signer == "" {
		return false
	}
	return xid.IndexInValidators(state.Config.Validators, signer) >= 0
}

// checkAndAdvanceNonce enforces strict per-signer monotonic nonces
// (spec §3): the tx's Nonce must equal the signer's next expected value.
// On success it advances the stored nonce; on failure state is untouched.
func checkAndAdvanceNonce(state *EntityState, signer xid.SignerId, nonce uint64) bool {
	expected := state.Nonces[signer]
	if nonce != expected {
		return false
	}
	state.Nonces[signer] = expected + 1
	return true
}

func diagnostic(tx EntityTx, format string, args ...any) Output {
	return Output{Kind: OutputDiagnostic, Message: xerr.Validation(format, args...).Error()}
}

func applyChat(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.Chat == nil || tx.Chat.Message == "" {
		return diagnostic(tx, "chat: empty payload"), false
	}
	state.Messages = append(state.Messages, tx.Chat.Message)
	return Output{}, true
}

func applyPropose(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.Propose == nil || tx.Propose.ProposalID == "" {
		return diagnostic(tx, "propose: missing proposalId"), false
	}
	if _, exists := state.Proposals[tx.Propose.ProposalID]; exists {
		return diagnostic(tx, "propose: proposalId %q already exists", tx.Propose.ProposalID), false
	}
	state.Proposals[tx.Propose.ProposalID] = &Proposal{
		ID:       tx.Propose.ProposalID,
		Action:   tx.Propose.Action,
		Proposer: tx.From,
		Votes:    map[xid.SignerId]VoteChoice{tx.From: VoteYes},
		Status:   ProposalPending,
		Sequence: state.nextProposalSequence(),
	}
	return Output{}, true
}

func applyVote(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.Vote == nil || tx.Vote.ProposalID == "" {
		return diagnostic(tx, "vote: missing proposalId"), false
	}
	p, ok := state.Proposals[tx.Vote.ProposalID]
	if !ok {
		return diagnostic(tx, "vote: unknown proposalId %q", tx.Vote.ProposalID), false
	}
	if p.Status != ProposalPending {
		return diagnostic(tx, "vote: proposalId %q is no longer pending", tx.Vote.ProposalID), false
	}
	p.Votes[tx.From] = tx.Vote.Choice
	tallyProposal(state, p)
	return Output{}, true
}

// tallyProposal resolves a proposal to passed/rejected once enough shares
// have voted yes/no to cross the entity's threshold (spec §3 governance).
// Iteration is over state.Config.Validators, already a fixed deterministic
// order, so no further sorting is required here.
func tallyProposal(state *EntityState, p *Proposal) {
	var yes, no uint64
	for _, v := range state.Config.Validators {
		switch p.Votes[v] {
		case VoteYes:
			yes += state.Config.Shares[v]
		case VoteNo:
			no += state.Config.Shares[v]
		}
	}
	switch {
	case yes >= state.Config.Threshold:
		p.Status = ProposalPassed
	case no >= state.Config.Threshold:
		p.Status = ProposalRejected
	}
}

func applyProfileUpdate(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.ProfileUpdate == nil {
		return diagnostic(tx, "profile-update: missing payload"), false
	}
	return Output{Kind: OutputProfileAnnounce, Message: "profile updated"}, true
}

// applyJEvent absorbs an anchor-chain event idempotently (spec §4.2,
// Testable property 4): a repeated (blockNumber, txHash, eventIndex) is
// silently dropped rather than applied twice.
func applyJEvent(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.JEvent == nil {
		return diagnostic(tx, "j_event: missing payload"), false
	}
	key := tx.JEvent.Event.IdempotencyKey()
	if _, seen := state.ProcessedRequests[key]; seen {
		return diagnostic(tx, "j_event: already processed %q", key), false
	}
	state.ProcessedRequests[key] = struct{}{}
	if tx.JEvent.Event.BlockNumber > state.JBlock {
		state.JBlock = tx.JEvent.Event.BlockNumber
	}
	applyAnchorPayload(state, tx.JEvent)
	return Output{}, true
}

func applyAnchorPayload(state *EntityState, j *JEventPayload) {
	p := j.Event.Payload
	newBalance := new(big.Int)
	if p.NewBalance != nil {
		newBalance.Set(p.NewBalance)
	}
	switch j.Event.Type {
	case "ReserveUpdated":
		state.Reserves[p.TokenId] = &Reserve{Amount: newBalance}
	case "ReserveTransferred", "SettlementProcessed":
		if r, ok := state.Reserves[p.TokenId]; ok {
			r.Amount = newBalance
		} else {
			state.Reserves[p.TokenId] = &Reserve{Amount: newBalance}
		}
	}
}

func applyOpenAccount(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.OpenAccount == nil {
		return diagnostic(tx, "openAccount: missing payload"), false
	}
	cp := tx.OpenAccount.Counterparty
	if _, exists := state.Accounts[cp]; exists {
		return diagnostic(tx, "openAccount: account with %s already open", cp), false
	}
	own := tx.OpenAccount.OwnCreditLimit
	peer := tx.OpenAccount.PeerCreditLimit
	if own == nil || peer == nil || own.Sign() < 0 || peer.Sign() < 0 {
		return diagnostic(tx, "openAccount: credit limits must be non-negative"), false
	}
	state.Accounts[cp] = &AccountMachine{
		Counterparty:    cp,
		Deltas:          make(map[uint64]*invariant.Delta),
		OwnCreditLimit:  new(big.Int).Set(own),
		PeerCreditLimit: new(big.Int).Set(peer),
	}
	return Output{}, true
}

// applyAccountInput delivers a bilateral message into the counterparty's
// AccountMachine mempool and applies its Delta directly (spec §9: no nested
// two-validator sub-consensus round is implemented).
func applyAccountInput(state *EntityState, tx EntityTx) (Output, bool) {
	if tx.AccountInput == nil {
		return diagnostic(tx, "accountInput: missing payload"), false
	}
	acct, ok := state.Accounts[tx.AccountInput.Counterparty]
	if !ok {
		return diagnostic(tx, "accountInput: no open account with %s", tx.AccountInput.Counterparty), false
	}
	msg := tx.AccountInput.Message
	acct.Mempool = append(acct.Mempool, msg)
	delta := &msg.Delta
	if _, err := invariant.DeriveDelta(delta, false); err != nil {
		return diagnostic(tx, "accountInput: %v", err), false
	}
	acct.Deltas[msg.TokenId] = cloneDelta(delta)
	return Output{}, true
}
