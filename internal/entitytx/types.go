// Package entitytx implements the Entity State Machine (spec §4.2, C2): the
// closed transaction taxonomy, EntityState data model (spec §3), and the
// deterministic ApplyEntityFrame/applyEntityTx functions.
//
// Grounded on the teacher's internal/core/transaction.go: a single struct
// carrying one optional payload field per transaction type (TxStandard,
// TxContractDeploy, TxContractCall there; chat/propose/vote/... here), and
// internal/state/contract_state.go for the state-container shape (sorted,
// mutex-free — determinism here comes from single-threaded application, not
// locking).
package entitytx

import (
	"math/big"

	"github.com/xlnfinance/xln/internal/anchor"
	"github.com/xlnfinance/xln/internal/invariant"
	"github.com/xlnfinance/xln/internal/xid"
)

// TxType is the closed set of entity transaction types (spec §4.2).
type TxType string

const (
	TxChat          TxType = "chat"
	TxPropose       TxType = "propose"
	TxVote          TxType = "vote"
	TxProfileUpdate TxType = "profile-update"
	TxJEvent        TxType = "j_event"
	TxAccountInput  TxType = "accountInput"
	TxOpenAccount   TxType = "openAccount"
)

// KnownTxTypes is the closed taxonomy; any other Type is a validation error.
var KnownTxTypes = map[TxType]bool{
	TxChat:          true,
	TxPropose:       true,
	TxVote:          true,
	TxProfileUpdate: true,
	TxJEvent:        true,
	TxAccountInput:  true,
	TxOpenAccount:   true,
}

// VoteChoice is a ballot on a Proposal.
type VoteChoice string

const (
	VoteYes     VoteChoice = "yes"
	VoteNo      VoteChoice = "no"
	VoteAbstain VoteChoice = "abstain"
)

// ProposalStatus tracks a Proposal's lifecycle.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalPassed   ProposalStatus = "passed"
	ProposalRejected ProposalStatus = "rejected"
)

// EntityTx is the tagged-union entity transaction (wire form per spec §6:
// {type, data}). Exactly one payload field is populated, selected by Type;
// this mirrors the teacher's Transaction struct rather than using an
// interface{} payload, keeping the type gob-encodable without registration.
type EntityTx struct {
	Type TxType
	From xid.SignerId // signer authorizing this tx; empty for system-injected j_event
	Nonce uint64       // per-signer replay protection (spec §3 nonces); must equal the signer's next expected nonce, ignored for j_event

	Chat          *ChatPayload
	Propose       *ProposePayload
	Vote          *VotePayload
	ProfileUpdate *ProfileUpdatePayload
	JEvent        *JEventPayload
	AccountInput  *AccountInputPayload
	OpenAccount   *OpenAccountPayload
}

type ChatPayload struct {
	Message string
}

type ProposePayload struct {
	ProposalID string
	Action     string
}

type VotePayload struct {
	ProposalID string
	Choice     VoteChoice
}

type ProfileUpdatePayload struct {
	Profile map[string]string
}

type JEventPayload struct {
	Event anchor.Event
}

// AccountMessage is one bilateral message delivered to a counterparty's
// AccountMachine. Per spec §3/§9 the bilateral sub-consensus is deliberately
// abstracted; this module applies a delta update directly rather than
// running a nested two-validator BFT round.
type AccountMessage struct {
	TokenId  uint64
	Delta    invariant.Delta
}

type AccountInputPayload struct {
	Counterparty xid.EntityId
	Message      AccountMessage
}

type OpenAccountPayload struct {
	Counterparty     xid.EntityId
	OwnCreditLimit   *big.Int
	PeerCreditLimit  *big.Int
}

// Proposal is a governance item (spec §3).
type Proposal struct {
	ID       string
	Action   string
	Proposer xid.SignerId
	Votes    map[xid.SignerId]VoteChoice
	Status   ProposalStatus
	Sequence uint64 // insertion order, preserved across clones/snapshots
}

// Reserve is an entity's on-chain-held balance for one token (spec §3).
type Reserve struct {
	Amount   *big.Int
	Symbol   string
	Decimals uint8
}

// AccountMachine is the per-counterparty bilateral sub-state (spec §3).
// Deliberately abstracted: no nested propose/precommit/commit round is
// implemented (spec §9 Open Question), only direct, idempotent delta
// application.
type AccountMachine struct {
	Counterparty       xid.EntityId
	Mempool            []AccountMessage
	Deltas             map[uint64]*invariant.Delta
	OwnCreditLimit     *big.Int
	PeerCreditLimit    *big.Int
}

// Config is an entity's fixed consensus configuration (spec §3).
type ConsensusMode int

const (
	ProposerBased ConsensusMode = iota
	GossipBased
)

func (m ConsensusMode) String() string {
	if m == GossipBased {
		return "gossip-based"
	}
	return "proposer-based"
}

type Config struct {
	Mode         ConsensusMode
	Validators   []xid.SignerId // ordered; Validators[0] is the proposer in ProposerBased mode
	Threshold    uint64
	Shares       map[xid.SignerId]uint64
	Jurisdiction string
}

// Proposer returns the sole proposer in ProposerBased mode.
func (c Config) Proposer() xid.SignerId {
	if len(c.Validators) == 0 {
		return ""
	}
	return c.Validators[0]
}

// IsSingleSignerFastPath reports whether this config qualifies for the
// auto-propose fast path (spec §4.3 step 7): exactly one validator,
// threshold 1.
func (c Config) IsSingleSignerFastPath() bool {
	return len(c.Validators) == 1 && c.Threshold == 1
}
