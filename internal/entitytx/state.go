package entitytx

import (
	"math/big"

	"github.com/xlnfinance/xln/internal/invariant"
	"github.com/xlnfinance/xln/internal/xid"
)

// EntityState is the deterministic, entity-scoped state (spec §3).
type EntityState struct {
	Height    uint64
	Timestamp int64 // unix milliseconds; proposer-set, drift-checked (spec §4.3)

	Nonces   map[xid.SignerId]uint64
	Messages []string

	Proposals   map[string]*Proposal
	ProposalSeq uint64 // last assigned insertion sequence number (0 before any proposal); exported so gob snapshots preserve it (spec §8 property 8)

	Reserves map[uint64]*Reserve
	Accounts map[xid.EntityId]*AccountMachine

	Config Config

	JBlock uint64

	ProcessedRequests map[string]struct{}
}

// NewEntityState returns the zeroed initial state for a freshly imported
// replica (spec §4.5 step 4: height=0, jBlock=0, empty reserves/accounts).
func NewEntityState(cfg Config) *EntityState {
	return &EntityState{
		Height:            0,
		Timestamp:         0,
		Nonces:            make(map[xid.SignerId]uint64),
		Messages:          nil,
		Proposals:         make(map[string]*Proposal),
		Reserves:          make(map[uint64]*Reserve),
		Accounts:          make(map[xid.EntityId]*AccountMachine),
		Config:            cfg,
		JBlock:            0,
		ProcessedRequests: make(map[string]struct{}),
	}
}

// Clone deep-copies the state so ApplyEntityFrame can mutate a working copy
// without disturbing the committed state held by other replicas/snapshots
// (spec design note: no shared mutable structure between committed states).
func (s *EntityState) Clone() *EntityState {
	out := &EntityState{
		Height:      s.Height,
		Timestamp:   s.Timestamp,
		Nonces:      make(map[xid.SignerId]uint64, len(s.Nonces)),
		Messages:    append([]string(nil), s.Messages...),
		Proposals:   make(map[string]*Proposal, len(s.Proposals)),
		ProposalSeq: s.ProposalSeq,
		Reserves:    make(map[uint64]*Reserve, len(s.Reserves)),
		Accounts:    make(map[xid.EntityId]*AccountMachine, len(s.Accounts)),
		Config:      s.Config, // immutable across replica lifetime (spec §3)
		JBlock:      s.JBlock,
		ProcessedRequests: make(map[string]struct{}, len(s.ProcessedRequests)),
	}
	for k, v := range s.Nonces {
		out.Nonces[k] = v
	}
	for k, v := range s.Proposals {
		out.Proposals[k] = cloneProposal(v)
	}
	for k, v := range s.Reserves {
		out.Reserves[k] = cloneReserve(v)
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = cloneAccount(v)
	}
	for k := range s.ProcessedRequests {
		out.ProcessedRequests[k] = struct{}{}
	}
	return out
}

func cloneProposal(p *Proposal) *Proposal {
	votes := make(map[xid.SignerId]VoteChoice, len(p.Votes))
	for k, v := range p.Votes {
		votes[k] = v
	}
	return &Proposal{ID: p.ID, Action: p.Action, Proposer: p.Proposer, Votes: votes, Status: p.Status, Sequence: p.Sequence}
}

func cloneReserve(r *Reserve) *Reserve {
	return &Reserve{Amount: new(big.Int).Set(r.Amount), Symbol: r.Symbol, Decimals: r.Decimals}
}

func cloneDelta(d *invariant.Delta) *invariant.Delta {
	cp := func(x *big.Int) *big.Int {
		if x == nil {
			return nil
		}
		return new(big.Int).Set(x)
	}
	return &invariant.Delta{
		Collateral:       cp(d.Collateral),
		Ondelta:          cp(d.Ondelta),
		Offdelta:         cp(d.Offdelta),
		LeftCreditLimit:  cp(d.LeftCreditLimit),
		RightCreditLimit: cp(d.RightCreditLimit),
		LeftAllowance:    cp(d.LeftAllowance),
		RightAllowance:   cp(d.RightAllowance),
	}
}

func cloneAccount(a *AccountMachine) *AccountMachine {
	deltas := make(map[uint64]*invariant.Delta, len(a.Deltas))
	for k, v := range a.Deltas {
		deltas[k] = cloneDelta(v)
	}
	return &AccountMachine{
		Counterparty:    a.Counterparty,
		Mempool:         append([]AccountMessage(nil), a.Mempool...),
		Deltas:          deltas,
		OwnCreditLimit:  new(big.Int).Set(a.OwnCreditLimit),
		PeerCreditLimit: new(big.Int).Set(a.PeerCreditLimit),
	}
}

// SortedReserveTokenIds returns token ids in the deterministic iteration
// order required by spec §4.2.
func (s *EntityState) SortedReserveTokenIds() []uint64 {
	return xid.SortedTokenIds(s.Reserves)
}

// SortedAccountEntityIds returns counterparty ids in deterministic order.
func (s *EntityState) SortedAccountEntityIds() []xid.EntityId {
	return xid.SortedEntityIds(s.Accounts)
}

// SortedProposalIds returns proposal ids ordered by insertion sequence
// (spec §4.2: "proposals sort by insertion order, preserved in state").
func (s *EntityState) SortedProposalIds() []string {
	ids := make([]string, 0, len(s.Proposals))
	for id := range s.Proposals {
		ids = append(ids, id)
	}
	// stable insertion-order sort via Sequence field
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && s.Proposals[ids[j-1]].Sequence > s.Proposals[ids[j]].Sequence; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func (s *EntityState) nextProposalSequence() uint64 {
	s.ProposalSeq++
	return s.ProposalSeq
}
