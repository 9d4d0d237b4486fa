// Package anchor defines the shapes of anchor-chain events consumed by the
// entity replication layer (spec §6). The indexer that discovers these
// events from the EntityProvider/Depository contracts is an external
// collaborator (spec §1 Out of Scope); only the consumed event contract
// lives here.
package anchor

import (
	"math/big"

	"github.com/xlnfinance/xln/internal/xid"
)

// EventType enumerates the anchor-chain events named in spec §6.
type EventType string

const (
	EventEntityRegistered      EventType = "EntityRegistered"
	EventControlSharesReleased EventType = "ControlSharesReleased"
	EventNameAssigned          EventType = "NameAssigned"
	EventReserveUpdated        EventType = "ReserveUpdated"
	EventReserveTransferred    EventType = "ReserveTransferred"
	EventSettlementProcessed   EventType = "SettlementProcessed"
)

// Event is one anchor-chain log entry, already decoded by the external
// indexer, ready to be wrapped into a j_event entity transaction.
type Event struct {
	BlockNumber     uint64
	TransactionHash string
	EventIndex      uint32
	Type            EventType
	Payload         Payload
}

// Payload is the decoded body of one event. Only the fields relevant to
// Type are populated; the rest are zero. A struct-of-optional-fields
// (rather than an interface{} union) keeps j_event deterministically
// comparable and gob-encodable for snapshots.
type Payload struct {
	// EntityRegistered
	EntityID    xid.EntityId
	EntityNumber uint64
	BoardHash   []byte

	// ControlSharesReleased
	Depository      xid.EntityId
	ControlAmount   uint64
	DividendAmount  uint64
	Purpose         string

	// NameAssigned
	Name string

	// ReserveUpdated / ReserveTransferred / SettlementProcessed
	Entity      xid.EntityId
	TokenId     uint64
	NewBalance  *big.Int // arbitrary-precision (spec §3); nil treated as zero
	From        xid.EntityId
	To          xid.EntityId
	Amount      uint64
	LeftEntity  xid.EntityId
	RightEntity xid.EntityId
	LeftReserve uint64
	RightReserve uint64
	Collateral  uint64
	Ondelta     int64
}

// IdempotencyKey is the (blockNumber, txHash, eventIndex) tuple spec §4.2
// checks against EntityState.ProcessedRequests to make j_event absorption
// idempotent (I6/Testable property 4).
func (e Event) IdempotencyKey() string {
	return idempotencyKey(e.BlockNumber, e.TransactionHash, e.EventIndex)
}

func idempotencyKey(blockNumber uint64, txHash string, eventIndex uint32) string {
	return jEventKeyPrefix + itoa(blockNumber) + ":" + txHash + ":" + itoa(uint64(eventIndex))
}

const jEventKeyPrefix = "j_event:"

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
