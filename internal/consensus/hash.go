package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/xlnfinance/xln/internal/entitytx"
)

// frameHash computes the deterministic commitment hash of a candidate frame
// (spec §4.3 "Proposal hash": a function of height, timestamp, txs). Built
// field-by-field rather than via gob/json, because map iteration order
// (entitytx.ProfileUpdatePayload.Profile) is otherwise nondeterministic —
// the spec's design note on canonical serialization (§9) applies here too.
func frameHash(height uint64, timestamp int64, txs []entitytx.EntityTx) []byte {
	h := sha256.New()
	writeUint64(h, height)
	writeInt64(h, timestamp)
	writeUint64(h, uint64(len(txs)))
	for _, tx := range txs {
		writeTx(h, tx)
	}
	return h.Sum(nil)
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeInt64(h interface{ Write([]byte) (int, error) }, v int64) {
	writeUint64(h, uint64(v))
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	writeUint64(h, uint64(len(s)))
	h.Write([]byte(s))
}

func writeBytes(h interface{ Write([]byte) (int, error) }, b []byte) {
	writeUint64(h, uint64(len(b)))
	h.Write(b)
}

func writeTx(h interface{ Write([]byte) (int, error) }, tx entitytx.EntityTx) {
	writeString(h, string(tx.Type))
	writeString(h, string(tx.From))
	writeUint64(h, tx.Nonce)

	switch tx.Type {
	case entitytx.TxChat:
		if tx.Chat != nil {
			writeString(h, tx.Chat.Message)
		}
	case entitytx.TxPropose:
		if tx.Propose != nil {
			writeString(h, tx.Propose.ProposalID)
			writeString(h, tx.Propose.Action)
		}
	case entitytx.TxVote:
		if tx.Vote != nil {
			writeString(h, tx.Vote.ProposalID)
			writeString(h, string(tx.Vote.Choice))
		}
	case entitytx.TxProfileUpdate:
		if tx.ProfileUpdate != nil {
			keys := make([]string, 0, len(tx.ProfileUpdate.Profile))
			for k := range tx.ProfileUpdate.Profile {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				writeString(h, k)
				writeString(h, tx.ProfileUpdate.Profile[k])
			}
		}
	case entitytx.TxJEvent:
		if tx.JEvent != nil {
			writeString(h, string(tx.JEvent.Event.Type))
			writeUint64(h, tx.JEvent.Event.BlockNumber)
			writeString(h, tx.JEvent.Event.TransactionHash)
			writeUint64(h, uint64(tx.JEvent.Event.EventIndex))
		}
	case entitytx.TxOpenAccount:
		if tx.OpenAccount != nil {
			writeBytes(h, tx.OpenAccount.Counterparty[:])
			if tx.OpenAccount.OwnCreditLimit != nil {
				writeBytes(h, tx.OpenAccount.OwnCreditLimit.Bytes())
			}
			if tx.OpenAccount.PeerCreditLimit != nil {
				writeBytes(h, tx.OpenAccount.PeerCreditLimit.Bytes())
			}
		}
	case entitytx.TxAccountInput:
		if tx.AccountInput != nil {
			writeBytes(h, tx.AccountInput.Counterparty[:])
			writeUint64(h, tx.AccountInput.Message.TokenId)
			if tx.AccountInput.Message.Delta.Collateral != nil {
				writeBytes(h, tx.AccountInput.Message.Delta.Collateral.Bytes())
			}
		}
	}
}
