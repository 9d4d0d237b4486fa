// Package xid defines the addressing primitives of the entity replication
// layer: EntityId (spec §3, a 32-byte entity address) and SignerId (a
// validator's signer identity). It also provides a DID-style display
// encoding for entity ids, grounded in the teacher's crypto/did.go use of
// multibase + multicodec.
package xid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
)

// EntityId addresses an entity (spec §3).
type EntityId [32]byte

// SignerId identifies a validator within an entity's Config.Validators.
type SignerId string

var ErrInvalidEntityId = errors.New("invalid entity id")

// CodecRawEntityId is a private-use multicodec code for a raw 32-byte entity
// id, used only for the did:xln display form — it carries no cryptographic
// meaning, unlike the teacher's did:key for public keys.
const CodecRawEntityId multicodec.Code = 0x300000

// ParseEntityId decodes a 64-char hex string into an EntityId.
func ParseEntityId(s string) (EntityId, error) {
	var id EntityId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidEntityId, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidEntityId, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex encoding of the entity id.
func (e EntityId) String() string {
	return hex.EncodeToString(e[:])
}

// DID returns a did:xln:<multibase> display form of the entity id.
func (e EntityId) DID() string {
	header := multicodec.Header(CodecRawEntityId)
	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(e[:])
	encoded, err := multibase.Encode(multibase.Base58BTC, buf.Bytes())
	if err != nil {
		// multibase.Encode only fails for unsupported bases; Base58BTC is
		// always supported, so this is unreachable in practice.
		return e.String()
	}
	return "did:xln:" + encoded
}

// Less provides a total order over EntityId for deterministic iteration.
func (e EntityId) Less(other EntityId) bool {
	return bytes.Compare(e[:], other[:]) < 0
}

// SortedEntityIds returns ids sorted ascending, for deterministic iteration
// over maps keyed by EntityId (spec §4.2 "reserves and accounts sort by
// key").
func SortedEntityIds[V any](m map[EntityId]V) []EntityId {
	ids := make([]EntityId, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// SortedSignerIds returns signer ids sorted ascending.
func SortedSignerIds[V any](m map[SignerId]V) []SignerId {
	ids := make([]SignerId, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IndexInValidators returns the position of signer in the ordered validator
// list, or -1 if absent. Used to sort signature sets by validator order
// (spec §4.2: "signatures sort by the order of config.validators").
func IndexInValidators(validators []SignerId, signer SignerId) int {
	for i, v := range validators {
		if v == signer {
			return i
		}
	}
	return -1
}

// SortSignersByValidatorOrder sorts signers according to their position in
// validators, placing any signer not found in validators at the end in
// lexical order (defensive; should not occur for well-formed config).
func SortSignersByValidatorOrder(validators []SignerId, signers []SignerId) []SignerId {
	out := make([]SignerId, len(signers))
	copy(out, signers)
	sort.Slice(out, func(i, j int) bool {
		ii, jj := IndexInValidators(validators, out[i]), IndexInValidators(validators, out[j])
		if ii == -1 && jj == -1 {
			return out[i] < out[j]
		}
		if ii == -1 {
			return false
		}
		if jj == -1 {
			return true
		}
		return ii < jj
	})
	return out
}

// SortedTokenIds returns tokenIds sorted ascending (spec §4.2: "reserves ...
// sort by key").
func SortedTokenIds[V any](m map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
