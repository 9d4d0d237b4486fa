package snapshot

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/xid"
)

type testEnvelope struct {
	Height   uint64
	JBlock   uint64
	Reserves map[uint64]*big.Int
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	original := testEnvelope{
		Height: 42,
		JBlock: 7,
		Reserves: map[uint64]*big.Int{
			1: big.NewInt(10_000000000000000),
			2: new(big.Int).SetUint64(1 << 63),
		},
	}

	data, err := Encode(original)
	require.NoError(t, err)
	assert.Equal(t, Version, data[0])

	var decoded testEnvelope
	require.NoError(t, Decode(data, &decoded))

	assert.Equal(t, original.Height, decoded.Height)
	assert.Equal(t, original.JBlock, decoded.JBlock)
	assert.Equal(t, original.Reserves[1], decoded.Reserves[1])
	assert.Equal(t, original.Reserves[2], decoded.Reserves[2])
}

func TestDecode_RejectsUnknownVersion(t *testing.T) {
	err := Decode([]byte{99, 0, 0}, &testEnvelope{})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

// A real EntityState, not a synthetic envelope: exercises the exported
// ProposalSeq counter (spec §8 property 8 round-trip equality) and the
// insertion-order-dependent SortedProposalIds that depends on it.
func TestEncodeDecode_RoundTrip_EntityState(t *testing.T) {
	cfg := entitytx.Config{
		Mode:       entitytx.ProposerBased,
		Validators: []xid.SignerId{"s1"},
		Threshold:  1,
		Shares:     map[xid.SignerId]uint64{"s1": 1},
	}
	state := entitytx.NewEntityState(cfg)
	state.Height = 5
	state.Proposals["p2"] = &entitytx.Proposal{ID: "p2", Votes: map[xid.SignerId]entitytx.VoteChoice{}, Status: entitytx.ProposalPending, Sequence: 2}
	state.Proposals["p1"] = &entitytx.Proposal{ID: "p1", Votes: map[xid.SignerId]entitytx.VoteChoice{}, Status: entitytx.ProposalPending, Sequence: 1}
	state.ProposalSeq = 2

	data, err := Encode(state)
	require.NoError(t, err)

	var decoded entitytx.EntityState
	require.NoError(t, Decode(data, &decoded))

	assert.Equal(t, state.Height, decoded.Height)
	assert.Equal(t, state.ProposalSeq, decoded.ProposalSeq)
	assert.Equal(t, []string{"p1", "p2"}, decoded.SortedProposalIds())
}

func TestHeightKeyEncoding_RoundTrip(t *testing.T) {
	h := EncodeHeight(123456)
	got, err := DecodeHeight(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), got)
}
