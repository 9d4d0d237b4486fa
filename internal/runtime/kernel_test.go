package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xlnfinance/xln/internal/consensus"
	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/fabric"
	"github.com/xlnfinance/xln/internal/store"
	"github.com/xlnfinance/xln/internal/xcrypto"
	"github.com/xlnfinance/xln/internal/xerr"
	"github.com/xlnfinance/xln/internal/xid"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	return New(fabric.New(), store.NewMemStore(), zap.NewNop())
}

func importSingleSigner(t *testing.T, k *Kernel, entity xid.EntityId, signer xid.SignerId) {
	t.Helper()
	cfg := entitytx.Config{
		Mode:       entitytx.ProposerBased,
		Validators: []xid.SignerId{signer},
		Threshold:  1,
		Shares:     map[xid.SignerId]uint64{signer: 1},
	}
	_, _, err := k.ApplyServerInput(context.Background(), []ServerTx{
		{Type: ServerTxImportReplica, EntityID: entity, SignerID: signer, Config: cfg},
	}, nil)
	require.NoError(t, err)
	keys, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)
	k.AttachKeys(ReplicaKey{EntityID: entity, SignerID: signer}, keys)
}

func TestApplyServerInput_ImportReplicaAndChat(t *testing.T) {
	k := newTestKernel(t)
	entity := xid.EntityId{0x01}
	importSingleSigner(t, k, entity, "s1")

	outputs, next, err := k.ApplyServerInput(context.Background(), nil, []RoutedEntityInput{
		{EntityID: entity, SignerID: "s1", Input: consensus.EntityInput{
			EntityTxs: []entitytx.EntityTx{{Type: entitytx.TxChat, From: "s1", Nonce: 0, Chat: &entitytx.ChatPayload{Message: "hi"}}},
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, outputs)
	assert.Empty(t, next)

	replica := k.env.Replicas[ReplicaKey{EntityID: entity, SignerID: "s1"}]
	assert.Equal(t, uint64(1), replica.State.Height)
	assert.Equal(t, uint64(2), k.env.Height, "the import tick and the chat tick each commit a kernel frame")
}

func TestApplyServerInput_EmptyTickProducesNoFrame(t *testing.T) {
	k := newTestKernel(t)
	outputs, next, err := k.ApplyServerInput(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, outputs)
	assert.Empty(t, next)
	assert.Equal(t, uint64(0), k.env.Height)
}

func TestMergeInputs_IdempotentPrecommitUnion(t *testing.T) {
	entity := xid.EntityId{0x02}
	sig := []byte("sig-a")
	incoming := []RoutedEntityInput{
		{EntityID: entity, SignerID: "v1", Input: consensus.EntityInput{Precommits: map[xid.SignerId][]byte{"v2": sig}}},
		{EntityID: entity, SignerID: "v1", Input: consensus.EntityInput{Precommits: map[xid.SignerId][]byte{"v2": sig}}},
	}
	merged := mergeInputs(make(map[ReplicaKey]consensus.EntityInput), incoming)
	key := ReplicaKey{EntityID: entity, SignerID: "v1"}
	assert.Len(t, merged[key].Precommits, 1)
	assert.Equal(t, sig, merged[key].Precommits["v2"])
}

func TestMergeInputs_KeepsLatestProposedFrame(t *testing.T) {
	entity := xid.EntityId{0x03}
	first := &consensus.ProposedFrame{Height: 1}
	second := &consensus.ProposedFrame{Height: 2}
	incoming := []RoutedEntityInput{
		{EntityID: entity, SignerID: "v1", Input: consensus.EntityInput{ProposedFrame: first}},
		{EntityID: entity, SignerID: "v1", Input: consensus.EntityInput{ProposedFrame: second}},
	}
	merged := mergeInputs(make(map[ReplicaKey]consensus.EntityInput), incoming)
	assert.Equal(t, uint64(2), merged[ReplicaKey{EntityID: entity, SignerID: "v1"}].ProposedFrame.Height)
}

// Scenario F from spec §8: a mis-wired forwarder where every output
// regenerates an equivalent input. Two replicas of the same nominal
// entity are each configured (wrongly) to believe the other is the sole
// proposer, so every forward bounces back forever.
func TestProcessUntilEmpty_CascadeBoundFault(t *testing.T) {
	k := newTestKernel(t)
	entity := xid.EntityId{0x04}

	cfgV1ThinksV2IsProposer := entitytx.Config{
		Mode:       entitytx.ProposerBased,
		Validators: []xid.SignerId{"v2"},
		Threshold:  1,
		Shares:     map[xid.SignerId]uint64{"v2": 1},
	}
	cfgV2ThinksV1IsProposer := entitytx.Config{
		Mode:       entitytx.ProposerBased,
		Validators: []xid.SignerId{"v1"},
		Threshold:  1,
		Shares:     map[xid.SignerId]uint64{"v1": 1},
	}

	_, _, err := k.ApplyServerInput(context.Background(), []ServerTx{
		{Type: ServerTxImportReplica, EntityID: entity, SignerID: "v1", Config: cfgV1ThinksV2IsProposer},
		{Type: ServerTxImportReplica, EntityID: entity, SignerID: "v2", Config: cfgV2ThinksV1IsProposer},
	}, nil)
	require.NoError(t, err)

	heightBeforeFault := k.env.Height

	_, err = k.ProcessUntilEmpty(context.Background(), nil, []RoutedEntityInput{
		{EntityID: entity, SignerID: "v1", Input: consensus.EntityInput{
			EntityTxs: []entitytx.EntityTx{{Type: entitytx.TxChat, From: "v1", Nonce: 0, Chat: &entitytx.ChatPayload{Message: "ping"}}},
		}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, xerr.ErrConsensusLivelock)
	assert.Equal(t, heightBeforeFault+uint64(MaxCascadeIterations), k.env.Height, "every cascade iteration still commits its own kernel frame")
}
