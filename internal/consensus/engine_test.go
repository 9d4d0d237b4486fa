package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/xcrypto"
	"github.com/xlnfinance/xln/internal/xid"
)

func newTestReplica(t *testing.T, entity xid.EntityId, signer xid.SignerId, cfg entitytx.Config) *Replica {
	t.Helper()
	keys, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)
	return &Replica{
		EntityID: entity,
		SignerID: signer,
		Keys:     keys,
		Config:   cfg,
		State:    entitytx.NewEntityState(cfg),
	}
}

func threeValidatorConfig() entitytx.Config {
	return entitytx.Config{
		Mode:       entitytx.ProposerBased,
		Validators: []xid.SignerId{"v1", "v2", "v3"},
		Threshold:  2,
		Shares:     map[xid.SignerId]uint64{"v1": 1, "v2": 1, "v3": 1},
	}
}

// Scenario B from spec §8.
func TestProcessInput_MultiSignerProposerPath(t *testing.T) {
	cfg := threeValidatorConfig()
	entity := xid.EntityId{0xE1}

	v1 := newTestReplica(t, entity, "v1", cfg)
	v2 := newTestReplica(t, entity, "v2", cfg)
	v3 := newTestReplica(t, entity, "v3", cfg)

	// v2 receives a chat tx and forwards it to the proposer v1.
	routedFromV2, outputs, err := ProcessInput(v2, EntityInput{
		EntityTxs: []entitytx.EntityTx{{Type: entitytx.TxChat, From: "v2", Nonce: 0, Chat: &entitytx.ChatPayload{Message: "hi"}}},
	}, 1000)
	require.NoError(t, err)
	assert.Empty(t, outputs)
	require.Len(t, routedFromV2, 1)
	assert.Equal(t, xid.SignerId("v1"), routedFromV2[0].To)
	assert.Empty(t, v2.Mempool)

	// v1 absorbs the forwarded tx and auto-proposes.
	routedFromV1, _, err := ProcessInput(v1, routedFromV2[0].Input, 1001)
	require.NoError(t, err)
	require.Len(t, routedFromV1, 2, "proposal goes to v2 and v3")
	require.NotNil(t, v1.Proposal)
	assert.Equal(t, []xid.SignerId{"v1"}, keysOf(v1.Proposal.Signatures))

	proposalToV2 := findRoutedTo(routedFromV1, "v2")
	proposalToV3 := findRoutedTo(routedFromV1, "v3")
	require.NotNil(t, proposalToV2)
	require.NotNil(t, proposalToV3)

	// v2 and v3 lock and precommit back to v1.
	precommitFromV2, _, err := ProcessInput(v2, proposalToV2.Input, 1002)
	require.NoError(t, err)
	require.Len(t, precommitFromV2, 1)
	assert.Equal(t, xid.SignerId("v1"), precommitFromV2[0].To)

	precommitFromV3, _, err := ProcessInput(v3, proposalToV3.Input, 1002)
	require.NoError(t, err)
	require.Len(t, precommitFromV3, 1)

	// v1 aggregates v2's precommit: power = shares(v1) + shares(v2) = 2 >= threshold.
	commitRouted, _, err := ProcessInput(v1, precommitFromV2[0].Input, 1003)
	require.NoError(t, err)
	require.Len(t, commitRouted, 2, "commit notification goes to v2 and v3")
	assert.Equal(t, uint64(1), v1.State.Height)
	assert.Nil(t, v1.Proposal)
	assert.Empty(t, v1.Mempool)

	notifyV2 := findRoutedTo(commitRouted, "v2")
	notifyV3 := findRoutedTo(commitRouted, "v3")
	require.NotNil(t, notifyV2)
	require.NotNil(t, notifyV3)

	_, _, err = ProcessInput(v2, notifyV2.Input, 1004)
	require.NoError(t, err)
	_, _, err = ProcessInput(v3, notifyV3.Input, 1004)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v1.State.Height)
	assert.Equal(t, uint64(1), v2.State.Height)
	assert.Equal(t, uint64(1), v3.State.Height)
	assert.Empty(t, v2.Mempool)
	assert.Empty(t, v3.Mempool)
	assert.Nil(t, v2.LockedFrame)
	assert.Nil(t, v3.LockedFrame)
}

// Scenario C from spec §8.
func TestProcessInput_ByzantineDoubleSignRejected(t *testing.T) {
	cfg := threeValidatorConfig()
	entity := xid.EntityId{0xE2}
	v1 := newTestReplica(t, entity, "v1", cfg)

	v1.Proposal = &ProposedFrame{
		Height:     1,
		Hash:       []byte("frame-hash-h1"),
		Signatures: map[xid.SignerId][]byte{},
	}

	_, _, err := ProcessInput(v1, EntityInput{Precommits: map[xid.SignerId][]byte{"v2": []byte("sig_v2_h1a")}}, 1000)
	require.NoError(t, err)
	require.Equal(t, []byte("sig_v2_h1a"), v1.Proposal.Signatures["v2"])

	_, _, err = ProcessInput(v1, EntityInput{Precommits: map[xid.SignerId][]byte{"v2": []byte("sig_v2_h1b")}}, 1001)
	require.Error(t, err)
	assert.Equal(t, []byte("sig_v2_h1a"), v1.Proposal.Signatures["v2"], "the original precommit must survive untouched")
}

func TestProcessInput_SingleSignerFastPath(t *testing.T) {
	cfg := entitytx.Config{
		Mode:       entitytx.ProposerBased,
		Validators: []xid.SignerId{"s1"},
		Threshold:  1,
		Shares:     map[xid.SignerId]uint64{"s1": 1},
	}
	r := newTestReplica(t, xid.EntityId{0xFA}, "s1", cfg)

	routed, outputs, err := ProcessInput(r, EntityInput{
		EntityTxs: []entitytx.EntityTx{{Type: entitytx.TxChat, From: "s1", Nonce: 0, Chat: &entitytx.ChatPayload{Message: "fast"}}},
	}, 2000)

	require.NoError(t, err)
	assert.Empty(t, routed, "fast path applies directly, nobody to notify")
	assert.Empty(t, outputs)
	assert.Equal(t, uint64(1), r.State.Height)
	assert.Nil(t, r.Proposal)
}

func threeValidatorGossipConfig() entitytx.Config {
	cfg := threeValidatorConfig()
	cfg.Mode = entitytx.GossipBased
	return cfg
}

// Gossip-based mode still designates Validators[0] as the frame drafter
// (spec §3, §4.3); it differs from proposer-based only in broadcasting
// precommits to every validator in step 5 instead of funneling them back
// to a single aggregator.
func TestProcessInput_GossipBasedStillCommits(t *testing.T) {
	cfg := threeValidatorGossipConfig()
	entity := xid.EntityId{0xE3}

	v1 := newTestReplica(t, entity, "v1", cfg)
	v2 := newTestReplica(t, entity, "v2", cfg)
	v3 := newTestReplica(t, entity, "v3", cfg)

	assert.True(t, v1.IsProposer())
	assert.False(t, v2.IsProposer())
	assert.False(t, v3.IsProposer())

	// v1 absorbs a chat tx directly (it is its own proposer, nothing to
	// forward) and auto-proposes.
	routedFromV1, _, err := ProcessInput(v1, EntityInput{
		EntityTxs: []entitytx.EntityTx{{Type: entitytx.TxChat, From: "v1", Nonce: 0, Chat: &entitytx.ChatPayload{Message: "hi"}}},
	}, 1000)
	require.NoError(t, err)
	require.Len(t, routedFromV1, 2, "proposal goes to v2 and v3")
	require.NotNil(t, v1.Proposal)

	proposalToV2 := findRoutedTo(routedFromV1, "v2")
	proposalToV3 := findRoutedTo(routedFromV1, "v3")
	require.NotNil(t, proposalToV2)
	require.NotNil(t, proposalToV3)

	// v2 and v3 lock and gossip their precommit to every other validator,
	// not just v1.
	precommitFromV2, _, err := ProcessInput(v2, proposalToV2.Input, 1001)
	require.NoError(t, err)
	require.Len(t, precommitFromV2, 2, "gossip broadcasts to all other validators")

	precommitFromV3, _, err := ProcessInput(v3, proposalToV3.Input, 1001)
	require.NoError(t, err)
	require.Len(t, precommitFromV3, 2)

	// v1 aggregates v2's precommit: power = shares(v1) + shares(v2) = 2 >= threshold.
	v2PrecommitToV1 := findRoutedTo(precommitFromV2, "v1")
	require.NotNil(t, v2PrecommitToV1)
	commitRouted, _, err := ProcessInput(v1, v2PrecommitToV1.Input, 1002)
	require.NoError(t, err)
	require.Len(t, commitRouted, 2, "commit notification goes to v2 and v3 in gossip mode too")
	assert.Equal(t, uint64(1), v1.State.Height)
	assert.Nil(t, v1.Proposal)

	notifyV2 := findRoutedTo(commitRouted, "v2")
	notifyV3 := findRoutedTo(commitRouted, "v3")
	require.NotNil(t, notifyV2)
	require.NotNil(t, notifyV3)

	_, _, err = ProcessInput(v2, notifyV2.Input, 1003)
	require.NoError(t, err)
	_, _, err = ProcessInput(v3, notifyV3.Input, 1003)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v2.State.Height)
	assert.Equal(t, uint64(1), v3.State.Height)
}

func keysOf(m map[xid.SignerId][]byte) []xid.SignerId {
	out := make([]xid.SignerId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func findRoutedTo(routed []RoutedInput, to xid.SignerId) *RoutedInput {
	for i := range routed {
		if routed[i].To == to {
			return &routed[i]
		}
	}
	return nil
}
