package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/internal/consensus"
	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/xid"
)

func TestSend_UnknownSenderRejected(t *testing.T) {
	f := New()
	to := xid.EntityId{0x02}
	_, err := f.Send(xid.EntityId{0x01}, to, "s1", consensus.EntityInput{})
	assert.ErrorIs(t, err, ErrUnknownSender)
}

func TestSend_PreservesPerChannelOrder(t *testing.T) {
	f := New()
	from := xid.EntityId{0x01}
	to := xid.EntityId{0x02}
	f.Register(from)

	for i := 0; i < 3; i++ {
		_, err := f.Send(from, to, "s1", consensus.EntityInput{
			EntityTxs: []entitytx.EntityTx{{Type: entitytx.TxChat, From: "s1", Chat: &entitytx.ChatPayload{Message: string(rune('a' + i))}}},
		})
		require.NoError(t, err)
	}

	pending := f.GetPending(to)
	require.Len(t, pending, 3)
	for i, msg := range pending {
		assert.Equal(t, uint64(i), msg.SequenceNumber)
	}

	assert.Empty(t, f.GetPending(to), "GetPending drains the queue")
}

func TestBroadcast_DeliversToAllTargets(t *testing.T) {
	f := New()
	from := xid.EntityId{0x01}
	f.Register(from)
	targets := []xid.EntityId{{0x02}, {0x03}, {0x04}}

	msgs, err := f.Broadcast(from, targets, "s1", consensus.EntityInput{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for _, target := range targets {
		assert.Len(t, f.GetPending(target), 1)
	}
}
