package invariant

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func big64(v int64) *big.Int { return big.NewInt(v) }

// Scenario D from spec §8.
func TestDeriveDelta_ScenarioD(t *testing.T) {
	delta := &Delta{
		Collateral:       big64(1000),
		Ondelta:          big64(200),
		Offdelta:         big64(-50),
		LeftCreditLimit:  big64(500),
		RightCreditLimit: big64(500),
		LeftAllowance:    big64(0),
		RightAllowance:   big64(0),
	}

	derived, err := DeriveDelta(delta, false)
	require.NoError(t, err)

	assert.Equal(t, big64(850), derived.InCollateral)
	assert.Equal(t, big64(150), derived.OutCollateral)
	assert.Equal(t, big64(0), derived.InOwnCredit)
	assert.Equal(t, big64(0), derived.OutPeerCredit)
	assert.Equal(t, big64(1350), derived.InCapacity)
	assert.Equal(t, big64(650), derived.OutCapacity)
	assert.Equal(t, big64(2000), derived.TotalCapacity)
	assert.Equal(t, derived.TotalCapacity, new(big.Int).Add(derived.InCapacity, derived.OutCapacity))
}

func TestDeriveDelta_CounterpartyViewSwapsOwnPeer(t *testing.T) {
	delta := &Delta{
		Collateral:       big64(1000),
		Ondelta:          big64(200),
		Offdelta:         big64(-50),
		LeftCreditLimit:  big64(500),
		RightCreditLimit: big64(500),
		LeftAllowance:    big64(0),
		RightAllowance:   big64(0),
	}

	left, err := DeriveDelta(delta, false)
	require.NoError(t, err)
	right, err := DeriveDelta(delta, true)
	require.NoError(t, err)

	// The counterparty view swaps in/out (and own/peer) pairs: the right
	// party's in is the left party's out, per spec §4.1.
	assert.Equal(t, left.OutCollateral, right.InCollateral)
	assert.Equal(t, left.InCollateral, right.OutCollateral)
	assert.Equal(t, left.OutCapacity, right.InCapacity)
	assert.Equal(t, left.InCapacity, right.OutCapacity)
	assert.Equal(t, big64(150), right.InCollateral)
	assert.Equal(t, big64(850), right.OutCollateral)
	assert.Equal(t, big64(650), right.InCapacity)
	assert.Equal(t, big64(1350), right.OutCapacity)
	assert.Equal(t, left.OutPeerCredit, right.InOwnCredit)
	assert.Equal(t, left.InOwnCredit, right.OutPeerCredit)
	assert.Equal(t, left.InPeerCredit, right.OutOwnCredit)
	assert.Equal(t, left.OutOwnCredit, right.InPeerCredit)

	assert.Equal(t, left.TotalCapacity, right.TotalCapacity)
	assert.Equal(t, right.TotalCapacity, new(big.Int).Add(right.InCapacity, right.OutCapacity))
}

func TestDeriveDelta_CapacityBoundHolds(t *testing.T) {
	cases := []*Delta{
		{Collateral: big64(0), Ondelta: big64(0), Offdelta: big64(0), LeftCreditLimit: big64(0), RightCreditLimit: big64(0), LeftAllowance: big64(0), RightAllowance: big64(0)},
		{Collateral: big64(100), Ondelta: big64(-80), Offdelta: big64(0), LeftCreditLimit: big64(20), RightCreditLimit: big64(30), LeftAllowance: big64(0), RightAllowance: big64(0)},
		{Collateral: big64(50), Ondelta: big64(500), Offdelta: big64(-450), LeftCreditLimit: big64(1000), RightCreditLimit: big64(1000), LeftAllowance: big64(0), RightAllowance: big64(0)},
	}
	for _, d := range cases {
		derived, err := DeriveDelta(d, false)
		require.NoError(t, err)
		assert.True(t, derived.InCapacity.Sign() >= 0)
		assert.True(t, derived.OutCapacity.Sign() >= 0)
		sum := new(big.Int).Add(derived.InCapacity, derived.OutCapacity)
		assert.True(t, sum.Cmp(derived.TotalCapacity) <= 0)
	}
}

func TestDeriveDelta_RejectsNegativeCollateral(t *testing.T) {
	_, err := DeriveDelta(&Delta{
		Collateral:       big64(-1),
		LeftCreditLimit:  big64(0),
		RightCreditLimit: big64(0),
	}, false)
	assert.Error(t, err)
}
