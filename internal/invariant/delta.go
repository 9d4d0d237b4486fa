// Package invariant implements the RCPAN (reserve-credit-collateral)
// invariant math of spec §4.1 (C1): deriving per-token flow capacity from a
// bilateral Delta. The function is total for well-formed input and uses
// arbitrary-precision arithmetic throughout, so overflow cannot occur.
package invariant

import (
	"fmt"
	"math/big"
)

// Delta is one token's bilateral position between a left and right entity
// (spec §3). Collateral is on-chain locked value; ondelta+offdelta is the
// signed position (positive means left owes right). Allowance fields are
// preserved per spec §9 but no transaction mutates them yet.
type Delta struct {
	Collateral       *big.Int
	Ondelta          *big.Int
	Offdelta         *big.Int
	LeftCreditLimit  *big.Int
	RightCreditLimit *big.Int
	LeftAllowance    *big.Int
	RightAllowance   *big.Int
}

// DerivedDelta is the observable "how much can flow in each direction right
// now" view computed by DeriveDelta.
type DerivedDelta struct {
	InCollateral  *big.Int
	OutCollateral *big.Int

	InOwnCredit   *big.Int
	OutPeerCredit *big.Int
	OutOwnCredit  *big.Int
	InPeerCredit  *big.Int

	TotalCapacity *big.Int
	InCapacity    *big.Int
	OutCapacity   *big.Int
}

func nn(x *big.Int) *big.Int {
	if x.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(x)
}

func zeroIfNil(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return x
}

// DeriveDelta computes the DerivedDelta for delta from the left party's
// point of view, unless fromCounterpartyView is true. spec §4.1 requires
// that the counterparty view swap collateral, capacity, and credit in-/
// out- pairs (and own/peer credit) to match: the right party's "in" is the
// left party's "out" and vice versa. This is computed by always deriving
// from the left's raw fields, then swapping the resulting pairs — not by
// swapping the inputs and re-deriving, which only reorients the credit
// limits fed into T=ondelta+offdelta and leaves the in-/out- results (and
// T's sign) untouched.
//
// collateral must be non-negative and both credit limits non-negative
// (spec §3 I3); the function is total otherwise.
func DeriveDelta(delta *Delta, fromCounterpartyView bool) (*DerivedDelta, error) {
	if delta == nil {
		return nil, fmt.Errorf("invariant: nil delta")
	}
	collateral := zeroIfNil(delta.Collateral)
	if collateral.Sign() < 0 {
		return nil, fmt.Errorf("invariant: collateral must be non-negative, got %s", collateral)
	}
	ownCreditLimit, peerCreditLimit := zeroIfNil(delta.LeftCreditLimit), zeroIfNil(delta.RightCreditLimit)
	ownAllowance, peerAllowance := zeroIfNil(delta.LeftAllowance), zeroIfNil(delta.RightAllowance)
	if ownCreditLimit.Sign() < 0 || peerCreditLimit.Sign() < 0 {
		return nil, fmt.Errorf("invariant: credit limits must be non-negative")
	}

	// Open Question (spec §9): the spec defines inAllowance/outAllowance in
	// the capacity formulas but no transaction mutates them and leaves their
	// left/right mapping unspecified. This module's resolution: inAllowance
	// is the peer's reserved capacity (it limits what can flow toward you),
	// outAllowance is your own reserved capacity (it limits what you can
	// send) — symmetric with how own/peer credit limits are already used.
	derived := deriveFromLeft(collateral, zeroIfNil(delta.Ondelta), zeroIfNil(delta.Offdelta), ownCreditLimit, peerCreditLimit, peerAllowance, ownAllowance)
	if fromCounterpartyView {
		derived = swapView(derived)
	}
	return derived, nil
}

// swapView reorients a left-computed DerivedDelta to the counterparty's
// point of view: in/out swap, and own/peer swap for the credit quantities
// (spec §4.1).
func swapView(d *DerivedDelta) *DerivedDelta {
	return &DerivedDelta{
		InCollateral:  d.OutCollateral,
		OutCollateral: d.InCollateral,
		InOwnCredit:   d.OutPeerCredit,
		OutPeerCredit: d.InOwnCredit,
		OutOwnCredit:  d.InPeerCredit,
		InPeerCredit:  d.OutOwnCredit,
		TotalCapacity: d.TotalCapacity,
		InCapacity:    d.OutCapacity,
		OutCapacity:   d.InCapacity,
	}
}

// deriveFromLeft applies the formulas of spec §4.1 verbatim, with
// ownCreditLimit/peerCreditLimit/inAllowance/outAllowance always oriented
// for the left party; DeriveDelta reorients the result via swapView when
// the counterparty view is requested.
func deriveFromLeft(collateral, ondelta, offdelta, ownCreditLimit, peerCreditLimit, inAllowance, outAllowance *big.Int) *DerivedDelta {
	t := new(big.Int).Add(ondelta, offdelta)
	c := collateral // already nn'd by caller

	var inCollateral, outCollateral *big.Int
	if t.Sign() > 0 {
		inCollateral = nn(new(big.Int).Sub(c, t))
		outCollateral = minBig(t, c)
	} else {
		inCollateral = new(big.Int).Set(c)
		outCollateral = big.NewInt(0)
	}

	negT := new(big.Int).Neg(t)
	inOwnCredit := minBig(nn(negT), ownCreditLimit)

	tMinusC := new(big.Int).Sub(t, c)
	outPeerCredit := minBig(nn(tMinusC), peerCreditLimit)

	outOwnCredit := new(big.Int).Sub(ownCreditLimit, inOwnCredit)
	inPeerCredit := new(big.Int).Sub(peerCreditLimit, outPeerCredit)

	totalCapacity := new(big.Int).Add(c, new(big.Int).Add(ownCreditLimit, peerCreditLimit))

	inCapacitySum := new(big.Int).Add(inOwnCredit, inCollateral)
	inCapacitySum.Add(inCapacitySum, inPeerCredit)
	inCapacitySum.Sub(inCapacitySum, inAllowance)
	inCapacity := nn(inCapacitySum)

	outCapacitySum := new(big.Int).Add(outPeerCredit, outCollateral)
	outCapacitySum.Add(outCapacitySum, outOwnCredit)
	outCapacitySum.Sub(outCapacitySum, outAllowance)
	outCapacity := nn(outCapacitySum)

	return &DerivedDelta{
		InCollateral:  inCollateral,
		OutCollateral: outCollateral,
		InOwnCredit:   inOwnCredit,
		OutPeerCredit: outPeerCredit,
		OutOwnCredit:  outOwnCredit,
		InPeerCredit:  inPeerCredit,
		TotalCapacity: totalCapacity,
		InCapacity:    inCapacity,
		OutCapacity:   outCapacity,
	}
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
