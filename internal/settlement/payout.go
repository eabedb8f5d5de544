// Package settlement holds the pure payout arithmetic and the per-market
// state machine. Nothing here touches storage or custody.
package settlement

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Fee schedule applied to every winning claim. The per-market FeeBps is not
// consulted.
const (
	BpsDenominator = 10_000
	TotalFeeBps    = 100
	CreatorFeeBps  = 50
	TreasuryFeeBps = 50
)

// Payout is the breakdown of one winning claim.
type Payout struct {
	Gross       uint64 `json:"gross"`
	FeeTotal    uint64 `json:"fee_total"`
	CreatorFee  uint64 `json:"creator_fee"`
	TreasuryFee uint64 `json:"treasury_fee"`
	Net         uint64 `json:"net"`
}

// Disbursed is the total leaving escrow for this payout.
func (p Payout) Disbursed() (uint64, error) {
	sum, err := checkedAdd(p.Net, p.CreatorFee)
	if err != nil {
		return 0, err
	}
	return checkedAdd(sum, p.TreasuryFee)
}

// ComputePayout computes the payout of a winning stake of amount against the
// side totals, given outcome. Products are taken in 256-bit words and every
// result is narrowed back to 64 bits with a range check.
//
//	gross        = floor(amount * (yes + no) / winning)
//	fee_total    = floor(gross * 100 / 10000)
//	fee_creator  = floor(gross *  50 / 10000)
//	fee_treasury = floor(gross *  50 / 10000)
//	net          = gross - fee_total
//
// The pool sum is checked before the winning side is tested for zero, so
// inconsistent totals report ErrOverflow ahead of ErrNoWinners.
func ComputePayout(amount, totalYes, totalNo uint64, outcome bool) (Payout, error) {
	totalWinning := totalNo
	if outcome {
		totalWinning = totalYes
	}
	totalPool, err := checkedAdd(totalYes, totalNo)
	if err != nil {
		return Payout{}, err
	}
	if totalWinning == 0 {
		return Payout{}, domain.ErrNoWinners
	}

	gross, err := mulDiv(amount, totalPool, totalWinning)
	if err != nil {
		return Payout{}, err
	}
	feeTotal, err := mulDiv(gross, TotalFeeBps, BpsDenominator)
	if err != nil {
		return Payout{}, err
	}
	creatorFee, err := mulDiv(gross, CreatorFeeBps, BpsDenominator)
	if err != nil {
		return Payout{}, err
	}
	treasuryFee, err := mulDiv(gross, TreasuryFeeBps, BpsDenominator)
	if err != nil {
		return Payout{}, err
	}
	if feeTotal > gross {
		return Payout{}, domain.ErrOverflow
	}

	return Payout{
		Gross:       gross,
		FeeTotal:    feeTotal,
		CreatorFee:  creatorFee,
		TreasuryFee: treasuryFee,
		Net:         gross - feeTotal,
	}, nil
}

// mulDiv returns floor(a*b/d) or ErrOverflow when the quotient does not fit
// in 64 bits.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrOverflow
	}
	x := uint256.NewInt(a)
	y := uint256.NewInt(b)
	prod, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return 0, domain.ErrOverflow
	}
	q := new(uint256.Int).Div(prod, uint256.NewInt(d))
	if !q.IsUint64() {
		return 0, domain.ErrOverflow
	}
	return q.Uint64(), nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, domain.ErrOverflow
	}
	return sum, nil
}

// AddToSide returns totals with amount added to side, or ErrOverflow.
func AddToSide(totalYes, totalNo, amount uint64, side bool) (uint64, uint64, error) {
	var err error
	if side {
		totalYes, err = checkedAdd(totalYes, amount)
	} else {
		totalNo, err = checkedAdd(totalNo, amount)
	}
	return totalYes, totalNo, err
}

// SubFromSide returns totals with amount removed from side, or ErrOverflow
// on underflow.
func SubFromSide(totalYes, totalNo, amount uint64, side bool) (uint64, uint64, error) {
	cur := &totalNo
	if side {
		cur = &totalYes
	}
	if *cur < amount {
		return 0, 0, domain.ErrOverflow
	}
	*cur -= amount
	return totalYes, totalNo, nil
}
