package settlement

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Quote previews what a new stake would pay if its side won, assuming no
// further bets arrive.
type Quote struct {
	Side   bool   `json:"side"`
	Amount uint64 `json:"amount"`
	Payout Payout `json:"payout"`

	// ImpliedProbability is the side's share of the pool after the stake,
	// rounded to 6 places.
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
	// Multiplier is net / amount, rounded to 6 places.
	Multiplier         decimal.Decimal `json:"multiplier"`
}

// QuoteBet computes a Quote for amount on side against m's current totals.
func QuoteBet(m domain.Market, side bool, amount uint64) (Quote, error) {
	if amount == 0 {
		return Quote{}, domain.ErrInvalidBetAmount
	}
	yes, no, err := AddToSide(m.TotalYes, m.TotalNo, amount, side)
	if err != nil {
		return Quote{}, err
	}
	p, err := ComputePayout(amount, yes, no, side)
	if err != nil {
		return Quote{}, err
	}

	pool := new(big.Int).Add(new(big.Int).SetUint64(yes), new(big.Int).SetUint64(no))
	sideTotal := no
	if side {
		sideTotal = yes
	}
	prob := decimal.NewFromBigInt(new(big.Int).SetUint64(sideTotal), 0).
		DivRound(decimal.NewFromBigInt(pool, 0), 6)
	mult := decimal.NewFromBigInt(new(big.Int).SetUint64(p.Net), 0).
		DivRound(decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0), 6)

	return Quote{
		Side:               side,
		Amount:             amount,
		Payout:             p,
		ImpliedProbability: prob,
		Multiplier:         mult,
	}, nil
}
