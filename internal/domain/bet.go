package domain

import "time"

// Side values for Bet.Side.
const (
	SideYes = true
	SideNo  = false
)

// SideName renders a side as "yes" or "no".
func SideName(side bool) string {
	if side {
		return "yes"
	}
	return "no"
}

// ParseSide accepts "yes"/"no" (and "true"/"false").
func ParseSide(s string) (bool, bool) {
	switch s {
	case "yes", "true", "YES", "Yes":
		return true, true
	case "no", "false", "NO", "No":
		return false, true
	}
	return false, false
}

// Bet is the single stake a user holds in a market. Key is derived from the
// (market, user) pair so at most one record can ever exist per pair.
type Bet struct {
	Key         string     `json:"key"`
	Market      string     `json:"market"`
	User        Identity   `json:"user"`
	Side        bool       `json:"side"`
	Amount      uint64     `json:"amount"`
	Claimed     bool       `json:"claimed"`
	Initialized bool       `json:"initialized"`
	Payout      uint64     `json:"payout"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}
