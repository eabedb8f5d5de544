package domain

import "time"

// Market field bounds enforced at creation.
const (
	MaxQuestionLen        = 256
	MaxFeeBps             = 1000
	MaxGracePeriodMinutes = 60
)

// MarketPhase is the derived lifecycle state of a market at a point in time.
type MarketPhase string

const (
	// PhaseOpen accepts bets and may still be cancelled while unfunded.
	PhaseOpen MarketPhase = "open"
	// PhaseAwaitingResolution is past end_time but inside the grace period.
	PhaseAwaitingResolution MarketPhase = "awaiting_resolution"
	// PhaseResolvable is past the resolution deadline, not yet resolved.
	PhaseResolvable MarketPhase = "resolvable"
	PhaseResolved   MarketPhase = "resolved"
	PhaseCancelled  MarketPhase = "cancelled"
)

// Market is one binary prediction question and its escrowed pool.
//
// Creator, Question, EndTime, ResolutionDeadline, GracePeriodMinutes, FeeBps
// and the escrow binding never change after creation.
type Market struct {
	ID                 string    `json:"id"`
	Creator            Identity  `json:"creator"`
	Question           string    `json:"question"`
	EndTime            int64     `json:"end_time"`
	ResolutionDeadline int64     `json:"resolution_deadline"`
	GracePeriodMinutes uint8     `json:"grace_period_minutes"`
	Resolved           bool      `json:"resolved"`
	Outcome            *bool     `json:"outcome,omitempty"`
	Cancelled          bool      `json:"cancelled"`
	EscrowAddress      Identity  `json:"escrow_address"`
	EscrowAuthorityTag string    `json:"escrow_authority_tag"`
	EscrowClosed       bool      `json:"escrow_closed"`
	TotalYes           uint64    `json:"total_yes"`
	TotalNo            uint64    `json:"total_no"`
	FeeBps             uint16    `json:"fee_bps"` // informational; settlement applies a fixed fee
	AuthorizedResolver *Identity `json:"authorized_resolver,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasBets reports whether any stake has been placed on either side.
func (m Market) HasBets() bool {
	return m.TotalYes != 0 || m.TotalNo != 0
}

// SideTotal returns the side total for side.
func (m Market) SideTotal(side bool) uint64 {
	if side {
		return m.TotalYes
	}
	return m.TotalNo
}

// IsCreator reports whether id created the market.
func (m Market) IsCreator(id Identity) bool {
	return m.Creator == id
}
