package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a committed ledger event. Values are stable and used as
// stream fields and archive keys.
type EventType string

const (
	EventMarketCreated         EventType = "MarketCreated"
	EventBetPlaced             EventType = "BetPlaced"
	EventMarketResolved        EventType = "MarketResolved"
	EventClaimed               EventType = "Claimed"
	EventBetRefunded           EventType = "BetRefunded"
	EventMarketCancelled       EventType = "MarketCancelled"
	EventEscrowClosed          EventType = "EscrowClosed"
	EventAuthorizedResolverSet EventType = "AuthorizedResolverSet"
)

// Event is the envelope written to the outbox, the stream and the archive.
// Seq is assigned by the store on commit and increases monotonically.
type Event struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	MarketID  string          `json:"market_id"`
	Actor     Identity        `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Published bool            `json:"-"`
}

// NewEvent builds an envelope around payload.
func NewEvent(typ EventType, marketID string, actor Identity, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		MarketID:  marketID,
		Actor:     actor,
		Payload:   raw,
		Timestamp: at.UTC(),
	}, nil
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("domain: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Payload schemas. Field names are consumed by downstream indexers and must
// not change.

type MarketCreated struct {
	Market             string   `json:"market"`
	Creator            Identity `json:"creator"`
	Question           string   `json:"question"`
	EndTime            int64    `json:"end_time"`
	ResolutionDeadline int64    `json:"resolution_deadline"`
	FeeBps             uint16   `json:"fee_bps"`
	GracePeriodMinutes uint8    `json:"grace_period_minutes"`
}

type BetPlaced struct {
	Market    string   `json:"market"`
	User      Identity `json:"user"`
	Side      bool     `json:"side"`
	Amount    uint64   `json:"amount"`
	Timestamp int64    `json:"timestamp"`
}

type MarketResolved struct {
	Market     string   `json:"market"`
	Outcome    bool     `json:"outcome"`
	Resolver   Identity `json:"resolver"`
	ResolvedAt int64    `json:"resolved_at"`
}

// Claimed is emitted for winning and losing claims alike; a losing claim
// carries zero amounts.
type Claimed struct {
	Market      string   `json:"market"`
	User        Identity `json:"user"`
	Amount      uint64   `json:"amount"`
	CreatorFee  uint64   `json:"creator_fee"`
	TreasuryFee uint64   `json:"treasury_fee"`
	Timestamp   int64    `json:"timestamp"`
}

type BetRefunded struct {
	Market    string   `json:"market"`
	User      Identity `json:"user"`
	Amount    uint64   `json:"amount"`
	Timestamp int64    `json:"timestamp"`
}

type MarketCancelled struct {
	Market      string   `json:"market"`
	CancelledBy Identity `json:"cancelled_by"`
	Timestamp   int64    `json:"timestamp"`
}

type EscrowClosed struct {
	Market        string   `json:"market"`
	ClosedBy      Identity `json:"closed_by"`
	RentReclaimed uint64   `json:"rent_reclaimed"`
	Timestamp     int64    `json:"timestamp"`
}

// AuthorizedResolverSet omits old_resolver/new_resolver when absent.
type AuthorizedResolverSet struct {
	Market      string    `json:"market"`
	OldResolver *Identity `json:"old_resolver,omitempty"`
	NewResolver *Identity `json:"new_resolver,omitempty"`
	SetBy       Identity  `json:"set_by"`
	Timestamp   int64     `json:"timestamp"`
}
