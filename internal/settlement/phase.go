package settlement

import "github.com/alanyoungcy/escrowmarket/internal/domain"

// Phase derives the lifecycle state of m at unix time now.
//
//	Open -> Cancelled                          (no bets placed)
//	Open -> AwaitingResolution -> Resolvable -> Resolved
func Phase(m domain.Market, now int64) domain.MarketPhase {
	switch {
	case m.Cancelled:
		return domain.PhaseCancelled
	case m.Resolved:
		return domain.PhaseResolved
	case now < m.EndTime:
		return domain.PhaseOpen
	case now < m.ResolutionDeadline:
		return domain.PhaseAwaitingResolution
	default:
		return domain.PhaseResolvable
	}
}

// ResolutionDeadline returns endTime plus the grace period, or ErrOverflow.
func ResolutionDeadline(endTime int64, graceMinutes uint8) (int64, error) {
	grace := int64(graceMinutes) * 60
	deadline := endTime + grace
	if deadline < endTime {
		return 0, domain.ErrOverflow
	}
	return deadline, nil
}
