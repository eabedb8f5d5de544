package engine

import "github.com/alanyoungcy/escrowmarket/internal/domain"

// Authorization rules. Each returns nil or the operation's authorization
// error; state checks stay with the operation so the error order matches
// the ledger's check order.

func authorizeCancel(m domain.Market, caller domain.Identity) error {
	if !m.IsCreator(caller) {
		return domain.ErrUnauthorizedCancellation
	}
	return nil
}

// authorizeResolve admits the creator and, when one is set, the authorized
// resolver. An absent resolver never matches any caller.
func authorizeResolve(m domain.Market, caller domain.Identity) error {
	if m.IsCreator(caller) || domain.OptionalIs(m.AuthorizedResolver, caller) {
		return nil
	}
	return domain.ErrUnauthorizedResolver
}

func authorizeSetResolver(m domain.Market, caller domain.Identity) error {
	if !m.IsCreator(caller) {
		return domain.ErrUnauthorizedResolver
	}
	return nil
}

func authorizeClose(m domain.Market, caller domain.Identity) error {
	if !m.IsCreator(caller) {
		return domain.ErrUnauthorizedClosure
	}
	return nil
}

// authorizeBet checks the caller owns b and that b belongs to m.
func authorizeBet(m domain.Market, b domain.Bet, caller domain.Identity) error {
	if b.User != caller {
		return domain.ErrNotYourBet
	}
	if b.Market != m.ID {
		return domain.ErrInvalidMarket
	}
	return nil
}

func requireIdentity(id domain.Identity) error {
	if id.IsZero() {
		return domain.ErrInvalidIdentity
	}
	return nil
}
