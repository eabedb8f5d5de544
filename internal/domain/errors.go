package domain

import "errors"

// Infrastructure errors shared by stores and caches.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")
)

// ErrorKind groups engine errors by the layer that rejects them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindArithmetic    ErrorKind = "arithmetic"
	KindResource      ErrorKind = "resource"
	KindIntegrity     ErrorKind = "integrity"
	KindNotFound      ErrorKind = "not_found"
)

// Error is a discriminated engine error: a stable Code for programmatic
// handling plus a human-readable Message. Values are compared by identity so
// errors.Is works through any amount of %w wrapping.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation.
var (
	ErrQuestionTooLong    = newError(KindValidation, "QuestionTooLong", "Question is too long (max 256 characters).")
	ErrQuestionEmpty      = newError(KindValidation, "QuestionEmpty", "Question cannot be empty.")
	ErrInvalidEndTime     = newError(KindValidation, "InvalidEndTime", "Invalid end time (must be in the future).")
	ErrFeeTooHigh         = newError(KindValidation, "FeeTooHigh", "Fee is too high (max 10%).")
	ErrGracePeriodTooLong = newError(KindValidation, "GracePeriodTooLong", "Grace period is too long (max 60 minutes).")
	ErrInvalidBetAmount   = newError(KindValidation, "InvalidBetAmount", "Invalid bet amount.")
	ErrInvalidIdentity    = newError(KindValidation, "InvalidIdentity", "Invalid identity.")
)

// Authorization.
var (
	ErrUnauthorizedResolver     = newError(KindAuthorization, "UnauthorizedResolver", "Unauthorized resolver.")
	ErrUnauthorizedCancellation = newError(KindAuthorization, "UnauthorizedCancellation", "Unauthorized cancellation.")
	ErrUnauthorizedClosure      = newError(KindAuthorization, "UnauthorizedClosure", "Unauthorized closure.")
	ErrNotYourBet               = newError(KindAuthorization, "NotYourBet", "Not your bet.")
)

// Lifecycle state.
var (
	ErrMarketAlreadyResolved    = newError(KindState, "MarketAlreadyResolved", "Market is already resolved.")
	ErrMarketClosed             = newError(KindState, "MarketClosed", "Market is closed.")
	ErrMarketStillOpen          = newError(KindState, "MarketStillOpen", "Market is still open.")
	ErrMarketStillInGracePeriod = newError(KindState, "MarketStillInGracePeriod", "Market is still in grace period.")
	ErrMarketCancelled          = newError(KindState, "MarketCancelled", "Market is cancelled.")
	ErrMarketAlreadyCancelled   = newError(KindState, "MarketAlreadyCancelled", "Market is already cancelled.")
	ErrMarketNotCancelled       = newError(KindState, "MarketNotCancelled", "Market is not cancelled.")
	ErrCannotCancelWithBets     = newError(KindState, "CannotCancelWithBets", "Cannot cancel market with existing bets.")
	ErrAlreadyClaimed           = newError(KindState, "AlreadyClaimed", "Already claimed.")
	ErrDuplicateBet             = newError(KindState, "DuplicateBet", "Duplicate bet for this user and market.")
	ErrInvalidMarket            = newError(KindState, "InvalidMarket", "Invalid market.")
	ErrNoWinners                = newError(KindState, "NoWinners", "No winners on this side.")
	ErrEscrowNotEmpty           = newError(KindState, "EscrowNotEmpty", "Escrow is not empty.")
	ErrEscrowAlreadyClosed      = newError(KindState, "EscrowAlreadyClosed", "Escrow is already closed.")
)

// Arithmetic.
var ErrOverflow = newError(KindArithmetic, "Overflow", "Overflow or underflow in math operation.")

// Resource and integrity.
var (
	ErrInsufficientFunds         = newError(KindResource, "InsufficientFunds", "Insufficient funds for transfer.")
	ErrInsufficientEscrowBalance = newError(KindIntegrity, "InsufficientEscrowBalance", "Insufficient escrow balance for payout.")
	ErrInvalidEscrowAuthority    = newError(KindIntegrity, "InvalidEscrowAuthority", "Escrow authority tag does not match.")
	ErrAccountClosed             = newError(KindResource, "AccountClosed", "Custody account is closed.")
)

// Lookup.
var (
	ErrMarketNotFound = newError(KindNotFound, "MarketNotFound", "Market not found.")
	ErrBetNotFound    = newError(KindNotFound, "BetNotFound", "Bet not found.")

	ErrArchiveDisabled = newError(KindNotFound, "ArchiveDisabled", "Event archive is not enabled.")
)

// AsError extracts the engine error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the engine error in err's chain, or "" when err
// is not an engine error.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}
