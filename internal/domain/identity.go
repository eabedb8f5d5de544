package domain

import "time"

// Identity addresses a caller or a custody account. User identities are
// EIP-55 checksummed hex addresses (see crypto.ParseIdentity); escrow
// sub-accounts use the same format, derived from the market ID.
type Identity string

func (id Identity) String() string { return string(id) }

// IsZero reports whether id is empty.
func (id Identity) IsZero() bool { return id == "" }

// IdentityPtr returns a pointer to a copy of id, for optional fields.
func IdentityPtr(id Identity) *Identity { return &id }

// OptionalIs reports whether opt is present and equal to id. An absent
// optional never matches, not even the zero identity.
func OptionalIs(opt *Identity, id Identity) bool {
	return opt != nil && *opt == id
}

// Clock is the wall-clock source queried once per operation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
