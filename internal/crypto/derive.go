package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Seed prefixes for derived keys.
var (
	escrowSeed = []byte("escrow")
	betSeed    = []byte("bet")
)

// Deriver computes the content-derived keys of the ledger: escrow
// sub-account addresses, their authority tags and bet record keys.
// A Deriver is immutable after construction.
type Deriver struct {
	programID []byte
	secret    []byte
}

// NewDeriver binds a Deriver to the program identity and the secret that
// keys authority tags.
func NewDeriver(programID string, secret []byte) (*Deriver, error) {
	if programID == "" {
		return nil, fmt.Errorf("crypto/derive: program id must not be empty")
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("crypto/derive: secret must be at least %d bytes", minSecretLen)
	}
	return &Deriver{
		programID: []byte(programID),
		secret:    append([]byte(nil), secret...),
	}, nil
}

// EscrowAddress returns the escrow sub-account for marketID:
//
//	address(keccak256("escrow" || programID || marketID)[12:])
func (d *Deriver) EscrowAddress(marketID string) domain.Identity {
	h := ethcrypto.Keccak256(escrowSeed, d.programID, []byte(marketID))
	return domain.Identity(common.BytesToAddress(h).Hex())
}

// AuthorityTag proves the escrow address was derived by this program for
// marketID.
func (d *Deriver) AuthorityTag(marketID string, escrow domain.Identity) string {
	return hmacSHA256Base64(d.secret, string(escrowSeed)+"|"+marketID+"|"+string(escrow))
}

// VerifyEscrow checks that escrow and tag were derived for marketID. It
// returns domain.ErrInvalidEscrowAuthority on any mismatch.
func (d *Deriver) VerifyEscrow(marketID string, escrow domain.Identity, tag string) error {
	if escrow != d.EscrowAddress(marketID) {
		return domain.ErrInvalidEscrowAuthority
	}
	if !hmacEqual(tag, d.AuthorityTag(marketID, escrow)) {
		return domain.ErrInvalidEscrowAuthority
	}
	return nil
}

// BetKey returns the uniqueness key of the (market, user) pair.
func BetKey(marketID string, user domain.Identity) string {
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(betSeed, []byte(marketID), []byte(user)))
}

// String returns a redacted representation suitable for logging.
func (d *Deriver) String() string {
	return fmt.Sprintf("Deriver{program=%s, secret=%s}", d.programID, redact(hex.EncodeToString(d.secret)))
}
