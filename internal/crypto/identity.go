package crypto

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// ParseIdentity validates a hex address and returns it in EIP-55 checksum
// form, so the same key always compares equal regardless of letter case.
// The zero address is rejected.
func ParseIdentity(s string) (domain.Identity, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", domain.ErrInvalidIdentity
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", domain.ErrInvalidIdentity
	}
	return domain.Identity(addr.Hex()), nil
}

// ParseOptionalIdentity treats an empty string as absent.
func ParseOptionalIdentity(s string) (*domain.Identity, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	id, err := ParseIdentity(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
