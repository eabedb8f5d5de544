package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Signer produces request signatures accepted by Verifier. escrowctl signs
// with it.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	identity   domain.Identity
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSigner(pk), nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generating key: %w", err)
	}
	return newSigner(pk), nil
}

func newSigner(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		identity:   domain.Identity(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()),
	}
}

// Identity returns the checksummed address of the signer.
func (s *Signer) Identity() domain.Identity {
	return s.identity
}

// SignMessage returns a personal_sign signature over msg.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	return s.signDigest(textHash(msg))
}

// RequestHeaders returns the signature headers for a request at time at,
// under a fresh random nonce.
func (s *Signer) RequestHeaders(method, path string, body []byte, at time.Time) (map[string]string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	return s.RequestHeadersWithNonce(method, path, body, at, nonce)
}

// RequestHeadersWithNonce signs under a caller-chosen nonce.
func (s *Signer) RequestHeadersWithNonce(method, path string, body []byte, at time.Time, nonce string) (map[string]string, error) {
	ts := at.Unix()
	sig, err := s.SignMessage(RequestMessage(method, path, ts, nonce, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   string(s.identity),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderNonce:     nonce,
		HeaderSignature: sig,
	}, nil
}

// NewNonce returns 16 random bytes as hex.
func NewNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("crypto/signer: nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}
