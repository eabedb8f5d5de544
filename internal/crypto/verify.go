package crypto

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Escrow-Address"
	HeaderTimestamp = "X-Escrow-Timestamp"
	HeaderNonce     = "X-Escrow-Nonce"
	HeaderSignature = "X-Escrow-Signature"
)

// maxNonceLen bounds the nonce header; Signer sends 32 hex characters.
const maxNonceLen = 64

var (
	ErrSignatureMissing  = errors.New("crypto: signature headers missing")
	ErrSignatureExpired  = errors.New("crypto: signature timestamp outside allowed skew")
	ErrSignatureInvalid  = errors.New("crypto: signature does not match address")
	ErrSignatureReplayed = errors.New("crypto: signature nonce already used")
	ErrNonceUnavailable  = errors.New("crypto: nonce store unavailable")
)

// RequestMessage is the canonical text a caller signs:
//
//	METHOD \n PATH \n TIMESTAMP \n NONCE \n hex(keccak256(body))
func RequestMessage(method, path string, ts int64, nonce string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(ethcrypto.Keccak256(body)))
	return []byte(b.String())
}

// textHash is the personal_sign digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func textHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// SignedRequest is the signature material of one request.
type SignedRequest struct {
	Address   string
	Timestamp string
	Nonce     string
	Signature string
	Method    string
	Path      string
	Body      []byte
}

// Verifier proves that a request was signed by the identity it claims and
// that the (address, nonce) pair has not been accepted before.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time
	nonces  domain.NonceStore
}

// NewVerifier returns a Verifier accepting timestamps within maxSkew of now.
// Nonces are remembered in process until WithNonces swaps the store.
func NewVerifier(maxSkew time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	v := &Verifier{maxSkew: maxSkew, now: now}
	v.nonces = NewNonceCache(0, v.nonceTTL())
	return v
}

// WithNonces shares nonce bookkeeping, e.g. across replicas through redis.
func (v *Verifier) WithNonces(s domain.NonceStore) *Verifier {
	v.nonces = s
	return v
}

// nonceTTL covers every timestamp the skew check can still accept.
func (v *Verifier) nonceTTL() time.Duration {
	if v.maxSkew <= 0 {
		return 24 * time.Hour
	}
	return 2*v.maxSkew + time.Second
}

// Verify recovers the signer of req, checks it matches the claimed address
// and claims the nonce. It returns the normalised identity.
func (v *Verifier) Verify(ctx context.Context, req SignedRequest) (domain.Identity, error) {
	if req.Address == "" || req.Timestamp == "" || req.Nonce == "" || req.Signature == "" {
		return "", ErrSignatureMissing
	}
	if len(req.Nonce) > maxNonceLen {
		return "", ErrSignatureInvalid
	}
	claimed, err := ParseIdentity(req.Address)
	if err != nil {
		return "", err
	}

	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("crypto: bad timestamp %q: %w", req.Timestamp, err)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.maxSkew > 0 && skew > v.maxSkew {
		return "", ErrSignatureExpired
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return "", ErrSignatureInvalid
	}
	// Accept v in {27,28} as produced by wallets.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := textHash(RequestMessage(req.Method, req.Path, ts, req.Nonce, req.Body))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", ErrSignatureInvalid
	}
	if domain.Identity(ethcrypto.PubkeyToAddress(*pub).Hex()) != claimed {
		return "", ErrSignatureInvalid
	}

	// Nonces are claimed only once the signature checks out.
	fresh, err := v.nonces.Claim(ctx, string(claimed)+":"+req.Nonce, v.nonceTTL())
	if err != nil {
		return "", fmt.Errorf("crypto: claim nonce: %w: %w", ErrNonceUnavailable, err)
	}
	if !fresh {
		return "", ErrSignatureReplayed
	}
	return claimed, nil
}
