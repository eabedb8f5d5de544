package crypto

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func init() {
	pbkdf2Iterations = 1_000
}

func TestParseIdentity(t *testing.T) {
	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	id, err := ParseIdentity(lower)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), id)

	again, err := ParseIdentity(strings.ToUpper(lower[2:]))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = ParseIdentity("not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	_, err = ParseIdentity("0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestParseOptionalIdentity(t *testing.T) {
	id, err := ParseOptionalIdentity("")
	require.NoError(t, err)
	assert.Nil(t, id)

	id, err = ParseOptionalIdentity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	require.NotNil(t, id)

	_, err = ParseOptionalIdentity("0x12")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestDeriverEscrowIsDeterministic(t *testing.T) {
	d, err := NewDeriver("escrow-program", testSecret)
	require.NoError(t, err)

	a := d.EscrowAddress("m-1")
	assert.Equal(t, a, d.EscrowAddress("m-1"))
	assert.NotEqual(t, a, d.EscrowAddress("m-2"))

	_, err = ParseIdentity(string(a))
	assert.NoError(t, err)

	other, err := NewDeriver("other-program", testSecret)
	require.NoError(t, err)
	assert.NotEqual(t, a, other.EscrowAddress("m-1"))
}

func TestDeriverVerifyEscrow(t *testing.T) {
	d, err := NewDeriver("escrow-program", testSecret)
	require.NoError(t, err)

	escrow := d.EscrowAddress("m-1")
	tag := d.AuthorityTag("m-1", escrow)
	require.NoError(t, d.VerifyEscrow("m-1", escrow, tag))

	assert.ErrorIs(t, d.VerifyEscrow("m-2", escrow, tag), domain.ErrInvalidEscrowAuthority)
	assert.ErrorIs(t, d.VerifyEscrow("m-1", escrow, "bogus"), domain.ErrInvalidEscrowAuthority)

	forged, err := NewDeriver("escrow-program", []byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	assert.ErrorIs(t, d.VerifyEscrow("m-1", escrow, forged.AuthorityTag("m-1", escrow)), domain.ErrInvalidEscrowAuthority)
}

func TestNewDeriverRejectsShortSecret(t *testing.T) {
	_, err := NewDeriver("p", []byte("short"))
	assert.Error(t, err)
	_, err = NewDeriver("", testSecret)
	assert.Error(t, err)
}

func TestDeriverStringRedactsSecret(t *testing.T) {
	d, err := NewDeriver("p", testSecret)
	require.NoError(t, err)
	assert.NotContains(t, d.String(), string(testSecret))
	assert.Contains(t, d.String(), "****")
}

func TestBetKey(t *testing.T) {
	u1 := domain.Identity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	u2 := domain.Identity("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	assert.Equal(t, BetKey("m", u1), BetKey("m", u1))
	assert.NotEqual(t, BetKey("m", u1), BetKey("m", u2))
	assert.NotEqual(t, BetKey("m", u1), BetKey("n", u1))
	assert.Len(t, BetKey("m", u1), 66)
}

func signed(h map[string]string, method, path string, body []byte) SignedRequest {
	return SignedRequest{
		Address:   h[HeaderAddress],
		Timestamp: h[HeaderTimestamp],
		Nonce:     h[HeaderNonce],
		Signature: h[HeaderSignature],
		Method:    method,
		Path:      path,
		Body:      body,
	}
}

func TestSignerVerifierRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := GenerateSigner()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(time.Minute, func() time.Time { return now })

	body := []byte(`{"side":true,"amount":100}`)
	h, err := s.RequestHeaders("POST", "/api/markets/m/bets", body, now)
	require.NoError(t, err)
	assert.Len(t, h[HeaderNonce], 32)

	_, err = v.Verify(ctx, signed(h, "POST", "/api/markets/m/bets", []byte(`{"amount":1}`)))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = v.Verify(ctx, signed(h, "POST", "/api/markets/other/bets", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Rejected attempts do not consume the nonce.
	id, err := v.Verify(ctx, signed(h, "POST", "/api/markets/m/bets", body))
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
}

func TestVerifierRejectsReplay(t *testing.T) {
	ctx := context.Background()
	s, err := GenerateSigner()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(time.Minute, func() time.Time { return now })
	body := []byte(`{"question":"q","end_time":1700003600}`)

	h, err := s.RequestHeaders("POST", "/api/markets", body, now)
	require.NoError(t, err)
	_, err = v.Verify(ctx, signed(h, "POST", "/api/markets", body))
	require.NoError(t, err)

	_, err = v.Verify(ctx, signed(h, "POST", "/api/markets", body))
	assert.ErrorIs(t, err, ErrSignatureReplayed)

	// The same request signed again under a new nonce is accepted.
	h2, err := s.RequestHeaders("POST", "/api/markets", body, now)
	require.NoError(t, err)
	assert.NotEqual(t, h[HeaderNonce], h2[HeaderNonce])
	_, err = v.Verify(ctx, signed(h2, "POST", "/api/markets", body))
	assert.NoError(t, err)

	// Nonces are scoped to the signer.
	other, err := GenerateSigner()
	require.NoError(t, err)
	h3, err := other.RequestHeadersWithNonce("POST", "/api/markets", body, now, h[HeaderNonce])
	require.NoError(t, err)
	_, err = v.Verify(ctx, signed(h3, "POST", "/api/markets", body))
	assert.NoError(t, err)
}

type failingNonces struct{}

func (failingNonces) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestVerifierNonceStoreFailure(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(time.Minute, func() time.Time { return now }).WithNonces(failingNonces{})

	h, err := s.RequestHeaders("POST", "/x", nil, now)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signed(h, "POST", "/x", nil))
	assert.ErrorIs(t, err, ErrNonceUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNonceCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewNonceCache(4, time.Hour)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ok, err := c.Claim(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.Claim(ctx, "a", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = c.Claim(ctx, "a", time.Minute)
	assert.True(t, ok, "expired nonces can be claimed again")
}

func TestVerifierRejectsWrongAddress(t *testing.T) {
	a, err := GenerateSigner()
	require.NoError(t, err)
	b, err := GenerateSigner()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(time.Minute, func() time.Time { return now })
	h, err := a.RequestHeaders("POST", "/x", nil, now)
	require.NoError(t, err)

	req := signed(h, "POST", "/x", nil)
	req.Address = string(b.Identity())
	_, err = v.Verify(context.Background(), req)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifierSkew(t *testing.T) {
	ctx := context.Background()
	s, err := GenerateSigner()
	require.NoError(t, err)

	signedAt := time.Unix(1_700_000_000, 0)
	v := NewVerifier(30*time.Second, func() time.Time { return signedAt.Add(time.Minute) })
	h, err := s.RequestHeaders("GET", "/", nil, signedAt)
	require.NoError(t, err)

	_, err = v.Verify(ctx, signed(h, "GET", "/", nil))
	assert.ErrorIs(t, err, ErrSignatureExpired)

	_, err = v.Verify(ctx, SignedRequest{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, ErrSignatureMissing)

	noNonce := signed(h, "GET", "/", nil)
	noNonce.Nonce = ""
	_, err = v.Verify(ctx, noNonce)
	assert.ErrorIs(t, err, ErrSignatureMissing)
}

func TestNewSignerFromHex(t *testing.T) {
	s, err := NewSigner("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), s.Identity())

	_, err = NewSigner("zz")
	assert.Error(t, err)
}

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret(testSecret, "hunter2")
	require.NoError(t, err)

	out, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testSecret, out)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptSecret([]byte("short"), "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	raw, err := LoadSecret(SecretConfig{RawSecret: "0x30313233343536373839616263646566"})
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), raw)

	blob, err := EncryptSecret(testSecret, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testSecret, fromFile)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
	_, err = LoadSecret(SecretConfig{RawSecret: "abcd"})
	assert.Error(t, err)
}
