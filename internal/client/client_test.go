package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/server/middleware"
)

// newSignedServer echoes the authenticated caller, the path and the query
// behind the real signature middleware.
func newSignedServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.CallerFrom(r.Context())
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"caller": id.String(),
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
			"body":   string(body),
			"auth":   r.Header.Get("Authorization"),
		})
	})
	srv := httptest.NewServer(middleware.Signature(crypto.NewVerifier(time.Minute, nil), logger)(echo))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSignsRequests(t *testing.T) {
	srv := newSignedServer(t)
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	c := New(srv.URL + "/").WithSigner(s).WithAPIKey("k")

	raw, err := c.PlaceBet(context.Background(), "m-1", true, 25)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, s.Identity().String(), got["caller"])
	assert.Equal(t, "/api/markets/m-1/bets", got["path"])
	assert.JSONEq(t, `{"side":true,"amount":25}`, got["body"])
	assert.Equal(t, "Bearer k", got["auth"])

	// Query strings are sent but not signed.
	raw, err = c.Do(context.Background(), http.MethodPost, "api/markets/m-1/claim?dry=1", nil)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "/api/markets/m-1/claim", got["path"])
	assert.Equal(t, "dry=1", got["query"])

	// Each call carries a fresh nonce, so repeats are not replays.
	_, err = c.Claim(context.Background(), "m-1")
	require.NoError(t, err)
	_, err = c.Claim(context.Background(), "m-1")
	assert.NoError(t, err)
}

func TestClientUnsignedIsRejected(t *testing.T) {
	srv := newSignedServer(t)
	_, err := New(srv.URL).Claim(context.Background(), "m-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Unauthenticated", apiErr.Code)
	assert.Equal(t, "missing signature headers", apiErr.Message)
}

func TestClientPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Do(context.Background(), http.MethodGet, "/api/health", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Equal(t, "client: 502: upstream down", apiErr.Error())
}
