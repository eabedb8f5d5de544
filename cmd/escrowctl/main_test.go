package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBody(t *testing.T) {
	b, err := readBody("")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = readBody(`{"amount":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":1}`, string(b))

	path := filepath.Join(t.TempDir(), "market.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"question":"q"}`), 0o600))
	b, err = readBody("@" + path)
	require.NoError(t, err)
	assert.Equal(t, `{"question":"q"}`, string(b))

	_, err = readBody("@" + filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("ESCROWCTL_URL", "")
	assert.Equal(t, "http://localhost:8080", envOr("ESCROWCTL_URL", "http://localhost:8080"))
	t.Setenv("ESCROWCTL_URL", "https://escrow.example")
	assert.Equal(t, "https://escrow.example", envOr("ESCROWCTL_URL", "http://localhost:8080"))
}
