// Command escrowctl sends signed requests to an escrowd server.
//
//	escrowctl [flags] METHOD PATH
//	escrowctl -data '{"side":true,"amount":100}' POST /api/markets/m1/bets
//	escrowctl -data @market.json POST /api/markets
//	escrowctl -address
//
// The signing key comes from -key or ESCROWCTL_KEY, which may also be set in
// a .env file.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/escrowmarket/internal/client"
	"github.com/alanyoungcy/escrowmarket/internal/crypto"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("url", envOr("ESCROWCTL_URL", "http://localhost:8080"), "escrowd base URL")
	key := flag.String("key", os.Getenv("ESCROWCTL_KEY"), "hex secp256k1 private key (empty sends unsigned)")
	apiKey := flag.String("api-key", os.Getenv("ESCROWCTL_API_KEY"), "bearer token for servers with an API key")
	data := flag.String("data", "", "request body; @file reads a file, @- reads stdin")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	address := flag.Bool("address", false, "print the signing address and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var signer *crypto.Signer
	if *key != "" {
		s, err := crypto.NewSigner(*key)
		if err != nil {
			logger.Error("escrowctl: bad key", slog.String("error", err.Error()))
			os.Exit(2)
		}
		signer = s
	}

	if *address {
		if signer == nil {
			logger.Error("escrowctl: -address needs -key or ESCROWCTL_KEY")
			os.Exit(2)
		}
		fmt.Println(signer.Identity())
		return
	}

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	method, path := strings.ToUpper(flag.Arg(0)), flag.Arg(1)

	body, err := readBody(*data)
	if err != nil {
		logger.Error("escrowctl: read body", slog.String("error", err.Error()))
		os.Exit(2)
	}

	c := client.New(*baseURL).WithAPIKey(*apiKey)
	if signer != nil {
		c.WithSigner(signer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			logger.Error("escrowctl: request rejected",
				slog.Int("status", apiErr.Status),
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Message),
			)
		} else {
			logger.Error("escrowctl: request failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}

	var out bytes.Buffer
	if json.Indent(&out, resp, "", "  ") != nil {
		out.Reset()
		out.Write(resp)
	}
	fmt.Println(strings.TrimSpace(out.String()))
}

func readBody(data string) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		var buf bytes.Buffer
		_, err := buf.ReadFrom(os.Stdin)
		return buf.Bytes(), err
	case strings.HasPrefix(data, "@"):
		return os.ReadFile(strings.TrimPrefix(data, "@"))
	default:
		return []byte(data), nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
