package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	"Tally/internal/packed"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC P2P listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey

	// Peers is a comma-separated list of QUIC peer addresses to dial.
	Peers string

	// SyncAddr is a peer to fetch a ledger snapshot from before serving.
	SyncAddr string

	// Variant selects the deduplication index: "membership" or "derived".
	Variant string

	// CounterWidth selects the packed layout: "compact" or "wide".
	CounterWidth string

	// VoteCap is the maximum accepted vote total per proposal.
	VoteCap uint

	// Verbose enables debug logging.
	Verbose bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC P2P address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.Peers, "peers", "", "Comma-separated QUIC peer addresses")
	flag.StringVar(&cfg.SyncAddr, "sync", "", "Peer to fetch a ledger snapshot from at startup")
	flag.StringVar(&cfg.Variant, "variant", "membership", "Dedup index variant: membership or derived")
	flag.StringVar(&cfg.CounterWidth, "counter-width", "compact", "Counter layout: compact or wide")
	flag.UintVar(&cfg.VoteCap, "vote-cap", 100, "Maximum accepted votes per proposal")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return cfg
}

// counterBits maps the counter-width flag to its field width.
func (c *Config) counterBits() (uint, error) {
	switch c.CounterWidth {
	case "compact":
		return packed.CompactCounterBits, nil
	case "wide":
		return packed.WideCounterBits, nil
	default:
		return 0, fmt.Errorf("unknown counter width %q", c.CounterWidth)
	}
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
