package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"Tally/internal/actor"
	"Tally/internal/api"
	"Tally/internal/ballot"
	"Tally/internal/gas"
	"Tally/internal/ledger"
	"Tally/internal/logger"
	"Tally/internal/packed"
	"Tally/internal/receipt"
	"Tally/internal/storage"
	"Tally/internal/transport"
)

// Node is a running voting node.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	ledger  *ledger.Ledger
	system  *actor.System
	service *ballot.Service
	network *transport.Node
	server  *transport.Server
	api     *api.Server
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initService(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage opens the persistent store and the ledger over it.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = db
	n.ledger = ledger.New(db)

	return nil
}

// initService builds the actor system and the proposal service, then
// restores every persisted proposal.
func (n *Node) initService() error {
	bits, err := n.cfg.counterBits()
	if err != nil {
		return err
	}

	codec, err := packed.NewCodec(bits)
	if err != nil {
		return fmt.Errorf("build codec:\n%w", err)
	}

	variant, err := parseVariant(n.cfg.Variant)
	if err != nil {
		return err
	}

	signer, err := receipt.DeriveFromED25519(n.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("derive receipt key:\n%w", err)
	}

	n.system = actor.NewSystem()

	n.service = ballot.NewService(n.system, n.ledger, ballot.Config{
		Codec:    codec,
		VoteCap:  uint32(n.cfg.VoteCap),
		Costs:    gas.DefaultParams(),
		Variant:  variant,
		Receipts: signer,
	}, ownerIdentity(n.cfg.PrivateKey))

	return nil
}

// initNetwork creates the QUIC endpoint and binds the protocol server
// to it.
func (n *Node) initNetwork() error {
	net, err := transport.NewNode(transport.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("create network node:\n%w", err)
	}

	n.network = net
	n.server = transport.NewServer(net, n.service)

	return nil
}

// Run starts the node and blocks until a shutdown signal.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	if n.cfg.SyncAddr != "" {
		if err := n.syncFromPeer(n.cfg.SyncAddr); err != nil {
			return fmt.Errorf("sync from %s:\n%w", n.cfg.SyncAddr, err)
		}
	}

	if err := n.service.Restore(); err != nil {
		return fmt.Errorf("restore proposals:\n%w", err)
	}

	logger.Info("proposals restored", "count", n.service.ProposalCount())

	n.connectToPeers()

	n.api = api.New(n.cfg.HTTPAddress, n.service, n.server, n)
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// syncFromPeer fetches a ledger snapshot from an existing node so
// this one joins with the full proposal set.
func (n *Node) syncFromPeer(addr string) error {
	peer, err := n.network.Connect(addr)
	if err != nil {
		return fmt.Errorf("connect:\n%w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	raw, err := peer.Request(ctx, transport.EncodeSnapshotRequest())
	if err != nil {
		return fmt.Errorf("request snapshot:\n%w", err)
	}

	blob, err := transport.ParseReply(raw)
	if err != nil {
		return fmt.Errorf("snapshot refused:\n%w", err)
	}

	if err := n.service.ImportSnapshot(blob); err != nil {
		return fmt.Errorf("import snapshot:\n%w", err)
	}

	logger.Info("ledger synced", "peer", peer.Address(), "bytes", len(blob))

	return nil
}

// connectToPeers dials every configured peer address.
func (n *Node) connectToPeers() {
	for _, addr := range strings.Split(n.cfg.Peers, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		peer, err := n.network.Connect(addr)
		if err != nil {
			logger.Warn("peer dial failed", "addr", addr, "error", err)
			continue
		}

		logger.Info("connected to peer", "addr", peer.Address())
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close releases node resources in dependency order.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.system != nil {
		// Let in-flight votes finish before tearing down the mailboxes.
		n.system.Settle()
		n.system.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}

// ProposalCount implements api.StatusProvider.
func (n *Node) ProposalCount() int {
	return n.service.ProposalCount()
}

// PeerCount implements api.StatusProvider.
func (n *Node) PeerCount() int {
	return len(n.network.Peers())
}

// Variant implements api.StatusProvider.
func (n *Node) Variant() string {
	return n.cfg.Variant
}

// parseVariant maps the variant flag to its ballot constant.
func parseVariant(s string) (ballot.Variant, error) {
	switch s {
	case "membership":
		return ballot.Membership, nil
	case "derived":
		return ballot.Derived, nil
	default:
		return 0, fmt.Errorf("unknown variant %q", s)
	}
}

// ownerIdentity derives the node's factory identity from its signing
// key, so the same key always owns the same proposal address space.
func ownerIdentity(priv ed25519.PrivateKey) actor.Identity {
	pub := priv.Public().(ed25519.PublicKey)

	return actor.Identity(blake3.Sum256(pub))
}
