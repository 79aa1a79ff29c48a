package main

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// Package-level logger
var logger = slog.Default()

var tracer = otel.Tracer("github.com/exchangenetwork/xnet/src/core")

// initLogger initializes the structured logger based on the log level
func initLogger(logLevel string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
}

// ExchangeNode is one participant's node: the negotiation state machine plus
// the collections it reads and writes.
type ExchangeNode struct {
	Config    *Config
	Identity  *Identity
	Users     *UserDirectory
	Proposals *ProposalStore
	Ledger    *ExchangeLedger
	Tokens    *TokenRegistry
	Log       *NodeLog
	Events    *EventHub
	Templates []TokenTemplate

	startedAt time.Time

	// Serializes ledger appends with the ownership changes they cause.
	ratifyMu sync.Mutex

	// HTTP client for peer communication
	client *resty.Client
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	initLogger(cfg.LogLevel)

	node, err := NewExchangeNode(cfg)
	if err != nil {
		logger.Error("Failed to initialize exchange node", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Run(ctx); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// NewExchangeNode builds a node acting for the configured identity and
// registers the configured peers.
func NewExchangeNode(cfg *Config) (*ExchangeNode, error) {
	events := NewEventHub()
	node := &ExchangeNode{
		Config:    cfg,
		Users:     NewUserDirectory(events),
		Proposals: NewProposalStore(events),
		Ledger:    NewExchangeLedger(events),
		Tokens:    NewTokenRegistry(events),
		Log:       NewNodeLog(cfg.MaxLogEntries, events),
		Events:    events,
		Templates: cfg.TokenTemplates,
		startedAt: time.Now(),
		client: resty.New().
			SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
			SetTimeout(cfg.HTTPClientTimeout),
	}

	identity, err := loadIdentity(cfg.Me)
	if err != nil {
		return nil, err
	}
	node.Identity = identity

	me := identity.User()
	if err := node.Users.Register(me, identity.PublicKey(), "localhost", atoiOrZero(cfg.PeerPort)); err != nil {
		return nil, err
	}

	for _, peer := range cfg.Peers {
		pub, err := ParsePublicKeyPEM(peer.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", peer.User.Key, err)
		}
		user := peer.User
		if user.Key == "" {
			user.Key = keyIDOf(pub)
		}
		if user.KeyAlgorithm == "" {
			user.KeyAlgorithm = KeyAlgorithmOf(pub)
		}
		if err := node.Users.Register(user, pub, peer.Host, peer.Port); err != nil {
			return nil, err
		}
	}

	logger.Info("Initialized exchange node", "user", me.Key, "name", me.Name, "peers", len(cfg.Peers))
	return node, nil
}

// loadIdentity parses the configured key pair, generating a fresh one when
// none is configured.
func loadIdentity(cfg IdentityConfig) (*Identity, error) {
	privatePEM := cfg.PrivateKey
	if privatePEM == "" {
		var err error
		_, privatePEM, err = GenerateKeyPairPEM()
		if err != nil {
			return nil, err
		}
		logger.Warn("No private key configured, generated an ephemeral key pair")
	}

	signer, err := ParsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}

	if cfg.PublicKey != "" {
		pub, err := ParsePublicKeyPEM(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		if !samePublicKey(pub, signer.Public()) {
			return nil, errors.New("configured public key does not match private key")
		}
	}

	user := cfg.User
	if user.Key == "" {
		user.Key = keyIDOf(signer.Public())
	}
	return NewIdentity(user, signer)
}

// keyIDOf derives a user key id from a public key.
func keyIDOf(pub crypto.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(der))[:16]
}

func samePublicKey(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	if e, ok := a.(equaler); ok {
		return e.Equal(b)
	}
	return false
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Run serves the client API and the peer protocol until ctx is cancelled,
// then shuts both servers down within the configured timeout.
func (node *ExchangeNode) Run(ctx context.Context) error {
	apiServer := &http.Server{
		Addr:    ":" + node.Config.Port,
		Handler: otelhttp.NewHandler(node.apiRouter(), "xnet-api"),
	}
	peerServer := &http.Server{
		Addr:    ":" + node.Config.PeerPort,
		Handler: otelhttp.NewHandler(node.peerRouter(), "xnet-peer"),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, peerServer} {
		srv := srv
		g.Go(func() error {
			logger.Info("Starting server", "addr", srv.Addr, "user", node.Identity.User().Key)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), node.Config.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), peerServer.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
