package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/exchangenetwork/xnet/src/xnet"
)

var testLogger *slog.Logger

func TestMain(m *testing.M) {
	initLogger("error")
	testLogger = logger
	os.Exit(m.Run())
}

func testConfig() *Config {
	return &Config{
		Port:               "0",
		PeerPort:           "0",
		LogLevel:           "error",
		RateLimitPerMinute: 10000,
		MaxBodySizeBytes:   DefaultMaxBodySizeBytes,
		ShutdownTimeout:    time.Second,
		HTTPClientTimeout:  2 * time.Second,
		MaxLogEntries:      100,
		HashAlgorithm:      xnet.HashAlgorithm,
	}
}

func newTestNode(t *testing.T, name string) *ExchangeNode {
	t.Helper()

	_, privatePEM, err := GenerateKeyPairPEM()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	cfg := testConfig()
	cfg.Me = IdentityConfig{
		User:       User{Key: name + "-key", Name: name},
		PrivateKey: privatePEM,
	}
	node, err := NewExchangeNode(cfg)
	if err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}
	return node
}

// servePeer runs the node's peer protocol on a test server.
func servePeer(t *testing.T, node *ExchangeNode) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(node.peerRouter())
	t.Cleanup(srv.Close)
	return srv
}

// introduce makes other known to node, reachable at srv when srv is not nil.
func introduce(t *testing.T, node, other *ExchangeNode, srv *httptest.Server) {
	t.Helper()

	host, port := "", 0
	if srv != nil {
		u, err := url.Parse(srv.URL)
		if err != nil {
			t.Fatalf("Failed to parse server URL: %v", err)
		}
		h, p, err := net.SplitHostPort(u.Host)
		if err != nil {
			t.Fatalf("Failed to split server address: %v", err)
		}
		host = h
		port, _ = strconv.Atoi(p)
	}
	if err := node.Users.Register(other.Identity.User(), other.Identity.PublicKey(), host, port); err != nil {
		t.Fatalf("Failed to register %s: %v", other.Identity.User().Key, err)
	}
}

// newTestPair returns two nodes that know and can reach each other.
func newTestPair(t *testing.T) (*ExchangeNode, *ExchangeNode) {
	t.Helper()
	alice := newTestNode(t, "alice")
	bob := newTestNode(t, "bob")
	aliceSrv := servePeer(t, alice)
	bobSrv := servePeer(t, bob)
	introduce(t, alice, bob, bobSrv)
	introduce(t, bob, alice, aliceSrv)
	return alice, bob
}

func userPtr(u User) *User {
	return &u
}

func TestNewExchangeNode(t *testing.T) {
	t.Run("registers the node user", func(t *testing.T) {
		node := newTestNode(t, "alice")

		me := node.Identity.User()
		if me.Key != "alice-key" {
			t.Errorf("Expected key 'alice-key', got '%s'", me.Key)
		}
		if me.KeyAlgorithm != "EC-P-256" {
			t.Errorf("Expected key algorithm 'EC-P-256', got '%s'", me.KeyAlgorithm)
		}
		if _, ok := node.Users.GetByKey(me.Key); !ok {
			t.Error("Expected node user to be registered")
		}
		if _, ok := node.Users.PublicKeyOf(me.Key); !ok {
			t.Error("Expected node user public key to be registered")
		}
	})

	t.Run("generates a key pair when none is configured", func(t *testing.T) {
		cfg := testConfig()
		node, err := NewExchangeNode(cfg)
		if err != nil {
			t.Fatalf("Failed to create node: %v", err)
		}
		if len(node.Identity.User().Key) != 16 {
			t.Errorf("Expected derived 16 character key, got '%s'", node.Identity.User().Key)
		}
	})

	t.Run("registers configured peers", func(t *testing.T) {
		publicPEM, _, err := GenerateKeyPairPEM()
		if err != nil {
			t.Fatalf("Failed to generate key pair: %v", err)
		}
		cfg := testConfig()
		cfg.Peers = []PeerConfig{{
			Host:      "peer.example",
			Port:      9000,
			PublicKey: publicPEM,
			User:      User{Key: "bob-key", Name: "bob"},
		}}
		node, err := NewExchangeNode(cfg)
		if err != nil {
			t.Fatalf("Failed to create node: %v", err)
		}

		addr, err := node.Users.AddressOf("bob-key")
		if err != nil {
			t.Fatalf("Expected peer address, got error: %v", err)
		}
		if addr.Host != "peer.example" || addr.Port != 9000 {
			t.Errorf("Expected peer.example:9000, got %s", addr)
		}
		if addr.URL(PathProposals) != "http://peer.example:9000/proposals" {
			t.Errorf("Unexpected proposals URL %s", addr.URL(PathProposals))
		}
	})

	t.Run("rejects mismatched public key", func(t *testing.T) {
		publicPEM, _, _ := GenerateKeyPairPEM()
		_, privatePEM, _ := GenerateKeyPairPEM()
		cfg := testConfig()
		cfg.Me = IdentityConfig{PublicKey: publicPEM, PrivateKey: privatePEM}
		if _, err := NewExchangeNode(cfg); err == nil {
			t.Error("Expected error for mismatched key pair")
		}
	})

	t.Run("rejects invalid peer key", func(t *testing.T) {
		cfg := testConfig()
		cfg.Peers = []PeerConfig{{User: User{Key: "bob-key"}, PublicKey: "not a key"}}
		if _, err := NewExchangeNode(cfg); err == nil {
			t.Error("Expected error for invalid peer key")
		}
	})
}

func TestInitLogger(t *testing.T) {
	defer func() { logger = testLogger }()

	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		initLogger(level)
		if logger == nil {
			t.Errorf("Expected logger for level %s", level)
		}
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	node := newTestNode(t, "alice")
	node.Config.Port = freePort(t)
	node.Config.PeerPort = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	healthURL := "http://127.0.0.1:" + node.Config.Port + "/api/health"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("Expected status 200, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
