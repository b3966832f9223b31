// Command hub-node runs a hubstack overlay node, optionally as a hub
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ZentaChain/hubstack/pkg/api"
	"github.com/ZentaChain/hubstack/pkg/crypto"
	"github.com/ZentaChain/hubstack/pkg/logging"
	"github.com/ZentaChain/hubstack/pkg/network"
	"github.com/ZentaChain/hubstack/pkg/protocol"
	"github.com/ZentaChain/hubstack/pkg/storage"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const heartbeatInterval = 5 * time.Minute

var logger = logging.Logger("main")

var (
	listen      = flag.String("listen", "0.0.0.0:7400", "Comma-separated listen addresses (multiaddrs with -transport libp2p)")
	transport   = flag.String("transport", "tcp", "Transport: tcp or libp2p")
	advertise   = flag.String("advertise", "", "Address other nodes should dial (defaults to the first listen address)")
	dataDir     = flag.String("data", "./hub-data", "Data directory for keys, identity and queues")
	name        = flag.String("name", "", "Node name, matched by name queries")
	isHub       = flag.Bool("hub", false, "Run as a hub")
	bootstrap   = flag.String("bootstrap", "", "Comma-separated bootstrap hub addresses")
	apiPort     = flag.Int("api-port", 8080, "HTTP status API port (0 disables)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	generateKey = flag.Bool("genkey", false, "Generate a new private key even if one exists")
	relayTTL    = flag.Duration("relay-ttl", storage.DefaultRelayTTL, "How long a hub keeps undelivered relays")
	enableNAT   = flag.Bool("nat", false, "Enable NAT port mapping (libp2p only)")
)

func main() {
	flag.Parse()

	if err := logging.SetLevel(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logging.Sync() }()

	if err := run(); err != nil {
		logger.Errorf("❌ %v", err)
		_ = logging.Sync()
		os.Exit(1)
	}
	logger.Info("Goodbye! 👋")
}

func run() error {
	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	privateKey, err := loadOrGenerateKey(filepath.Join(*dataDir, "node.pem"), *generateKey)
	if err != nil {
		return fmt.Errorf("failed to load/generate key: %w", err)
	}

	identity, err := loadOrGenerateIdentity(filepath.Join(*dataDir, "node.id"))
	if err != nil {
		return fmt.Errorf("failed to load/generate identity: %w", err)
	}

	db, err := storage.Open(filepath.Join(*dataDir, "hubstack.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := network.DefaultStackConfig()
	cfg.Identity = identity
	cfg.Name = *name
	cfg.PrivateKey = privateKey
	cfg.AdvertiseAddress = *advertise
	cfg.BootstrapHubs = splitList(*bootstrap)
	cfg.IsHub = *isHub
	cfg.HubStore = storage.NewHubStore(db)
	cfg.Metrics = network.NewMetrics(registry)

	var queue *storage.RelayQueue
	if *isHub {
		queue = storage.NewRelayQueue(db, *relayTTL)
		defer queue.Close()
		cfg.RelayQueue = queue
		logger.Infof("📬 Relay queue enabled (TTL: %s)", *relayTTL)
	}

	factory, err := newFactory(*transport, splitList(*listen), privateKey, &cfg)
	if err != nil {
		return err
	}

	stack, err := network.NewStack(cfg, factory)
	if err != nil {
		_ = factory.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stack.Start(ctx); err != nil {
		_ = stack.Stop()
		return fmt.Errorf("failed to start stack: %w", err)
	}

	apiErr := make(chan error, 1)
	if *apiPort > 0 {
		apiCfg := api.DefaultConfig()
		apiCfg.Port = *apiPort
		apiCfg.LookupTimeout = cfg.LookupTimeout
		server, err := api.NewServer(stack, registry, apiCfg)
		if err != nil {
			_ = stack.Stop()
			return err
		}
		go func() { apiErr <- server.Start(ctx) }()
	}

	go heartbeatLoop(ctx, stack, queue)
	printStatus(stack)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err := <-apiErr:
		if err != nil {
			logger.Errorf("API server failed: %v", err)
		}
		stop()
	}

	if err := stack.Stop(); err != nil {
		return fmt.Errorf("error stopping stack: %w", err)
	}
	logger.Info("✓ Stack stopped")
	return nil
}

// newFactory builds the transport. libp2p listens through the host itself,
// so the stack is given no listen addresses of its own.
func newFactory(kind string, listenAddrs []string, key *rsa.PrivateKey, cfg *network.StackConfig) (network.ConnectionFactory, error) {
	switch kind {
	case "tcp":
		cfg.ListenAddresses = listenAddrs
		return network.NewTCPFactory(), nil
	case "libp2p":
		priv, _, err := p2pcrypto.KeyPairFromStdKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to convert node key: %w", err)
		}
		f, err := network.NewLibp2pFactory(network.Libp2pConfig{
			ListenAddrs: listenAddrs,
			PrivateKey:  priv,
			EnableNAT:   *enableNAT,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func loadOrGenerateKey(keyPath string, generate bool) (*rsa.PrivateKey, error) {
	if _, err := os.Stat(keyPath); err == nil && !generate {
		logger.Debugf("Loading existing private key from %s", keyPath)
		pemData, err := crypto.LoadKeyFromFile(keyPath)
		if err != nil {
			return nil, err
		}
		return crypto.ImportPrivateKeyPEM(pemData)
	}

	logger.Info("Generating new RSA-4096 key pair...")
	privateKey, err := crypto.GenerateRSAKeyPair()
	if err != nil {
		return nil, err
	}

	pemData, err := crypto.ExportPrivateKeyPEM(privateKey)
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyToFile(keyPath, pemData); err != nil {
		return nil, err
	}

	pubPEM, err := crypto.ExportPublicKeyPEM(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyToFile(keyPath+".pub", pubPEM); err != nil {
		return nil, err
	}

	logger.Infof("✓ New key saved to %s", keyPath)
	return privateKey, nil
}

// loadOrGenerateIdentity keeps the node GUID stable across restarts
func loadOrGenerateIdentity(path string) (protocol.GUID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return protocol.ParseGUID(strings.TrimSpace(string(data)))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return protocol.EmptyGUID, err
	}

	id := protocol.NewGUID()
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0600); err != nil {
		return protocol.EmptyGUID, err
	}
	return id, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func heartbeatLoop(ctx context.Context, stack *network.Stack, queue *storage.RelayQueue) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := stack.Stats()
		fields := []interface{}{
			"connections", stats.Pool.Total,
			"persistent", stats.Pool.Persistent,
			"known_hubs", stats.KnownHubs,
			"pending", stats.PendingExpectations,
		}
		if queue != nil {
			if qs, err := queue.Stats(); err == nil {
				fields = append(fields, "queued_relays", qs.Total)
			}
		}
		logger.Infow("💓 Heartbeat", fields...)
	}
}

func printStatus(stack *network.Stack) {
	self := stack.Self()
	role := "node"
	if stack.IsHub() {
		role = "hub"
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Hubstack Node Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Status: ✅ RUNNING (%s)\n", role)
	fmt.Printf("   Identity: %s\n", self.Identity)
	if self.Name != "" {
		fmt.Printf("   Name: %s\n", self.Name)
	}
	fmt.Printf("   Address: %s\n", self.Address)
	fmt.Printf("   Transport: %s\n", *transport)
	if *apiPort > 0 {
		fmt.Printf("   API: http://localhost:%d/api/v1/node\n", *apiPort)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}
