// Command ledger-client wires together every component of the object
// ledger client — committee, store, address manager, broadcaster,
// certificate requester, syncer, downloader — and exposes a minimal
// HTTP surface plus a periodic pending-lock retry sweep. The flag
// parsing, ed25519 key load-or-generate routine, and signal-driven
// graceful shutdown are grounded on the teacher's main.go (flag.String
// for CLI overrides, os.Stat-guarded key generation under DataDir,
// signal.Notify(SIGINT, SIGTERM) followed by a timed Shutdown).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultbft/client/internal/cryptoutil"
	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/address"
	"github.com/vaultbft/client/pkg/authority"
	"github.com/vaultbft/client/pkg/broadcast"
	"github.com/vaultbft/client/pkg/certrequester"
	"github.com/vaultbft/client/pkg/client"
	"github.com/vaultbft/client/pkg/config"
	"github.com/vaultbft/client/pkg/download"
	"github.com/vaultbft/client/pkg/kvdb"
	"github.com/vaultbft/client/pkg/metrics"
	"github.com/vaultbft/client/pkg/store"
	"github.com/vaultbft/client/pkg/syncer"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("Starting ledger-client")

	var (
		committeeFile = flag.String("committee", "", "Path to the committee manifest (overrides LEDGER_CLIENT_COMMITTEE_FILE)")
		metricsAddr   = flag.String("metrics-addr", "", "Address to serve /metrics on (overrides LEDGER_CLIENT_METRICS_ADDR)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}
	if *committeeFile != "" {
		cfg.CommitteeFile = *committeeFile
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	privateKey, err := loadOrGenerateKey(cfg.Ed25519KeyPath, cfg.DataDir)
	if err != nil {
		log.Fatal("failed to load signing key: ", err)
	}
	self := cryptoutil.DeriveAddress(privateKey.Public().(ed25519.PublicKey))
	log.Printf("client address: %s", self)

	comm, pubKeys, authorities, err := config.LoadCommittee(cfg.CommitteeFile)
	if err != nil {
		log.Fatal("failed to load committee manifest: ", err)
	}
	log.Printf("loaded committee: %d authorities, quorum=%d, validity=%d",
		len(comm.Members()), comm.QuorumThreshold(), comm.ValidityThreshold())

	db, err := kvdb.OpenAddressDB(cfg.DataDir, self)
	if err != nil {
		log.Fatal("failed to open address store: ", err)
	}
	st := store.New(db)
	defer st.Close()

	b, err := broadcast.New(comm, &broadcast.Config{Timeout: cfg.RequestTimeout})
	if err != nil {
		log.Fatal("failed to build broadcaster: ", err)
	}
	cr := certrequester.New(comm, pubKeys)
	byName := make(map[types.AuthorityName]authority.Client, len(authorities))
	for _, a := range authorities {
		byName[a.Name()] = a
	}
	sy := syncer.New(comm, pubKeys, byName, &syncer.Config{MaxSourceRetries: cfg.SyncRetries})
	dl := download.New(authorities, st, &download.Config{MaxConcurrency: cfg.MaxConcurrency})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c *client.Client
	am := address.New(self, st, func(t *types.Transaction) error {
		_, err := c.ExecuteTransaction(ctx, t)
		return err
	}, nil)
	c = client.New(comm, authorities, st, am, b, cr, sy, dl, nil)

	go retryPendingLoop(ctx, am, 30*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Printf("serving /metrics and /health on %s", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down ledger-client")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

// retryPendingLoop periodically re-drives any transactions left in the
// lock table by a prior crashed run, per §4.H's crash-recovery path.
func retryPendingLoop(ctx context.Context, am *address.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := am.RetryPending(); err != nil {
				log.Printf("retry_pending: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// loadOrGenerateKey loads an ed25519 private key from path, generating
// and persisting a new one (0600 permissions) if none exists yet.
func loadOrGenerateKey(path, dataDir string) (ed25519.PrivateKey, error) {
	if path == "" {
		path = filepath.Join(dataDir, "ed25519_key.hex")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("generating new ed25519 key at %s", path)
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", path, err)
		}
		return priv, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", path, err)
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key in %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 key in %s has wrong size %d", path, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
