package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdlayher/vsock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudx-io/batchclearing/attestation"
	"github.com/cloudx-io/batchclearing/facade"
	"github.com/cloudx-io/batchclearing/ledger"
	"github.com/cloudx-io/batchclearing/store/postgres"
	"github.com/cloudx-io/batchclearing/subgraph"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file loaded: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func run(ctx context.Context, cfg *Config) error {
	client := subgraph.NewClient(cfg.IndexerURL,
		subgraph.WithTimeout(cfg.IndexerTimeout),
		subgraph.WithMaxRetries(cfg.IndexerMaxRetries),
	)

	var source facade.AuctionSource = client
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pool.EnsureSchema(ctx); err != nil {
			return err
		}
		source = &mirroredCatalog{primary: client, mirror: postgres.NewAuctionStore(pool)}
		log.Printf("INFO: Mirroring auction catalog to postgres")
	}

	bidLedger := ledger.New(ledger.WithMetrics(ledger.NewMetrics(prometheus.DefaultRegisterer, "")))

	var opts []facade.Option
	if cfg.StaleAfter > 0 {
		opts = append(opts, facade.WithStaleAfter(cfg.StaleAfter))
	}
	service := facade.NewService(source, bidLedger, client, opts...)
	if err := service.ReloadAuctions(ctx); err != nil {
		log.Printf("WARNING: Initial catalog load failed: %v", err)
	}
	go reloadCatalog(ctx, service, cfg.ReloadInterval)

	signer, err := loadSigner(cfg.SigningKeyPath)
	if err != nil {
		return err
	}

	listener, err := listen(cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler:           NewClearingServer(service, signer, cfg.MaxWorkers, prometheus.DefaultGatherer).Routes(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: Shutdown failed: %v", err)
		}
	}()

	log.Printf("INFO: Clearing server listening on %s (max workers: %d)", listener.Addr(), cfg.MaxWorkers)
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	log.Printf("INFO: Shutdown complete")
	return nil
}

func listen(cfg *Config) (net.Listener, error) {
	if cfg.VsockPort != 0 {
		listener, err := vsock.Listen(cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return listener, nil
	}
	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %w", err)
	}
	return listener, nil
}

// loadSigner reads the attestation key from path, or generates one when path is empty.
func loadSigner(path string) (*attestation.Signer, error) {
	if path == "" {
		log.Printf("WARNING: CLEARING_SIGNING_KEY not set, generating an ephemeral attestation key")
		return attestation.NewSigner()
	}
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return attestation.NewSignerFromPEM(pemData)
}

func reloadCatalog(ctx context.Context, service *facade.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := service.ReloadAuctions(ctx); err != nil {
				log.Printf("WARNING: Catalog reload failed: %v", err)
			}
		}
	}
}
