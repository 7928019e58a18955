package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leased/internal/adminhttp"
	"leased/internal/config"
	"leased/internal/journal"
	"leased/internal/pool"
	"leased/internal/server"
	"leased/pkg/bus"
	"leased/pkg/telemetry"
)

func main() {
	if err := run("leased"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addrPool, err := pool.New(cfg.Server.RangeStart, cfg.Server.RangeEnd)
	if err != nil {
		return fmt.Errorf("create address pool: %w", err)
	}

	opts := []server.Option{server.WithMetrics(server.NewMetrics(prometheus.DefaultRegisterer))}

	var jr *journal.Journal
	if cfg.DB.DSN != "" {
		jr, err = journal.Open(ctx, cfg.DB.DSN, cfg.Server.ServerIP.String())
		if err != nil {
			return fmt.Errorf("open lease journal: %w", err)
		}
		defer jr.Close()
		opts = append(opts, server.WithJournal(jr))
	}

	if cfg.Bus.URL != "" {
		b, err := bus.New(cfg.Bus.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer b.Close()
		if err := b.EnsureStream(cfg.Bus.Stream, cfg.Bus.Subject+".>"); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Bus.Stream, err)
		}
		opts = append(opts, server.WithPublisher(b, cfg.Bus.Subject))
	}

	leaseServer, err := server.NewServer(cfg.Server, addrPool, logger, opts...)
	if err != nil {
		return fmt.Errorf("create lease server: %w", err)
	}

	if jr != nil {
		leases, err := jr.List(ctx)
		if err != nil {
			return fmt.Errorf("load journaled leases: %w", err)
		}
		restored := leaseServer.Restore(leases)
		logger.Printf("INFO restored %d of %d journaled leases", restored, len(leases))
	}

	var leaseReady atomic.Bool
	errCh := make(chan error, 2)

	go func() {
		if err := leaseServer.Run(ctx, &leaseReady); err != nil {
			errCh <- fmt.Errorf("lease server: %w", err)
		}
	}()

	if !cfg.HTTP.Enabled {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return nil
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	var dbCheck pinger
	if jr != nil {
		dbCheck = jr
	}
	mux.Handle("/readyz", readyHandler(&leaseReady, dbCheck))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/", adminhttp.NewRouter(addrPool, leaseServer, logger))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO http listening on %s", httpServer.Addr)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readyHandler reports ready once the UDP listener is bound and, when a
// journal is configured, its database answers a ping.
func readyHandler(ready *atomic.Bool, db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "lease listener not ready", http.StatusServiceUnavailable)
			return
		}
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				http.Error(w, "lease journal unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
