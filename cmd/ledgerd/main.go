// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/private-ledger/pkg/config"
	"github.com/certen/private-ledger/pkg/ledger"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	log.Printf("opening ledger (database=%s, offchain=%s)", cfg.DatabaseURL, cfg.OffChainDir)
	l, err := ledger.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	log.Println("ledger opened")

	ctx, cancel := context.WithCancel(context.Background())

	if err := l.StartMaintenance(ctx); err != nil {
		log.Printf("maintenance scheduler did not start: %v", err)
	} else {
		log.Println("maintenance scheduler started")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := l.CheckHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !h.DatabaseHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})

	healthServer := &http.Server{
		Addr:    cfg.HealthAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("health endpoint listening on %s", cfg.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}

	if err := l.StopMaintenance(); err != nil {
		log.Printf("maintenance scheduler shutdown error: %v", err)
	}
	if err := l.Close(); err != nil {
		log.Printf("ledger close error: %v", err)
	}

	log.Println("shutdown complete")
}

func printHelp() {
	log.Println("ledgerd - permissioned append-only ledger daemon")
	log.Println()
	log.Println("Configuration is read entirely from the environment; see pkg/config for the full variable list.")
	log.Println("Exposes a single /healthz endpoint on HEALTH_CHECK_PORT reporting database, maintenance, and indexing status.")
}
