package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"scriptworld/internal/api"
	"scriptworld/internal/engine"
	"scriptworld/internal/store"
	"scriptworld/pkg/logger"
)

func main() {
	var (
		addr           = flag.String("addr", envOr("ADDR", ":8080"), "HTTP listen address")
		dbPath         = flag.String("db", envOr("DB_PATH", "scriptworld.db"), "SQLite database path")
		tickRate       = flag.Int("tick-rate", envIntOr("TICK_RATE", 60), "physics steps per second")
		broadcastEvery = flag.Int("broadcast-every", envIntOr("BROADCAST_EVERY", 3), "snapshot every N ticks")
	)
	flag.Parse()
	logger.Init()

	db, err := store.New(*dbPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("open datastore")
	}
	defer db.Close()

	cfg := engine.DefaultConfig()
	cfg.TickRate = *tickRate
	cfg.BroadcastEvery = *broadcastEvery

	manager := engine.NewManager(db, cfg)
	server := &http.Server{
		Addr:         *addr,
		Handler:      api.NewServer(manager).Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // spectate websockets stay open
	}

	go func() {
		logger.Log.WithField("addr", *addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Warn("http shutdown")
	}
	manager.Shutdown()
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
