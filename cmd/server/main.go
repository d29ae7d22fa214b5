package main

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"gamechat/auth"
	httpapi "gamechat/infrastructure/http"
	"gamechat/internal"
	"gamechat/moderation"
	"gamechat/repositories"
	"gamechat/runtime"
	"gamechat/runtime/workers"
)

//go:embed wordlists/*.txt
var wordlistsFolder embed.FS

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer (database close included)
// executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: internal.ParseLevel(config.LogLevel),
	}))

	replacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return err
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Moderation
	words, languages, err := moderation.LoadWords(wordlistsFolder, "wordlists")
	if err != nil {
		return fmt.Errorf("wordlists loading failed: %w", err)
	}
	log.Info(fmt.Sprintf("%d censored words loaded [%d languages]", len(words), len(languages)))
	censor, err := moderation.NewCensor(words, replacement)
	if err != nil {
		return fmt.Errorf("censor build failed: %w", err)
	}

	// 4. Core components
	registry := runtime.NewRegistry()
	blockRepository := repositories.NewBlockRepository(db, log)
	historyRepository := repositories.NewHistoryRepository(db, log, blockRepository, config.HistoryPageLimit)

	limits := runtime.ConnectionLimits{
		ChatCapacity:      config.ChatRateCapacity,
		ChatRefillPerSec:  config.ChatRateRefillPerSec,
		BlockCapacity:     config.BlockRateCapacity,
		BlockRefillPerSec: config.BlockRateRefillPerSec,
		QueueDepth:        config.OutboundQueueDepth,
	}
	router := runtime.NewRouter(log, registry, historyRepository, blockRepository,
		censor, limits, config.MaxBodyLength, config.MalformedLimit)
	relay := runtime.NewRelay(log, registry)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Background workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewStorageGCWorker(db, config.GCInterval, log))
	sup.Add(workers.NewTelemetryWorker(registry, config.MetricInterval, log))
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// 7. HTTP server
	api := httpapi.NewServer(log, auth.NewJWTVerifier(config.JWTSecret), router, historyRepository, relay)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: api.Handler()}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
