package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"benchboard/internal/api"
	"benchboard/internal/cache"
	"benchboard/internal/config"
	"benchboard/internal/coordinator"
	"benchboard/internal/janitor"
	"benchboard/internal/leaderboard"
	"benchboard/internal/pipeline"
	"benchboard/internal/store"
	"benchboard/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to a config file (yaml, toml or json)")
		addr    = flag.String("addr", "", "HTTP bind address, overrides server.addr")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	setupLogging(cfg.Log)

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Database.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := leaderboard.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	caches := cache.NewManager(cfg.CacheTTLs())
	board := leaderboard.NewService(leaderboard.NewSQLiteRepo(db), caches)

	tasks := store.NewMemoryRepo()
	pool := worker.NewPool(cfg.Tasks.Workers)
	coord := coordinator.New(tasks, pipeline.New(cfg.PipelineOptions()), pool)

	jan, err := janitor.New(tasks, cfg.Tasks.Retention, cfg.Tasks.JanitorSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("janitor")
	}
	if err := jan.Start(); err != nil {
		log.Fatal().Err(err).Msg("start janitor")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServerWithDebug(coord, board, caches, cfg.Server.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("workers", pool.Size()).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-jan.Stop().Done()
	if err := coord.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Int("running", pool.Running()).Int("pending", pool.Pending()).Msg("abandoning in-flight uploads")
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}
