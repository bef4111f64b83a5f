package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openctf/ctfcore/internal/api"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/config"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/scoring"
	"github.com/openctf/ctfcore/internal/settings"
	"github.com/openctf/ctfcore/internal/shell"

	"go.uber.org/zap"
)

var Version = "dev-build"

func main() {

	fmt.Fprintf(os.Stderr, "ctfcore %s - CTF competition core\n\n", Version)

	// config
	var configPath string
	flag.StringVar(&configPath, "c", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// logger
	var logger *zap.Logger
	if cfg.Logger.Level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// database
	db, err := database.Init(cfg.Storage.Database)
	if err != nil {
		zap.S().Fatalf("failed to initialize database: %v", err)
	}
	zap.S().Info("database initialized successfully")

	// settings row
	if _, err := settings.Get(db); err != nil {
		zap.S().Fatalf("failed to load settings: %v", err)
	}

	// cache / rank store
	var store cache.Store
	if cfg.Cache.Addr != "" {
		redisStore, err := cache.NewRedisStore(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			zap.S().Fatalf("failed to connect to redis at %s: %v", cfg.Cache.Addr, err)
		}
		defer redisStore.Close()
		store = redisStore
		zap.S().Infof("connected to redis at %s", cfg.Cache.Addr)
	} else {
		store = cache.NewMemoryStore()
		zap.S().Warn("no cache.addr configured; using in-memory store (single-process only)")
	}

	// shell-server client
	shellClient, err := shell.NewClient(cfg.Shell)
	if err != nil {
		zap.S().Fatalf("failed to build shell client: %v", err)
	}

	// background scoreboard refresher
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	refresher := scoring.NewRefresher(db, store, time.Minute)
	go refresher.Run(ctx)
	zap.S().Info("scoreboard refresher started")

	// API router
	engine := api.NewRouter(cfg, db, store, shellClient)

	go func() {
		zap.S().Infof("starting server at %s", cfg.Listen)
		if err := engine.Run(cfg.Listen); err != nil {
			zap.S().Fatalf("failed to start server: %v", err)
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.S().Info("shutting down server...")
}
