package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/bridge"
	"github.com/ladle-app/ladle/internal/config"
	"github.com/ladle-app/ladle/internal/database"
	"github.com/ladle-app/ladle/internal/docstore"
	"github.com/ladle-app/ladle/internal/localstore"
	"github.com/ladle-app/ladle/internal/logging"
	"github.com/ladle-app/ladle/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Fatalf("failed to create data directory: %v", err)
		}
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var kv *localstore.Store
	if cfg.SealPassphrase != "" {
		kv, err = localstore.NewSealed(db, cfg.SealPassphrase)
		if err != nil {
			log.Fatalf("failed to open sealed store: %v", err)
		}
	} else {
		kv = localstore.New(db)
	}

	account := auth.NewClient(logger.With("component", "auth"))

	var docs docstore.Store
	if cfg.DocsURL != "" {
		docs = docstore.NewClient(docstore.Config{
			BaseURL:     cfg.DocsURL,
			TokenSource: account.Token,
			Logger:      logger.With("component", "docstore"),
		})
	} else {
		logger.Warn("no document service configured, account data will not leave this device")
		docs = docstore.NewMemory()
	}

	hub := bridge.NewHub(logger.With("component", "websocket"))

	opts := syncer.Options{
		Logger: logger.With("component", "sync"),
		OnNotice: func(n syncer.Notice) {
			hub.Broadcast(bridge.NoticeMessage(n))
		},
	}
	favorites := syncer.NewFavorites(kv, docs, account, opts)
	grocery := syncer.NewGrocery(kv, docs, account, opts)
	favorites.Start()
	grocery.Start()
	defer favorites.Close()
	defer grocery.Close()

	srv := bridge.New(favorites, grocery, account, hub, logger)
	srv.Start()
	defer srv.Stop()

	httpServer := &http.Server{
		// Loopback only: the bridge serves the app shell on this device.
		Addr:         "127.0.0.1:" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ladle bridge listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("bridge stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}
