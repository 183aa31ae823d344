package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmserver/internal/config"
	"dmserver/internal/domain"
	"dmserver/internal/httpserver"
	"dmserver/internal/presence"
	"dmserver/internal/security"
	"dmserver/internal/store/mongo"
	"dmserver/internal/store/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize store backend
	repos, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	// Presence registry shared by the websocket handler and the services
	registry := presence.NewRegistry()

	// Build HTTP router
	router := httpserver.NewRouter(cfg, repos, registry, tokenSvc, passwordHasher)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Starting %s server on %s (store=%s)\n", cfg.AppName, cfg.HTTPAddr(), cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// openStore builds the repository set for the configured backend and returns
// a close func for the underlying handle.
func openStore(cfg *config.Config) (domain.Repositories, func(), error) {
	switch cfg.StoreBackend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		defer cancel()

		db, err := mongo.NewDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return domain.Repositories{}, nil, err
		}
		if err := mongo.EnsureIndexes(ctx, db); err != nil {
			return domain.Repositories{}, nil, err
		}
		repos := domain.Repositories{
			Users:         mongo.NewUserRepo(db, cfg.StoreTimeout),
			Conversations: mongo.NewConversationRepo(db, cfg.StoreTimeout),
			Messages:      mongo.NewMessageRepo(db, cfg.StoreTimeout),
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.Client().Disconnect(ctx); err != nil {
				log.Printf("mongo disconnect: %v", err)
			}
		}
		return repos, closeFn, nil

	default: // sqlite
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return domain.Repositories{}, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return domain.Repositories{}, nil, err
		}
		repos := domain.Repositories{
			Users:         sqlite.NewUserRepo(db, cfg.StoreTimeout),
			Conversations: sqlite.NewConversationRepo(db, cfg.StoreTimeout),
			Messages:      sqlite.NewMessageRepo(db, cfg.StoreTimeout),
		}
		return repos, func() { db.Close() }, nil
	}
}
