package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/mathbot/backend/internal/config"
	"github.com/zhouzirui/mathbot/backend/internal/events"
	"github.com/zhouzirui/mathbot/backend/internal/handler"
	"github.com/zhouzirui/mathbot/backend/internal/service/ai"
	"github.com/zhouzirui/mathbot/backend/internal/service/chat"
	"github.com/zhouzirui/mathbot/backend/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := openSessionStore(cfg.Session)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer store.Close()
	if purger, ok := store.(session.Purger); ok {
		go session.StartCleanup(ctx, purger, cfg.Session.CleanupInterval)
	}
	log.Printf("session store ready (backend=%s, ttl=%s)", cfg.Session.Backend, cfg.Session.TTL)

	// A failed model init keeps registration available; chat calls report it.
	var opts []chat.Option
	var responder chat.Responder
	aiService, err := ai.NewServiceFromConfig(ctx, cfg.AI)
	if err != nil {
		log.Printf("warning: failed to initialize AI service: %v", err)
		log.Println("continuing without AI functionality - check LLM_PROVIDER and credentials")
		opts = append(opts, chat.WithModelInitError(err))
	} else {
		responder = aiService
		log.Printf("AI service initialized (provider=%s, model=%s)", cfg.AI.Provider, cfg.AI.Model)
	}

	publisher := openPublisher(cfg.Events)
	defer publisher.Close()
	opts = append(opts, chat.WithPublisher(publisher))

	chatService := chat.NewService(store, responder, opts...)
	router := handler.NewRouter(chatService)

	startServer(ctx, cfg.Server, router)
}

func openSessionStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	case config.BackendPostgres:
		return session.OpenPostgres(cfg.PostgresDSN, cfg.TTL)
	case config.BackendMemory:
		return session.NewMemoryStore(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

func openPublisher(cfg config.EventsConfig) events.Publisher {
	if cfg.NATSURL == "" {
		return events.Nop{}
	}

	natsCfg := events.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	if cfg.Subject != "" {
		natsCfg.Subject = cfg.Subject
	}

	publisher, err := events.NewNATSPublisher(natsCfg)
	if err != nil {
		log.Printf("warning: failed to connect to NATS at %s: %v", cfg.NATSURL, err)
		return events.Nop{}
	}
	log.Printf("publishing chat exchanges to NATS subject %s", publisher.Subject())
	return publisher
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Mathbot backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
