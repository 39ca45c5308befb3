package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/848838/ChatApp/internal/blob"
	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/bus/redisrelay"
	"github.com/848838/ChatApp/internal/config"
	"github.com/848838/ChatApp/internal/database"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/repository"
	"github.com/848838/ChatApp/internal/repository/memory"
	postgresrepo "github.com/848838/ChatApp/internal/repository/postgres"
	redisrepo "github.com/848838/ChatApp/internal/repository/redis"
	"github.com/848838/ChatApp/internal/service"
	"github.com/848838/ChatApp/internal/transport/http/handlers"
	"github.com/848838/ChatApp/internal/transport/ws"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

type stores struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	presence repository.PresenceRepository
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStores()

	// Delivery bus, stretched over Redis when configured
	local := bus.New(log, cfg.WSSendBuffer)
	var publisher bus.Publisher = local

	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		return exitRuntime, err
	}
	if rdb != nil {
		defer rdb.Close()
		relay := redisrelay.New(rdb, local, log)
		publisher = relay
		st.presence = redisrepo.NewPresenceRepo(rdb)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Delivery relay stopped", "error", err)
				stop()
			}
		}()
		log.Info("Connected to Redis")
	}

	blobs, files, err := openBlobStore(ctx, cfg, log)
	if err != nil {
		return exitRuntime, err
	}

	// Services
	resolver := identity.NewJWTResolver(cfg.JWTSecret, st.users)
	issuer := identity.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)

	authService := service.NewAuthService(st.users, issuer, resolver)
	messageService := service.NewMessageService(st.users, st.messages, resolver, publisher, log,
		service.WithTimeout(cfg.RequestTimeout),
		service.WithBlobStore(blobs, cfg.MaxImageBytes),
		service.WithPresence(st.presence),
	)
	presenceService := service.NewPresenceService(st.users, st.presence, publisher, log)

	// Transport
	hub := ws.NewHub(local, resolver, messageService, presenceService, ws.Options{
		SendRate:  cfg.WSSendRate,
		SendBurst: cfg.WSSendBurst,
	}, log)

	router := handlers.NewRouter(handlers.Routes{
		Auth:     handlers.NewAuthHandler(authService, log),
		Messages: handlers.NewMessageHandler(messageService, cfg.MaxImageBytes, log),
		WS:       hub,
		Files:    files,
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// WebSocket handlers watch the request context, so a shutdown signal reaches them too.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", srv.Addr, "store", cfg.StoreDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return exitRuntime, fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("shutdown: %w", err)
	}

	stats := local.Stats()
	log.Info("Server stopped", "published", stats.Published, "dropped", stats.Dropped)
	return exitOK, nil
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using the in-memory store, data is lost on restart")
		mem := memory.New()
		return &stores{users: mem.Users(), messages: mem.Messages(), presence: mem.Presence()}, func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Connected to database")

	if err := database.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Presence falls back to process memory until Redis replaces it.
	return &stores{
		users:    postgresrepo.NewUserRepo(pool),
		messages: postgresrepo.NewMessageRepo(pool),
		presence: memory.New().Presence(),
	}, pool.Close, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (blob.Store, http.Handler, error) {
	if cfg.BlobStoreConfigured() {
		store, err := blob.NewMinIOStore(ctx, blob.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Connected to MinIO", "bucket", cfg.MinIOBucket)
		return store, nil, nil
	}

	mem := blob.NewMemoryStore(cfg.FilesBaseURL())
	files := handlers.BlobFiles(func(key string) (string, []byte, bool) {
		obj, ok := mem.Get(key)
		return obj.ContentType, obj.Data, ok
	})
	return mem, files, nil
}
