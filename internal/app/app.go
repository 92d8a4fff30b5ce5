package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"social_backend/internal/auth"
	"social_backend/internal/config"
	"social_backend/internal/handlers"
	"social_backend/internal/logger"
	"social_backend/internal/middleware"
	"social_backend/internal/presence"
	"social_backend/internal/repositories"
	"social_backend/internal/routes"
	"social_backend/internal/services"
	"social_backend/internal/storage"
	"social_backend/internal/validator"
	"social_backend/ws"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// App is the wired application: HTTP router, realtime hub and the
// resources they share.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Storage  storage.Storage
	Tokens   *auth.Manager
	Services *services.ServiceContainer
	Hub      *ws.Hub
	Router   *gin.Engine
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock sets the clock the chat service and the hub stamp events with.
// It should match the NowFunc of the gorm connection.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wires every component. The hub is built but not started; use Serve,
// or run Hub.Run yourself in tests.
func New(cfg *config.Config, gormDB *gorm.DB, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rdb, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	storageInstance, err := storage.NewStorage(storage.Config{
		Type:       cfg.Storage.Type,
		BasePath:   cfg.Storage.BasePath,
		BaseURL:    cfg.Storage.BaseURL,
		Bucket:     cfg.Storage.Bucket,
		Region:     cfg.Storage.Region,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		Endpoint:   cfg.Storage.Endpoint,
		UseSSL:     cfg.Storage.UseSSL,
		PublicRead: cfg.Storage.PublicRead,
	})
	if err != nil {
		closeRedis(rdb)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage initialized", "type", storageInstance.Provider())

	serviceContainer := initializeServices(cfg, storageInstance, o.now)

	hub, err := initializeHub(cfg, gormDB, rdb, serviceContainer, o.now)
	if err != nil {
		closeRedis(rdb)
		return nil, err
	}

	tokens := auth.NewManager(cfg.JWT.Secret, time.Duration(cfg.JWT.TTL)*time.Minute)
	appHandlers := initializeHandlers(serviceContainer, hub)
	wsHandler := ws.NewWebSocketHandler(hub, tokens, cfg.CORS.AllowedOrigins)

	ginRouter := initializeGinRouter(cfg, gormDB)
	if storageInstance.Provider() == "local" && strings.HasPrefix(cfg.Storage.BaseURL, "/") {
		ginRouter.Static(cfg.Storage.BaseURL, cfg.Storage.BasePath)
	}
	routes.RegisterRoutes(ginRouter, appHandlers, wsHandler, tokens)

	return &App{
		Config:   cfg,
		DB:       gormDB,
		Redis:    rdb,
		Storage:  storageInstance,
		Tokens:   tokens,
		Services: serviceContainer,
		Hub:      hub,
		Router:   ginRouter,
	}, nil
}

// Serve runs the HTTP server and the hub until ctx is cancelled or one of
// them fails, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Address(),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info(fmt.Sprintf("🚀 Server starting on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server startup error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		// Hijacked websocket connections are not tracked by http.Server.
		a.Hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the hub and the shared redis client. The database is
// owned by the caller.
func (a *App) Close() {
	a.Hub.Shutdown()
	closeRedis(a.Redis)
}

func initializeServices(cfg *config.Config, storageInstance storage.Storage, now func() time.Time) *services.ServiceContainer {
	chatRepo := repositories.NewChatRepository()
	profileRepo := repositories.NewProfileRepository()
	uploadRepo := repositories.NewUploadRepository()

	uploadService := services.NewUploadService(uploadRepo, storageInstance, services.UploadConfig{
		MaxFileSize:  cfg.Upload.MaxSize,
		AllowedTypes: cfg.Upload.AllowedTypes,
	})
	chatService := services.NewChatService(chatRepo, profileRepo, uploadService, services.ChatConfig{
		AllowAutoJoin:   cfg.Chat.AllowAutoJoin,
		DefaultPageSize: cfg.Chat.DefaultPageSize,
		MessagePageSize: cfg.Chat.MessagePageSize,
		Now:             now,
	})

	return &services.ServiceContainer{
		ChatService:   chatService,
		UploadService: uploadService,
	}
}

func initializeHub(cfg *config.Config, gormDB *gorm.DB, rdb redis.UniversalClient, svc *services.ServiceContainer, now func() time.Time) (*ws.Hub, error) {
	tracker, err := presence.New(cfg.Realtime.Presence, rdb, "")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize presence: %w", err)
	}
	broker, err := ws.NewBroker(cfg.Realtime.Broker, rdb, cfg.Realtime.RedisChannel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize realtime broker: %w", err)
	}
	logger.Info("Realtime initialized", "presence", cfg.Realtime.Presence, "broker", cfg.Realtime.Broker)

	return ws.NewHub(
		gormDB,
		svc.ChatService,
		tracker,
		presence.NewTypingTimers(cfg.Realtime.TypingTimeout),
		broker,
		ws.HubConfig{
			SendBuffer:   cfg.Realtime.SendBuffer,
			PingInterval: cfg.Realtime.PingInterval,
			PongTimeout:  cfg.Realtime.PongTimeout,
			Now:          now,
		},
	), nil
}

func initializeHandlers(svc *services.ServiceContainer, hub *ws.Hub) *handlers.AppHandlers {
	baseHandler := handlers.NewBaseHandler(validator.New())

	return &handlers.AppHandlers{
		ChatHandler:     handlers.NewChatHandler(baseHandler, svc.ChatService, hub),
		PresenceHandler: handlers.NewPresenceHandler(baseHandler, hub),
		HealthHandler:   handlers.NewHealthHandler(baseHandler, hub),
	}
}

func initializeGinRouter(cfg *config.Config, db *gorm.DB) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(middleware.DBMiddleware(db))
	return router
}

// newRedisClient returns nil when neither presence nor the broker uses redis.
func newRedisClient(cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.Realtime.Presence != "redis" && cfg.Realtime.Broker != "redis" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.Realtime.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime.redis_url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	logger.Info("Redis connected", "addr", opt.Addr)
	return client, nil
}

func closeRedis(rdb redis.UniversalClient) {
	if rdb == nil {
		return
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("Failed to close redis client", "error", err)
	}
}
