package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"message-service/internal/config"
	"message-service/internal/db"
	"message-service/internal/handlers"
	"message-service/internal/inference"
	"message-service/internal/logger"
	"message-service/internal/middleware"
	"message-service/internal/observability"
	"message-service/internal/presence"
	"message-service/internal/rabbitmq"
	"message-service/internal/repositories"
	"message-service/internal/service"
	"message-service/internal/storage"
	"message-service/internal/telemetry"
	"message-service/internal/ws"
)

type stores struct {
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	users         repositories.UserRepository
	health        handlers.HealthCheck
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sugar, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = sugar.Sync() }()

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.App.Name, cfg.Tracing.Endpoint)
	if err != nil {
		sugar.Warnw("tracing disabled", "error", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	st, err := openStores(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("failed to open store", "driver", cfg.Store.Driver, "error", err)
	}
	defer st.close()

	healthChecks := map[string]handlers.HealthCheck{"store": st.health}

	var rdb *redis.Client
	var presenceStore presence.Store = presence.NewLocalStore()
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		presenceStore = presence.NewRedisStore(rdb, "presence")
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, sugar)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	sugar.Infow("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))

	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.App.Name, cfg.App.Env, sugar)

	deps := service.Deps{
		Messages:      st.messages,
		Conversations: st.conversations,
		Users:         st.users,
		Events:        publisher,
		Presence:      presenceStore,
	}

	if cfg.AWS.Bucket != "" {
		gateway, err := storage.NewS3Gateway(ctx, storage.Config{
			Region:          cfg.AWS.Region,
			Bucket:          cfg.AWS.Bucket,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			PublicBaseURL:   cfg.AWS.PublicBaseURL,
		})
		if err != nil {
			sugar.Fatalw("failed to configure object storage", "error", err)
		}
		deps.Signer = gateway
		deps.Uploader = gateway
	} else {
		sugar.Warn("aws bucket not set, uploads disabled")
	}

	if cfg.Inference.APIKey != "" {
		deps.Completer = inference.NewClient(inference.Config{
			BaseURL:          cfg.Inference.BaseURL,
			APIKey:           cfg.Inference.APIKey,
			Model:            cfg.Inference.Model,
			Timeout:          cfg.Inference.Timeout,
			BreakerFailures:  cfg.Inference.BreakerFailures,
			BreakerOpenDelay: cfg.Inference.BreakerOpenDelay,
		}, sugar)
	} else {
		sugar.Warn("inference api key not set, bot replies answer 503 until it is configured")
	}

	svc := service.NewMessageService(deps, service.Options{
		SystemPrompt:    cfg.Inference.SystemPrompt,
		FallbackReply:   cfg.Inference.FallbackReply,
		MaxTokens:       cfg.Inference.MaxTokens,
		HistoryLimit:    cfg.Inference.HistoryLimit,
		UploadKeyPrefix: cfg.Upload.KeyPrefix,
		UploadMaxBytes:  cfg.Upload.MaxBytes,
		UploadTTL:       cfg.Upload.TTL,
		AllowedTypes:    cfg.Upload.AllowedTypes,
	}, sugar)

	if cfg.Auth.JWTSecret == "" {
		sugar.Fatal("auth.jwt_secret is required")
	}
	tokens := middleware.NewJWTValidator(cfg.Auth.JWTSecret)

	hub := ws.NewHub(sugar)
	messageHandler := handlers.NewMessageHandler(svc, hub, audit, sugar)
	conversationWS := ws.NewConversationWebSocketHandler(hub, svc, tokens, presenceStore, sugar)

	if cfg.App.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterHealthRoutes(router, healthChecks)
	handlers.RegisterDebugRoutes(router, audit, cfg.App.DebugRoutes)

	authed := router.Group("")
	authed.Use(middleware.AuthMiddleware(tokens))
	botLimiter := middleware.RateLimit(rdb, "bot_reply", cfg.RateLimit.BotReplies, cfg.RateLimit.Window, sugar)
	messageHandler.RegisterRoutes(authed, botLimiter)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	go func() {
		sugar.Infow("http server listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("http shutdown failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		sugar.Warnw("tracer shutdown failed", "error", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*stores, error) {
	if cfg.Store.Driver == "postgres" {
		database, err := db.ConnectPostgres(cfg.Postgres.DSN, sugar)
		if err != nil {
			return nil, err
		}
		return &stores{
			messages:      repositories.NewMessageRepo(database),
			conversations: repositories.NewConversationRepo(database),
			users:         repositories.NewUserRepo(database),
			health:        database.PingContext,
			close:         func() { _ = database.Close() },
		}, nil
	}

	client, database, err := db.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Timeout, sugar)
	if err != nil {
		return nil, err
	}
	return &stores{
		messages:      repositories.NewMongoMessageRepo(database, cfg.Mongo.Timeout),
		conversations: repositories.NewMongoConversationRepo(database, cfg.Mongo.Timeout),
		users:         repositories.NewMongoUserRepo(database, cfg.Mongo.Timeout),
		health:        func(ctx context.Context) error { return client.Ping(ctx, nil) },
		close:         func() { _ = client.Disconnect(context.Background()) },
	}, nil
}
