package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-realtime/internal/ai"
	"chat-realtime/internal/config"
	"chat-realtime/internal/crypto"
	"chat-realtime/internal/db"
	"chat-realtime/internal/directory"
	grpcserver "chat-realtime/internal/grpc"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/typing"
	"chat-realtime/internal/ws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "chat-realtime",
		Short:        "Realtime group chat backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and admin gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configFile)
		},
	})
	return root
}

func setup(configFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func migrate(ctx context.Context, configFile string) error {
	cfg, logger, err := setup(configFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Connect applies the schema before returning.
	database, err := db.Connect(ctx, cfg.DBDSN, logger)
	if err != nil {
		return err
	}
	return database.Close()
}

func serve(parent context.Context, configFile string) error {
	cfg, logger, err := setup(configFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTel.Endpoint, cfg.ServiceName, cfg.Environment, logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	database, err := db.Connect(ctx, cfg.DBDSN, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer func() { _ = publisher.Close() }()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.ServiceName, cfg.Environment, logger)

	cipher, err := crypto.NewCipher([]byte(cfg.Crypto.MasterSecret))
	if err != nil {
		return err
	}
	verifier, err := identity.NewVerifier(identity.Config{
		Issuer:        cfg.Identity.Issuer,
		Audience:      cfg.Identity.Audience,
		PublicKeyPEM:  cfg.Identity.PublicKeyPEM,
		PublicKeyFile: cfg.Identity.PublicKeyFile,
		HMACSecret:    cfg.Identity.HMACSecret,
		Leeway:        cfg.Identity.Leeway,
	})
	if err != nil {
		return err
	}

	userRepo := repositories.NewUserRepo(database)
	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	sessionRepo := repositories.NewSessionRepo(database)

	users := directory.New(userRepo, logger)
	registry := presence.NewRegistry(sessionRepo, userRepo, groupRepo, cfg.Presence.SessionTimeout, logger)
	hub := ws.NewHub(logger)
	typists := typing.NewRegistry(hub, cfg.Typing.Timeout, logger, typing.WithGuard(hub.TypistJoined))

	opts := []messaging.Option{
		messaging.WithIndexer(ai.NewQueueIndexer(publisher, cfg.AI.IndexRoutingKey), cfg.AI.IndexQueueSize),
	}
	if cfg.AI.BaseURL != "" {
		client := ai.NewClient(cfg.AI.BaseURL, cfg.AI.Timeout, logger)
		opts = append(opts, messaging.WithModerator(client), messaging.WithSuggester(client))
	}
	messages := messaging.NewService(groupRepo, messageRepo, cipher, logger, opts...)

	controller := ws.NewController(ws.Deps{
		Hub:       hub,
		Verifier:  verifier,
		Directory: users,
		Presence:  registry,
		Typing:    typists,
		Messages:  messages,
		Groups:    groupRepo,
		Users:     userRepo,
		Audit:     audit,
	}, ws.Config{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		SweepInterval:     cfg.Presence.SweepInterval,
		TouchThrottle:     cfg.Presence.TouchThrottle,
		SendBuffer:        cfg.WS.SendBuffer,
		RateLimit:         cfg.WS.RateLimit,
		WriteTimeout:      cfg.WS.WriteTimeout,
		PongTimeout:       cfg.WS.PongTimeout,
		MaxMessageBytes:   cfg.WS.MaxMessageBytes,
	}, logger)

	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go messages.Run(workers)
	controller.Start(workers)

	admin := grpcserver.NewAdminServer(database, 10*time.Second, logger)
	go admin.Run(workers)

	router := newRouter(cfg, logger, controller, verifier, users, groupRepo, messages, registry, hub, typists, audit)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		if err := admin.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	controller.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	admin.Stop()
	cancelWorkers()
	return runErr
}

func newRouter(
	cfg config.Config,
	logger *zap.Logger,
	controller *ws.Controller,
	verifier *identity.Verifier,
	users *directory.Directory,
	groups repositories.GroupRepository,
	messages *messaging.Service,
	registry *presence.Registry,
	hub *ws.Hub,
	typists *typing.Registry,
	audit *telemetry.AuditEmitter,
) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/ws", ws.NewHandler(controller, cfg.WS.AllowedOrigins, logger).Handle)

	api := router.Group("/", middleware.AuthMiddleware(verifier, users, logger))
	handlers.NewGroupHandler(groups, messages, registry, hub, typists, audit, logger).Register(api)
	handlers.RegisterDebugRoutes(api, audit, cfg.Environment == "development")
	return router
}
