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

	"github.com/aradsms/channel_gateway/internal/channel_service/adapters/channel"
	"github.com/aradsms/channel_gateway/internal/channel_service/adapters/email"
	"github.com/aradsms/channel_gateway/internal/channel_service/adapters/grpc_clients"
	"github.com/aradsms/channel_gateway/internal/channel_service/adapters/webchat"
	"github.com/aradsms/channel_gateway/internal/channel_service/app"
	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/channel_service/repository/postgres"
	"github.com/aradsms/channel_gateway/internal/platform/config"
	"github.com/aradsms/channel_gateway/internal/platform/database"
	"github.com/aradsms/channel_gateway/internal/platform/logger"
	"github.com/aradsms/channel_gateway/internal/platform/messagebroker"
	"github.com/aradsms/channel_gateway/internal/public_api_service/middleware"
	httptransport "github.com/aradsms/channel_gateway/internal/public_api_service/transport/http"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const serviceName = "channel_gateway_service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel, serviceName)
	appLogger.Info("Channel gateway starting...", "http_port", cfg.HTTPPort, "grpc_health_port", cfg.GRPCHealthPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providerHTTP := &http.Client{Timeout: cfg.ProviderHTTPTimeout()}
	providers := []provider.ChannelProvider{
		provider.NewWhatsAppProvider(appLogger, provider.WhatsAppConfig{
			APIBase:       cfg.WhatsAppAPIBase,
			AccessToken:   cfg.WhatsAppAccessToken,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			AppSecret:     cfg.WhatsAppAppSecret,
			VerifyToken:   cfg.WhatsAppVerifyToken,
		}, providerHTTP),
		provider.NewMessengerProvider(appLogger, provider.MessengerConfig{
			APIBase:         cfg.MessengerAPIBase,
			PageAccessToken: cfg.MessengerPageAccessToken,
			AppSecret:       cfg.MessengerAppSecret,
			VerifyToken:     cfg.MessengerVerifyToken,
		}, providerHTTP),
		provider.NewTelegramProvider(appLogger, provider.TelegramConfig{
			APIBase:     cfg.TelegramAPIBase,
			BotToken:    cfg.TelegramBotToken,
			SecretToken: cfg.TelegramSecretToken,
		}, providerHTTP),
		provider.NewSlackProvider(appLogger, provider.SlackConfig{
			APIBase:       cfg.SlackAPIBase,
			BotToken:      cfg.SlackBotToken,
			SigningSecret: cfg.SlackSigningSecret,
		}, providerHTTP, time.Now),
		provider.NewTwilioSMSProvider(appLogger, provider.TwilioConfig{
			APIBase:    cfg.TwilioAPIBase,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			WebhookURL: cfg.PublicBaseURL + "/webhooks/sms",
		}, providerHTTP),
	}
	router := app.NewChannelRouter(appLogger, providers...)
	configured := router.GetConfiguredProviders()
	appLogger.Info("Channel providers registered", "registered", len(providers), "configured", len(configured))
	if len(configured) < len(providers) {
		appLogger.Warn("Some channels have no default credentials; organization config must supply them")
	}

	// SLA events go to PostgreSQL when a DSN is configured, otherwise they stay in process.
	var (
		slaSink   app.SLAEventSink
		slaReader app.SLAEventReader
	)
	if cfg.PostgresDSN != "" {
		dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN, database.PoolOptions{})
		if err != nil {
			appLogger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		if err := postgres.EnsureSchema(ctx, dbPool); err != nil {
			appLogger.Error("Failed to prepare SLA event schema", "error", err)
			os.Exit(1)
		}
		slaRepo := postgres.NewPgSLAEventRepository(dbPool, appLogger)
		slaSink, slaReader = slaRepo, slaRepo
		appLogger.Info("SLA events stored in PostgreSQL")
	} else {
		memStore := app.NewMemorySLAStore()
		slaSink, slaReader = memStore, memStore
		appLogger.Warn("POSTGRES_DSN not set, SLA events kept in memory")
	}

	reliability := app.NewReliabilityService(
		router,
		slaSink,
		slaReader,
		app.NewDeadLetterQueue(cfg.DeadLetterQueueCapacity),
		app.RetryPolicy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay(),
			AttemptTimeout: cfg.RetryAttemptTimeout(),
		},
		app.SystemClock{},
		appLogger,
	)

	adapters := channel.NewChatAdapters(reliability, appLogger, providers...)
	adapters = append(adapters, channel.NewEmailAdapter(email.NewGomailSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, appLogger), appLogger))

	if cfg.RedisURL != "" {
		redisClient, err := webchat.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			appLogger.Error("Failed to connect to Redis, web chat disabled", "error", err)
		} else {
			defer redisClient.Close()
			adapters = append(adapters, channel.NewWebchatAdapter(webchat.NewRedisPublisher(redisClient, appLogger), appLogger))
			appLogger.Info("Web chat enabled over Redis pub/sub")
		}
	}
	registry := channel.NewRegistry(adapters...)

	var publisher app.MessagePublisher
	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Warn("NATS unavailable; incoming events are not published and send jobs are not consumed", "error", err)
	} else {
		defer natsClient.Close()
		publisher = natsClient
		if err := app.NewJobConsumer(natsClient, reliability, appLogger).Start(ctx); err != nil {
			appLogger.Error("Failed to start send job consumer", "error", err)
		}
	}

	var agent app.AgentExecutor
	if cfg.AgentExecutorGRPCTarget != "" {
		agentClient, err := grpc_clients.NewAgentExecutorClient(ctx, cfg.AgentExecutorGRPCTarget, cfg.AgentExecuteTimeout(), appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to agent executor, automatic replies disabled", "error", err)
		} else {
			defer agentClient.Close()
			agent = agentClient
		}
	}

	inbound := app.NewInboundService(router, registry, publisher, agent, app.InboundOptions{
		DedupeTTL:      cfg.InboundDedupeTTL(),
		ReplyTimeout:   cfg.AgentExecuteTimeout(),
		DefaultAgentID: cfg.DefaultAgentID,
	}, appLogger)

	validate := validator.New()
	webhookHandler := httptransport.NewWebhookHandler(inbound, router, cfg.PublicBaseURL, cfg.DefaultOrganizationID, appLogger)
	adminHandler := httptransport.NewAdminHandler(registry, reliability, httptransport.RegistryCatalog{Registry: registry, Router: router}, validate, appLogger)
	handler := httptransport.NewRouter(httptransport.RouterConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		WebhookLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.WebhookRateLimitRPS),
			Burst: cfg.WebhookRateLimitBurst,
		}),
		RequestTimeout: 60 * time.Second,
	}, webhookHandler, adminHandler, appLogger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info(fmt.Sprintf("HTTP server listening on port %d", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
			stop()
		}
	}()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCHealthPort))
	if err != nil {
		appLogger.Error("Failed to listen for gRPC health", "port", cfg.GRPCHealthPort, "error", err)
		os.Exit(1)
	}
	go func() {
		appLogger.Info(fmt.Sprintf("gRPC health server listening on port %d", cfg.GRPCHealthPort))
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("gRPC health server failed to serve", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutdown signal received, shutting down...")
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}

	replies := make(chan struct{})
	go func() {
		inbound.Wait()
		close(replies)
	}()
	select {
	case <-replies:
	case <-shutdownCtx.Done():
		appLogger.Warn("Gave up waiting for in-flight agent replies")
	}
	grpcServer.GracefulStop()
	appLogger.Info("Channel gateway shut down.", "dead_letter_queue_size", reliability.DeadLetterQueueSize())
}
