package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencivic/demand-ledger-api/internal/broadcast"
	"github.com/opencivic/demand-ledger-api/internal/handler"
	"github.com/opencivic/demand-ledger-api/internal/middleware"
	"github.com/opencivic/demand-ledger-api/internal/models"
	"github.com/opencivic/demand-ledger-api/internal/repository"
	"github.com/opencivic/demand-ledger-api/internal/service"
	"github.com/opencivic/demand-ledger-api/pkg/config"
	"github.com/opencivic/demand-ledger-api/pkg/database"
	"github.com/opencivic/demand-ledger-api/pkg/logger"
	corsmiddleware "github.com/opencivic/demand-ledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opencivic/demand-ledger-api/pkg/middleware/requestid"
	"github.com/opencivic/demand-ledger-api/pkg/storage"

	rediscache "github.com/opencivic/demand-ledger-api/pkg/cache"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	// Redis is optional: without it the list cache is skipped and events fan
	// out in-process only.
	redisClient, err := rediscache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, using in-memory fan-out", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var events broadcast.Broadcaster
	if redisClient != nil {
		events = broadcast.NewRedisBroadcaster(redisClient, cfg.Broadcast.ChannelPrefix, logr)
	} else {
		events = broadcast.NewMemoryBroadcaster(cfg.Broadcast.BufferSize, logr)
	}
	defer events.Close() //nolint:errcheck

	exportStore, err := storage.NewLocalStore(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	demandRepo := repository.NewDemandRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	voteRepo := repository.NewVoteRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metrics := service.NewMetricsService()
	ledgerSvc := service.NewLedgerService(ledgerRepo, exportStore, signer, metrics, logr)

	var auditor *service.ChainAuditor
	if cfg.Ledger.AuditEnabled {
		auditor = service.NewChainAuditor(ledgerSvc, cfg.Ledger, logr)
		auditor.Start(ctx)
		defer auditor.Stop()
	}

	demandOpts := []service.DemandServiceOption{
		service.WithDemandMetrics(metrics),
	}
	if redisClient != nil {
		demandOpts = append(demandOpts, service.WithDemandCache(cacheRepo))
	}
	if auditor != nil {
		demandOpts = append(demandOpts, service.WithDemandAuditor(auditor))
	}
	demandSvc := service.NewDemandService(demandRepo, ledgerRepo, events, logr, demandOpts...)
	var voteSvc *service.VoteService
	if auditor != nil {
		voteSvc = service.NewVoteService(voteRepo, events, auditor, metrics, logr)
	} else {
		voteSvc = service.NewVoteService(voteRepo, events, nil, metrics, logr)
	}

	tokenValidator := middleware.NewTokenValidator(cfg.JWT.Secret)

	demandHandler := handler.NewDemandHandler(demandSvc)
	voteHandler := handler.NewVoteHandler(voteSvc)
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc, exportStore)
	eventsHandler := handler.NewEventsHandler(events)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	{
		demands := api.Group("/demands")
		demands.GET("", middleware.OptionalJWT(tokenValidator), demandHandler.List)
		demands.GET("/:id", middleware.OptionalJWT(tokenValidator), demandHandler.Get)
		demands.POST("", middleware.JWT(tokenValidator), middleware.RequireRoles(models.RoleCitizen), demandHandler.Create)
		demands.POST("/:id/transitions", middleware.JWT(tokenValidator), demandHandler.ApplyTransition)

		demands.POST("/:id/votes", middleware.JWT(tokenValidator), middleware.RequireRoles(models.RoleCitizen), voteHandler.Cast)
		demands.GET("/:id/votes/me", middleware.JWT(tokenValidator), voteHandler.Status)

		demands.GET("/:id/ledger", middleware.JWT(tokenValidator), ledgerHandler.History)
		demands.POST("/:id/ledger/verify", middleware.JWT(tokenValidator), middleware.RequireRoles(models.RoleOfficial, models.RoleAdmin), ledgerHandler.VerifyChain)
		demands.GET("/:id/ledger/export", middleware.JWT(tokenValidator), middleware.RequireRoles(models.RoleRepresentative, models.RoleOfficial, models.RoleAdmin), ledgerHandler.Export)

		api.POST("/ledger/verify", middleware.JWT(tokenValidator), ledgerHandler.Verify)
		api.GET("/ledger/exports/download", ledgerHandler.Download)

		api.GET("/events/demands", middleware.JWT(tokenValidator), eventsHandler.Stream)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
