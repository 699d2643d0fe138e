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

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-studio-api/api/swagger"
	"github.com/noah-isme/lms-studio-api/internal/bootstrap"
	"github.com/noah-isme/lms-studio-api/internal/events"
	"github.com/noah-isme/lms-studio-api/internal/handler"
	internalmiddleware "github.com/noah-isme/lms-studio-api/internal/middleware"
	"github.com/noah-isme/lms-studio-api/internal/integration"
	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/internal/repository"
	"github.com/noah-isme/lms-studio-api/internal/service"
	"github.com/noah-isme/lms-studio-api/pkg/cache"
	"github.com/noah-isme/lms-studio-api/pkg/config"
	"github.com/noah-isme/lms-studio-api/pkg/database"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
	"github.com/noah-isme/lms-studio-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-studio-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-studio-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-studio-api/pkg/storage"
)

// @title LMS Studio API
// @version 1.0.0
// @description Course import/export, account provisioning and lifecycle event routing for the LMS studio.
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-Edx-Api-Key

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	store, err := bootstrap.ObjectStore(ctx, cfg.Storage)
	if err != nil {
		logr.Sugar().Fatalw("failed to open object store", "error", err)
	}

	metricsSvc := service.NewMetricsService()
	registry := events.NewRegistry(logr, metricsSvc)

	var dispatcher jobs.Dispatcher
	switch cfg.Tasks.Backend {
	case config.TasksBackendRabbitMQ:
		broker, err := bootstrap.AMQPBroker(cfg.Tasks, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect task broker", "error", err)
		}
		defer broker.Close()
		dispatcher = broker
	default:
		router := bootstrap.TaskRouter(cfg, db, store, registry.Dispatch, metricsSvc, logr)
		queue := jobs.NewQueue("tasks", router.Handle, jobs.QueueConfig{
			Workers:    cfg.Tasks.Workers,
			BufferSize: cfg.Tasks.BufferSize,
			MaxRetries: cfg.Tasks.MaxRetries,
			RetryDelay: cfg.Tasks.RetryDelay,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()
		dispatcher = queue
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskStatusRepository(db)
	accessRepo := repository.NewAccessRepository(db)
	contentRepo := repository.NewContentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, cfg.ServiceName, logr)

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})
	accessSvc := service.NewAccessService(accessRepo, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Reruns.CacheTTL, logr, true)

	accountSvc := service.NewAccountService(userRepo, service.NewParamValidator(nil), logr, service.AccountConfig{
		IdPBackendName: cfg.Accounts.IdPBackendName,
	})
	importSvc := service.NewCourseImportService(accessSvc, storage.NewStager(cfg.Import.StagingDir), store, taskRepo, dispatcher, metricsSvc, logr, service.CourseImportConfig{
		StoragePrefix:   cfg.Import.StoragePrefix,
		MaxFileSize:     cfg.Import.MaxFileSizeBytes,
		DefaultLanguage: cfg.Import.DefaultLanguage,
	})
	exportSvc := service.NewCourseExportService(accessSvc, taskRepo, store,
		storage.NewSignedURLSigner(cfg.Export.SignedURLSecret, cfg.Export.SignedURLTTL),
		dispatcher, metricsSvc, logr, service.CourseExportConfig{APIPrefix: cfg.APIPrefix})
	rerunSvc := service.NewRerunService(repository.NewRerunRepository(db), accessSvc, cacheSvc, cfg.Reruns.CacheTTL, logr)

	service.NewSignalService(
		integration.NewProctoringClient(cfg.Services.ProctoringURL, cfg.Services.Timeout, logr),
		integration.NewCreditClient(cfg.Services.CreditURL, cfg.Services.Timeout, logr),
		contentRepo,
		repository.NewCourseSettingsRepository(db),
		dispatcher,
		metricsSvc,
		logr,
		service.SignalConfig{
			CoursewareIndexEnabled: cfg.Search.CoursewareIndexEnabled,
			LibraryIndexEnabled:    cfg.Search.LibraryIndexEnabled,
			SiteDomain:             cfg.Accounts.SiteDomain,
		},
	).Register(registry)

	if cfg.Events.SubscriberEnabled {
		subscriber := events.NewSubscriber(redisClient, cfg.Events.Channel, registry, logr)
		go func() {
			if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("event subscriber stopped", zap.Error(err))
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": handler.PingFunc(db.PingContext),
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:     authSvc,
		apiKey:   cfg.Accounts.APIKey,
		audit:    userRepo,
		logger:   logr,
		courses:  handler.NewCourseHandler(importSvc, exportSvc),
		accounts: handler.NewAccountHandler(accountSvc),
		reruns:   handler.NewRerunHandler(rerunSvc),
		events:   handler.NewEventHandler(registry, logr),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "tasks_backend", cfg.Tasks.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

type routeDeps struct {
	auth     *service.AuthService
	apiKey   string
	audit    *repository.UserRepository
	logger   *zap.Logger
	courses  *handler.CourseHandler
	accounts *handler.AccountHandler
	reruns   *handler.RerunHandler
	events   *handler.EventHandler
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	// Download links carry their own signed token.
	api.GET("/courses/v0/export/:course_id/download", deps.courses.DownloadExport)

	courses := api.Group("/courses/v0")
	courses.Use(internalmiddleware.JWT(deps.auth))
	courses.POST("/import/:course_id/", deps.courses.SubmitImport)
	courses.GET("/import/:course_id/", deps.courses.ImportStatus)
	courses.POST("/export/:course_id/", deps.courses.SubmitExport)
	courses.GET("/export/:course_id/", deps.courses.ExportStatus)

	api.POST("/rerun-check", internalmiddleware.JWT(deps.auth), deps.reruns.Check)

	accounts := api.Group("/accounts")
	accounts.Use(internalmiddleware.APIKey(deps.apiKey))
	accounts.POST("", deps.accounts.Create)
	accounts.PATCH("", deps.accounts.Update)

	api.POST("/internal/events",
		internalmiddleware.APIKey(deps.apiKey),
		internalmiddleware.Audit(deps.audit, models.AuditActionEventDispatch, "event", deps.logger),
		deps.events.Dispatch,
	)
}
