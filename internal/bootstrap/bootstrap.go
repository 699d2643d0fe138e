// Package bootstrap builds the collaborators shared by the API and worker
// processes from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/integration"
	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/internal/repository"
	"github.com/noah-isme/lms-studio-api/internal/service"
	"github.com/noah-isme/lms-studio-api/pkg/config"
	"github.com/noah-isme/lms-studio-api/pkg/export"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
	"github.com/noah-isme/lms-studio-api/pkg/storage"
)

// JobTypes lists every job type handled by the task worker.
var JobTypes = []string{
	models.JobImportOLX,
	models.JobExportOLX,
	models.JobUpdateSearchIndex,
	models.JobUpdateLibraryIndex,
	models.JobComputeGrades,
	models.JobSendAnalytics,
}

// ObjectStore opens the configured durable store.
func ObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case config.StorageBackendS3:
		store, err := storage.NewS3Store(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageBackendLocal, "":
		store, err := storage.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// TaskRouter builds the job router with every task handler registered.
// publish announces imported courses and may be nil.
func TaskRouter(cfg *config.Config, db *sqlx.DB, store storage.ObjectStore, publish service.EventPublisher, metrics *service.MetricsService, logger *zap.Logger) *jobs.Router {
	search := integration.NewSearchClient(cfg.Services.SearchURL, cfg.Services.Timeout, logger)
	worker := service.NewTaskWorker(service.TaskWorkerDeps{
		Tasks:     repository.NewTaskStatusRepository(db),
		Store:     store,
		Content:   repository.NewContentRepository(db),
		Exporter:  export.NewOLXExporter(),
		Search:    search,
		Grades:    integration.NewGradesClient(cfg.Services.GradesURL, cfg.Services.Timeout, logger),
		Analytics: integration.NewAnalyticsClient(cfg.Services.Timeout, logger),
		Publish:   publish,
	}, metrics, logger, service.TaskWorkerConfig{
		MaxRetries:   cfg.Tasks.MaxRetries,
		ExportPrefix: cfg.Export.StoragePrefix,
	})

	router := jobs.NewRouter()
	worker.Register(router)
	return router
}

// AMQPBroker connects to RabbitMQ with every job queue declared.
func AMQPBroker(cfg config.TasksConfig, logger *zap.Logger) (*jobs.AMQPBroker, error) {
	return jobs.NewAMQPBroker(jobs.AMQPConfig{
		URL:        cfg.RabbitMQURL,
		Types:      JobTypes,
		MaxRetries: cfg.MaxRetries,
		Prefetch:   cfg.Workers,
		Logger:     logger,
	})
}
