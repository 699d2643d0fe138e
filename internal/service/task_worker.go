package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/events"
	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/pkg/export"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
)

type workerTaskStore interface {
	FindByTaskID(ctx context.Context, taskID string) (*models.UserTaskStatus, error)
	UpdateState(ctx context.Context, taskID string, state models.TaskState, completedSteps int) error
	CreateArtifact(ctx context.Context, artifact *models.UserTaskArtifact) error
}

type archiveStore interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

type courseOutlineReader interface {
	ListByCourse(ctx context.Context, courseKey string) ([]models.ContentBlock, error)
}

type archiveRenderer interface {
	Render(course export.Course) ([]byte, error)
}

type searchIndexer interface {
	IndexCourse(ctx context.Context, courseKey, triggeredAt string) error
	IndexLibrary(ctx context.Context, libraryKey, triggeredAt string) error
}

type gradeRecomputer interface {
	ComputeAllGrades(ctx context.Context, courseKey, transactionID, transactionType string) error
}

type analyticsPusher interface {
	Push(ctx context.Context, push models.AnalyticsPushPayload) error
}

// TaskWorkerConfig governs retries and export placement.
type TaskWorkerConfig struct {
	MaxRetries   int
	ExportPrefix string
}

// EventPublisher announces a lifecycle event.
type EventPublisher func(ctx context.Context, ev events.Event) error

// TaskWorkerDeps groups the collaborators used by job handlers. Publish may be
// nil, in which case imports do not announce the course.
type TaskWorkerDeps struct {
	Tasks     workerTaskStore
	Store     archiveStore
	Content   courseOutlineReader
	Exporter  archiveRenderer
	Search    searchIndexer
	Grades    gradeRecomputer
	Analytics analyticsPusher
	Publish   EventPublisher
}

// TaskWorker executes queued jobs and records their task state.
type TaskWorker struct {
	deps    TaskWorkerDeps
	metrics *MetricsService
	logger  *zap.Logger
	config  TaskWorkerConfig
}

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent task failure")

// NewTaskWorker constructs a worker.
func NewTaskWorker(deps TaskWorkerDeps, metrics *MetricsService, logger *zap.Logger, config TaskWorkerConfig) *TaskWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.ExportPrefix == "" {
		config.ExportPrefix = "olx_export/"
	}
	return &TaskWorker{deps: deps, metrics: metrics, logger: logger, config: config}
}

// Register binds every job type to its handler.
func (w *TaskWorker) Register(router *jobs.Router) {
	router.Register(models.JobImportOLX, w.tracked(w.importOLX))
	router.Register(models.JobExportOLX, w.tracked(w.exportOLX))
	router.Register(models.JobUpdateSearchIndex, w.untracked(w.updateSearchIndex))
	router.Register(models.JobUpdateLibraryIndex, w.untracked(w.updateLibraryIndex))
	router.Register(models.JobComputeGrades, w.untracked(w.computeGrades))
	router.Register(models.JobSendAnalytics, w.untracked(w.sendAnalytics))
}

// tracked wraps handlers whose progress is visible through user_task_status.
func (w *TaskWorker) tracked(fn jobs.Handler) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		logger := w.jobLogger(job)
		if err := w.deps.Tasks.UpdateState(ctx, job.ID, models.TaskStateInProgress, 0); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				logger.Warn("task status missing, dropping job")
				return nil
			}
			return err
		}

		err := fn(ctx, job)
		w.metrics.RecordTaskFinished(job.Type, err)
		if err == nil {
			if updateErr := w.deps.Tasks.UpdateState(ctx, job.ID, models.TaskStateSucceeded, 1); updateErr != nil {
				// The work is done; a redelivery would repeat it.
				logger.Error("failed to mark task succeeded", zap.Error(updateErr))
				return nil
			}
			logger.Info("task succeeded")
			return nil
		}

		permanent := errors.Is(err, errPermanent)
		state := models.TaskStateRetrying
		if permanent || job.Attempt >= w.config.MaxRetries {
			state = models.TaskStateFailed
		}
		if updateErr := w.deps.Tasks.UpdateState(ctx, job.ID, state, 0); updateErr != nil {
			logger.Warn("failed to record task failure", zap.Error(updateErr))
		}
		logger.Error("task failed", zap.String("state", string(state)), zap.Error(err))
		if permanent {
			return nil
		}
		return err
	}
}

func (w *TaskWorker) untracked(fn jobs.Handler) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		err := fn(ctx, job)
		w.metrics.RecordTaskFinished(job.Type, err)
		if err != nil {
			w.jobLogger(job).Warn("task failed", zap.Error(err))
		}
		return err
	}
}

func (w *TaskWorker) jobLogger(job jobs.Job) *zap.Logger {
	return w.logger.With(
		zap.String("task_id", job.ID),
		zap.String("task_name", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.String("request_id", job.RequestID),
	)
}

// importOLX checks that the stored archive is an importable OLX tarball.
func (w *TaskWorker) importOLX(ctx context.Context, job jobs.Job) error {
	var payload models.ImportOLXPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	rc, err := w.deps.Store.Open(ctx, payload.StoragePath)
	if err != nil {
		return fmt.Errorf("open import archive: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	manifest, err := export.Verify(rc)
	if err != nil {
		if errors.Is(err, export.ErrInvalidArchive) {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}
	w.logger.Info("course archive verified",
		zap.String("course_key", payload.CourseKey),
		zap.String("root", manifest.Root),
		zap.Int("entries", manifest.Entries),
	)
	if w.deps.Publish == nil {
		return nil
	}
	if err := w.deps.Publish(ctx, events.CoursePublished{CourseKey: payload.CourseKey}); err != nil {
		w.jobLogger(job).Warn("failed to announce imported course", zap.Error(err))
	}
	return nil
}

// exportOLX packages the course outline and records the archive artifact.
func (w *TaskWorker) exportOLX(ctx context.Context, job jobs.Job) error {
	var payload models.ExportOLXPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	courseKey, err := models.ParseCourseKey(payload.CourseKey)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	blocks, err := w.deps.Content.ListByCourse(ctx, courseKey.String())
	if err != nil {
		return err
	}
	archive, err := w.deps.Exporter.Render(outline(courseKey, blocks))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	name := fmt.Sprintf("%s%s_%s_%s.tar.gz", w.config.ExportPrefix, courseKey.Org, courseKey.Course, courseKey.Run)
	stored, err := w.deps.Store.Save(ctx, name, bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("store export archive: %w", err)
	}
	status, err := w.deps.Tasks.FindByTaskID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export status: %w", err)
	}
	return w.deps.Tasks.CreateArtifact(ctx, &models.UserTaskArtifact{
		StatusID: status.ID,
		Name:     models.ArtifactOutput,
		FilePath: stored,
	})
}

// outline converts content blocks keyed by usage key into exporter blocks
// keyed by block id.
func outline(courseKey models.CourseKey, blocks []models.ContentBlock) export.Course {
	course := export.Course{Org: courseKey.Org, Number: courseKey.Course, Run: courseKey.Run}
	for _, b := range blocks {
		block := export.Block{ID: blockID(b.UsageKey), Category: b.Category, DisplayName: b.DisplayName}
		if b.ParentKey.Valid {
			block.ParentID = blockID(b.ParentKey.String)
		}
		course.Blocks = append(course.Blocks, block)
	}
	return course
}

func blockID(usageKey string) string {
	if key, err := models.ParseUsageKey(usageKey); err == nil {
		return key.BlockID
	}
	return usageKey
}

func (w *TaskWorker) updateSearchIndex(ctx context.Context, job jobs.Job) error {
	var payload models.SearchIndexPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.deps.Search.IndexCourse(ctx, payload.CourseKey, payload.TriggeredAt)
}

func (w *TaskWorker) updateLibraryIndex(ctx context.Context, job jobs.Job) error {
	var payload models.LibraryIndexPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.deps.Search.IndexLibrary(ctx, payload.LibraryKey, payload.TriggeredAt)
}

func (w *TaskWorker) computeGrades(ctx context.Context, job jobs.Job) error {
	var payload models.ComputeGradesPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.deps.Grades.ComputeAllGrades(ctx, payload.CourseKey, payload.EventTransactionID, payload.EventTransactionType)
}

func (w *TaskWorker) sendAnalytics(ctx context.Context, job jobs.Job) error {
	var payload models.AnalyticsPushPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return w.deps.Analytics.Push(ctx, payload)
}
