package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
	"github.com/noah-isme/lms-studio-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-studio-api/pkg/storage"
)

type exportTaskStore interface {
	Create(ctx context.Context, status *models.UserTaskStatus) error
	FindLatest(ctx context.Context, name, taskID string) (*models.UserTaskStatus, error)
	FindByTaskID(ctx context.Context, taskID string) (*models.UserTaskStatus, error)
	UpdateState(ctx context.Context, taskID string, state models.TaskState, completedSteps int) error
	FindArtifact(ctx context.Context, statusID int64, name string) (*models.UserTaskArtifact, error)
}

type objectOpener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type downloadSigner interface {
	Sign(taskID, path string) (string, time.Time, error)
	Verify(token string) (storage.DownloadToken, error)
}

// CourseExportConfig configures export links.
type CourseExportConfig struct {
	// APIPrefix is prepended to generated download links.
	APIPrefix string
}

// CourseExportService enqueues course exports and serves their archives.
type CourseExportService struct {
	access     courseAuthorChecker
	tasks      exportTaskStore
	store      objectOpener
	signer     downloadSigner
	dispatcher jobs.Dispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	config     CourseExportConfig
}

// NewCourseExportService wires the export gateway.
func NewCourseExportService(access courseAuthorChecker, tasks exportTaskStore, store objectOpener, signer downloadSigner, dispatcher jobs.Dispatcher, metrics *MetricsService, logger *zap.Logger, config CourseExportConfig) *CourseExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseExportService{
		access:     access,
		tasks:      tasks,
		store:      store,
		signer:     signer,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		config:     config,
	}
}

// Submit enqueues an export of the course.
func (s *CourseExportService) Submit(ctx context.Context, user *models.JWTClaims, courseID string) (*dto.TaskResponse, error) {
	courseKey, err := authorizeCourseAuthor(ctx, s.access, user, courseID)
	if err != nil {
		return nil, err
	}
	job, err := jobs.NewJob(models.JobExportOLX, models.ExportOLXPayload{UserID: user.UserID, CourseKey: courseKey.String()})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export course")
	}
	job.RequestID = requestid.FromContext(ctx)

	status := &models.UserTaskStatus{
		TaskID:     job.ID,
		Name:       models.ExportTaskName(courseKey.String()),
		TaskClass:  models.TaskClassExportOLX,
		State:      models.TaskStatePending,
		UserID:     user.UserID,
		TotalSteps: 1,
	}
	if err := s.tasks.Create(ctx, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export course")
	}
	handle, err := s.dispatcher.Enqueue(ctx, job)
	s.metrics.RecordTaskEnqueued(job.Type, err)
	if err != nil {
		if updateErr := s.tasks.UpdateState(ctx, job.ID, models.TaskStateFailed, 0); updateErr != nil {
			s.logger.Warn("failed to mark export task failed", zap.String("task_id", job.ID), zap.Error(updateErr))
		}
		s.logger.Error("failed to enqueue course export", zap.String("course_key", courseKey.String()), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrQueueRejected.Code, appErrors.ErrQueueRejected.Status, "failed to export course")
	}
	return &dto.TaskResponse{TaskID: handle.TaskID}, nil
}

// Status reports the export state and a signed download link once the
// archive is ready.
func (s *CourseExportService) Status(ctx context.Context, user *models.JWTClaims, courseID, taskID string) (*dto.ExportStatusResponse, error) {
	courseKey, err := authorizeCourseAuthor(ctx, s.access, user, courseID)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, appErrors.WithField(appErrors.ErrValidation, "Missing required parameter", "task_id", "task_id is required")
	}
	status, err := s.tasks.FindLatest(ctx, models.ExportTaskName(courseKey.String()), taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTaskNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export status")
	}

	resp := &dto.ExportStatusResponse{State: string(status.State)}
	if status.State != models.TaskStateSucceeded {
		return resp, nil
	}
	artifact, err := s.tasks.FindArtifact(ctx, status.ID, models.ArtifactOutput)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resp, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export artifact")
	}
	token, _, err := s.signer.Sign(status.TaskID, artifact.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	resp.ExportOutput = fmt.Sprintf("%s/courses/v0/export/%s/download?token=%s",
		s.config.APIPrefix, url.PathEscape(courseKey.String()), url.QueryEscape(token))
	return resp, nil
}

// Download validates a signed link and opens the export archive. The caller
// closes the returned reader.
func (s *CourseExportService) Download(ctx context.Context, courseID, token string) (io.ReadCloser, string, error) {
	courseKey, err := models.ParseCourseKey(courseID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInvalidKey.Code, appErrors.ErrInvalidKey.Status, "invalid course key")
	}
	parsed, err := s.signer.Verify(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download link")
	}
	status, err := s.tasks.FindByTaskID(ctx, parsed.TaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.ErrTaskNotFound
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export status")
	}
	if status.Name != models.ExportTaskName(courseKey.String()) {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	}

	rc, err := s.store.Open(ctx, parsed.Path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export archive not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export archive")
	}
	return rc, path.Base(parsed.Path), nil
}
