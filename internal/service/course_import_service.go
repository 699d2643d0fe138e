package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
	"github.com/noah-isme/lms-studio-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-studio-api/pkg/storage"
)

const (
	archiveSuffix      = ".tar.gz"
	fieldCourseData    = "course_data"
	msgCourseDataField = `"course_data" parameter is required, and must be a .tar.gz file`
	msgImportFailed    = "failed to import course archive"
)

var (
	errMissingArchive  = appErrors.WithField(appErrors.ErrValidation, "Missing required parameter", fieldCourseData, msgCourseDataField)
	errArchiveFormat   = appErrors.WithField(appErrors.ErrValidation, "Parameter in the wrong format", fieldCourseData, msgCourseDataField)
	errArchiveTooLarge = appErrors.WithField(appErrors.ErrValidation, "Archive is too large", fieldCourseData, msgCourseDataField)
)

type courseAuthorChecker interface {
	HasCourseAuthorAccess(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey) (bool, error)
}

type archiveStager interface {
	Stage(courseKey, filename string, r io.Reader, maxBytes int64) (string, error)
	Remove(path string) error
}

type objectSaver interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

type taskStatusStore interface {
	Create(ctx context.Context, status *models.UserTaskStatus) error
	FindLatest(ctx context.Context, name, taskID string) (*models.UserTaskStatus, error)
	UpdateState(ctx context.Context, taskID string, state models.TaskState, completedSteps int) error
}

// CourseImportConfig configures archive handling.
type CourseImportConfig struct {
	StoragePrefix   string
	MaxFileSize     int64
	DefaultLanguage string
}

// CourseImportService accepts course archive uploads and tracks their import.
type CourseImportService struct {
	access     courseAuthorChecker
	stager     archiveStager
	store      objectSaver
	tasks      taskStatusStore
	dispatcher jobs.Dispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	config     CourseImportConfig
}

// NewCourseImportService wires the import gateway.
func NewCourseImportService(access courseAuthorChecker, stager archiveStager, store objectSaver, tasks taskStatusStore, dispatcher jobs.Dispatcher, metrics *MetricsService, logger *zap.Logger, config CourseImportConfig) *CourseImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StoragePrefix == "" {
		config.StoragePrefix = "olx_import/"
	}
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	return &CourseImportService{
		access:     access,
		stager:     stager,
		store:      store,
		tasks:      tasks,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		config:     config,
	}
}

// ValidateArchiveName checks that an uploaded archive is present and is a
// gzipped tarball.
func ValidateArchiveName(filename string, present bool) error {
	if !present {
		return errMissingArchive
	}
	if !strings.HasSuffix(filename, archiveSuffix) {
		return errArchiveFormat
	}
	return nil
}

// Submit stages the archive, copies it into durable storage and enqueues the
// import. The returned task id is used to poll status.
func (s *CourseImportService) Submit(ctx context.Context, user *models.JWTClaims, courseID string, archive dto.ImportArchive, body io.Reader) (*dto.TaskResponse, error) {
	courseKey, err := authorizeCourseAuthor(ctx, s.access, user, courseID)
	if err != nil {
		return nil, err
	}
	if err := ValidateArchiveName(archive.Filename, body != nil); err != nil {
		return nil, err
	}
	if s.config.MaxFileSize > 0 && archive.Size > s.config.MaxFileSize {
		return nil, errArchiveTooLarge
	}

	logger := s.logger.With(
		zap.String("course_key", courseKey.String()),
		zap.String("filename", archive.Filename),
		zap.String("request_id", requestid.FromContext(ctx)),
	)

	stagedPath, err := s.stager.Stage(courseKey.String(), archive.Filename, body, s.config.MaxFileSize)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			logger.Info("course archive rejected", zap.Error(err))
			return nil, errArchiveTooLarge
		}
		return nil, s.importFailure(logger, "stage archive", err)
	}
	defer func() {
		if err := s.stager.Remove(stagedPath); err != nil {
			logger.Warn("failed to remove staged archive", zap.Error(err))
		}
	}()
	logger.Info("course import upload complete")

	storagePath, err := s.copyToStorage(ctx, stagedPath, archive.Filename)
	if err != nil {
		return nil, s.importFailure(logger, "store archive", err)
	}

	language := archive.Language
	if language == "" {
		language = s.config.DefaultLanguage
	}
	job, err := jobs.NewJob(models.JobImportOLX, models.ImportOLXPayload{
		UserID:      user.UserID,
		CourseKey:   courseKey.String(),
		StoragePath: storagePath,
		Filename:    archive.Filename,
		Language:    language,
	})
	if err != nil {
		return nil, s.importFailure(logger, "build import job", err)
	}
	job.RequestID = requestid.FromContext(ctx)

	status := &models.UserTaskStatus{
		TaskID:     job.ID,
		Name:       models.ImportTaskName(courseKey.String(), archive.Filename),
		TaskClass:  models.TaskClassImportOLX,
		State:      models.TaskStatePending,
		UserID:     user.UserID,
		TotalSteps: 1,
	}
	if err := s.tasks.Create(ctx, status); err != nil {
		return nil, s.importFailure(logger, "record import task", err)
	}

	handle, err := s.dispatcher.Enqueue(ctx, job)
	s.metrics.RecordTaskEnqueued(job.Type, err)
	if err != nil {
		if updateErr := s.tasks.UpdateState(ctx, job.ID, models.TaskStateFailed, 0); updateErr != nil {
			logger.Warn("failed to mark import task failed", zap.Error(updateErr))
		}
		return nil, s.importFailure(logger, "enqueue import", err)
	}

	logger.Info("course import enqueued", zap.String("task_id", handle.TaskID), zap.String("storage_path", storagePath))
	return &dto.TaskResponse{TaskID: handle.TaskID}, nil
}

func (s *CourseImportService) copyToStorage(ctx context.Context, stagedPath, filename string) (string, error) {
	file, err := os.Open(stagedPath)
	if err != nil {
		return "", err
	}
	defer file.Close() //nolint:errcheck
	return s.store.Save(ctx, s.config.StoragePrefix+filename, file)
}

func (s *CourseImportService) importFailure(logger *zap.Logger, step string, err error) error {
	logger.Error("course import failed", zap.String("step", step), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msgImportFailed)
}

// Status returns the state of the most recent import task matching the
// course, archive name and task id.
func (s *CourseImportService) Status(ctx context.Context, user *models.JWTClaims, courseID string, query dto.TaskStatusQuery) (*dto.TaskStateResponse, error) {
	courseKey, err := authorizeCourseAuthor(ctx, s.access, user, courseID)
	if err != nil {
		return nil, err
	}
	if query.TaskID == "" {
		return nil, appErrors.WithField(appErrors.ErrValidation, "Missing required parameter", "task_id", "task_id is required")
	}
	if query.Filename == "" {
		return nil, appErrors.WithField(appErrors.ErrValidation, "Missing required parameter", "filename", "filename is required")
	}

	status, err := s.tasks.FindLatest(ctx, models.ImportTaskName(courseKey.String(), query.Filename), query.TaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTaskNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import status")
	}
	return &dto.TaskStateResponse{State: string(status.State)}, nil
}

// authorizeCourseAuthor parses courseID and checks the caller may author it.
func authorizeCourseAuthor(ctx context.Context, access courseAuthorChecker, user *models.JWTClaims, courseID string) (models.CourseKey, error) {
	courseKey, err := models.ParseCourseKey(courseID)
	if err != nil {
		return models.CourseKey{}, appErrors.Wrap(err, appErrors.ErrInvalidKey.Code, appErrors.ErrInvalidKey.Status, "invalid course key")
	}
	if user == nil {
		return models.CourseKey{}, appErrors.ErrUnauthorized
	}
	ok, err := access.HasCourseAuthorAccess(ctx, user, courseKey)
	if err != nil {
		return models.CourseKey{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course access")
	}
	if !ok {
		return models.CourseKey{}, appErrors.ErrUserMismatch
	}
	return courseKey, nil
}
