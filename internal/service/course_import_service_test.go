package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/storage"
)

type fakeAccess struct {
	author bool
	reader map[string]bool
	err    error
}

func (f *fakeAccess) HasCourseAuthorAccess(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey) (bool, error) {
	return f.author, f.err
}

func (f *fakeAccess) HasStudioReadAccess(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.reader[courseKey.String()], nil
}

type fakeTaskStore struct {
	mu        sync.Mutex
	statuses  []*models.UserTaskStatus
	artifacts []*models.UserTaskArtifact
	createErr  error
	findErr    error
	succeedErr error
}

func (f *fakeTaskStore) Create(ctx context.Context, status *models.UserTaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	status.ID = int64(len(f.statuses) + 1)
	copy := *status
	f.statuses = append(f.statuses, &copy)
	return nil
}

func (f *fakeTaskStore) FindLatest(ctx context.Context, name, taskID string) (*models.UserTaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for i := len(f.statuses) - 1; i >= 0; i-- {
		if s := f.statuses[i]; s.Name == name && s.TaskID == taskID {
			copy := *s
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeTaskStore) FindByTaskID(ctx context.Context, taskID string) (*models.UserTaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.statuses {
		if s.TaskID == taskID {
			copy := *s
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeTaskStore) UpdateState(ctx context.Context, taskID string, state models.TaskState, completedSteps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state == models.TaskStateSucceeded && f.succeedErr != nil {
		return f.succeedErr
	}
	for _, s := range f.statuses {
		if s.TaskID == taskID {
			s.State = state
			s.CompletedSteps = completedSteps
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeTaskStore) CreateArtifact(ctx context.Context, artifact *models.UserTaskArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	artifact.ID = int64(len(f.artifacts) + 1)
	copy := *artifact
	f.artifacts = append(f.artifacts, &copy)
	return nil
}

func (f *fakeTaskStore) FindArtifact(ctx context.Context, statusID int64, name string) (*models.UserTaskArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.artifacts {
		if a.StatusID == statusID && a.Name == name {
			copy := *a
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

type failingSaver struct{}

func (failingSaver) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	return "", errors.New("bucket unreachable at 10.0.0.7")
}

var courseAuthor = &models.JWTClaims{UserID: 7, Username: "author"}

type importFixture struct {
	svc        *CourseImportService
	access     *fakeAccess
	tasks      *fakeTaskStore
	dispatcher *fakeDispatcher
	stager     *storage.Stager
	store      *storage.LocalStore
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	f := &importFixture{
		access:     &fakeAccess{author: true},
		tasks:      &fakeTaskStore{},
		dispatcher: &fakeDispatcher{},
		stager:     storage.NewStager(t.TempDir()),
		store:      store,
	}
	f.svc = NewCourseImportService(f.access, f.stager, f.store, f.tasks, f.dispatcher, nil, zap.NewNop(), CourseImportConfig{MaxFileSize: 1 << 20})
	return f
}

func TestImportSubmitEnqueuesJob(t *testing.T) {
	f := newImportFixture(t)

	resp, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz", Size: 7}, strings.NewReader("archive"))
	require.NoError(t, err)
	require.NotEmpty(t, resp.TaskID)

	require.Len(t, f.dispatcher.jobs, 1)
	job := f.dispatcher.jobs[0]
	assert.Equal(t, resp.TaskID, job.ID)
	assert.Equal(t, models.JobImportOLX, job.Type)

	var payload models.ImportOLXPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, int64(7), payload.UserID)
	assert.Equal(t, demoCourse, payload.CourseKey)
	assert.Equal(t, "olx_import/course.tar.gz", payload.StoragePath)
	assert.Equal(t, "en", payload.Language)

	rc, err := f.store.Open(context.Background(), payload.StoragePath)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "archive", string(body))

	_, err = os.Stat(f.stager.Dir(demoCourse))
	assert.True(t, os.IsNotExist(err), "staging directory should be cleaned up")

	require.Len(t, f.tasks.statuses, 1)
	assert.Equal(t, models.ImportTaskName(demoCourse, "course.tar.gz"), f.tasks.statuses[0].Name)
	assert.Equal(t, models.TaskStatePending, f.tasks.statuses[0].State)
}

func TestImportSubmitUsesRequestLanguage(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz", Language: "id"}, strings.NewReader("archive"))
	require.NoError(t, err)

	var payload models.ImportOLXPayload
	require.NoError(t, f.dispatcher.jobs[0].Decode(&payload))
	assert.Equal(t, "id", payload.Language)
}

func TestImportSubmitValidation(t *testing.T) {
	tests := []struct {
		name     string
		courseID string
		archive  dto.ImportArchive
		body     io.Reader
		status   int
		message  string
	}{
		{name: "invalid course key", courseID: "not a key", archive: dto.ImportArchive{Filename: "c.tar.gz"}, body: strings.NewReader("x"), status: http.StatusBadRequest},
		{name: "missing archive", courseID: demoCourse, status: http.StatusBadRequest, message: "Missing required parameter"},
		{name: "wrong extension", courseID: demoCourse, archive: dto.ImportArchive{Filename: "course.zip"}, body: strings.NewReader("x"), status: http.StatusBadRequest, message: "Parameter in the wrong format"},
		{name: "too large", courseID: demoCourse, archive: dto.ImportArchive{Filename: "course.tar.gz", Size: 2 << 20}, body: strings.NewReader("x"), status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newImportFixture(t)
			_, err := f.svc.Submit(context.Background(), courseAuthor, tc.courseID, tc.archive, tc.body)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, tc.status, appErr.Status)
			if tc.message != "" {
				assert.Equal(t, tc.message, appErr.Message)
				assert.Equal(t, msgCourseDataField, appErr.FieldErrors[fieldCourseData])
			}
			assert.Empty(t, f.dispatcher.jobs)
		})
	}
}

func TestImportSubmitRejectsOversizeStreamWithoutLength(t *testing.T) {
	f := newImportFixture(t)
	body := strings.NewReader(strings.Repeat("x", 1<<20+10))

	_, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz", Size: -1}, body)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Equal(t, "Archive is too large", appErr.Message)
	assert.Equal(t, msgCourseDataField, appErr.FieldErrors[fieldCourseData])

	_, statErr := os.Stat(f.stager.Dir(demoCourse))
	assert.True(t, os.IsNotExist(statErr), "rejected upload should not stay staged")
	assert.Empty(t, f.tasks.statuses)
	assert.Empty(t, f.dispatcher.jobs)
}

func TestImportSubmitRejectsNonAuthor(t *testing.T) {
	f := newImportFixture(t)
	f.access.author = false

	_, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz"}, strings.NewReader("archive"))
	require.ErrorIs(t, err, appErrors.ErrUserMismatch)
	assert.Equal(t, http.StatusForbidden, appErrors.FromError(err).Status)
	assert.Empty(t, f.tasks.statuses)
}

func TestImportSubmitMasksStorageFailure(t *testing.T) {
	f := newImportFixture(t)
	f.svc.store = failingSaver{}

	_, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz"}, strings.NewReader("archive"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, msgImportFailed, appErr.Message)
	assert.NotContains(t, appErr.Message, "10.0.0.7")
	assert.Empty(t, f.dispatcher.jobs)
}

func TestImportSubmitMarksTaskFailedWhenEnqueueFails(t *testing.T) {
	f := newImportFixture(t)
	f.dispatcher.err = errors.New("queue full")

	_, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz"}, strings.NewReader("archive"))
	require.Error(t, err)
	assert.Equal(t, msgImportFailed, appErrors.FromError(err).Message)
	require.Len(t, f.tasks.statuses, 1)
	assert.Equal(t, models.TaskStateFailed, f.tasks.statuses[0].State)
}

func TestImportStatus(t *testing.T) {
	f := newImportFixture(t)
	resp, err := f.svc.Submit(context.Background(), courseAuthor, demoCourse,
		dto.ImportArchive{Filename: "course.tar.gz"}, strings.NewReader("archive"))
	require.NoError(t, err)
	require.NoError(t, f.tasks.UpdateState(context.Background(), resp.TaskID, models.TaskStateInProgress, 0))

	state, err := f.svc.Status(context.Background(), courseAuthor, demoCourse, dto.TaskStatusQuery{TaskID: resp.TaskID, Filename: "course.tar.gz"})
	require.NoError(t, err)
	assert.Equal(t, string(models.TaskStateInProgress), state.State)
}

func TestImportStatusErrors(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.svc.Status(context.Background(), courseAuthor, demoCourse, dto.TaskStatusQuery{Filename: "course.tar.gz"})
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)

	_, err = f.svc.Status(context.Background(), courseAuthor, demoCourse, dto.TaskStatusQuery{TaskID: "t-1"})
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)

	_, err = f.svc.Status(context.Background(), courseAuthor, demoCourse, dto.TaskStatusQuery{TaskID: "missing", Filename: "course.tar.gz"})
	require.ErrorIs(t, err, appErrors.ErrTaskNotFound)
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)

	f.tasks.findErr = errors.New("db down")
	_, err = f.svc.Status(context.Background(), courseAuthor, demoCourse, dto.TaskStatusQuery{TaskID: "t-1", Filename: "course.tar.gz"})
	assert.Equal(t, http.StatusInternalServerError, appErrors.FromError(err).Status)
}

func TestValidateArchiveName(t *testing.T) {
	assert.NoError(t, ValidateArchiveName("course.tar.gz", true))
	assert.Error(t, ValidateArchiveName("course.tar.gz", false))
	assert.Error(t, ValidateArchiveName("course.tgz", true))
}
