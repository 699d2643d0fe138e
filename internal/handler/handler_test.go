package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/events"
	"github.com/noah-isme/lms-studio-api/internal/middleware"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
)

func newGinContext(method, path string, body io.Reader, contentType string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.Request = req
	return c, w
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type importServiceMock struct {
	archive  dto.ImportArchive
	body     string
	hasBody  bool
	query    dto.TaskStatusQuery
	user     *models.JWTClaims
	err      error
	statusFn func() (*dto.TaskStateResponse, error)
}

func (m *importServiceMock) Submit(ctx context.Context, user *models.JWTClaims, courseID string, archive dto.ImportArchive, body io.Reader) (*dto.TaskResponse, error) {
	m.user = user
	m.archive = archive
	if body != nil {
		m.hasBody = true
		data, _ := io.ReadAll(body)
		m.body = string(data)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &dto.TaskResponse{TaskID: "task-1"}, nil
}

func (m *importServiceMock) Status(ctx context.Context, user *models.JWTClaims, courseID string, query dto.TaskStatusQuery) (*dto.TaskStateResponse, error) {
	m.query = query
	return m.statusFn()
}

type exportServiceMock struct {
	downloadErr error
}

func (m *exportServiceMock) Submit(ctx context.Context, user *models.JWTClaims, courseID string) (*dto.TaskResponse, error) {
	return &dto.TaskResponse{TaskID: "export-1"}, nil
}

func (m *exportServiceMock) Status(ctx context.Context, user *models.JWTClaims, courseID, taskID string) (*dto.ExportStatusResponse, error) {
	return &dto.ExportStatusResponse{State: string(models.TaskStateSucceeded), ExportOutput: "/api/courses/v0/export/x/download?token=t"}, nil
}

func (m *exportServiceMock) Download(ctx context.Context, courseID, token string) (io.ReadCloser, string, error) {
	if m.downloadErr != nil {
		return nil, "", m.downloadErr
	}
	return io.NopCloser(strings.NewReader("tarball")), "course.tar.gz", nil
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestCourseHandlerSubmitImportStreamsArchive(t *testing.T) {
	imports := &importServiceMock{}
	h := NewCourseHandler(imports, &exportServiceMock{})

	body, contentType := multipartBody(t, courseDataField, "course.tar.gz", "archive-bytes")
	c, w := newGinContext(http.MethodPost, "/api/courses/v0/import/course-v1:edX+DemoX+2024/", body, contentType)
	c.Request.Header.Set("Accept-Language", "id-ID,id;q=0.9,en;q=0.8")
	c.Params = gin.Params{{Key: "course_id", Value: "course-v1:edX+DemoX+2024"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: 7})

	h.SubmitImport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"task_id":"task-1"}`, string(decodeEnvelope(t, w).Data))
	assert.Equal(t, "course.tar.gz", imports.archive.Filename)
	assert.Equal(t, "id-ID", imports.archive.Language)
	assert.Equal(t, "archive-bytes", imports.body)
	assert.Equal(t, int64(7), imports.user.UserID)
}

func TestCourseHandlerSubmitImportWithoutArchive(t *testing.T) {
	imports := &importServiceMock{err: appErrors.WithField(appErrors.ErrValidation, "Missing required parameter", "course_data", "required")}
	h := NewCourseHandler(imports, &exportServiceMock{})

	body, contentType := multipartBody(t, "other", "course.tar.gz", "x")
	c, w := newGinContext(http.MethodPost, "/", body, contentType)

	h.SubmitImport(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, imports.hasBody)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "Missing required parameter", env.Error.Message)
	assert.Equal(t, "required", env.Error.FieldErrors["course_data"])
}

func TestCourseHandlerSubmitImportMasksInternalErrors(t *testing.T) {
	imports := &importServiceMock{err: appErrors.Wrap(errors.New("dial tcp 10.0.0.7:5432"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import course archive")}
	h := NewCourseHandler(imports, &exportServiceMock{})

	body, contentType := multipartBody(t, courseDataField, "course.tar.gz", "x")
	c, w := newGinContext(http.MethodPost, "/", body, contentType)

	h.SubmitImport(c)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.7")
	assert.Equal(t, "failed to import course archive", decodeEnvelope(t, w).Error.Message)
}

func TestCourseHandlerImportStatus(t *testing.T) {
	imports := &importServiceMock{statusFn: func() (*dto.TaskStateResponse, error) {
		return nil, appErrors.ErrTaskNotFound
	}}
	h := NewCourseHandler(imports, &exportServiceMock{})

	c, w := newGinContext(http.MethodGet, "/?task_id=t-1&filename=course.tar.gz", nil, "")
	h.ImportStatus(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.TaskStatusQuery{TaskID: "t-1", Filename: "course.tar.gz"}, imports.query)
	assert.Equal(t, "task_not_found", decodeEnvelope(t, w).Error.Code)

	imports.statusFn = func() (*dto.TaskStateResponse, error) {
		return &dto.TaskStateResponse{State: string(models.TaskStateSucceeded)}, nil
	}
	c, w = newGinContext(http.MethodGet, "/?task_id=t-1&filename=course.tar.gz", nil, "")
	h.ImportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"Succeeded"}`, string(decodeEnvelope(t, w).Data))
}

func TestCourseHandlerExport(t *testing.T) {
	exports := &exportServiceMock{}
	h := NewCourseHandler(&importServiceMock{}, exports)

	c, w := newGinContext(http.MethodPost, "/", nil, "")
	h.SubmitExport(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/?task_id=export-1", nil, "")
	h.ExportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), "export_output")

	c, w = newGinContext(http.MethodGet, "/download?token=t", nil, "")
	h.DownloadExport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tarball", w.Body.String())
	assert.Equal(t, `attachment; filename="course.tar.gz"`, w.Header().Get("Content-Disposition"))

	exports.downloadErr = appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	c, w = newGinContext(http.MethodGet, "/download?token=bad", nil, "")
	h.DownloadExport(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

type accountServiceMock struct {
	created dto.CreateAccountRequest
	updated dto.UpdateAccountRequest
	err     error
}

func (m *accountServiceMock) Create(ctx context.Context, req dto.CreateAccountRequest) (*dto.AccountResponse, error) {
	m.created = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.AccountResponse{UserID: 1, Username: req.Username}, nil
}

func (m *accountServiceMock) Update(ctx context.Context, req dto.UpdateAccountRequest) (*dto.AccountResponse, error) {
	m.updated = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.AccountResponse{UserID: 1, Username: "stored"}, nil
}

func TestAccountHandlerCreateJSON(t *testing.T) {
	accounts := &accountServiceMock{}
	h := NewAccountHandler(accounts)

	c, w := newGinContext(http.MethodPost, "/accounts", strings.NewReader(`{"email":"a@example.com","username":"jdoe","uid":"u-1","gender":"f"}`), "application/json")
	h.Create(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":1,"username":"jdoe"}`, string(decodeEnvelope(t, w).Data))
	require.NotNil(t, accounts.created.Gender)
	assert.Equal(t, "f", *accounts.created.Gender)
}

func TestAccountHandlerCreateForm(t *testing.T) {
	accounts := &accountServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "User already exists")}
	h := NewAccountHandler(accounts)

	c, w := newGinContext(http.MethodPost, "/accounts", strings.NewReader("email=a%40example.com&username=jdoe&uid=u-1"), "application/x-www-form-urlencoded")
	h.Create(c)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "a@example.com", accounts.created.Email)
	assert.Nil(t, accounts.created.Gender)
	assert.Equal(t, "User already exists", decodeEnvelope(t, w).Error.Message)
}

func TestAccountHandlerUpdate(t *testing.T) {
	accounts := &accountServiceMock{}
	h := NewAccountHandler(accounts)

	c, w := newGinContext(http.MethodPatch, "/accounts", strings.NewReader(`{"uid":"u-1","first_name":"Jane"}`), "application/json")
	h.Update(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", accounts.updated.UID)
	require.NotNil(t, accounts.updated.FirstName)
	assert.Equal(t, "Jane", *accounts.updated.FirstName)
	assert.Nil(t, accounts.updated.Email)
}

type rerunServiceMock struct {
	courses []string
}

func (m *rerunServiceMock) Check(ctx context.Context, user *models.JWTClaims, courseIDs []string) (*dto.RerunCheckResponse, error) {
	m.courses = courseIDs
	return &dto.RerunCheckResponse{IsReload: len(courseIDs) != 1}, nil
}

func TestRerunHandlerAcceptsJSONAndForm(t *testing.T) {
	reruns := &rerunServiceMock{}
	h := NewRerunHandler(reruns)

	c, w := newGinContext(http.MethodPost, "/rerun-check", strings.NewReader(`{"courses":["course-v1:edX+DemoX+2025"]}`), "application/json")
	h.Check(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"is_reload":false}`, string(decodeEnvelope(t, w).Data))

	c, w = newGinContext(http.MethodPost, "/rerun-check", strings.NewReader("courses=a&courses=b"), "application/x-www-form-urlencoded")
	h.Check(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b"}, reruns.courses)
}

func TestEventHandlerDispatch(t *testing.T) {
	registry := events.NewRegistry(nil, nil)
	var published []string
	events.On(registry, "record", events.Tolerate, func(ctx context.Context, ev events.CoursePublished) error {
		published = append(published, ev.CourseKey)
		return nil
	})
	events.On(registry, "credit", events.Propagate, func(ctx context.Context, ev events.LibraryUpdated) error {
		return errors.New("credit service at 10.0.0.9 down")
	})
	h := NewEventHandler(registry, nil)

	c, w := newGinContext(http.MethodPost, "/internal/events", strings.NewReader(`{"type":"course_published","payload":{"course_key":"course-v1:edX+DemoX+2024"}}`), "application/json")
	h.Dispatch(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"course-v1:edX+DemoX+2024"}, published)
	assert.JSONEq(t, `{"type":"course_published","handlers":["record"]}`, string(decodeEnvelope(t, w).Data))

	c, w = newGinContext(http.MethodPost, "/internal/events", strings.NewReader(`{"type":"nope","payload":{}}`), "application/json")
	h.Dispatch(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrUnknownEvent.Code, decodeEnvelope(t, w).Error.Code)

	c, w = newGinContext(http.MethodPost, "/internal/events", strings.NewReader(`{"type":"course_published","payload":"oops"}`), "application/json")
	h.Dispatch(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodPost, "/internal/events", strings.NewReader(`{"type":"library_updated","payload":{"library_key":"lib"}}`), "application/json")
	h.Dispatch(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.9")
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingFunc(func(ctx context.Context) error { return nil }),
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil, "")
	h.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(nil, map[string]Pinger{
		"redis": PingFunc(func(ctx context.Context) error { return errors.New("refused") }),
	})
	c, w = newGinContext(http.MethodGet, "/ready", nil, "")
	h.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"down"`)
}

func TestPreferredLanguage(t *testing.T) {
	for header, want := range map[string]string{
		"":                   "",
		"fr":                 "fr",
		"en-US,en;q=0.9":     "en-US",
		"de;q=0.8, en;q=0.5": "de",
		"*":                  "",
	} {
		c, _ := newGinContext(http.MethodGet, "/", nil, "")
		if header != "" {
			c.Request.Header.Set("Accept-Language", header)
		}
		assert.Equal(t, want, preferredLanguage(c), header)
	}
}
