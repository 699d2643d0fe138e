package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/response"
)

const courseDataField = "course_data"

type courseImporter interface {
	Submit(ctx context.Context, user *models.JWTClaims, courseID string, archive dto.ImportArchive, body io.Reader) (*dto.TaskResponse, error)
	Status(ctx context.Context, user *models.JWTClaims, courseID string, query dto.TaskStatusQuery) (*dto.TaskStateResponse, error)
}

type courseExporter interface {
	Submit(ctx context.Context, user *models.JWTClaims, courseID string) (*dto.TaskResponse, error)
	Status(ctx context.Context, user *models.JWTClaims, courseID, taskID string) (*dto.ExportStatusResponse, error)
	Download(ctx context.Context, courseID, token string) (io.ReadCloser, string, error)
}

// CourseHandler exposes the course import and export endpoints.
type CourseHandler struct {
	imports courseImporter
	exports courseExporter
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(imports courseImporter, exports courseExporter) *CourseHandler {
	return &CourseHandler{imports: imports, exports: exports}
}

// SubmitImport godoc
// @Summary Upload a course archive for import
// @Tags Courses
// @Accept multipart/form-data
// @Produce json
// @Param course_id path string true "Course key"
// @Param course_data formData file true "OLX .tar.gz archive"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/v0/import/{course_id}/ [post]
func (h *CourseHandler) SubmitImport(c *gin.Context) {
	part, err := courseDataPart(c.Request)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed multipart body"))
		return
	}
	archive := dto.ImportArchive{Language: preferredLanguage(c)}
	var body io.Reader
	if part != nil {
		defer part.Close() //nolint:errcheck
		archive.Filename = part.FileName()
		archive.Size = c.Request.ContentLength
		body = part
	}

	resp, err := h.imports.Submit(c.Request.Context(), claimsFromContext(c), c.Param("course_id"), archive, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// courseDataPart advances the multipart stream to the archive part so the
// upload is never buffered whole. It returns nil when the part is absent or
// the body is not multipart.
func courseDataPart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, nil
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == courseDataField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// ImportStatus godoc
// @Summary Poll a course import
// @Tags Courses
// @Produce json
// @Param course_id path string true "Course key"
// @Param task_id query string true "Task ID"
// @Param filename query string true "Archive name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/v0/import/{course_id}/ [get]
func (h *CourseHandler) ImportStatus(c *gin.Context) {
	var query dto.TaskStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	resp, err := h.imports.Status(c.Request.Context(), claimsFromContext(c), c.Param("course_id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// SubmitExport godoc
// @Summary Export a course as an OLX archive
// @Tags Courses
// @Produce json
// @Param course_id path string true "Course key"
// @Success 200 {object} response.Envelope
// @Router /courses/v0/export/{course_id}/ [post]
func (h *CourseHandler) SubmitExport(c *gin.Context) {
	resp, err := h.exports.Submit(c.Request.Context(), claimsFromContext(c), c.Param("course_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// ExportStatus godoc
// @Summary Poll a course export
// @Tags Courses
// @Produce json
// @Param course_id path string true "Course key"
// @Param task_id query string true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/v0/export/{course_id}/ [get]
func (h *CourseHandler) ExportStatus(c *gin.Context) {
	resp, err := h.exports.Status(c.Request.Context(), claimsFromContext(c), c.Param("course_id"), c.Query("task_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// DownloadExport godoc
// @Summary Download an exported course archive
// @Tags Courses
// @Produce application/gzip
// @Param course_id path string true "Course key"
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /courses/v0/export/{course_id}/download [get]
func (h *CourseHandler) DownloadExport(c *gin.Context) {
	rc, filename, err := h.exports.Download(c.Request.Context(), c.Param("course_id"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close() //nolint:errcheck
	c.DataFromReader(http.StatusOK, -1, "application/gzip", rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + filename + `"`,
	})
}
