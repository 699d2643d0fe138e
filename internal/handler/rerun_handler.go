package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/response"
)

type rerunChecker interface {
	Check(ctx context.Context, user *models.JWTClaims, courseIDs []string) (*dto.RerunCheckResponse, error)
}

// RerunHandler answers studio polling about pending course reruns.
type RerunHandler struct {
	reruns rerunChecker
}

// NewRerunHandler constructs the handler.
func NewRerunHandler(reruns rerunChecker) *RerunHandler {
	return &RerunHandler{reruns: reruns}
}

// Check godoc
// @Summary Check whether displayed reruns are still pending
// @Tags Reruns
// @Accept json
// @Produce json
// @Param payload body dto.RerunCheckRequest true "Course ids"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /rerun-check [post]
func (h *RerunHandler) Check(c *gin.Context) {
	var req dto.RerunCheckRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	resp, err := h.reruns.Check(c.Request.Context(), claimsFromContext(c), req.Courses)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}
