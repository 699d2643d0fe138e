package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/response"
)

type accountProvisioner interface {
	Create(ctx context.Context, req dto.CreateAccountRequest) (*dto.AccountResponse, error)
	Update(ctx context.Context, req dto.UpdateAccountRequest) (*dto.AccountResponse, error)
}

// AccountHandler exposes account provisioning for the external identity provider.
type AccountHandler struct {
	accounts accountProvisioner
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(accounts accountProvisioner) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Create godoc
// @Summary Provision an account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body dto.CreateAccountRequest true "Account"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	var req dto.CreateAccountRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	resp, err := h.accounts.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// Update godoc
// @Summary Update an account by external uid
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body dto.UpdateAccountRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /accounts [patch]
func (h *AccountHandler) Update(c *gin.Context) {
	var req dto.UpdateAccountRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	resp, err := h.accounts.Update(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}
