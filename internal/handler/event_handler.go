package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/events"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/response"
)

type eventDispatcher interface {
	DispatchEnvelope(ctx context.Context, env events.Envelope) error
	Handlers(kind events.Kind) []string
}

// EventResponse reports which handlers ran for a dispatched event.
type EventResponse struct {
	Type     events.Kind `json:"type"`
	Handlers []string    `json:"handlers"`
}

// EventHandler lets platform services push lifecycle events over HTTP.
type EventHandler struct {
	registry eventDispatcher
	logger   *zap.Logger
}

// NewEventHandler constructs the handler.
func NewEventHandler(registry eventDispatcher, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{registry: registry, logger: logger}
}

// Dispatch godoc
// @Summary Dispatch a lifecycle event
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body events.Envelope true "Event envelope"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /internal/events [post]
func (h *EventHandler) Dispatch(c *gin.Context) {
	var env events.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	if err := h.registry.DispatchEnvelope(c.Request.Context(), env); err != nil {
		var unknown events.ErrUnknownKind
		if errors.As(err, &unknown) {
			response.Error(c, appErrors.Clone(appErrors.ErrUnknownEvent, unknown.Error()))
			return
		}
		if errors.Is(err, events.ErrMalformedPayload) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed event payload"))
			return
		}
		h.logger.Error("event dispatch failed", zap.String("event", string(env.Type)), zap.Error(err))
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch event"))
		return
	}
	response.OK(c, EventResponse{Type: env.Type, Handlers: h.registry.Handlers(env.Type)})
}
