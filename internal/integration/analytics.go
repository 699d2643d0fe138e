package integration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/models"
)

const analyticsProfilePath = "gamma-profile/"

// AnalyticsClient pushes enrollment profiles to the analytics provider. Each
// course carries its own base URL and credentials, so the client is not bound
// to one host.
type AnalyticsClient struct {
	client *resty.Client
	logger *zap.Logger
}

// NewAnalyticsClient builds a pusher with the given per-request timeout.
func NewAnalyticsClient(timeout time.Duration, logger *zap.Logger) *AnalyticsClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AnalyticsClient{client: resty.New().SetTimeout(timeout), logger: logger}
}

// Push sends the enrollment profile as form data with the course credentials.
func (c *AnalyticsClient) Push(ctx context.Context, push models.AnalyticsPushPayload) error {
	base := push.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("App-key", push.Key).
		SetHeader("App-secret", push.Secret).
		SetFormData(map[string]string{
			"student_id": push.Payload.StudentID,
			"course_id":  push.Payload.CourseID,
			"org":        push.Payload.Org,
			"event_type": strconv.Itoa(push.Payload.EventType),
			"uid":        push.Payload.UID,
		}).
		Put(base + analyticsProfilePath)
	if err != nil {
		return fmt.Errorf("push enrollment analytics: %w", err)
	}
	if !res.IsSuccess() {
		return &StatusError{Service: "analytics", StatusCode: res.StatusCode(), Body: res.String()}
	}
	c.logger.Debug("analytics profile pushed", zap.String("course_id", push.Payload.CourseID), zap.String("uid", push.Payload.UID))
	return nil
}
