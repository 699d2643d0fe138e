// Package integration holds HTTP clients for the platform services the gateway
// notifies: proctoring, credit, search, grades and the enrollment analytics
// provider.
package integration

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// StatusError reports a non-2xx reply from a collaborator.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// serviceClient is the shared resty plumbing behind each collaborator client.
type serviceClient struct {
	name   string
	client *resty.Client
	logger *zap.Logger
}

func newServiceClient(name, baseURL string, timeout time.Duration, logger *zap.Logger) serviceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var client *resty.Client
	if baseURL != "" {
		client = resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json")
	}
	return serviceClient{name: name, client: client, logger: logger.With(zap.String("service", name))}
}

// Configured reports whether a base URL was supplied.
func (c serviceClient) Configured() bool {
	return c.client != nil
}

func (c serviceClient) post(ctx context.Context, path string, body interface{}) error {
	if c.client == nil {
		return appErrors.Clone(appErrors.ErrNotConfigured, c.name+" service not configured")
	}
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req = req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	res, err := req.Post(path)
	if err != nil {
		c.logger.Error("request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("call %s: %w", c.name, err)
	}
	if !res.IsSuccess() {
		return &StatusError{Service: c.name, StatusCode: res.StatusCode(), Body: res.String()}
	}
	return nil
}

func escapeKey(key string) string {
	return url.PathEscape(key)
}
