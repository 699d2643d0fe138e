package integration

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ProctoringClient registers proctored exams with the proctoring service.
type ProctoringClient struct {
	serviceClient
}

// NewProctoringClient builds a client for baseURL. An empty baseURL yields a
// client whose calls fail with a not-configured error.
func NewProctoringClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ProctoringClient {
	return &ProctoringClient{newServiceClient("proctoring", baseURL, timeout, logger)}
}

// RegisterExams asks the proctoring service to sync the exams of a course.
func (c *ProctoringClient) RegisterExams(ctx context.Context, courseKey string) error {
	return c.post(ctx, "/api/v1/courses/"+escapeKey(courseKey)+"/exams/register", nil)
}

// CreditClient keeps credit requirements in line with published content.
type CreditClient struct {
	serviceClient
}

func NewCreditClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CreditClient {
	return &CreditClient{newServiceClient("credit", baseURL, timeout, logger)}
}

// SyncRequirements refreshes the credit requirements of a course.
func (c *CreditClient) SyncRequirements(ctx context.Context, courseKey string) error {
	return c.post(ctx, "/api/v1/courses/"+escapeKey(courseKey)+"/requirements/sync", nil)
}

// SearchClient triggers reindexing in the search service.
type SearchClient struct {
	serviceClient
}

func NewSearchClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SearchClient {
	return &SearchClient{newServiceClient("search", baseURL, timeout, logger)}
}

type indexRequest struct {
	TriggeredAt string `json:"triggered_at,omitempty"`
}

// IndexCourse reindexes courseware. triggeredAt is an RFC3339 timestamp.
func (c *SearchClient) IndexCourse(ctx context.Context, courseKey, triggeredAt string) error {
	return c.post(ctx, "/api/v1/index/courses/"+escapeKey(courseKey), indexRequest{TriggeredAt: triggeredAt})
}

// IndexLibrary reindexes a content library.
func (c *SearchClient) IndexLibrary(ctx context.Context, libraryKey, triggeredAt string) error {
	return c.post(ctx, "/api/v1/index/libraries/"+escapeKey(libraryKey), indexRequest{TriggeredAt: triggeredAt})
}

// GradesClient requests grade recomputation.
type GradesClient struct {
	serviceClient
}

func NewGradesClient(baseURL string, timeout time.Duration, logger *zap.Logger) *GradesClient {
	return &GradesClient{newServiceClient("grades", baseURL, timeout, logger)}
}

type recomputeRequest struct {
	EventTransactionID   string `json:"event_transaction_id"`
	EventTransactionType string `json:"event_transaction_type"`
}

// ComputeAllGrades recomputes every grade in a course.
func (c *GradesClient) ComputeAllGrades(ctx context.Context, courseKey, transactionID, transactionType string) error {
	return c.post(ctx, "/api/v1/courses/"+escapeKey(courseKey)+"/grades/recompute", recomputeRequest{
		EventTransactionID:   transactionID,
		EventTransactionType: transactionType,
	})
}
