package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job represents a queued background task.
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempt   int             `json:"attempt"`
	Enqueued  time.Time       `json:"enqueued"`
	RequestID string          `json:"request_id,omitempty"`
}

// Handle identifies enqueued work so callers can poll its status later.
type Handle struct {
	TaskID string
	Type   string
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// Dispatcher accepts jobs for asynchronous execution. Enqueue never waits for
// the job to run.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) (Handle, error)
}

// NewJob builds a job of the given type with a JSON encoded payload. The
// job ID doubles as the task ID exposed to API clients.
func NewJob(jobType string, payload interface{}) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return Job{ID: uuid.NewString(), Type: jobType, Payload: raw}, nil
}

// Decode unmarshals the job payload into dest.
func (j Job) Decode(dest interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Router dispatches jobs to the handler registered for their type.
type Router struct {
	handlers map[string]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: map[string]Handler{}}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Router) Register(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// Types lists registered job types.
func (r *Router) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Handle routes job to its handler.
func (r *Router) Handle(ctx context.Context, job Job) error {
	h, ok := r.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	return h(ctx, job)
}
