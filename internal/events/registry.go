package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// FaultPolicy decides what a handler failure does to the rest of the pipeline.
type FaultPolicy int

const (
	// Tolerate logs the failure and runs the next handler.
	Tolerate FaultPolicy = iota
	// Propagate stops the pipeline and returns the failure to the dispatcher.
	Propagate
)

func (p FaultPolicy) String() string {
	if p == Propagate {
		return "propagate"
	}
	return "tolerate"
}

// Recorder observes handler outcomes.
type Recorder interface {
	RecordEventHandler(event, handler string, err error)
}

type handler struct {
	name   string
	policy FaultPolicy
	fn     func(context.Context, Event) error
}

// Registry holds the ordered handlers for each event kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]handler
	recorder Recorder
	logger   *zap.Logger
}

// NewRegistry returns an empty registry. recorder may be nil.
func NewRegistry(logger *zap.Logger, recorder Recorder) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{handlers: map[Kind][]handler{}, recorder: recorder, logger: logger}
}

// On appends a typed handler for events of type E.
func On[E Event](r *Registry, name string, policy FaultPolicy, fn func(context.Context, E) error) {
	var zero E
	kind := zero.Kind()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], handler{
		name:   name,
		policy: policy,
		fn: func(ctx context.Context, ev Event) error {
			typed, ok := ev.(E)
			if !ok {
				return fmt.Errorf("handler %s: unexpected event %T", name, ev)
			}
			return fn(ctx, typed)
		},
	})
}

// Handlers lists the handler names registered for kind, in order.
func (r *Registry) Handlers(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers[kind]))
	for _, h := range r.handlers[kind] {
		names = append(names, h.name)
	}
	return names
}

// Dispatch runs the handlers for ev synchronously in registration order.
func (r *Registry) Dispatch(ctx context.Context, ev Event) error {
	r.mu.RLock()
	handlers := r.handlers[ev.Kind()]
	r.mu.RUnlock()

	for _, h := range handlers {
		err := h.fn(ctx, ev)
		if r.recorder != nil {
			r.recorder.RecordEventHandler(string(ev.Kind()), h.name, err)
		}
		if err == nil {
			continue
		}
		if h.policy == Propagate {
			return fmt.Errorf("%s handler %s: %w", ev.Kind(), h.name, err)
		}
		r.logger.Error("event handler failed",
			zap.String("event", string(ev.Kind())),
			zap.String("handler", h.name),
			zap.Error(err),
		)
	}
	return nil
}

// DispatchEnvelope decodes env and dispatches the event.
func (r *Registry) DispatchEnvelope(ctx context.Context, env Envelope) error {
	ev, err := Decode(env)
	if err != nil {
		return err
	}
	return r.Dispatch(ctx, ev)
}
