// Package events routes course lifecycle events to an ordered list of typed
// handlers registered at startup.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/lms-studio-api/internal/models"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindCoursePublished      Kind = "course_published"
	KindLibraryUpdated       Kind = "library_updated"
	KindItemDeleted          Kind = "item_deleted"
	KindGradingPolicyChanged Kind = "grading_policy_changed"
	KindEnrollmentCreated    Kind = "enrollment_created"
)

// Event is implemented by every lifecycle event payload.
type Event interface {
	Kind() Kind
}

// CoursePublished fires after course content is published.
type CoursePublished struct {
	CourseKey string `json:"course_key"`
}

func (CoursePublished) Kind() Kind { return KindCoursePublished }

// LibraryUpdated fires after a content library changes.
type LibraryUpdated struct {
	LibraryKey string `json:"library_key"`
}

func (LibraryUpdated) Kind() Kind { return KindLibraryUpdated }

// ItemDeleted fires when a content block is deleted.
type ItemDeleted struct {
	UsageKey string `json:"usage_key"`
	UserID   int64  `json:"user_id"`
}

func (ItemDeleted) Kind() Kind { return KindItemDeleted }

// GradingPolicyChanged fires when a course grading policy is edited. The
// transaction fields correlate downstream work with the triggering edit.
type GradingPolicyChanged struct {
	CourseKey            string `json:"course_key"`
	UserID               int64  `json:"user_id"`
	EventTransactionID   string `json:"event_transaction_id"`
	EventTransactionType string `json:"event_transaction_type"`
}

func (GradingPolicyChanged) Kind() Kind { return KindGradingPolicyChanged }

// EnrollmentCreated fires after a learner enrolls in a course.
type EnrollmentCreated struct {
	Enrollment models.Enrollment `json:"enrollment"`
}

func (EnrollmentCreated) Kind() Kind { return KindEnrollmentCreated }

// Envelope is the wire form of an event.
type Envelope struct {
	Type    Kind            `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// ErrMalformedPayload is returned when a payload does not match its event type.
var ErrMalformedPayload = errors.New("malformed event payload")

// ErrUnknownKind is returned when an envelope names no known event.
type ErrUnknownKind struct {
	Kind Kind
}

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Kind)
}

// Decode turns an envelope into its typed event.
func Decode(env Envelope) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case KindCoursePublished:
		ev, err = decodeAs[CoursePublished](env.Payload)
	case KindLibraryUpdated:
		ev, err = decodeAs[LibraryUpdated](env.Payload)
	case KindItemDeleted:
		ev, err = decodeAs[ItemDeleted](env.Payload)
	case KindGradingPolicyChanged:
		ev, err = decodeAs[GradingPolicyChanged](env.Payload)
	case KindEnrollmentCreated:
		ev, err = decodeAs[EnrollmentCreated](env.Payload)
	default:
		return nil, ErrUnknownKind{Kind: env.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return ev, nil
}

func decodeAs[E Event](raw json.RawMessage) (Event, error) {
	var ev E
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode wraps ev in an envelope.
func Encode(ev Event) (Envelope, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", ev.Kind(), err)
	}
	return Envelope{Type: ev.Kind(), Payload: raw}, nil
}
