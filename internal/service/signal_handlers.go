package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/events"
	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
)

// Handler names as registered on the event registry.
const (
	HandlerExamRegistration  = "exam-registration"
	HandlerCreditSync        = "credit-requirement-sync"
	HandlerSearchIndex       = "search-index-refresh"
	HandlerLibraryIndex      = "library-index-refresh"
	HandlerGatingCleanup     = "gating-cleanup"
	HandlerGradeRecompute    = "grade-recompute"
	HandlerEnrollmentProfile = "enrollment-analytics"
)

const analyticsEventEnrollment = 1

type examRegistrar interface {
	RegisterExams(ctx context.Context, courseKey string) error
}

type creditSyncer interface {
	SyncRequirements(ctx context.Context, courseKey string) error
}

type contentTree interface {
	Children(ctx context.Context, usageKey string) ([]models.ContentBlock, error)
	RemovePrerequisite(ctx context.Context, courseKey, contentKey string) error
	ClearRequiredContent(ctx context.Context, courseKey, contentKey string) error
}

type courseSettingsReader interface {
	FindByCourseKey(ctx context.Context, courseKey string) (*models.CourseSettings, error)
}

// SignalConfig toggles optional event side effects.
type SignalConfig struct {
	CoursewareIndexEnabled bool
	LibraryIndexEnabled    bool
	SiteDomain             string
}

// SignalService implements the lifecycle event handlers.
type SignalService struct {
	exams      examRegistrar
	credit     creditSyncer
	content    contentTree
	settings   courseSettingsReader
	dispatcher jobs.Dispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	config     SignalConfig
	now        func() time.Time
}

// NewSignalService wires the handlers' collaborators.
func NewSignalService(exams examRegistrar, credit creditSyncer, content contentTree, settings courseSettingsReader, dispatcher jobs.Dispatcher, metrics *MetricsService, logger *zap.Logger, config SignalConfig) *SignalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalService{
		exams:      exams,
		credit:     credit,
		content:    content,
		settings:   settings,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// Register installs the handlers on reg in pipeline order.
func (s *SignalService) Register(reg *events.Registry) {
	events.On(reg, HandlerExamRegistration, events.Tolerate, s.RegisterExams)
	events.On(reg, HandlerCreditSync, events.Propagate, s.SyncCreditRequirements)
	events.On(reg, HandlerSearchIndex, events.Tolerate, s.RefreshSearchIndex)
	events.On(reg, HandlerLibraryIndex, events.Tolerate, s.RefreshLibraryIndex)
	events.On(reg, HandlerGatingCleanup, events.Propagate, s.RemoveGating)
	events.On(reg, HandlerGradeRecompute, events.Propagate, s.RecomputeGrades)
	events.On(reg, HandlerEnrollmentProfile, events.Tolerate, s.PushEnrollmentProfile)
}

// RegisterExams syncs proctored exams of a published course.
func (s *SignalService) RegisterExams(ctx context.Context, ev events.CoursePublished) error {
	return s.exams.RegisterExams(ctx, ev.CourseKey)
}

// SyncCreditRequirements refreshes credit requirements of a published course.
func (s *SignalService) SyncCreditRequirements(ctx context.Context, ev events.CoursePublished) error {
	return s.credit.SyncRequirements(ctx, ev.CourseKey)
}

// RefreshSearchIndex enqueues a courseware reindex when indexing is enabled.
func (s *SignalService) RefreshSearchIndex(ctx context.Context, ev events.CoursePublished) error {
	if !s.config.CoursewareIndexEnabled {
		return nil
	}
	_, err := s.enqueue(ctx, models.JobUpdateSearchIndex, models.SearchIndexPayload{
		CourseKey:   ev.CourseKey,
		TriggeredAt: s.now().UTC().Format(time.RFC3339),
	})
	return err
}

// RefreshLibraryIndex enqueues a library reindex when indexing is enabled.
func (s *SignalService) RefreshLibraryIndex(ctx context.Context, ev events.LibraryUpdated) error {
	if !s.config.LibraryIndexEnabled {
		return nil
	}
	_, err := s.enqueue(ctx, models.JobUpdateLibraryIndex, models.LibraryIndexPayload{
		LibraryKey:  ev.LibraryKey,
		TriggeredAt: s.now().UTC().Format(time.RFC3339),
	})
	return err
}

// RemoveGating drops gating relationships of the deleted block and every
// block beneath it.
func (s *SignalService) RemoveGating(ctx context.Context, ev events.ItemDeleted) error {
	usageKey, err := models.ParseUsageKey(ev.UsageKey)
	if err != nil {
		return err
	}
	root := usageKey.ForBranch("")
	courseKey := root.Course.String()

	removed := 0
	for key, err := range s.descendants(ctx, root.String()) {
		if err != nil {
			return err
		}
		if err := s.content.RemovePrerequisite(ctx, courseKey, key); err != nil {
			return err
		}
		if err := s.content.ClearRequiredContent(ctx, courseKey, key); err != nil {
			return err
		}
		removed++
	}
	s.logger.Debug("gating removed for deleted item",
		zap.String("usage_key", root.String()),
		zap.Int("blocks", removed),
	)
	return nil
}

// descendants walks the content tree depth first starting at root, loading
// each level only when the walk reaches it.
func (s *SignalService) descendants(ctx context.Context, root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stack := []string{root}
		for len(stack) > 0 {
			key := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(key, nil) {
				return
			}
			children, err := s.content.Children(ctx, key)
			if err != nil {
				yield("", err)
				return
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i].UsageKey)
			}
		}
	}
}

// RecomputeGrades enqueues recomputation of every grade in the course.
func (s *SignalService) RecomputeGrades(ctx context.Context, ev events.GradingPolicyChanged) error {
	handle, err := s.enqueue(ctx, models.JobComputeGrades, models.ComputeGradesPayload{
		CourseKey:            ev.CourseKey,
		EventTransactionID:   ev.EventTransactionID,
		EventTransactionType: ev.EventTransactionType,
	})
	if err != nil {
		return err
	}
	s.logger.Info("grades recomputation enqueued",
		zap.String("task_name", handle.Type),
		zap.String("task_id", handle.TaskID),
		zap.String("course_key", ev.CourseKey),
	)
	return nil
}

// PushEnrollmentProfile enqueues an analytics push for a new enrollment when
// the course has analytics configured.
func (s *SignalService) PushEnrollmentProfile(ctx context.Context, ev events.EnrollmentCreated) error {
	enrollment := ev.Enrollment
	settings, err := s.settings.FindByCourseKey(ctx, enrollment.CourseKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if !settings.AnalyticsEnabled {
		return nil
	}

	logger := s.logger.With(zap.String("course_key", enrollment.CourseKey))
	configured := true
	for _, f := range []struct {
		name  string
		value sql.NullString
	}{
		{"analytics_base_url", settings.AnalyticsBaseURL},
		{"analytics_key", settings.AnalyticsKey},
		{"analytics_secret", settings.AnalyticsSecret},
	} {
		if !f.value.Valid || f.value.String == "" {
			logger.Error(fmt.Sprintf("Field %s is improperly configured.", f.name))
			configured = false
		}
	}
	if !configured {
		return nil
	}

	payload := models.AnalyticsPushPayload{
		Payload: models.AnalyticsPayload{
			StudentID: enrollment.Email + ":" + s.config.SiteDomain,
			CourseID:  enrollment.CourseKey,
			Org:       settings.Org,
			EventType: analyticsEventEnrollment,
			UID:       strconv.FormatInt(enrollment.UserID, 10) + "_" + enrollment.CourseKey,
		},
		Secret:  settings.AnalyticsSecret.String,
		Key:     settings.AnalyticsKey.String,
		BaseURL: settings.AnalyticsBaseURL.String,
	}
	_, err = s.enqueue(ctx, models.JobSendAnalytics, payload)
	return err
}

func (s *SignalService) enqueue(ctx context.Context, jobType string, payload interface{}) (jobs.Handle, error) {
	job, err := jobs.NewJob(jobType, payload)
	if err != nil {
		return jobs.Handle{}, err
	}
	handle, err := s.dispatcher.Enqueue(ctx, job)
	s.metrics.RecordTaskEnqueued(jobType, err)
	if err != nil {
		return jobs.Handle{}, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return handle, nil
}
