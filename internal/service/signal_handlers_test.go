package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/lms-studio-api/internal/events"
	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/pkg/jobs"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, job jobs.Job) (jobs.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return jobs.Handle{}, f.err
	}
	f.jobs = append(f.jobs, job)
	return jobs.Handle{TaskID: job.ID, Type: job.Type}, nil
}

func (f *fakeDispatcher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Type)
	}
	return out
}

type stubPlatform struct {
	calls     []string
	examErr   error
	creditErr error
}

func (s *stubPlatform) RegisterExams(ctx context.Context, courseKey string) error {
	s.calls = append(s.calls, "exam:"+courseKey)
	return s.examErr
}

func (s *stubPlatform) SyncRequirements(ctx context.Context, courseKey string) error {
	s.calls = append(s.calls, "credit:"+courseKey)
	return s.creditErr
}

type fakeContentTree struct {
	children     map[string][]string
	removed      []string
	cleared      []string
	childrenErr  error
	visitedNodes []string
}

func (f *fakeContentTree) Children(ctx context.Context, usageKey string) ([]models.ContentBlock, error) {
	f.visitedNodes = append(f.visitedNodes, usageKey)
	if f.childrenErr != nil {
		return nil, f.childrenErr
	}
	var blocks []models.ContentBlock
	for _, key := range f.children[usageKey] {
		blocks = append(blocks, models.ContentBlock{UsageKey: key})
	}
	return blocks, nil
}

func (f *fakeContentTree) RemovePrerequisite(ctx context.Context, courseKey, contentKey string) error {
	f.removed = append(f.removed, courseKey+"|"+contentKey)
	return nil
}

func (f *fakeContentTree) ClearRequiredContent(ctx context.Context, courseKey, contentKey string) error {
	f.cleared = append(f.cleared, contentKey)
	return nil
}

type fakeSettings struct {
	settings *models.CourseSettings
	err      error
}

func (f *fakeSettings) FindByCourseKey(ctx context.Context, courseKey string) (*models.CourseSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.settings == nil {
		return nil, sql.ErrNoRows
	}
	return f.settings, nil
}

const demoCourse = "course-v1:edX+DemoX+2024"

func newSignalFixture(t *testing.T, cfg SignalConfig) (*SignalService, *stubPlatform, *fakeContentTree, *fakeSettings, *fakeDispatcher, *events.Registry) {
	t.Helper()
	platform := &stubPlatform{}
	tree := &fakeContentTree{children: map[string][]string{}}
	settings := &fakeSettings{}
	dispatcher := &fakeDispatcher{}
	svc := NewSignalService(platform, platform, tree, settings, dispatcher, nil, zap.NewNop(), cfg)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600)) }
	reg := events.NewRegistry(zap.NewNop(), nil)
	svc.Register(reg)
	return svc, platform, tree, settings, dispatcher, reg
}

func TestCoursePublishedRunsPipelineInOrder(t *testing.T) {
	_, platform, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{CoursewareIndexEnabled: true})

	require.NoError(t, reg.Dispatch(context.Background(), events.CoursePublished{CourseKey: demoCourse}))

	assert.Equal(t, []string{"exam:" + demoCourse, "credit:" + demoCourse}, platform.calls)
	require.Equal(t, []string{models.JobUpdateSearchIndex}, dispatcher.types())

	var payload models.SearchIndexPayload
	require.NoError(t, dispatcher.jobs[0].Decode(&payload))
	assert.Equal(t, demoCourse, payload.CourseKey)
	assert.Equal(t, "2024-05-01T03:00:00Z", payload.TriggeredAt)
}

func TestCoursePublishedToleratesExamFailure(t *testing.T) {
	_, platform, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{CoursewareIndexEnabled: true})
	platform.examErr = errors.New("proctoring unavailable")

	require.NoError(t, reg.Dispatch(context.Background(), events.CoursePublished{CourseKey: demoCourse}))
	assert.Len(t, platform.calls, 2)
	assert.Equal(t, []string{models.JobUpdateSearchIndex}, dispatcher.types())
}

func TestCoursePublishedPropagatesCreditFailure(t *testing.T) {
	_, platform, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{CoursewareIndexEnabled: true})
	platform.creditErr = errors.New("credit unavailable")

	err := reg.Dispatch(context.Background(), events.CoursePublished{CourseKey: demoCourse})
	require.ErrorIs(t, err, platform.creditErr)
	assert.Empty(t, dispatcher.types())
}

func TestCoursePublishedSkipsIndexWhenDisabled(t *testing.T) {
	_, _, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{})

	require.NoError(t, reg.Dispatch(context.Background(), events.CoursePublished{CourseKey: demoCourse}))
	assert.Empty(t, dispatcher.types())
}

func TestLibraryUpdatedEnqueuesWhenEnabled(t *testing.T) {
	_, _, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{LibraryIndexEnabled: true})

	require.NoError(t, reg.Dispatch(context.Background(), events.LibraryUpdated{LibraryKey: "lib-v1:edX+Lib"}))
	require.Equal(t, []string{models.JobUpdateLibraryIndex}, dispatcher.types())

	var payload models.LibraryIndexPayload
	require.NoError(t, dispatcher.jobs[0].Decode(&payload))
	assert.Equal(t, "lib-v1:edX+Lib", payload.LibraryKey)
}

func TestItemDeletedRemovesGatingForSubtree(t *testing.T) {
	_, _, tree, _, _, reg := newSignalFixture(t, SignalConfig{})
	unit := "block-v1:edX+DemoX+2024+type@vertical+block@unit"
	tree.children[unit] = []string{
		"block-v1:edX+DemoX+2024+type@problem+block@p1",
		"block-v1:edX+DemoX+2024+type@html+block@h1",
	}
	tree.children["block-v1:edX+DemoX+2024+type@problem+block@p1"] = []string{
		"block-v1:edX+DemoX+2024+type@html+block@nested",
	}

	deleted := "block-v1:edX+DemoX+2024+branch@draft-branch+type@vertical+block@unit"
	require.NoError(t, reg.Dispatch(context.Background(), events.ItemDeleted{UsageKey: deleted, UserID: 3}))

	assert.Equal(t, []string{
		unit,
		"block-v1:edX+DemoX+2024+type@problem+block@p1",
		"block-v1:edX+DemoX+2024+type@html+block@nested",
		"block-v1:edX+DemoX+2024+type@html+block@h1",
	}, tree.cleared)
	require.Len(t, tree.removed, 4)
	assert.Equal(t, demoCourse+"|"+unit, tree.removed[0])
}

func TestItemDeletedPropagatesTreeErrors(t *testing.T) {
	_, _, tree, _, _, reg := newSignalFixture(t, SignalConfig{})
	tree.childrenErr = errors.New("db down")

	err := reg.Dispatch(context.Background(), events.ItemDeleted{UsageKey: "block-v1:edX+DemoX+2024+type@vertical+block@unit"})
	require.ErrorIs(t, err, tree.childrenErr)
	assert.Len(t, tree.cleared, 1)
}

func TestItemDeletedRejectsInvalidKey(t *testing.T) {
	_, _, tree, _, _, reg := newSignalFixture(t, SignalConfig{})

	require.Error(t, reg.Dispatch(context.Background(), events.ItemDeleted{UsageKey: "not-a-key"}))
	assert.Empty(t, tree.visitedNodes)
}

func TestDescendantsStopsEarly(t *testing.T) {
	svc, _, tree, _, _, _ := newSignalFixture(t, SignalConfig{})
	tree.children["root"] = []string{"a", "b"}

	var seen []string
	for key, err := range svc.descendants(context.Background(), "root") {
		require.NoError(t, err)
		seen = append(seen, key)
		if key == "a" {
			break
		}
	}
	assert.Equal(t, []string{"root", "a"}, seen)
	assert.Equal(t, []string{"root"}, tree.visitedNodes)
}

func TestGradingPolicyChangedEnqueuesRecompute(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	platform := &stubPlatform{}
	dispatcher := &fakeDispatcher{}
	svc := NewSignalService(platform, platform, &fakeContentTree{}, &fakeSettings{}, dispatcher, nil, zap.New(core), SignalConfig{})

	err := svc.RecomputeGrades(context.Background(), events.GradingPolicyChanged{
		CourseKey:            demoCourse,
		EventTransactionID:   "tx-9",
		EventTransactionType: "edx.grades.grading_policy_changed",
	})
	require.NoError(t, err)
	require.Len(t, dispatcher.jobs, 1)

	var payload models.ComputeGradesPayload
	require.NoError(t, dispatcher.jobs[0].Decode(&payload))
	assert.Equal(t, "tx-9", payload.EventTransactionID)
	assert.Equal(t, "edx.grades.grading_policy_changed", payload.EventTransactionType)

	entries := logs.FilterMessage("grades recomputation enqueued").All()
	require.Len(t, entries, 1)
	assert.Equal(t, dispatcher.jobs[0].ID, entries[0].ContextMap()["task_id"])
	assert.Equal(t, models.JobComputeGrades, entries[0].ContextMap()["task_name"])
}

func TestGradingPolicyChangedPropagatesEnqueueFailure(t *testing.T) {
	_, _, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{})
	dispatcher.err = errors.New("broker down")

	err := reg.Dispatch(context.Background(), events.GradingPolicyChanged{CourseKey: demoCourse})
	require.ErrorIs(t, err, dispatcher.err)
}

func analyticsSettings() *models.CourseSettings {
	return &models.CourseSettings{
		CourseKey:        demoCourse,
		Org:              "edX",
		AnalyticsEnabled: true,
		AnalyticsBaseURL: sql.NullString{String: "https://analytics.example.com/", Valid: true},
		AnalyticsKey:     sql.NullString{String: "key-1", Valid: true},
		AnalyticsSecret:  sql.NullString{String: "secret-1", Valid: true},
	}
}

func TestEnrollmentCreatedEnqueuesAnalyticsPush(t *testing.T) {
	_, _, _, settings, dispatcher, reg := newSignalFixture(t, SignalConfig{SiteDomain: "lms.example.com"})
	settings.settings = analyticsSettings()

	ev := events.EnrollmentCreated{Enrollment: models.Enrollment{UserID: 42, Email: "learner@example.com", CourseKey: demoCourse, Created: true}}
	require.NoError(t, reg.Dispatch(context.Background(), ev))
	require.Equal(t, []string{models.JobSendAnalytics}, dispatcher.types())

	var push models.AnalyticsPushPayload
	require.NoError(t, dispatcher.jobs[0].Decode(&push))
	assert.Equal(t, models.AnalyticsPayload{
		StudentID: "learner@example.com:lms.example.com",
		CourseID:  demoCourse,
		Org:       "edX",
		EventType: 1,
		UID:       "42_" + demoCourse,
	}, push.Payload)
	assert.Equal(t, "key-1", push.Key)
	assert.Equal(t, "secret-1", push.Secret)
	assert.Equal(t, "https://analytics.example.com/", push.BaseURL)
}

func TestEnrollmentCreatedLogsMissingFields(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	dispatcher := &fakeDispatcher{}
	cfg := analyticsSettings()
	cfg.AnalyticsKey = sql.NullString{}
	cfg.AnalyticsSecret = sql.NullString{String: "", Valid: true}
	svc := NewSignalService(&stubPlatform{}, &stubPlatform{}, &fakeContentTree{}, &fakeSettings{settings: cfg}, dispatcher, nil, zap.New(core), SignalConfig{})

	ev := events.EnrollmentCreated{Enrollment: models.Enrollment{UserID: 42, Email: "learner@example.com", CourseKey: demoCourse}}
	require.NoError(t, svc.PushEnrollmentProfile(context.Background(), ev))
	assert.Empty(t, dispatcher.jobs)
	assert.Equal(t, 1, logs.FilterMessage("Field analytics_key is improperly configured.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Field analytics_secret is improperly configured.").Len())
	assert.Equal(t, 2, logs.Len())
}

func TestEnrollmentCreatedIgnoresDisabledAnalytics(t *testing.T) {
	_, _, _, settings, dispatcher, reg := newSignalFixture(t, SignalConfig{})
	cfg := analyticsSettings()
	cfg.AnalyticsEnabled = false
	settings.settings = cfg

	ev := events.EnrollmentCreated{Enrollment: models.Enrollment{UserID: 42, CourseKey: demoCourse}}
	require.NoError(t, reg.Dispatch(context.Background(), ev))
	assert.Empty(t, dispatcher.jobs)
}

func TestEnrollmentCreatedWithoutSettings(t *testing.T) {
	_, _, _, _, dispatcher, reg := newSignalFixture(t, SignalConfig{})

	ev := events.EnrollmentCreated{Enrollment: models.Enrollment{UserID: 42, CourseKey: demoCourse}}
	require.NoError(t, reg.Dispatch(context.Background(), ev))
	assert.Empty(t, dispatcher.jobs)
}
