package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-studio-api/internal/models"
)

// RerunRepository reads course rerun action states.
type RerunRepository struct {
	db *sqlx.DB
}

// NewRerunRepository constructs the repository.
func NewRerunRepository(db *sqlx.DB) *RerunRepository {
	return &RerunRepository{db: db}
}

// ListUnsucceeded returns displayable reruns that have not succeeded yet.
func (r *RerunRepository) ListUnsucceeded(ctx context.Context) ([]models.CourseRerunState, error) {
	const query = `SELECT id, course_key, source_course_key, state, should_display, created_at, updated_at
	FROM course_action_state_coursererunstate WHERE state <> $1 AND should_display = TRUE ORDER BY id`
	var states []models.CourseRerunState
	if err := r.db.SelectContext(ctx, &states, query, models.RerunStateSucceeded); err != nil {
		return nil, fmt.Errorf("list unsucceeded reruns: %w", err)
	}
	return states, nil
}

// AccessRepository reads course access roles.
type AccessRepository struct {
	db *sqlx.DB
}

// NewAccessRepository constructs the repository.
func NewAccessRepository(db *sqlx.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

// HasAnyRole reports whether the user holds one of roles on the course, either
// directly or org-wide.
func (r *AccessRepository) HasAnyRole(ctx context.Context, userID int64, courseKey models.CourseKey, roles []string) (bool, error) {
	const query = `SELECT EXISTS(
	SELECT 1 FROM student_courseaccessrole
	WHERE user_id = $1 AND role = ANY($2) AND (course_id = $3 OR (course_id = '' AND org = $4)))`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, userID, pq.Array(roles), courseKey.String(), courseKey.Org); err != nil {
		return false, fmt.Errorf("check course role: %w", err)
	}
	return ok, nil
}

// CourseSettingsRepository reads per-course settings.
type CourseSettingsRepository struct {
	db *sqlx.DB
}

// NewCourseSettingsRepository constructs the repository.
func NewCourseSettingsRepository(db *sqlx.DB) *CourseSettingsRepository {
	return &CourseSettingsRepository{db: db}
}

// FindByCourseKey returns the settings row for a course.
func (r *CourseSettingsRepository) FindByCourseKey(ctx context.Context, courseKey string) (*models.CourseSettings, error) {
	const query = `SELECT course_key, org, analytics_enabled, analytics_base_url, analytics_key, analytics_secret, catalog_visibility
	FROM course_settings WHERE course_key = $1`
	var settings models.CourseSettings
	if err := r.db.GetContext(ctx, &settings, query, courseKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course settings: %w", err)
	}
	return &settings, nil
}

// ContentRepository reads the course content tree and its gating data.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository constructs the repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Children returns the direct children of a block.
func (r *ContentRepository) Children(ctx context.Context, usageKey string) ([]models.ContentBlock, error) {
	const query = `SELECT usage_key, course_key, parent_key, category, display_name FROM content_blocks WHERE parent_key = $1 ORDER BY usage_key`
	var blocks []models.ContentBlock
	if err := r.db.SelectContext(ctx, &blocks, query, usageKey); err != nil {
		return nil, fmt.Errorf("list child blocks: %w", err)
	}
	return blocks, nil
}

// ListByCourse returns every block of a course.
func (r *ContentRepository) ListByCourse(ctx context.Context, courseKey string) ([]models.ContentBlock, error) {
	const query = `SELECT usage_key, course_key, parent_key, category, display_name FROM content_blocks WHERE course_key = $1 ORDER BY usage_key`
	var blocks []models.ContentBlock
	if err := r.db.SelectContext(ctx, &blocks, query, courseKey); err != nil {
		return nil, fmt.Errorf("list course blocks: %w", err)
	}
	return blocks, nil
}

// RemovePrerequisite deletes the milestone a block fulfils along with every
// requirement pointing at it.
func (r *ContentRepository) RemovePrerequisite(ctx context.Context, courseKey, contentKey string) error {
	const query = `DELETE FROM gating_milestones WHERE course_key = $1 AND
	((content_key = $2 AND relationship = $3) OR prerequisite_key = $2)`
	if _, err := r.db.ExecContext(ctx, query, courseKey, contentKey, models.GatingFulfills); err != nil {
		return fmt.Errorf("remove prerequisite: %w", err)
	}
	return nil
}

// ClearRequiredContent removes the block's own gating requirements.
func (r *ContentRepository) ClearRequiredContent(ctx context.Context, courseKey, contentKey string) error {
	const query = `DELETE FROM gating_milestones WHERE course_key = $1 AND content_key = $2 AND relationship = $3`
	if _, err := r.db.ExecContext(ctx, query, courseKey, contentKey, models.GatingRequires); err != nil {
		return fmt.Errorf("clear required content: %w", err)
	}
	return nil
}
