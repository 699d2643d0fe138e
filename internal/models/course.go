package models

import (
	"database/sql"
	"time"
)

// RerunState values mirror the course action state machine.
const (
	RerunStateNotStarted = "not_started"
	RerunStateInProgress = "in_progress"
	RerunStateSucceeded  = "succeeded"
	RerunStateFailed     = "failed"
)

// CourseRerunState tracks a course rerun action.
type CourseRerunState struct {
	ID              int64     `db:"id" json:"id"`
	CourseKey       string    `db:"course_key" json:"course_key"`
	SourceCourseKey string    `db:"source_course_key" json:"source_course_key"`
	State           string    `db:"state" json:"state"`
	ShouldDisplay   bool      `db:"should_display" json:"should_display"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Course access roles.
const (
	CourseRoleInstructor  = "instructor"
	CourseRoleStaff       = "staff"
	CourseRoleLibraryUser = "library_user"
)

// CourseSettings holds per-course advanced settings used by event handlers.
type CourseSettings struct {
	CourseKey         string         `db:"course_key" json:"course_key"`
	Org               string         `db:"org" json:"org"`
	AnalyticsEnabled  bool           `db:"analytics_enabled" json:"analytics_enabled"`
	AnalyticsBaseURL  sql.NullString `db:"analytics_base_url" json:"-"`
	AnalyticsKey      sql.NullString `db:"analytics_key" json:"-"`
	AnalyticsSecret   sql.NullString `db:"analytics_secret" json:"-"`
	CatalogVisibility string         `db:"catalog_visibility" json:"catalog_visibility"`
}

// ContentBlock is a node of the course content tree.
type ContentBlock struct {
	UsageKey    string         `db:"usage_key" json:"usage_key"`
	CourseKey   string         `db:"course_key" json:"course_key"`
	ParentKey   sql.NullString `db:"parent_key" json:"-"`
	Category    string         `db:"category" json:"category"`
	DisplayName string         `db:"display_name" json:"display_name"`
}

// Gating relationship kinds.
const (
	GatingFulfills = "fulfills"
	GatingRequires = "requires"
)
