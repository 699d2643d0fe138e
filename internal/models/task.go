package models

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle state of a user task.
type TaskState string

const (
	TaskStatePending    TaskState = "Pending"
	TaskStateInProgress TaskState = "In Progress"
	TaskStateSucceeded  TaskState = "Succeeded"
	TaskStateFailed     TaskState = "Failed"
	TaskStateCanceled   TaskState = "Canceled"
	TaskStateRetrying   TaskState = "Retrying"
)

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed || s == TaskStateCanceled
}

// Task classes recorded on status rows.
const (
	TaskClassImportOLX = "import_olx"
	TaskClassExportOLX = "export_olx"
)

// UserTaskStatus tracks an asynchronous import or export job started by a user.
type UserTaskStatus struct {
	ID             int64     `db:"id" json:"id"`
	TaskID         string    `db:"task_id" json:"task_id"`
	Name           string    `db:"name" json:"name"`
	TaskClass      string    `db:"task_class" json:"task_class"`
	State          TaskState `db:"state" json:"state"`
	UserID         int64     `db:"user_id" json:"user_id"`
	TotalSteps     int       `db:"total_steps" json:"total_steps"`
	CompletedSteps int       `db:"completed_steps" json:"completed_steps"`
	Attempts       int       `db:"attempts" json:"attempts"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	ModifiedAt     time.Time `db:"modified_at" json:"modified_at"`
}

// UserTaskArtifact is an output file produced by a task.
type UserTaskArtifact struct {
	ID        int64     `db:"id" json:"id"`
	StatusID  int64     `db:"status_id" json:"status_id"`
	Name      string    `db:"name" json:"name"`
	FilePath  string    `db:"file_path" json:"file_path"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ArtifactOutput names the export archive artifact.
const ArtifactOutput = "Output"

// ImportTaskName is the deterministic status name of an import task.
func ImportTaskName(courseKey, archiveName string) string {
	return fmt.Sprintf("Import of %s from %s", courseKey, archiveName)
}

// ExportTaskName is the deterministic status name of an export task.
func ExportTaskName(courseKey string) string {
	return fmt.Sprintf("Export of %s", courseKey)
}
