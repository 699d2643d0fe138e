package dto

// TaskResponse returns the identifier of an enqueued task.
type TaskResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatusQuery captures the import status polling parameters.
type TaskStatusQuery struct {
	TaskID   string `form:"task_id"`
	Filename string `form:"filename"`
}

// TaskStateResponse reports the state of an import task.
type TaskStateResponse struct {
	State string `json:"state"`
}

// ExportStatusResponse reports the state of an export task and, once it
// succeeded, where to download the archive.
type ExportStatusResponse struct {
	State        string `json:"state"`
	ExportOutput string `json:"export_output,omitempty"`
}

// ImportArchive describes an uploaded course archive.
type ImportArchive struct {
	Filename string
	Size     int64
	Language string
}

// RerunCheckRequest lists the course ids a studio page is waiting on.
type RerunCheckRequest struct {
	Courses []string `form:"courses" json:"courses"`
}

// RerunCheckResponse tells the page whether it should reload.
type RerunCheckResponse struct {
	IsReload bool `json:"is_reload"`
}
