package models

// Job types handled by the task workers.
const (
	JobImportOLX          = "import_olx"
	JobExportOLX          = "export_olx"
	JobUpdateSearchIndex  = "update_search_index"
	JobUpdateLibraryIndex = "update_library_index"
	JobComputeGrades      = "compute_all_grades_for_course"
	JobSendAnalytics      = "send_api_request"
)

// ImportOLXPayload asks a worker to import an archive already in storage.
type ImportOLXPayload struct {
	UserID      int64  `json:"user_id"`
	CourseKey   string `json:"course_key"`
	StoragePath string `json:"storage_path"`
	Filename    string `json:"filename"`
	Language    string `json:"language"`
}

// ExportOLXPayload asks a worker to package a course as an OLX archive.
type ExportOLXPayload struct {
	UserID    int64  `json:"user_id"`
	CourseKey string `json:"course_key"`
}

// SearchIndexPayload triggers a courseware reindex.
type SearchIndexPayload struct {
	CourseKey   string `json:"course_key"`
	TriggeredAt string `json:"triggered_at"`
}

// LibraryIndexPayload triggers a library reindex.
type LibraryIndexPayload struct {
	LibraryKey  string `json:"library_key"`
	TriggeredAt string `json:"triggered_at"`
}

// ComputeGradesPayload triggers a full course grade recomputation.
type ComputeGradesPayload struct {
	CourseKey            string `json:"course_key"`
	EventTransactionID   string `json:"event_transaction_id"`
	EventTransactionType string `json:"event_transaction_type"`
}

// AnalyticsPayload is the enrollment notification sent to the analytics service.
type AnalyticsPayload struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	Org       string `json:"org"`
	EventType int    `json:"event_type"`
	UID       string `json:"uid"`
}

// AnalyticsPushPayload carries an analytics payload and the course credentials.
type AnalyticsPushPayload struct {
	Payload AnalyticsPayload `json:"payload"`
	Secret  string           `json:"secret"`
	Key     string           `json:"key"`
	BaseURL string           `json:"base_url"`
}
