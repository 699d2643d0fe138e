package models

// Enrollment is the slice of an enrollment record carried by an
// EnrollmentCreated event.
type Enrollment struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	CourseKey string `json:"course_key"`
	Created   bool   `json:"created"`
}
