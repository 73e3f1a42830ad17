package model

// Enrollment status values as reported by the class roster.
const (
	EnrollmentApproved = "approved"
	EnrollmentPending  = "pending"
)

// Class is the roster an exam template belongs to.
type Class struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	TeacherID int    `json:"teacher_id"`
}
