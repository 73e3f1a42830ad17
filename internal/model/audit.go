package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType enumerates coarse audit events.
type AuditEventType string

const (
	AuditSessionStart       AuditEventType = "SESSION_START"
	AuditSessionResume      AuditEventType = "SESSION_RESUME"
	AuditIPChange           AuditEventType = "IP_CHANGE"
	AuditBrowserChange      AuditEventType = "BROWSER_CHANGE"
	AuditFocusLost          AuditEventType = "FOCUS_LOST"
	AuditSessionLock        AuditEventType = "SESSION_LOCK"
	AuditSessionUnlock      AuditEventType = "SESSION_UNLOCK"
	AuditSessionAutoLock    AuditEventType = "SESSION_AUTO_LOCK"
	AuditAnswerSaved        AuditEventType = "ANSWER_SAVED"
	AuditSessionSubmit      AuditEventType = "SESSION_SUBMIT"
	AuditSessionExpire      AuditEventType = "SESSION_EXPIRE"
	AuditAccommodationGrant AuditEventType = "ACCOMMODATION_GRANT"
	AuditGradingFailed      AuditEventType = "GRADING_FAILED"
	AuditSubmissionRegraded AuditEventType = "SUBMISSION_REGRADED"
)

// AuditLog is an append-only record of session activity.
type AuditLog struct {
	ID            uuid.UUID      `json:"id"`
	EventType     AuditEventType `json:"event_type"`
	ExamSessionID *uuid.UUID     `json:"exam_session_id,omitempty"`
	UserID        int            `json:"user_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	SourceIP      string         `json:"source_ip"`
	UserAgent     string         `json:"user_agent"`
	CreatedAt     time.Time      `json:"created_at"`
}
