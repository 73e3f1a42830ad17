package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired       ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid        ErrCode = "TOKEN_INVALID"
	ErrSessionTokenInvalid ErrCode = "SESSION_TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrNotEligible       ErrCode = "NOT_ELIGIBLE"
	ErrSessionClosed     ErrCode = "SESSION_CLOSED"
	ErrAlreadyTerminal   ErrCode = "ALREADY_TERMINAL"
	ErrSessionLocked     ErrCode = "SESSION_LOCKED"
	ErrSessionNotStarted ErrCode = "SESSION_NOT_STARTED"
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrDeadlinePassed    ErrCode = "DEADLINE_PASSED"
	ErrAlreadyGraded     ErrCode = "ALREADY_GRADED"
	ErrMonitorOffline    ErrCode = "MONITOR_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrSessionTokenInvalid:
		return "Token sesi ujian tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrTeacherAccessOnly:
		return "Sumber daya ini terbatas untuk guru."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrNotEligible:
		return "Anda tidak berhak mengikuti ujian ini."
	case ErrSessionClosed:
		return "Sesi ujian sudah ditutup."
	case ErrAlreadyTerminal:
		return "Sesi ujian sudah selesai."
	case ErrSessionLocked:
		return "Sesi ujian dikunci oleh pengawas."
	case ErrSessionNotStarted:
		return "Sesi ujian belum dimulai."
	case ErrInvalidTransition:
		return "Perubahan status sesi tidak diperbolehkan."
	case ErrDeadlinePassed:
		return "Waktu ujian telah habis."
	case ErrAlreadyGraded:
		return "Jawaban sudah dinilai."
	case ErrMonitorOffline:
		return "Pemantauan langsung tidak tersedia."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
