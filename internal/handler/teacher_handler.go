package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// TeacherHandler handles proctoring actions taken by a class teacher.
type TeacherHandler struct {
	sessions       *service.SessionService
	locks          *service.LockService
	accommodations *service.AccommodationService
	log            zerolog.Logger
}

// NewTeacherHandler creates a new TeacherHandler.
func NewTeacherHandler(
	sessions *service.SessionService,
	locks *service.LockService,
	accommodations *service.AccommodationService,
	log zerolog.Logger,
) *TeacherHandler {
	return &TeacherHandler{
		sessions:       sessions,
		locks:          locks,
		accommodations: accommodations,
		log:            log.With().Str("component", "teacher_handler").Logger(),
	}
}

type sessionAction func(ctx context.Context, teacherID int, sessionID uuid.UUID, reason string) (*model.ExamSession, error)

// LockSession godoc
// POST /api/v1/teacher/sessions/:session_id/lock
func (h *TeacherHandler) LockSession(c *gin.Context) {
	h.runSessionAction(c, h.locks.Lock)
}

// UnlockSession godoc
// POST /api/v1/teacher/sessions/:session_id/unlock
func (h *TeacherHandler) UnlockSession(c *gin.Context) {
	h.runSessionAction(c, h.locks.Unlock)
}

func (h *TeacherHandler) runSessionAction(c *gin.Context, action sessionAction) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SessionActionRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := action(c.Request.Context(), claims.UserID, sessionID, req.Reason)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// GrantAccommodation godoc
// PUT /api/v1/teacher/instances/:instance_id/accommodations/:student_id
// Exactly one of extra_seconds (absolute) or add_seconds (delta) is accepted.
func (h *TeacherHandler) GrantAccommodation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	instanceID, studentID, ok := parseAccommodationPath(c)
	if !ok {
		return
	}

	var req model.GrantAccommodationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var change model.AccommodationChange
	switch {
	case req.ExtraSeconds != nil && req.AddSeconds == nil:
		change = model.SetAbsolute(*req.ExtraSeconds)
	case req.AddSeconds != nil && req.ExtraSeconds == nil:
		change = model.AddDelta(*req.AddSeconds)
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"extra_seconds": "exactly one of extra_seconds or add_seconds is required",
		})
		return
	}

	acc, err := h.accommodations.Grant(c.Request.Context(), service.GrantInput{
		TeacherID:  claims.UserID,
		InstanceID: instanceID,
		StudentID:  studentID,
		Change:     change,
		Notes:      req.Notes,
	})
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, acc)
}

// GetAccommodation godoc
// GET /api/v1/teacher/instances/:instance_id/accommodations/:student_id
func (h *TeacherHandler) GetAccommodation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	instanceID, studentID, ok := parseAccommodationPath(c)
	if !ok {
		return
	}

	acc, err := h.accommodations.Get(c.Request.Context(), claims.UserID, instanceID, studentID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, acc)
}

// ListFlags godoc
// GET /api/v1/teacher/sessions/:session_id/flags
func (h *TeacherHandler) ListFlags(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	flags, err := h.sessions.ListFlags(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if flags == nil {
		flags = []model.SessionFlag{}
	}

	response.Success(c, http.StatusOK, gin.H{"flags": flags})
}

// RegradeSubmission godoc
// POST /api/v1/teacher/sessions/:session_id/regrade
// Only submissions whose grading failed can be regraded.
func (h *TeacherHandler) RegradeSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, err := h.sessions.Regrade(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

func parseAccommodationPath(c *gin.Context) (uuid.UUID, int, bool) {
	instanceID, err := uuid.Parse(c.Param("instance_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	return instanceID, studentID, true
}
