package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler handles student-facing exam session endpoints.
type SessionHandler struct {
	sessions   *service.SessionService
	heartbeats *service.HeartbeatService
	answers    *service.AnswerService
	log        zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessions *service.SessionService,
	heartbeats *service.HeartbeatService,
	answers *service.AnswerService,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		heartbeats: heartbeats,
		answers:    answers,
		log:        log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/student/instances/:instance_id/start
// Opens a session, or resumes the live one with the same token.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	instanceID, err := uuid.Parse(c.Param("instance_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	resp, err := h.sessions.StartSession(c.Request.Context(), claims.UserID, instanceID, middleware.ClientMeta(c))
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if resp.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, resp)
}

// GetQuestions godoc
// GET /api/v1/student/sessions/:session_id/questions
// Returns the paper without answer keys, with the student's current picks.
func (h *SessionHandler) GetQuestions(c *gin.Context) {
	req, ok := middleware.GetGuardRequest(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionTokenInvalid)
		return
	}

	questions, err := h.sessions.GetQuestions(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// Heartbeat godoc
// POST /api/v1/student/sessions/:session_id/heartbeat
// The body is optional; IP and user agent come from the request itself.
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	req, ok := middleware.GetGuardRequest(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionTokenInvalid)
		return
	}

	var body model.HeartbeatRequest
	if fields := validator.BindOptional(c, &body); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.heartbeats.Heartbeat(c.Request.Context(), req, middleware.ClientMeta(c), body)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, resp)
}

// UpsertAnswer godoc
// POST /api/v1/student/sessions/:session_id/answers
func (h *SessionHandler) UpsertAnswer(c *gin.Context) {
	req, ok := middleware.GetGuardRequest(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionTokenInvalid)
		return
	}

	var body model.UpsertAnswerRequest
	if fields := validator.Bind(c, &body); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	// The binding tags already enforce uuid syntax.
	questionID := uuid.MustParse(body.QuestionID)
	choiceIDs := make([]uuid.UUID, len(body.ChoiceIDs))
	for i, raw := range body.ChoiceIDs {
		choiceIDs[i] = uuid.MustParse(raw)
	}

	answer, err := h.answers.UpsertAnswer(c.Request.Context(), req, questionID, choiceIDs)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, answer)
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Closes the session and returns the grade.
func (h *SessionHandler) Submit(c *gin.Context) {
	req, ok := middleware.GetGuardRequest(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionTokenInvalid)
		return
	}

	resp, err := h.sessions.Submit(c.Request.Context(), req, middleware.ClientMeta(c))
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, resp)
}
