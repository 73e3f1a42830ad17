package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type errMapping struct {
	err    error
	status int
	code   response.ErrCode
}

var serviceErrors = []errMapping{
	{service.ErrNotEligible, http.StatusForbidden, response.ErrNotEligible},
	{service.ErrUnauthorized, http.StatusUnauthorized, response.ErrSessionTokenInvalid},
	{service.ErrForbidden, http.StatusForbidden, response.ErrForbidden},
	{service.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed},
	{service.ErrAlreadyTerminal, http.StatusConflict, response.ErrAlreadyTerminal},
	{service.ErrSessionLocked, http.StatusLocked, response.ErrSessionLocked},
	{service.ErrSessionNotStarted, http.StatusConflict, response.ErrSessionNotStarted},
	{service.ErrInvalidTransition, http.StatusConflict, response.ErrInvalidTransition},
	{service.ErrInvalidInput, http.StatusBadRequest, response.ErrValidation},
	{service.ErrDeadlinePassed, http.StatusGone, response.ErrDeadlinePassed},
	{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrNotUngraded, http.StatusConflict, response.ErrAlreadyGraded},
}

// statusFor maps a service error to its HTTP status and error code.
// Unknown errors are internal.
func statusFor(err error) (int, response.ErrCode) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the error envelope for err, logging unexpected failures.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}
