package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrNotEligible, http.StatusForbidden, response.ErrNotEligible},
		{fmt.Errorf("guard: %w", service.ErrUnauthorized), http.StatusUnauthorized, response.ErrSessionTokenInvalid},
		{service.ErrSessionLocked, http.StatusLocked, response.ErrSessionLocked},
		{fmt.Errorf("unlock: %w", service.ErrDeadlinePassed), http.StatusGone, response.ErrDeadlinePassed},
		{service.ErrNotUngraded, http.StatusConflict, response.ErrAlreadyGraded},
		{service.ErrInvalidInput, http.StatusBadRequest, response.ErrValidation},
		{errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, code := statusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestEveryMappedCodeHasAMessage(t *testing.T) {
	for _, m := range serviceErrors {
		assert.NotEqual(t, response.GetMessage(response.ErrInternal), response.GetMessage(m.code), "missing message for %s", m.code)
	}
}
