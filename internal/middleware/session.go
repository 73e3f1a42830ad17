package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// HeaderSessionToken carries the opaque token returned by StartSession.
	HeaderSessionToken = "X-Session-Token"

	contextKeyGuard = "session_guard"
)

// RequireSessionToken builds the guard request for /sessions/:session_id
// routes from the student's claims, the path and the session token header.
// Must run after RequireStudentJWT.
func RequireSessionToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		sessionID, err := uuid.Parse(c.Param("session_id"))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		token := c.GetHeader(HeaderSessionToken)
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionTokenInvalid)
			return
		}

		c.Set(contextKeyGuard, service.GuardRequest{
			SessionID: sessionID,
			Token:     token,
			CallerID:  claims.UserID,
		})
		c.Next()
	}
}

// GetGuardRequest returns the guard request stored by RequireSessionToken.
func GetGuardRequest(c *gin.Context) (service.GuardRequest, bool) {
	val, exists := c.Get(contextKeyGuard)
	if !exists {
		return service.GuardRequest{}, false
	}
	req, ok := val.(service.GuardRequest)
	return req, ok
}

// ClientMeta returns the fingerprint of the current request.
func ClientMeta(c *gin.Context) model.ClientMeta {
	return model.ClientMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
