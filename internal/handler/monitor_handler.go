package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

// MonitorHandler streams session lifecycle events of an exam instance to
// its teacher over SSE.
type MonitorHandler struct {
	rdb      *redis.Client
	sessions *service.SessionService
	log      zerolog.Logger
	now      func() time.Time
}

// NewMonitorHandler creates a new MonitorHandler. A nil rdb disables the
// stream.
func NewMonitorHandler(rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "monitor_handler").Logger(),
		now:      time.Now,
	}
}

// MonitorInstanceSSE godoc
// GET /api/v1/teacher/instances/:instance_id/monitor
func (h *MonitorHandler) MonitorInstanceSSE(c *gin.Context) {
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

	if h.rdb == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorOffline)
		return
	}

	reqCtx := c.Request.Context()

	live, err := h.sessions.LiveSessions(reqCtx, claims.UserID, instanceID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	// Subscribe before the snapshot is written so no event falls between.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.InstanceMonitorChannel(instanceID.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("exam_instance_id", instanceID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorOffline)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, instanceID, live)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Int("teacher_id", claims.UserID).Str("exam_instance_id", instanceID.String()).Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_instance_id", instanceID.String()).Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON; the publisher already encoded the event.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

type monitorSession struct {
	SessionID        uuid.UUID          `json:"session_id"`
	UserID           int                `json:"user_id"`
	State            model.SessionState `json:"state"`
	EndsAt           time.Time          `json:"ends_at"`
	RemainingSeconds float64            `json:"remaining_seconds"`
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, instanceID uuid.UUID, live []model.ExamSession) {
	now := h.now()
	locked := 0
	students := make([]monitorSession, 0, len(live))
	for i := range live {
		s := &live[i]
		if s.State == model.SessionStateLocked {
			locked++
		}
		students = append(students, monitorSession{
			SessionID:        s.ID,
			UserID:           s.UserID,
			State:            s.State,
			EndsAt:           s.EndsAt,
			RemainingSeconds: s.Remaining(now).Seconds(),
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"exam_instance_id": instanceID.String(),
			"stats": map[string]int{
				"live":   len(live),
				"locked": locked,
			},
			"sessions": students,
		},
	})
	c.Writer.Flush()
}
