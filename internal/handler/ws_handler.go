package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams timer events from the broadcaster over WebSocket.
type WSHandler struct {
	timer    *worker.TimerBroadcaster
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(timer *worker.TimerBroadcaster, sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		timer:    timer,
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// TimerStream godoc
// WS /ws/v1/instances/:instance_id/timer?token=<jwt>[&session_id=&session_token=]
// Students receive their own session; teachers receive every live session
// of an instance they teach.
func (h *WSHandler) TimerStream(c *gin.Context) {
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

	guard, err := h.authorize(c, claims, instanceID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	sessionID := guard.SessionID

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sub := h.timer.Subscribe(ctx, instanceID, sessionID)
	if sub == nil {
		ws.WriteError(conn, "timer unavailable")
		return
	}
	defer h.timer.Unsubscribe(sub)

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("exam_instance_id", instanceID.String()).
		Str("session_id", sessionID.String()).
		Logger()

	// A close that landed between authorize and Subscribe has no event
	// left to deliver.
	if sessionID != uuid.Nil {
		if msg, closed := h.closedMessage(ctx, guard, wsLog); closed {
			if err := ws.WriteTyped(conn, msg); err == nil {
				closeNormal(conn, msg.State)
			}
			return
		}
	}
	wsLog.Info().Msg("Timer subscriber connected")

	pongs := make(chan struct{}, 1)
	readerDone := make(chan struct{})
	go h.readLoop(conn, wsLog, pongs, readerDone)

	pingTicker := time.NewTicker(ws.PingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-readerDone:
			return

		case ev, ok := <-sub.Events():
			if !ok {
				ws.WriteError(conn, "timer stopped")
				return
			}
			if err := ws.WriteTyped(conn, toTimerMessage(ev)); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
			// A student stream ends with its session.
			if sessionID != uuid.Nil && ev.Type == model.EventSessionTerminal {
				closeNormal(conn, string(ev.State))
				return
			}

		case <-pongs:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}

		case <-pingTicker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// authorize returns the guard request of the session to follow. A teacher
// following the whole instance gets a zero request.
func (h *WSHandler) authorize(c *gin.Context, claims *service.Claims, instanceID uuid.UUID) (service.GuardRequest, error) {
	ctx := c.Request.Context()

	if claims.TokenType == service.TokenTypeTeacher {
		if err := h.sessions.AuthorizeInstance(ctx, claims.UserID, instanceID); err != nil {
			return service.GuardRequest{}, err
		}
		return service.GuardRequest{}, nil
	}

	sessionID, err := uuid.Parse(c.Query("session_id"))
	if err != nil {
		return service.GuardRequest{}, service.ErrUnauthorized
	}
	req := service.GuardRequest{
		SessionID:   sessionID,
		Token:       c.Query("session_token"),
		CallerID:    claims.UserID,
		AllowLocked: true,
	}
	sess, err := h.sessions.Guard(ctx, req)
	if err != nil {
		return service.GuardRequest{}, err
	}
	if sess.ExamInstanceID != instanceID {
		return service.GuardRequest{}, service.ErrForbidden
	}
	return req, nil
}

// closedMessage re-reads the session after subscribing and returns its
// terminal message when it already closed.
func (h *WSHandler) closedMessage(ctx context.Context, req service.GuardRequest, log zerolog.Logger) (ws.TimerMessage, bool) {
	sess, sub, err := h.sessions.SessionStatus(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to re-check session after subscribing")
		return ws.TimerMessage{}, false
	}
	if !sess.State.IsTerminal() {
		return ws.TimerMessage{}, false
	}

	msg := ws.TimerMessage{
		Event:     ws.EventTerminal,
		SessionID: sess.ID,
		State:     string(sess.State),
	}
	if sub != nil && sub.Graded {
		score := sub.Score
		msg.Score = &score
	}
	return msg, true
}

func closeNormal(conn *websocket.Conn, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}

// readLoop consumes client frames so control frames are processed, and
// answers application pings through the writer.
func (h *WSHandler) readLoop(conn *websocket.Conn, log zerolog.Logger, pongs chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	ws.KeepAlive(conn)

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			select {
			case pongs <- struct{}{}:
			default:
			}
		default:
			log.Debug().Str("action", string(msg.Action)).Msg("Ignoring unknown action")
		}
	}
}

func toTimerMessage(ev worker.TimerEvent) ws.TimerMessage {
	event := ws.EventTick
	if ev.Type == model.EventSessionTerminal {
		event = ws.EventTerminal
	}
	return ws.TimerMessage{
		Event:            event,
		SessionID:        ev.SessionID,
		State:            string(ev.State),
		RemainingSeconds: ev.RemainingSeconds,
		Score:            ev.Score,
	}
}
