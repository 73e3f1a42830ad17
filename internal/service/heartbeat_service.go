package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// HeartbeatService records client liveness and flags identity drift.
// Anomalies are recorded, never returned as errors.
type HeartbeatService struct {
	sessions *SessionService
	policy   AnomalyPolicy
	log      zerolog.Logger
}

// NewHeartbeatService creates a new HeartbeatService.
func NewHeartbeatService(sessions *SessionService, policy AnomalyPolicy, log zerolog.Logger) *HeartbeatService {
	if policy == nil {
		policy = NeverLock
	}
	return &HeartbeatService{
		sessions: sessions,
		policy:   policy,
		log:      log.With().Str("component", "heartbeat").Logger(),
	}
}

// Heartbeat compares the request fingerprint with the session bindings,
// appends one flag per anomaly and lets the anomaly policy decide whether
// to lock the session.
func (h *HeartbeatService) Heartbeat(ctx context.Context, req GuardRequest, meta model.ClientMeta, body model.HeartbeatRequest) (*model.HeartbeatResponse, error) {
	req.AllowLocked = true
	sess, err := h.sessions.Guard(ctx, req)
	if err != nil {
		return nil, err
	}

	now := h.sessions.now()
	resp := &model.HeartbeatResponse{RemainingSeconds: sess.Remaining(now).Seconds()}
	if sess.State == model.SessionStateLocked {
		resp.Locked = true
		return resp, nil
	}

	var raised []model.FlagDetails
	if sess.IPBinding != "" && meta.IP != sess.IPBinding {
		raised = append(raised, model.MultiIPDetails{BoundIP: sess.IPBinding, ObservedIP: meta.IP})
	}
	if observed := FingerprintUserAgent(meta.UserAgent); sess.UAHash != "" && observed != sess.UAHash {
		raised = append(raised, model.UAMismatchDetails{BoundHash: sess.UAHash, ObservedHash: observed})
	}
	if body.FocusLost {
		raised = append(raised, model.FocusLostDetails{})
	}
	if len(raised) == 0 {
		return resp, nil
	}

	for _, details := range raised {
		h.sessions.appendFlag(ctx, sess, details, nil)
		h.sessions.record(ctx, auditTypeFor(details.FlagType()), sess, meta, flagPayload(details))
		ev := h.sessions.event(sess, model.EventSessionFlagged, now)
		ev.FlagType = details.FlagType()
		h.sessions.events.SessionEvent(ctx, ev)
	}

	if h.evaluate(ctx, sess) {
		resp.Locked = true
	}
	return resp, nil
}

// evaluate runs the anomaly policy over the session's flag counts and
// locks the session when it fires.
func (h *HeartbeatService) evaluate(ctx context.Context, sess *model.ExamSession) bool {
	counts, err := h.sessions.store.CountFlags(ctx, sess.ID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to count flags")
		return false
	}

	decision := h.policy.Evaluate(counts)
	if !decision.Lock {
		return false
	}

	details := model.AutoLockDetails{FlagCount: decision.Score, Threshold: decision.Threshold}
	if _, err := h.sessions.lockSession(ctx, sess, details, nil, model.AuditSessionAutoLock); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Someone else locked or closed it first.
			return false
		}
		h.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to auto-lock session")
		return false
	}

	h.log.Warn().
		Str("session_id", sess.ID.String()).
		Int("user_id", sess.UserID).
		Int("score", decision.Score).
		Int("threshold", decision.Threshold).
		Msg("Session auto-locked")
	return true
}

func auditTypeFor(t model.FlagType) model.AuditEventType {
	switch t {
	case model.FlagMultiIP:
		return model.AuditIPChange
	case model.FlagUAMismatch:
		return model.AuditBrowserChange
	default:
		return model.AuditFocusLost
	}
}
