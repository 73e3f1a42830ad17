package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestHeartbeat_CleanRaisesNothing(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.start(t)

	out, err := e.hb.Heartbeat(e.ctx, e.guard(resp), meta, model.HeartbeatRequest{})
	require.NoError(t, err)
	assert.False(t, out.Locked)
	assert.Equal(t, 1800.0, out.RemainingSeconds)

	flags, err := e.store.ListFlags(e.ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestHeartbeat_FlagsDriftWithoutBlocking(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.start(t)
	drift := model.ClientMeta{IP: "10.9.9.9", UserAgent: "curl/8.0"}

	for i := 0; i < 2; i++ {
		out, err := e.hb.Heartbeat(e.ctx, e.guard(resp), drift, model.HeartbeatRequest{FocusLost: true})
		require.NoError(t, err)
		assert.False(t, out.Locked)
	}

	counts, err := e.store.CountFlags(e.ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.FlagMultiIP], "no dedup")
	assert.Equal(t, 2, counts[model.FlagUAMismatch])
	assert.Equal(t, 2, counts[model.FlagFocusLost])
	assert.Equal(t, 2, e.auditCount(model.AuditIPChange))
	assert.Equal(t, 2, e.auditCount(model.AuditBrowserChange))
	assert.Equal(t, 2, e.auditCount(model.AuditFocusLost))

	flags, err := e.store.ListFlags(e.ctx, resp.SessionID)
	require.NoError(t, err)
	details, ok := flags[0].Details.(model.MultiIPDetails)
	require.True(t, ok)
	assert.Equal(t, meta.IP, details.BoundIP)
	assert.Equal(t, drift.IP, details.ObservedIP)

	// Bindings are never rewritten.
	s := e.session(t, resp.SessionID)
	assert.Equal(t, meta.IP, s.IPBinding)
}

func TestHeartbeat_AutoLock(t *testing.T) {
	e := newEnv(t, service.ThresholdPolicy{Threshold: 3})
	resp := e.start(t)

	for i := 0; i < 2; i++ {
		out, err := e.hb.Heartbeat(e.ctx, e.guard(resp), meta, model.HeartbeatRequest{FocusLost: true})
		require.NoError(t, err)
		assert.False(t, out.Locked)
	}
	out, err := e.hb.Heartbeat(e.ctx, e.guard(resp), meta, model.HeartbeatRequest{FocusLost: true})
	require.NoError(t, err)
	assert.True(t, out.Locked)

	assert.Equal(t, model.SessionStateLocked, e.session(t, resp.SessionID).State)
	assert.Equal(t, 1, e.auditCount(model.AuditSessionAutoLock))

	// A locked session keeps heartbeating without further detection.
	out, err = e.hb.Heartbeat(e.ctx, e.guard(resp), meta, model.HeartbeatRequest{FocusLost: true})
	require.NoError(t, err)
	assert.True(t, out.Locked)
	counts, err := e.store.CountFlags(e.ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.FlagFocusLost])
	assert.Equal(t, 1, counts[model.FlagAutoLock])
}

func TestHeartbeat_UnlockRaisesThreshold(t *testing.T) {
	e := newEnv(t, service.ThresholdPolicy{Threshold: 2})
	resp := e.start(t)
	focus := model.HeartbeatRequest{FocusLost: true}

	_, err := e.hb.Heartbeat(e.ctx, e.guard(resp), meta, focus)
	require.NoError(t, err)
	out, err := e.hb.Heartbeat(e.ctx, e.guard(resp), meta, focus)
	require.NoError(t, err)
	require.True(t, out.Locked)

	_, err = e.locks.Unlock(e.ctx, teacherID, resp.SessionID, "false alarm")
	require.NoError(t, err)

	// Three anomalies against a threshold of four after one unlock.
	out, err = e.hb.Heartbeat(e.ctx, e.guard(resp), meta, focus)
	require.NoError(t, err)
	assert.False(t, out.Locked)

	out, err = e.hb.Heartbeat(e.ctx, e.guard(resp), meta, focus)
	require.NoError(t, err)
	assert.True(t, out.Locked)
}

func TestHeartbeat_AfterDeadline(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.start(t)
	e.clock.Advance(time.Hour)

	_, err := e.hb.Heartbeat(e.ctx, e.guard(resp), meta, model.HeartbeatRequest{})
	assert.ErrorIs(t, err, service.ErrDeadlinePassed)
	assert.Equal(t, model.SessionStateExpired, e.session(t, resp.SessionID).State)
}
