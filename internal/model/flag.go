package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlagType enumerates anomaly and administrative flags.
type FlagType string

const (
	FlagMultiIP      FlagType = "multi_ip"
	FlagUAMismatch   FlagType = "ua_mismatch"
	FlagFocusLost    FlagType = "focus_lost"
	FlagManualLock   FlagType = "manual_lock"
	FlagManualUnlock FlagType = "manual_unlock"
	FlagAutoLock     FlagType = "auto_lock"
)

// IsAnomaly reports whether the flag was raised by client behaviour rather
// than by an administrative action.
func (t FlagType) IsAnomaly() bool {
	return t == FlagMultiIP || t == FlagUAMismatch || t == FlagFocusLost
}

// FlagDetails is the typed payload of a flag. Each variant fixes its shape.
type FlagDetails interface {
	FlagType() FlagType
}

type MultiIPDetails struct {
	BoundIP    string `json:"bound_ip"`
	ObservedIP string `json:"observed_ip"`
}

type UAMismatchDetails struct {
	BoundHash    string `json:"bound_hash"`
	ObservedHash string `json:"observed_hash"`
}

type FocusLostDetails struct{}

type ManualLockDetails struct {
	Reason string `json:"reason"`
}

type ManualUnlockDetails struct {
	Reason string `json:"reason"`
}

type AutoLockDetails struct {
	FlagCount int `json:"flag_count"`
	Threshold int `json:"threshold"`
}

func (MultiIPDetails) FlagType() FlagType      { return FlagMultiIP }
func (UAMismatchDetails) FlagType() FlagType   { return FlagUAMismatch }
func (FocusLostDetails) FlagType() FlagType    { return FlagFocusLost }
func (ManualLockDetails) FlagType() FlagType   { return FlagManualLock }
func (ManualUnlockDetails) FlagType() FlagType { return FlagManualUnlock }
func (AutoLockDetails) FlagType() FlagType     { return FlagAutoLock }

// SessionFlag is an append-only record of an anomaly or administrative action.
// FlaggedBy is nil for automatic flags.
type SessionFlag struct {
	ID            uuid.UUID   `json:"id"`
	ExamSessionID uuid.UUID   `json:"exam_session_id"`
	Type          FlagType    `json:"flag_type"`
	Details       FlagDetails `json:"details"`
	FlaggedBy     *int        `json:"flagged_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewSessionFlag builds a flag whose type is taken from its details.
func NewSessionFlag(sessionID uuid.UUID, details FlagDetails, flaggedBy *int) *SessionFlag {
	return &SessionFlag{
		ExamSessionID: sessionID,
		Type:          details.FlagType(),
		Details:       details,
		FlaggedBy:     flaggedBy,
	}
}

// DecodeFlagDetails rebuilds the typed details for a stored flag row.
func DecodeFlagDetails(t FlagType, raw []byte) (FlagDetails, error) {
	var d FlagDetails
	switch t {
	case FlagMultiIP:
		d = &MultiIPDetails{}
	case FlagUAMismatch:
		d = &UAMismatchDetails{}
	case FlagFocusLost:
		return FocusLostDetails{}, nil
	case FlagManualLock:
		d = &ManualLockDetails{}
	case FlagManualUnlock:
		d = &ManualUnlockDetails{}
	case FlagAutoLock:
		d = &AutoLockDetails{}
	default:
		return nil, fmt.Errorf("unknown flag type %q", t)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", t, err)
		}
	}
	return deref(d), nil
}

func deref(d FlagDetails) FlagDetails {
	switch v := d.(type) {
	case *MultiIPDetails:
		return *v
	case *UAMismatchDetails:
		return *v
	case *ManualLockDetails:
		return *v
	case *ManualUnlockDetails:
		return *v
	case *AutoLockDetails:
		return *v
	}
	return d
}
