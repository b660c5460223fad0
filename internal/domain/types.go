// Package domain contains the core entities for surgery scheduling: the
// surgery requests submitted by the scheduling desk, the duration and delay
// predictions derived from them, and the scheduled slots that result.
package domain

import (
	"errors"
	"fmt"
)

// TimePreference is the slot preference stated on a surgery request.
type TimePreference string

const (
	Morning      TimePreference = "Morning"
	Afternoon    TimePreference = "Afternoon"
	NoPreference TimePreference = "No Preference"
)

// IsValid checks if the time preference is one of the known values
func (t TimePreference) IsValid() bool {
	switch t {
	case Morning, Afternoon, NoPreference:
		return true
	default:
		return false
	}
}

// String returns the string representation of the time preference
func (t TimePreference) String() string {
	return string(t)
}

// DelayRisk is the coarse two-level delay classification.
type DelayRisk string

const (
	LowRisk  DelayRisk = "Low Risk"
	HighRisk DelayRisk = "High Risk"
)

// IsValid checks if the delay risk is valid
func (r DelayRisk) IsValid() bool {
	switch r {
	case LowRisk, HighRisk:
		return true
	default:
		return false
	}
}

// String returns the string representation of the delay risk
func (r DelayRisk) String() string {
	return string(r)
}

// ReadyFlag marks whether a resource (instruments, PACU bed) is ready.
type ReadyFlag string

const (
	Ready    ReadyFlag = "Y"
	NotReady ReadyFlag = "N"
)

// IsValid checks if the flag is Y or N
func (f ReadyFlag) IsValid() bool {
	return f == Ready || f == NotReady
}

// String returns the string representation of the flag
func (f ReadyFlag) String() string {
	return string(f)
}

// NoComorbidities is the comorbidities value for a patient without conditions.
const NoComorbidities = "None"

// SchedulerMode selects where predictions and schedules are computed.
type SchedulerMode string

const (
	// ModeMock computes everything with the local heuristic.
	ModeMock SchedulerMode = "mock"
	// ModeRemote forwards every call to the remote scheduling backend.
	ModeRemote SchedulerMode = "remote"
	// ModeAuto tries the remote backend and falls back to the heuristic.
	ModeAuto SchedulerMode = "auto"
)

// IsValid checks if the mode is supported
func (m SchedulerMode) IsValid() bool {
	switch m {
	case ModeMock, ModeRemote, ModeAuto:
		return true
	default:
		return false
	}
}

// RunKind identifies what produced a persisted schedule run.
type RunKind string

const (
	RunKindSchedule    RunKind = "schedule"
	RunKindBatchImport RunKind = "batch_import"
	RunKindGenerated   RunKind = "generated"
)

// Sentinel errors shared across packages.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrBackendUnavailable = errors.New("scheduling backend unavailable")
	ErrStorageUnavailable = errors.New("archive storage unavailable")
)

// ParseSchedulerMode converts a config string into a SchedulerMode.
func ParseSchedulerMode(s string) (SchedulerMode, error) {
	mode := SchedulerMode(s)
	if !mode.IsValid() {
		return "", fmt.Errorf("unknown scheduler mode %q", s)
	}
	return mode, nil
}
