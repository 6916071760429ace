package attendance

import (
	"fmt"
	"time"
)

// =============================================================================
// POSTURES
// =============================================================================

// OutsideFencePolicy decides whether a punch outside the assigned fence blocks.
type OutsideFencePolicy string

const (
	OutsideFenceBlock OutsideFencePolicy = "BLOCK"
	OutsideFenceWarn  OutsideFencePolicy = "WARN"
)

// IntegrityPosture decides whether a low-accuracy location fix blocks.
type IntegrityPosture string

const (
	IntegrityBlock IntegrityPosture = "BLOCK"
	IntegrityWarn  IntegrityPosture = "WARN"
)

const (
	MinFenceRadiusM  = 30
	MinAccuracyGateM = 10
)

// =============================================================================
// POLICY
// =============================================================================

// Policy holds one organization's admission thresholds. Read-only to the
// engine; administered elsewhere.
type Policy struct {
	OrgID  OrgID
	Active bool

	OutsideFence OutsideFencePolicy
	Integrity    IntegrityPosture

	// Shift windows, in minutes relative to office start/end
	AllowCheckInBeforeStartMin int
	LateCheckInAfterStartMin   int
	AllowCheckOutBeforeEndMin  int
	MaxCheckOutAfterEndMin     int // also the auto-completion grace period
	NotifyBeforeShiftStartMin  int

	FenceRadiusM    int
	AccuracyGateM   int
	CooldownSeconds int

	MaxSuccessfulPunchesPerDay int
	MaxFailedPunchesPerDay     int
	MaxWorkingHoursPerDay      int

	UpdatedAt time.Time
}

// DefaultPolicy returns the thresholds a new organization starts with.
// Attendance is inactive until an administrator switches it on.
func DefaultPolicy(org OrgID) Policy {
	return Policy{
		OrgID:                      org,
		Active:                     false,
		OutsideFence:               OutsideFenceWarn,
		Integrity:                  IntegrityWarn,
		AllowCheckInBeforeStartMin: 20,
		LateCheckInAfterStartMin:   30,
		AllowCheckOutBeforeEndMin:  15,
		MaxCheckOutAfterEndMin:     60,
		NotifyBeforeShiftStartMin:  10,
		FenceRadiusM:               150,
		AccuracyGateM:              80,
		CooldownSeconds:            120,
		MaxSuccessfulPunchesPerDay: 6,
		MaxFailedPunchesPerDay:     3,
		MaxWorkingHoursPerDay:      10,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...), Err: ErrInvalidPolicy}
	}
	switch {
	case p.OrgID == "":
		return invalid("org_id", "is required")
	case p.FenceRadiusM < MinFenceRadiusM:
		return invalid("fence_radius_m", "must be at least %d", MinFenceRadiusM)
	case p.AccuracyGateM < MinAccuracyGateM:
		return invalid("accuracy_gate_m", "must be at least %d", MinAccuracyGateM)
	case p.OutsideFence != OutsideFenceBlock && p.OutsideFence != OutsideFenceWarn:
		return invalid("outside_fence_policy", "must be BLOCK or WARN")
	case p.Integrity != IntegrityBlock && p.Integrity != IntegrityWarn:
		return invalid("integrity_posture", "must be BLOCK or WARN")
	case p.CooldownSeconds < 0:
		return invalid("cooldown_seconds", "must not be negative")
	case p.MaxSuccessfulPunchesPerDay < 1 || p.MaxFailedPunchesPerDay < 1:
		return invalid("max_punches_per_day", "must be positive")
	case p.MaxWorkingHoursPerDay < 1:
		return invalid("max_working_hours_per_day", "must be positive")
	case p.MaxCheckOutAfterEndMin < 0 || p.MaxCheckOutAfterEndMin >= minutesPerDay:
		return invalid("max_checkout_after_end_min", "must be within [0, %d)", minutesPerDay)
	case p.NotifyBeforeShiftStartMin < 0 || p.NotifyBeforeShiftStartMin >= minutesPerDay:
		return invalid("notify_before_shift_start_min", "must be within [0, %d)", minutesPerDay)
	case p.AllowCheckInBeforeStartMin < 0 || p.LateCheckInAfterStartMin < 0 || p.AllowCheckOutBeforeEndMin < 0:
		return invalid("shift_windows", "must not be negative")
	}
	return nil
}

// Grace is the auto-completion grace period after office end.
func (p Policy) Grace() time.Duration {
	return time.Duration(p.MaxCheckOutAfterEndMin) * time.Minute
}
