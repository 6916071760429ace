/*
Package factory converts YAML/JSON organization fixtures into attendance
domain values and writes them to a store.

PURPOSE:
  Lets an administrator describe an organization (policy, office hours,
  fences, roster, holidays) in a file and load it without code changes.
  Used by cmd/server -seed and by tests.

POLICY SCHEMA:
  Every field is optional; missing fields keep attendance.DefaultPolicy.

    policy:
      active: true
      outside_fence: WARN          # WARN | BLOCK
      integrity: WARN              # WARN | BLOCK
      allow_checkin_before_start_min: 20
      late_checkin_after_start_min: 30
      allow_checkout_before_end_min: 15
      max_checkout_after_end_min: 60
      notify_before_shift_start_min: 10
      fence_radius_m: 150
      accuracy_gate_m: 80
      cooldown_seconds: 120
      max_successful_punches_per_day: 6
      max_failed_punches_per_day: 3
      max_working_hours_per_day: 10

USAGE:
  f := factory.New()
  seed, err := f.ParseFile("orgs.yaml")
  err = f.Apply(ctx, store, seed)

SEE ALSO:
  - seed.go: Organization fixture schema and Apply
  - demo.go: Built-in demo organization
  - attendance/policy.go: Policy type and invariants
*/
package factory

import (
	"strings"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// POLICY SCHEMA
// =============================================================================

// PolicyJSON is the file representation of a policy. Pointer fields
// distinguish "unset" from zero.
type PolicyJSON struct {
	Active       *bool  `yaml:"active" json:"active,omitempty"`
	OutsideFence string `yaml:"outside_fence" json:"outside_fence,omitempty"`
	Integrity    string `yaml:"integrity" json:"integrity,omitempty"`

	AllowCheckInBeforeStartMin *int `yaml:"allow_checkin_before_start_min" json:"allow_checkin_before_start_min,omitempty"`
	LateCheckInAfterStartMin   *int `yaml:"late_checkin_after_start_min" json:"late_checkin_after_start_min,omitempty"`
	AllowCheckOutBeforeEndMin  *int `yaml:"allow_checkout_before_end_min" json:"allow_checkout_before_end_min,omitempty"`
	MaxCheckOutAfterEndMin     *int `yaml:"max_checkout_after_end_min" json:"max_checkout_after_end_min,omitempty"`
	NotifyBeforeShiftStartMin  *int `yaml:"notify_before_shift_start_min" json:"notify_before_shift_start_min,omitempty"`

	FenceRadiusM    *int `yaml:"fence_radius_m" json:"fence_radius_m,omitempty"`
	AccuracyGateM   *int `yaml:"accuracy_gate_m" json:"accuracy_gate_m,omitempty"`
	CooldownSeconds *int `yaml:"cooldown_seconds" json:"cooldown_seconds,omitempty"`

	MaxSuccessfulPunchesPerDay *int `yaml:"max_successful_punches_per_day" json:"max_successful_punches_per_day,omitempty"`
	MaxFailedPunchesPerDay     *int `yaml:"max_failed_punches_per_day" json:"max_failed_punches_per_day,omitempty"`
	MaxWorkingHoursPerDay      *int `yaml:"max_working_hours_per_day" json:"max_working_hours_per_day,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts fixtures into domain values.
type Factory struct {
	now func() time.Time
}

func New() *Factory {
	return &Factory{now: func() time.Time { return time.Now().UTC() }}
}

// PolicyFrom overlays pj on the organization's default policy and validates
// the result.
func (f *Factory) PolicyFrom(org attendance.OrgID, pj PolicyJSON) (attendance.Policy, error) {
	p := attendance.DefaultPolicy(org)

	if pj.Active != nil {
		p.Active = *pj.Active
	}
	if pj.OutsideFence != "" {
		p.OutsideFence = attendance.OutsideFencePolicy(strings.ToUpper(pj.OutsideFence))
	}
	if pj.Integrity != "" {
		p.Integrity = attendance.IntegrityPosture(strings.ToUpper(pj.Integrity))
	}

	overlay := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	overlay(&p.AllowCheckInBeforeStartMin, pj.AllowCheckInBeforeStartMin)
	overlay(&p.LateCheckInAfterStartMin, pj.LateCheckInAfterStartMin)
	overlay(&p.AllowCheckOutBeforeEndMin, pj.AllowCheckOutBeforeEndMin)
	overlay(&p.MaxCheckOutAfterEndMin, pj.MaxCheckOutAfterEndMin)
	overlay(&p.NotifyBeforeShiftStartMin, pj.NotifyBeforeShiftStartMin)
	overlay(&p.FenceRadiusM, pj.FenceRadiusM)
	overlay(&p.AccuracyGateM, pj.AccuracyGateM)
	overlay(&p.CooldownSeconds, pj.CooldownSeconds)
	overlay(&p.MaxSuccessfulPunchesPerDay, pj.MaxSuccessfulPunchesPerDay)
	overlay(&p.MaxFailedPunchesPerDay, pj.MaxFailedPunchesPerDay)
	overlay(&p.MaxWorkingHoursPerDay, pj.MaxWorkingHoursPerDay)

	p.UpdatedAt = f.now()
	if err := p.Validate(); err != nil {
		return attendance.Policy{}, err
	}
	return p, nil
}

// ToJSON renders a policy with every field set.
func (f *Factory) ToJSON(p attendance.Policy) PolicyJSON {
	intPtr := func(v int) *int { return &v }
	active := p.Active
	return PolicyJSON{
		Active:                     &active,
		OutsideFence:               string(p.OutsideFence),
		Integrity:                  string(p.Integrity),
		AllowCheckInBeforeStartMin: intPtr(p.AllowCheckInBeforeStartMin),
		LateCheckInAfterStartMin:   intPtr(p.LateCheckInAfterStartMin),
		AllowCheckOutBeforeEndMin:  intPtr(p.AllowCheckOutBeforeEndMin),
		MaxCheckOutAfterEndMin:     intPtr(p.MaxCheckOutAfterEndMin),
		NotifyBeforeShiftStartMin:  intPtr(p.NotifyBeforeShiftStartMin),
		FenceRadiusM:               intPtr(p.FenceRadiusM),
		AccuracyGateM:              intPtr(p.AccuracyGateM),
		CooldownSeconds:            intPtr(p.CooldownSeconds),
		MaxSuccessfulPunchesPerDay: intPtr(p.MaxSuccessfulPunchesPerDay),
		MaxFailedPunchesPerDay:     intPtr(p.MaxFailedPunchesPerDay),
		MaxWorkingHoursPerDay:      intPtr(p.MaxWorkingHoursPerDay),
	}
}
