package factory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// SEED SCHEMA
// =============================================================================

// Seed is a file of organizations. Top-level holidays apply to every
// organization.
//
//	holidays:
//	  - {id: new-year, date: "2026-01-01", name: New Year, recurring: true}
//	organizations:
//	  - org_id: acme
//	    policy: {active: true}
//	    office_hours: {start: "08:00", end: "16:00", timezone: Asia/Jakarta}
//	    fences:
//	      - {id: hq, name: HQ, lat: -6.2, lng: 106.8, radius_m: 150}
//	    assignments:
//	      - {fence_id: hq, entity_type: ORG, entity_id: acme, is_default: true}
//	    members: [emp-1, emp-2]
//	    memberships:
//	      - {account_id: emp-1, entity_type: TEAM, entity_id: field}
type Seed struct {
	Holidays      []HolidayJSON `yaml:"holidays" json:"holidays,omitempty"`
	Organizations []OrgJSON     `yaml:"organizations" json:"organizations"`
}

type OrgJSON struct {
	OrgID       string           `yaml:"org_id" json:"org_id"`
	Policy      PolicyJSON       `yaml:"policy" json:"policy"`
	OfficeHours *OfficeHoursJSON `yaml:"office_hours" json:"office_hours,omitempty"`
	Fences      []FenceJSON      `yaml:"fences" json:"fences,omitempty"`
	Assignments []AssignmentJSON `yaml:"assignments" json:"assignments,omitempty"`
	Members     []string         `yaml:"members" json:"members,omitempty"`
	Memberships []MembershipJSON `yaml:"memberships" json:"memberships,omitempty"`
	Holidays    []HolidayJSON    `yaml:"holidays" json:"holidays,omitempty"`
}

type OfficeHoursJSON struct {
	Start    string `yaml:"start" json:"start"`
	End      string `yaml:"end" json:"end"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type FenceJSON struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	Kind     string  `yaml:"kind" json:"kind,omitempty"`
	SiteCode string  `yaml:"site_code" json:"site_code,omitempty"`
	Lat      float64 `yaml:"lat" json:"lat"`
	Lng      float64 `yaml:"lng" json:"lng"`
	RadiusM  int     `yaml:"radius_m" json:"radius_m"`
	Active   *bool   `yaml:"active" json:"active,omitempty"`
}

// AssignmentJSON binds a fence to an entity. entity_type accepts a name
// (USER, TEAM, PROJECT, ORG) or its numeric id.
type AssignmentJSON struct {
	ID         string `yaml:"id" json:"id,omitempty"`
	FenceID    string `yaml:"fence_id" json:"fence_id"`
	EntityType string `yaml:"entity_type" json:"entity_type"`
	EntityID   string `yaml:"entity_id" json:"entity_id"`
	IsDefault  bool   `yaml:"is_default" json:"is_default,omitempty"`
}

type MembershipJSON struct {
	AccountID  string `yaml:"account_id" json:"account_id"`
	EntityType string `yaml:"entity_type" json:"entity_type"`
	EntityID   string `yaml:"entity_id" json:"entity_id"`
}

type HolidayJSON struct {
	ID        string `yaml:"id" json:"id"`
	Date      string `yaml:"date" json:"date"`
	Name      string `yaml:"name" json:"name"`
	Recurring bool   `yaml:"recurring" json:"recurring,omitempty"`
}

// SeedWriter is the write side of a store that seeds can be applied to.
type SeedWriter interface {
	SavePolicy(ctx context.Context, p attendance.Policy) error
	SaveOfficeHours(ctx context.Context, org attendance.OrgID, h attendance.OfficeHours) error
	SaveHoliday(ctx context.Context, h attendance.Holiday) error
	SaveFence(ctx context.Context, f attendance.Fence) error
	SaveAssignment(ctx context.Context, a attendance.FenceAssignment) error
	AddMember(ctx context.Context, org attendance.OrgID, account attendance.AccountID) error
	AddMembership(ctx context.Context, org attendance.OrgID, account attendance.AccountID, entity attendance.EntityRef) error
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a seed. JSON input is accepted since it is valid YAML.
func (f *Factory) Parse(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("invalid seed: %w", err)
	}
	if len(seed.Organizations) == 0 {
		return Seed{}, fmt.Errorf("%w: seed has no organizations", attendance.ErrInvalidPolicy)
	}
	return seed, nil
}

func (f *Factory) ParseFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return f.Parse(data)
}

// =============================================================================
// APPLY
// =============================================================================

// Apply converts every organization first and writes only when all of them
// are valid.
func (f *Factory) Apply(ctx context.Context, w SeedWriter, seed Seed) error {
	globals, err := f.holidays("", seed.Holidays)
	if err != nil {
		return err
	}

	orgs := make([]orgRecords, 0, len(seed.Organizations))
	for _, oj := range seed.Organizations {
		rec, err := f.orgRecords(oj)
		if err != nil {
			return fmt.Errorf("organization %q: %w", oj.OrgID, err)
		}
		orgs = append(orgs, rec)
	}

	for _, h := range globals {
		if err := w.SaveHoliday(ctx, h); err != nil {
			return err
		}
	}
	for _, rec := range orgs {
		if err := rec.write(ctx, w); err != nil {
			return fmt.Errorf("organization %q: %w", rec.policy.OrgID, err)
		}
	}
	return nil
}

type membership struct {
	account attendance.AccountID
	entity  attendance.EntityRef
}

type orgRecords struct {
	policy      attendance.Policy
	hours       *attendance.OfficeHours
	fences      []attendance.Fence
	assignments []attendance.FenceAssignment
	members     []attendance.AccountID
	memberships []membership
	holidays    []attendance.Holiday
}

func (f *Factory) orgRecords(oj OrgJSON) (orgRecords, error) {
	org := attendance.OrgID(strings.TrimSpace(oj.OrgID))
	policy, err := f.PolicyFrom(org, oj.Policy)
	if err != nil {
		return orgRecords{}, err
	}
	rec := orgRecords{policy: policy}

	if oj.OfficeHours != nil {
		hours, err := officeHoursFrom(*oj.OfficeHours)
		if err != nil {
			return orgRecords{}, err
		}
		rec.hours = &hours
	}

	fenceIDs := make(map[attendance.FenceID]bool, len(oj.Fences))
	for _, fj := range oj.Fences {
		fence, err := fenceFrom(org, fj)
		if err != nil {
			return orgRecords{}, err
		}
		fenceIDs[fence.ID] = true
		rec.fences = append(rec.fences, fence)
	}

	now := f.now()
	for i, aj := range oj.Assignments {
		entity, err := entityFrom(aj.EntityType, aj.EntityID)
		if err != nil {
			return orgRecords{}, err
		}
		fenceID := attendance.FenceID(aj.FenceID)
		if !fenceIDs[fenceID] {
			return orgRecords{}, attendance.FenceNotFound(fenceID)
		}
		id := aj.ID
		if id == "" {
			id = fmt.Sprintf("%s-%s-%s", fenceID, entity.Type, entity.ID)
		}
		rec.assignments = append(rec.assignments, attendance.FenceAssignment{
			ID:        id,
			OrgID:     org,
			FenceID:   fenceID,
			Entity:    entity,
			IsDefault: aj.IsDefault,
			// Preserve file order for equal-precedence assignments.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	for _, m := range oj.Members {
		rec.members = append(rec.members, attendance.AccountID(m))
	}
	for _, mj := range oj.Memberships {
		entity, err := entityFrom(mj.EntityType, mj.EntityID)
		if err != nil {
			return orgRecords{}, err
		}
		if entity.Type != attendance.EntityTeam && entity.Type != attendance.EntityProject {
			return orgRecords{}, &attendance.FieldError{
				Field:  "memberships.entity_type",
				Reason: "must be TEAM or PROJECT",
				Err:    attendance.ErrInvalidEntityType,
			}
		}
		rec.memberships = append(rec.memberships, membership{account: attendance.AccountID(mj.AccountID), entity: entity})
	}

	rec.holidays, err = f.holidays(org, oj.Holidays)
	if err != nil {
		return orgRecords{}, err
	}
	return rec, nil
}

func (r orgRecords) write(ctx context.Context, w SeedWriter) error {
	org := r.policy.OrgID
	if err := w.SavePolicy(ctx, r.policy); err != nil {
		return err
	}
	if r.hours != nil {
		if err := w.SaveOfficeHours(ctx, org, *r.hours); err != nil {
			return err
		}
	}
	for _, fence := range r.fences {
		if err := w.SaveFence(ctx, fence); err != nil {
			return err
		}
	}
	for _, a := range r.assignments {
		if err := w.SaveAssignment(ctx, a); err != nil {
			return err
		}
	}
	for _, m := range r.members {
		if err := w.AddMember(ctx, org, m); err != nil {
			return err
		}
	}
	for _, m := range r.memberships {
		if err := w.AddMember(ctx, org, m.account); err != nil {
			return err
		}
		if err := w.AddMembership(ctx, org, m.account, m.entity); err != nil {
			return err
		}
	}
	for _, h := range r.holidays {
		if err := w.SaveHoliday(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CONVERTERS
// =============================================================================

func officeHoursFrom(hj OfficeHoursJSON) (attendance.OfficeHours, error) {
	start, err := attendance.ParseClockTime(hj.Start)
	if err != nil {
		return attendance.OfficeHours{}, err
	}
	end, err := attendance.ParseClockTime(hj.End)
	if err != nil {
		return attendance.OfficeHours{}, err
	}
	zone := hj.Timezone
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return attendance.OfficeHours{}, fmt.Errorf("office hours timezone: %w", err)
	}
	return attendance.OfficeHours{Start: start, End: end, Location: loc}, nil
}

func fenceFrom(org attendance.OrgID, fj FenceJSON) (attendance.Fence, error) {
	invalid := func(field, reason string) error {
		return &attendance.FieldError{Field: field, Reason: reason, Err: attendance.ErrInvalidPolicy}
	}
	switch {
	case fj.ID == "":
		return attendance.Fence{}, invalid("fences.id", "is required")
	case fj.Lat < -90 || fj.Lat > 90:
		return attendance.Fence{}, invalid("fences.lat", "must be within [-90, 90]")
	case fj.Lng < -180 || fj.Lng > 180:
		return attendance.Fence{}, invalid("fences.lng", "must be within [-180, 180]")
	case fj.RadiusM <= 0:
		return attendance.Fence{}, invalid("fences.radius_m", "must be positive")
	}

	kind := attendance.LocationKind(strings.ToUpper(fj.Kind))
	switch kind {
	case "":
		kind = attendance.LocationOffice
	case attendance.LocationOffice, attendance.LocationRemote:
	default:
		return attendance.Fence{}, invalid("fences.kind", "must be OFFICE or REMOTE")
	}

	active := true
	if fj.Active != nil {
		active = *fj.Active
	}
	return attendance.Fence{
		ID:       attendance.FenceID(fj.ID),
		OrgID:    org,
		Name:     fj.Name,
		Kind:     kind,
		SiteCode: fj.SiteCode,
		Center:   attendance.Coordinate{Lat: fj.Lat, Lng: fj.Lng},
		RadiusM:  fj.RadiusM,
		Active:   active,
	}, nil
}

func entityFrom(typ, id string) (attendance.EntityRef, error) {
	t, err := attendance.ParseEntityType(typ)
	if err != nil {
		return attendance.EntityRef{}, err
	}
	if id == "" {
		return attendance.EntityRef{}, &attendance.FieldError{Field: "entity_id", Reason: "is required", Err: attendance.ErrInvalidEntityType}
	}
	return attendance.EntityRef{Type: t, ID: id}, nil
}

func (f *Factory) holidays(org attendance.OrgID, in []HolidayJSON) ([]attendance.Holiday, error) {
	out := make([]attendance.Holiday, 0, len(in))
	for _, hj := range in {
		date, err := attendance.ParseLocalDate(hj.Date)
		if err != nil {
			return nil, err
		}
		id := hj.ID
		if id == "" {
			scope := string(org)
			if scope == "" {
				scope = "global"
			}
			id = scope + ":" + date.String()
		}
		out = append(out, attendance.Holiday{
			ID:        id,
			OrgID:     org,
			Date:      date,
			Name:      hj.Name,
			Recurring: hj.Recurring,
		})
	}
	return out, nil
}
