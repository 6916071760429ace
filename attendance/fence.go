/*
fence.go - Geofences, fence assignments and effective-fence resolution

PURPOSE:
  An employee can reach MANY fence assignments: one made to them directly,
  others made to a team or project they belong to, and an organization-wide
  default. Exactly one is effective at punch time.

PRECEDENCE ORDERING:
  Lower precedence value wins:
  - 1: USER     (assigned to the employee directly)
  - 2: TEAM
  - 3: PROJECT
  - 4: ORG      (organization default)
  Ties are broken by earliest assignment creation time.

  No reachable assignment means no fence, and location checks are skipped.
  Inactive fences are not eligible; resolution falls through to the next
  assignment.

SEE ALSO:
  - rules.go: Uses the resolved fence for containment
  - punch_request.go: Uses the same membership expansion for targeting
*/
package attendance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ENTITY TYPES
// =============================================================================

// EntityType identifies what an assignment or punch request targets. The
// numeric values are the persisted identifiers.
type EntityType int

const (
	EntityUser    EntityType = 1
	EntityOrg     EntityType = 2
	EntityProject EntityType = 4
	EntityTeam    EntityType = 5
)

func (t EntityType) String() string {
	switch t {
	case EntityUser:
		return "USER"
	case EntityOrg:
		return "ORG"
	case EntityProject:
		return "PROJECT"
	case EntityTeam:
		return "TEAM"
	}
	return fmt.Sprintf("EntityType(%d)", int(t))
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityOrg, EntityProject, EntityTeam:
		return true
	}
	return false
}

// Precedence orders assignment sources for fence resolution.
func (t EntityType) Precedence() int {
	switch t {
	case EntityUser:
		return 1
	case EntityTeam:
		return 2
	case EntityProject:
		return 3
	case EntityOrg:
		return 4
	}
	return math.MaxInt
}

// ParseEntityType accepts a name ("TEAM") or the numeric identifier ("5").
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if t := EntityType(n); t.Valid() {
			return t, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrInvalidEntityType, s)
	}
	switch s {
	case "USER":
		return EntityUser, nil
	case "ORG":
		return EntityOrg, nil
	case "PROJECT":
		return EntityProject, nil
	case "TEAM":
		return EntityTeam, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidEntityType, s)
}

// EntityRef points at a user, team, project or organization.
type EntityRef struct {
	Type EntityType
	ID   string
}

func (r EntityRef) String() string { return r.Type.String() + ":" + r.ID }

// =============================================================================
// FENCE / ASSIGNMENT
// =============================================================================

type LocationKind string

const (
	LocationOffice LocationKind = "OFFICE"
	LocationRemote LocationKind = "REMOTE"
)

// Fence is a circular region scoped to an organization.
type Fence struct {
	ID       FenceID
	OrgID    OrgID
	Name     string
	Kind     LocationKind
	SiteCode string
	Center   Coordinate
	RadiusM  int
	Active   bool
}

// FenceAssignment links a fence to an entity.
type FenceAssignment struct {
	ID        string
	OrgID     OrgID
	FenceID   FenceID
	Entity    EntityRef
	IsDefault bool
	CreatedAt time.Time
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ExpandMemberships lists every entity an account belongs to, in precedence
// order: the user itself, its teams, its projects, then the organization.
func ExpandMemberships(ctx context.Context, members MembershipResolver, org OrgID, account AccountID) ([]EntityRef, error) {
	entities := []EntityRef{{Type: EntityUser, ID: string(account)}}

	teams, err := members.TeamsForUser(ctx, org, account)
	if err != nil {
		return nil, fmt.Errorf("list teams for %s: %w", account, err)
	}
	for _, id := range teams {
		entities = append(entities, EntityRef{Type: EntityTeam, ID: id})
	}

	projects, err := members.ProjectsForUser(ctx, org, account)
	if err != nil {
		return nil, fmt.Errorf("list projects for %s: %w", account, err)
	}
	for _, id := range projects {
		entities = append(entities, EntityRef{Type: EntityProject, ID: id})
	}

	return append(entities, EntityRef{Type: EntityOrg, ID: string(org)}), nil
}

// SortByPrecedence orders assignments: lowest precedence first, then earliest
// creation, then id for a stable result.
func SortByPrecedence(assignments []FenceAssignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		a, b := assignments[i], assignments[j]
		if pa, pb := a.Entity.Type.Precedence(), b.Entity.Type.Precedence(); pa != pb {
			return pa < pb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// FenceResolver picks an employee's effective fence. Computed fresh on every
// punch; nothing is cached.
type FenceResolver struct {
	Fences      FenceStore
	Memberships MembershipResolver
}

// Resolve returns the effective fence, or nil when no active fence is assigned.
// An assignment referencing a fence that doesn't exist is a not-found error.
func (r *FenceResolver) Resolve(ctx context.Context, org OrgID, account AccountID) (*Fence, error) {
	fence, _, err := r.ResolveAssignment(ctx, org, account)
	return fence, err
}

// ResolveAssignment is Resolve that also returns the assignment that won.
// Both are nil when no active fence is assigned.
func (r *FenceResolver) ResolveAssignment(ctx context.Context, org OrgID, account AccountID) (*Fence, *FenceAssignment, error) {
	entities, err := ExpandMemberships(ctx, r.Memberships, org, account)
	if err != nil {
		return nil, nil, err
	}

	var assignments []FenceAssignment
	for _, entity := range entities {
		found, err := r.Fences.AssignmentsFor(ctx, org, entity)
		if err != nil {
			return nil, nil, fmt.Errorf("load fence assignments for %s: %w", entity, err)
		}
		assignments = append(assignments, found...)
	}
	SortByPrecedence(assignments)

	for i := range assignments {
		fence, err := r.Fences.Fence(ctx, org, assignments[i].FenceID)
		if err != nil {
			return nil, nil, err
		}
		if !fence.Active {
			continue
		}
		return &fence, &assignments[i], nil
	}
	return nil, nil, nil
}
