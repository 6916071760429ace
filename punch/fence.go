package punch

import (
	"context"

	"github.com/warp/attendance-engine/attendance"
)

// EffectiveFence is the fence a punch by AccountID would be checked against,
// with the assignment that made it win. Both are nil when no active fence is
// assigned.
type EffectiveFence struct {
	AccountID  attendance.AccountID
	Fence      *attendance.Fence
	Assignment *attendance.FenceAssignment
}

// EffectiveFence resolves an account's fence the same way Punch does.
func (s *Service) EffectiveFence(ctx context.Context, org attendance.OrgID, account attendance.AccountID) (EffectiveFence, error) {
	if account == "" {
		return EffectiveFence{}, &attendance.FieldError{Field: "account_id", Reason: "is required", Err: attendance.ErrInvalidCommand}
	}
	fence, assignment, err := s.fences.ResolveAssignment(ctx, org, account)
	if err != nil {
		return EffectiveFence{}, err
	}
	return EffectiveFence{AccountID: account, Fence: fence, Assignment: assignment}, nil
}
