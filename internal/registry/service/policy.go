package service

import (
	"context"

	"certledger/internal/registry/models"
)

// Decision is the outcome of an approval policy. Reason is recorded on rejection.
type Decision struct {
	Approved bool
	Reason   string
}

// ApprovalPolicy decides whether a pending request is approved. The request's
// score and level are only available as handles; a policy that compares them
// against the profession minimum has to do so through the confidential engine.
type ApprovalPolicy interface {
	Decide(ctx context.Context, req models.CertificationRequest, minimum models.ProfessionRequirement, hasMinimum bool) (Decision, error)
}

// ApproveAll approves every request. It is the current ledger behavior: the
// processing issuer is trusted to have checked the evidence.
type ApproveAll struct{}

func (ApproveAll) Decide(context.Context, models.CertificationRequest, models.ProfessionRequirement, bool) (Decision, error) {
	return Decision{Approved: true}, nil
}
