// Package approval implements the human-in-the-loop gate for pending
// decisions. Requests resolve to approved once distinct approvals reach the
// required count, to rejected on any reject vote (a veto) or on deadline
// expiry. Both outcomes are terminal.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/store"
	"github.com/remedystack/remedy-engine/internal/utils"
)

var (
	// ErrResolved signals a vote against an already-terminal request.
	ErrResolved = errors.New("approval request already resolved")
	// ErrNotEligible signals a vote from an identity outside the approver list.
	ErrNotEligible = errors.New("approver not on request approver list")
	// ErrInvalidVote signals an unrecognised vote value.
	ErrInvalidVote = errors.New("invalid vote")
)

// Gateway manages approval request lifecycles on top of the record store.
type Gateway struct {
	logger *slog.Logger
	store  store.Store
	now    func() time.Time
}

// NewGateway builds a Gateway backed by the given store.
func NewGateway(logger *slog.Logger, st store.Store) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{logger: logger, store: st, now: time.Now}
}

// RequestApproval opens a pending request for a decision. requiredCount is
// clamped to the approver list size so a request can never be unresolvable.
func (g *Gateway) RequestApproval(ctx context.Context, decision models.Decision, approvers []string, requiredCount int, deadline time.Time) (models.ApprovalRequest, error) {
	if len(approvers) == 0 {
		return models.ApprovalRequest{}, utils.NewAppError("approval.request", "approver list is empty", nil)
	}
	if requiredCount < 1 {
		requiredCount = 1
	}
	if requiredCount > len(approvers) {
		requiredCount = len(approvers)
	}

	req := models.ApprovalRequest{
		ID:            uuid.NewString(),
		DecisionID:    decision.ID,
		ActionID:      decision.ActionID,
		AlertID:       decision.AlertID,
		Approvers:     approvers,
		RequiredCount: requiredCount,
		Responses:     make(map[string]models.ApprovalResponse),
		State:         models.ApprovalPending,
		CreatedAt:     g.now().UTC(),
		Deadline:      deadline.UTC(),
	}

	if err := g.store.PutApproval(ctx, req); err != nil {
		return models.ApprovalRequest{}, utils.NewAppError("approval.request", "persist approval request", err)
	}

	g.logger.Info("approval requested",
		slog.String("request_id", req.ID),
		slog.String("alert_id", req.AlertID),
		slog.Int("required", req.RequiredCount),
		slog.Time("deadline", req.Deadline),
	)

	return req, nil
}

// Respond records one approver's vote and returns the updated request.
// A repeat vote from the same approver replaces the earlier one.
func (g *Gateway) Respond(ctx context.Context, requestID, approver string, vote models.Vote) (models.ApprovalRequest, error) {
	if !vote.Valid() {
		return models.ApprovalRequest{}, fmt.Errorf("%w: %q", ErrInvalidVote, vote)
	}

	req, err := g.store.GetApproval(ctx, requestID)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if req.Resolved() {
		return req, ErrResolved
	}
	if !req.EligibleApprover(approver) {
		return req, fmt.Errorf("%w: %q", ErrNotEligible, approver)
	}

	now := g.now().UTC()
	if now.After(req.Deadline) {
		req = g.resolve(req, models.ApprovalRejected, "deadline passed before resolution", now)
		if err := g.store.PutApproval(ctx, req); err != nil {
			return req, utils.NewAppError("approval.respond", "persist expired request", err)
		}
		return req, ErrResolved
	}

	if req.Responses == nil {
		req.Responses = make(map[string]models.ApprovalResponse)
	}
	req.Responses[approver] = models.ApprovalResponse{Approver: approver, Vote: vote, At: now}

	switch {
	case vote == models.VoteReject:
		req = g.resolve(req, models.ApprovalRejected, fmt.Sprintf("rejected by %s", approver), now)
	case req.Approvals() >= req.RequiredCount:
		req = g.resolve(req, models.ApprovalApproved, fmt.Sprintf("%d of %d approvals received", req.Approvals(), req.RequiredCount), now)
	}

	if err := g.store.PutApproval(ctx, req); err != nil {
		return req, utils.NewAppError("approval.respond", "persist approval response", err)
	}

	g.logger.Info("approval vote recorded",
		slog.String("request_id", req.ID),
		slog.String("approver", approver),
		slog.String("vote", string(vote)),
		slog.String("state", string(req.State)),
	)

	return req, nil
}

// ExpireOverdue rejects every pending request whose deadline has passed and
// returns the newly expired requests.
func (g *Gateway) ExpireOverdue(ctx context.Context) ([]models.ApprovalRequest, error) {
	pending, err := g.store.ListPendingApprovals(ctx)
	if err != nil {
		return nil, utils.NewAppError("approval.expire", "list pending requests", err)
	}

	now := g.now().UTC()
	var expired []models.ApprovalRequest
	for _, req := range pending {
		if !now.After(req.Deadline) {
			continue
		}
		req = g.resolve(req, models.ApprovalRejected, "deadline passed before resolution", now)
		if err := g.store.PutApproval(ctx, req); err != nil {
			return expired, utils.NewAppError("approval.expire", "persist expired request", err)
		}
		g.logger.Warn("approval request expired",
			slog.String("request_id", req.ID),
			slog.String("alert_id", req.AlertID),
		)
		expired = append(expired, req)
	}

	return expired, nil
}

// Cancel rejects a pending request with an operator-supplied reason. Used when
// the underlying alert is withdrawn or the kill switch halts the pipeline.
func (g *Gateway) Cancel(ctx context.Context, requestID, reason string) (models.ApprovalRequest, error) {
	req, err := g.store.GetApproval(ctx, requestID)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if req.Resolved() {
		return req, ErrResolved
	}

	req = g.resolve(req, models.ApprovalRejected, reason, g.now().UTC())
	if err := g.store.PutApproval(ctx, req); err != nil {
		return req, utils.NewAppError("approval.cancel", "persist cancelled request", err)
	}
	return req, nil
}

func (g *Gateway) resolve(req models.ApprovalRequest, state models.ApprovalState, reason string, at time.Time) models.ApprovalRequest {
	req.State = state
	req.Reason = reason
	req.ResolvedAt = &at
	return req
}
