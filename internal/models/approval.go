package models

import "time"

// ApprovalState is the closed state machine for a request:
// Pending -> {Approved, Rejected}, both terminal.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// Vote is a single approver response.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
)

// Valid reports whether the vote value is recognised.
func (v Vote) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

// ApprovalResponse records one approver's latest vote. Duplicate votes from
// the same approver replace the earlier entry rather than double counting.
type ApprovalResponse struct {
	Approver string    `json:"approver"`
	Vote     Vote      `json:"vote"`
	At       time.Time `json:"at"`
}

// ApprovalRequest gates a pending-approval decision on human sign-off.
// Mutated only by recorded responses or deadline expiry; terminal once
// resolved.
type ApprovalRequest struct {
	ID            string                      `json:"id"`
	DecisionID    string                      `json:"decision_id"`
	ActionID      string                      `json:"action_id"`
	AlertID       string                      `json:"alert_id"`
	Approvers     []string                    `json:"approvers"`
	RequiredCount int                         `json:"required_count"`
	Responses     map[string]ApprovalResponse `json:"responses,omitempty"`
	State         ApprovalState               `json:"state"`
	Reason        string                      `json:"reason,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
	Deadline      time.Time                   `json:"deadline"`
	ResolvedAt    *time.Time                  `json:"resolved_at,omitempty"`
}

// Resolved reports whether the request reached a terminal state.
func (r ApprovalRequest) Resolved() bool {
	return r.State != ApprovalPending
}

// EligibleApprover reports whether the identity is on the approver list.
func (r ApprovalRequest) EligibleApprover(identity string) bool {
	for _, a := range r.Approvers {
		if a == identity {
			return true
		}
	}
	return false
}

// Approvals counts distinct approvers whose latest vote is approve.
func (r ApprovalRequest) Approvals() int {
	n := 0
	for _, resp := range r.Responses {
		if resp.Vote == VoteApprove {
			n++
		}
	}
	return n
}
