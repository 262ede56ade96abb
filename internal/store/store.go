// Package store persists remediation records behind a narrow key/record
// interface. The controller needs only single-record atomic writes;
// multi-record consistency comes from the orchestrator's sequencing.
package store

import (
	"context"
	"errors"

	"github.com/remedystack/remedy-engine/internal/models"
)

// ErrNotFound signals a missing record.
var ErrNotFound = errors.New("record not found")

// Store is the durable record store used by the orchestrator and the audit
// trail. Records are append-only except the approval request, whose response
// list and resolved state are updated in place.
type Store interface {
	PutAlert(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)

	PutCase(ctx context.Context, c models.Case) error
	GetCase(ctx context.Context, alertID string) (models.Case, error)
	ListCases(ctx context.Context) ([]models.Case, error)

	PutDiagnosis(ctx context.Context, d models.Diagnosis) error
	GetDiagnosis(ctx context.Context, id string) (models.Diagnosis, error)

	PutDecision(ctx context.Context, d models.Decision) error
	GetDecision(ctx context.Context, id string) (models.Decision, error)
	ListDecisionsByAlert(ctx context.Context, alertID string) ([]models.Decision, error)

	PutApproval(ctx context.Context, r models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (models.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error)

	PutExecution(ctx context.Context, rec models.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (models.ExecutionRecord, error)
	ListExecutionsByAlert(ctx context.Context, alertID string) ([]models.ExecutionRecord, error)
	ExecutionForDecision(ctx context.Context, decisionID string) (models.ExecutionRecord, bool, error)

	AppendAudit(ctx context.Context, ev models.AuditEvent) error
	ListAudit(ctx context.Context, filter models.AuditFilter) (models.AuditPage, error)

	Close() error
}
