// Package audit maintains the append-only decision and execution trail and
// derives aggregate statistics from it.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/store"
	"github.com/remedystack/remedy-engine/internal/utils"
)

// Recorder appends trail entries. Append failures are surfaced to the caller;
// the orchestrator treats a lost audit write as a pipeline failure.
type Recorder struct {
	logger *slog.Logger
	store  store.Store
}

// NewRecorder builds a Recorder on the given store.
func NewRecorder(logger *slog.Logger, st store.Store) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger, store: st}
}

// Record appends one entry. refID points at the record the entry describes
// (diagnosis id, decision id, execution id).
func (r *Recorder) Record(ctx context.Context, alertID string, kind models.AuditKind, category models.Category, summary, refID string) error {
	ev := models.AuditEvent{
		ID:       uuid.NewString(),
		AlertID:  alertID,
		Kind:     kind,
		Category: category,
		Summary:  summary,
		RefID:    refID,
		At:       time.Now().UTC(),
	}
	if err := r.store.AppendAudit(ctx, ev); err != nil {
		return utils.NewAppError("audit.record", "append audit event", err)
	}
	return nil
}

// Trail returns a filtered page of the audit trail, newest first.
func (r *Recorder) Trail(ctx context.Context, filter models.AuditFilter) (models.AuditPage, error) {
	return r.store.ListAudit(ctx, filter)
}
