package audit

import (
	"context"
	"errors"

	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/store"
)

// Statistics aggregates outcomes across every case in the store. Computed on
// demand; the record volume of an embedded store keeps this cheap.
func Statistics(ctx context.Context, st store.Store) (models.Statistics, error) {
	cases, err := st.ListCases(ctx)
	if err != nil {
		return models.Statistics{}, err
	}

	stats := models.Statistics{
		ByCategory: make(map[string]int64),
		ByOutcome:  make(map[string]int64),
	}

	var resolved int64
	var resolutionSeconds float64

	for _, c := range cases {
		stats.TotalAlerts++
		stats.ByOutcome[string(c.State)]++

		switch c.State {
		case models.StateSucceeded:
			stats.Succeeded++
		case models.StateFailed:
			stats.Failed++
		case models.StateRolledBack:
			stats.RolledBack++
		}

		if c.State.Terminal() {
			resolved++
			resolutionSeconds += c.UpdatedAt.Sub(c.CreatedAt).Seconds()
		}

		if c.DiagnosisID != "" {
			diag, err := st.GetDiagnosis(ctx, c.DiagnosisID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return models.Statistics{}, err
			}
			stats.ByCategory[string(diag.Category)]++
		}

		if c.DecisionID != "" {
			dec, err := st.GetDecision(ctx, c.DecisionID)
			if err == nil && dec.Verdict == models.VerdictAutoApprove {
				stats.AutoApproved++
			}
		}
	}

	pending, err := st.ListPendingApprovals(ctx)
	if err != nil {
		return models.Statistics{}, err
	}
	stats.PendingApprovals = int64(len(pending))

	if resolved > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(resolved)
		stats.AvgResolutionSeconds = resolutionSeconds / float64(resolved)
	}

	return stats, nil
}
