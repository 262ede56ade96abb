package store

import (
	"context"
	"sort"
	"sync"

	"github.com/remedystack/remedy-engine/internal/models"
)

// MemoryStore is a map-backed Store for tests and dry runs. Same semantics as
// the Badger store, no durability.
type MemoryStore struct {
	mu         sync.RWMutex
	alerts     map[string]models.Alert
	cases      map[string]models.Case
	diagnoses  map[string]models.Diagnosis
	decisions  map[string]models.Decision
	approvals  map[string]models.ApprovalRequest
	executions map[string]models.ExecutionRecord
	audit      []models.AuditEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:     make(map[string]models.Alert),
		cases:      make(map[string]models.Case),
		diagnoses:  make(map[string]models.Diagnosis),
		decisions:  make(map[string]models.Decision),
		approvals:  make(map[string]models.ApprovalRequest),
		executions: make(map[string]models.ExecutionRecord),
	}
}

func (s *MemoryStore) PutAlert(_ context.Context, alert models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	return alert, nil
}

func (s *MemoryStore) PutCase(_ context.Context, c models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.AlertID] = c
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, alertID string) (models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[alertID]
	if !ok {
		return models.Case{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListCases(_ context.Context) ([]models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cases := make([]models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		cases = append(cases, c)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].CreatedAt.Before(cases[j].CreatedAt) })
	return cases, nil
}

func (s *MemoryStore) PutDiagnosis(_ context.Context, d models.Diagnosis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnoses[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDiagnosis(_ context.Context, id string) (models.Diagnosis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.diagnoses[id]
	if !ok {
		return models.Diagnosis{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) PutDecision(_ context.Context, d models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, id string) (models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return models.Decision{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListDecisionsByAlert(_ context.Context, alertID string) ([]models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var decisions []models.Decision
	for _, d := range s.decisions {
		if d.AlertID == alertID {
			decisions = append(decisions, d)
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
	return decisions, nil
}

func (s *MemoryStore) PutApproval(_ context.Context, r models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[r.ID] = r
	return nil
}

func (s *MemoryStore) GetApproval(_ context.Context, id string) (models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.approvals[id]
	if !ok {
		return models.ApprovalRequest{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListPendingApprovals(_ context.Context) ([]models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var requests []models.ApprovalRequest
	for _, r := range s.approvals {
		if !r.Resolved() {
			requests = append(requests, r)
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

func (s *MemoryStore) PutExecution(_ context.Context, rec models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[rec.ID] = rec
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	if !ok {
		return models.ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListExecutionsByAlert(_ context.Context, alertID string) ([]models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []models.ExecutionRecord
	for _, rec := range s.executions {
		if rec.AlertID == alertID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

func (s *MemoryStore) ExecutionForDecision(_ context.Context, decisionID string) (models.ExecutionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best models.ExecutionRecord
	found := false
	for _, rec := range s.executions {
		if rec.DecisionID != decisionID {
			continue
		}
		if !found {
			best = rec
			found = true
			continue
		}
		best = preferExecution(best, rec)
	}
	return best, found, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, ev)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, filter models.AuditFilter) (models.AuditPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.AuditEvent
	for _, ev := range s.audit {
		if filter.AlertID != "" && ev.AlertID != filter.AlertID {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		events = append(events, ev)
	}
	return paginate(events, filter), nil
}

func (s *MemoryStore) Close() error { return nil }
