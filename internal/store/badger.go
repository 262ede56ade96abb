package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/remedystack/remedy-engine/internal/models"
)

// Key layout. Primary records live under a type prefix keyed by id; secondary
// index keys hold the primary id as value so lookups stay single-record.
const (
	prefixAlert      = "alert/"
	prefixCase       = "case/"
	prefixDiagnosis  = "diag/"
	prefixDecision   = "dec/"
	prefixDecAlert   = "decidx/"  // decidx/<alertID>/<decisionID>
	prefixApproval   = "appr/"
	prefixApprovalPn = "apprpend/" // apprpend/<requestID>
	prefixExecution  = "exec/"
	prefixExecAlert  = "execidx/" // execidx/<alertID>/<executionID>
	prefixExecDec    = "execdec/" // execdec/<decisionID>/<executionID>
	prefixAudit      = "audit/"   // audit/<seq>
	prefixAuditAlert = "auditidx/" // auditidx/<alertID>/<seq>
)

// BadgerStore implements Store on an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

// BadgerConfig selects disk path or in-memory mode.
type BadgerConfig struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (l badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l badgerSlogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens the record store. The caller owns Close.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store path is required for persistent mode")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerSlogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq/audit"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open audit sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, logger: cfg.Logger}, nil
}

// Close releases the audit sequence and the database.
func (s *BadgerStore) Close() error {
	if s.seq != nil {
		if err := s.seq.Release(); err != nil && s.logger != nil {
			s.logger.Warn("release audit sequence", slog.Any("error", err))
		}
	}
	return s.db.Close()
}

func (s *BadgerStore) putJSON(key string, v any, indexKeys ...string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return err
		}
		for _, idx := range indexKeys {
			if err := txn.Set([]byte(idx), []byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) getJSON(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// listByIndex resolves index keys under prefix into primary records.
func (s *BadgerStore) listByIndex(prefix string, decode func(data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			var primary []byte
			if err := it.Item().Value(func(v []byte) error {
				primary = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			item, err := txn.Get(primary)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := item.Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) listByPrefix(prefix string, decode func(data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if err := it.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) PutAlert(_ context.Context, alert models.Alert) error {
	return s.putJSON(prefixAlert+alert.ID, alert)
}

func (s *BadgerStore) GetAlert(_ context.Context, id string) (models.Alert, error) {
	var alert models.Alert
	err := s.getJSON(prefixAlert+id, &alert)
	return alert, err
}

func (s *BadgerStore) PutCase(_ context.Context, c models.Case) error {
	return s.putJSON(prefixCase+c.AlertID, c)
}

func (s *BadgerStore) GetCase(_ context.Context, alertID string) (models.Case, error) {
	var c models.Case
	err := s.getJSON(prefixCase+alertID, &c)
	return c, err
}

func (s *BadgerStore) ListCases(_ context.Context) ([]models.Case, error) {
	var cases []models.Case
	err := s.listByPrefix(prefixCase, func(data []byte) error {
		var c models.Case
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		cases = append(cases, c)
		return nil
	})
	return cases, err
}

func (s *BadgerStore) PutDiagnosis(_ context.Context, d models.Diagnosis) error {
	return s.putJSON(prefixDiagnosis+d.ID, d)
}

func (s *BadgerStore) GetDiagnosis(_ context.Context, id string) (models.Diagnosis, error) {
	var d models.Diagnosis
	err := s.getJSON(prefixDiagnosis+id, &d)
	return d, err
}

func (s *BadgerStore) PutDecision(_ context.Context, d models.Decision) error {
	return s.putJSON(prefixDecision+d.ID, d, prefixDecAlert+d.AlertID+"/"+d.ID)
}

func (s *BadgerStore) GetDecision(_ context.Context, id string) (models.Decision, error) {
	var d models.Decision
	err := s.getJSON(prefixDecision+id, &d)
	return d, err
}

func (s *BadgerStore) ListDecisionsByAlert(_ context.Context, alertID string) ([]models.Decision, error) {
	var decisions []models.Decision
	err := s.listByIndex(prefixDecAlert+alertID+"/", func(data []byte) error {
		var d models.Decision
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		decisions = append(decisions, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
	return decisions, nil
}

func (s *BadgerStore) PutApproval(_ context.Context, r models.ApprovalRequest) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal approval %s: %w", r.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixApproval+r.ID), data); err != nil {
			return err
		}
		pendingKey := []byte(prefixApprovalPn + r.ID)
		if r.Resolved() {
			if err := txn.Delete(pendingKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return nil
		}
		return txn.Set(pendingKey, []byte(prefixApproval+r.ID))
	})
}

func (s *BadgerStore) GetApproval(_ context.Context, id string) (models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := s.getJSON(prefixApproval+id, &r)
	return r, err
}

func (s *BadgerStore) ListPendingApprovals(_ context.Context) ([]models.ApprovalRequest, error) {
	var requests []models.ApprovalRequest
	err := s.listByIndex(prefixApprovalPn, func(data []byte) error {
		var r models.ApprovalRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if !r.Resolved() {
			requests = append(requests, r)
		}
		return nil
	})
	return requests, err
}

func (s *BadgerStore) PutExecution(_ context.Context, rec models.ExecutionRecord) error {
	return s.putJSON(prefixExecution+rec.ID, rec,
		prefixExecAlert+rec.AlertID+"/"+rec.ID,
		prefixExecDec+rec.DecisionID+"/"+rec.ID,
	)
}

func (s *BadgerStore) GetExecution(_ context.Context, id string) (models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	err := s.getJSON(prefixExecution+id, &rec)
	return rec, err
}

func (s *BadgerStore) ListExecutionsByAlert(_ context.Context, alertID string) ([]models.ExecutionRecord, error) {
	var records []models.ExecutionRecord
	err := s.listByIndex(prefixExecAlert+alertID+"/", func(data []byte) error {
		var rec models.ExecutionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// ExecutionForDecision returns the record that settles a decision. Index
// keys are record ids, so iteration order says nothing about attempt order;
// every record is scanned and a success wins over any failed attempt.
func (s *BadgerStore) ExecutionForDecision(_ context.Context, decisionID string) (models.ExecutionRecord, bool, error) {
	var best models.ExecutionRecord
	found := false
	err := s.listByIndex(prefixExecDec+decisionID+"/", func(data []byte) error {
		var rec models.ExecutionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if !found {
			best = rec
			found = true
			return nil
		}
		best = preferExecution(best, rec)
		return nil
	})
	return best, found, err
}

// preferExecution picks the definitive record for one decision: a success
// beats any failure, otherwise the later attempt stands.
func preferExecution(have, candidate models.ExecutionRecord) models.ExecutionRecord {
	if have.Status == models.ExitSuccess {
		return have
	}
	if candidate.Status == models.ExitSuccess {
		return candidate
	}
	if candidate.Attempt >= have.Attempt {
		return candidate
	}
	return have
}

func (s *BadgerStore) AppendAudit(_ context.Context, ev models.AuditEvent) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("audit sequence: %w", err)
	}
	key := fmt.Sprintf("%s%016d", prefixAudit, n)
	indexKeys := []string{}
	if ev.AlertID != "" {
		indexKeys = append(indexKeys, fmt.Sprintf("%s%s/%016d", prefixAuditAlert, ev.AlertID, n))
	}
	return s.putJSON(key, ev, indexKeys...)
}

func (s *BadgerStore) ListAudit(_ context.Context, filter models.AuditFilter) (models.AuditPage, error) {
	var events []models.AuditEvent
	decode := func(data []byte) error {
		var ev models.AuditEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			return nil
		}
		events = append(events, ev)
		return nil
	}

	var err error
	if filter.AlertID != "" {
		err = s.listByIndex(prefixAuditAlert+filter.AlertID+"/", decode)
	} else {
		err = s.listByPrefix(prefixAudit, decode)
	}
	if err != nil {
		return models.AuditPage{}, err
	}

	return paginate(events, filter), nil
}

func paginate(events []models.AuditEvent, filter models.AuditFilter) models.AuditPage {
	total := len(events)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	events = events[offset:]
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return models.AuditPage{Events: events, Total: total}
}
