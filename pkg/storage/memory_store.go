package storage

import (
	"sort"
	"sync"

	"github.com/berguner/looper/pkg/models"
	"github.com/pkg/errors"
)

type ledger struct {
	mu          sync.RWMutex
	submissions []models.Submission
}

// memoryStore implements Store in memory. Transactions buffer writes and
// apply them to the shared ledger on Commit.
type memoryStore struct {
	ledger    *ledger
	pending   []models.Submission
	inTx      bool
	committed bool
}

func NewMemoryStore() Store {
	return &memoryStore{ledger: &ledger{}}
}

func (m *memoryStore) Begin() (Store, error) {
	if m.inTx {
		return nil, errors.New("nested transactions are not supported")
	}
	return &memoryStore{ledger: m.ledger, inTx: true}, nil
}

func (m *memoryStore) Commit() error {
	if !m.inTx {
		return errors.New("cannot commit: not a transaction")
	}
	if m.committed {
		return errors.New("already committed")
	}
	m.ledger.mu.Lock()
	m.ledger.submissions = append(m.ledger.submissions, m.pending...)
	m.ledger.mu.Unlock()
	m.pending = nil
	m.committed = true
	return nil
}

func (m *memoryStore) Rollback() error {
	if !m.inTx {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.committed {
		return errors.New("cannot rollback committed transaction")
	}
	m.pending = nil
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) SaveSubmission(s models.Submission) error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	if s.ID == "" {
		return errors.New("submission id is required")
	}
	if _, err := m.GetSubmission(s.ID); err == nil {
		return errors.Errorf("submission %s already exists", s.ID)
	}
	if m.inTx {
		m.pending = append(m.pending, s)
		return nil
	}
	m.ledger.mu.Lock()
	m.ledger.submissions = append(m.ledger.submissions, s)
	m.ledger.mu.Unlock()
	return nil
}

func (m *memoryStore) GetSubmission(id string) (models.Submission, error) {
	for _, s := range m.pending {
		if s.ID == id {
			return s, nil
		}
	}
	m.ledger.mu.RLock()
	defer m.ledger.mu.RUnlock()
	for _, s := range m.ledger.submissions {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Submission{}, ErrNotFound
}

// ListSubmissions returns matching entries, newest first. Empty filters match everything.
func (m *memoryStore) ListSubmissions(sample, pipeline string) ([]models.Submission, error) {
	m.ledger.mu.RLock()
	all := append([]models.Submission{}, m.ledger.submissions...)
	m.ledger.mu.RUnlock()
	all = append(all, m.pending...)

	out := []models.Submission{}
	for _, s := range all {
		if sample != "" && s.Sample != sample {
			continue
		}
		if pipeline != "" && s.Pipeline != pipeline {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memoryStore) LatestSubmission(sample, pipeline string) (models.Submission, error) {
	subs, err := m.ListSubmissions(sample, pipeline)
	if err != nil {
		return models.Submission{}, err
	}
	if len(subs) == 0 {
		return models.Submission{}, ErrNotFound
	}
	return subs[0], nil
}
