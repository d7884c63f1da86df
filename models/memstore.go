package models

import (
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same contract as GormStore. It
// backs --dry-run pipelines and tests, where spinning up MySQL is overkill.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*ScenarioRecord
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*ScenarioRecord)}
}

func (s *MemStore) Create(record *ScenarioRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizePremise(record.Premise)
	for _, r := range s.records {
		if r.Status != StatusFailed && NormalizePremise(r.Premise) == norm {
			return ErrDuplicateScenario
		}
	}

	now := time.Now()
	cp := *record
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	cp.Stages = append(StageList(nil), record.Stages...)
	s.records[cp.ID] = &cp

	record.CreatedAt = now
	record.UpdatedAt = now
	record.Status = cp.Status
	return nil
}

func (s *MemStore) Get(id string) (*ScenarioRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *r
	cp.Stages = append(StageList(nil), r.Stages...)
	return &cp, nil
}

func (s *MemStore) Premises() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.sortedLocked()
	var premises []string
	for _, r := range recs {
		if r.Status != StatusFailed {
			premises = append(premises, r.Premise)
		}
	}
	return premises, nil
}

func (s *MemStore) List() ([]ScenarioRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScenarioRecord, 0, len(s.records))
	for _, r := range s.sortedLocked() {
		cp := *r
		cp.Stages = append(StageList(nil), r.Stages...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemStore) ListByStatus(status Status) ([]ScenarioRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ScenarioRecord
	for _, r := range s.sortedLocked() {
		if r.Status == status {
			cp := *r
			cp.Stages = append(StageList(nil), r.Stages...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateFields(id string, expected, next Status, fields map[string]interface{}) error {
	if next != expected && !expected.CanTransitionTo(next) {
		return ErrIllegalTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if r.Status != expected {
		return ErrStaleStatus
	}

	r.Status = next
	r.UpdatedAt = time.Now()
	for k, v := range fields {
		switch k {
		case "stages":
			if stages, ok := v.(StageList); ok {
				r.Stages = append(StageList(nil), stages...)
			}
		case "title":
			r.Title, _ = v.(string)
		case "video_url":
			r.VideoURL, _ = v.(string)
		case "last_error":
			r.LastError, _ = v.(string)
		case "cost":
			if c, ok := v.(float64); ok {
				r.Cost = c
			}
		}
	}
	return nil
}

func (s *MemStore) ResetFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if r.Status != StatusFailed {
		return ErrStaleStatus
	}
	r.Status = StatusPending
	r.LastError = ""
	r.UpdatedAt = time.Now()
	return nil
}

// sortedLocked returns records in creation order. Caller holds the lock.
func (s *MemStore) sortedLocked() []*ScenarioRecord {
	recs := make([]*ScenarioRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs
}
