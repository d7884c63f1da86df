package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Store is the durable record table the orchestrator runs against. It is the
// single source of truth across phase runs: status advances are
// compare-and-set on the caller's expected prior status so two concurrent
// runs cannot double-advance or lose a transition.
type Store interface {
	// Create inserts a new record at PENDING. Returns ErrDuplicateScenario
	// if a non-failed record with the same normalized premise exists.
	Create(record *ScenarioRecord) error

	// Get returns the record with the given id, or ErrRecordNotFound.
	Get(id string) (*ScenarioRecord, error)

	// Premises returns the premises of all non-failed records, in creation
	// order. Used as the screenwriter's avoid-list.
	Premises() ([]string, error)

	// List returns every record in creation order.
	List() ([]ScenarioRecord, error)

	// ListByStatus returns records with the given status in creation order.
	ListByStatus(status Status) ([]ScenarioRecord, error)

	// UpdateFields atomically applies a field update to one record, guarded
	// by the expected current status. Pass next == expected for a
	// field-only update. Returns ErrStaleStatus if the stored status does
	// not match expected, ErrRecordNotFound if the id is unknown, and
	// ErrIllegalTransition if the state machine forbids expected -> next.
	UpdateFields(id string, expected, next Status, fields map[string]interface{}) error

	// ResetFailed is the operator escape hatch: moves a FAILED record back
	// to PENDING so the pipeline picks it up again.
	ResetFailed(id string) error
}

// GormStore keeps scenario records in MySQL.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// createLock serializes the dedup check and insert across processes, the
// way MemStore holds its mutex over both steps.
const createLock = "scenario_record_create"

func (s *GormStore) Create(record *ScenarioRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusPending
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var locked int
		if err := tx.Raw("SELECT GET_LOCK(?, 10)", createLock).Scan(&locked).Error; err != nil {
			return err
		}
		if locked != 1 {
			return errors.New("timed out waiting for create lock")
		}
		defer tx.Exec("SELECT RELEASE_LOCK(?)", createLock)

		// Dedup check against every non-failed premise. The table is small
		// (one row per produced video) so a scan is fine here.
		norm := NormalizePremise(record.Premise)
		var existing []ScenarioRecord
		if err := tx.Select("premise").Where("status <> ?", StatusFailed).Find(&existing).Error; err != nil {
			return err
		}
		for _, e := range existing {
			if NormalizePremise(e.Premise) == norm {
				return ErrDuplicateScenario
			}
		}

		return tx.Create(record).Error
	})
}

func (s *GormStore) Get(id string) (*ScenarioRecord, error) {
	var rec ScenarioRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Premises() ([]string, error) {
	var recs []ScenarioRecord
	if err := s.db.Select("premise").Where("status <> ?", StatusFailed).
		Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	premises := make([]string, 0, len(recs))
	for _, r := range recs {
		premises = append(premises, r.Premise)
	}
	return premises, nil
}

func (s *GormStore) List() ([]ScenarioRecord, error) {
	var recs []ScenarioRecord
	if err := s.db.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) ListByStatus(status Status) ([]ScenarioRecord, error) {
	var recs []ScenarioRecord
	if err := s.db.Where("status = ?", status).Order("created_at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) UpdateFields(id string, expected, next Status, fields map[string]interface{}) error {
	if next != expected && !expected.CanTransitionTo(next) {
		return ErrIllegalTransition
	}

	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	// Optimistic concurrency: the WHERE clause carries the expected status,
	// RowsAffected tells us whether we won.
	res := s.db.Model(&ScenarioRecord{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(id); err != nil {
			return err
		}
		return ErrStaleStatus
	}
	return nil
}

func (s *GormStore) ResetFailed(id string) error {
	res := s.db.Model(&ScenarioRecord{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]interface{}{
			"status":     StatusPending,
			"last_error": "",
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(id); err != nil {
			return err
		}
		return ErrStaleStatus
	}
	return nil
}
