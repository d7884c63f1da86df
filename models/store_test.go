package models

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id, premise string) *ScenarioRecord {
	return &ScenarioRecord{
		ID:      id,
		Premise: premise,
		Stages: StageList{
			{Year: "1900", Description: "d1"},
			{Year: "1950", Description: "d2"},
			{Year: "2000", Description: "d3"},
		},
	}
}

func TestMemStoreCreateDedup(t *testing.T) {
	s := NewMemStore()

	require.NoError(t, s.Create(newRecord("a", "What if Rome never fell?")))

	// Same premise modulo case and whitespace is a duplicate.
	err := s.Create(newRecord("b", "  what IF rome  never fell?"))
	assert.ErrorIs(t, err, ErrDuplicateScenario)

	// Different premise is fine.
	require.NoError(t, s.Create(newRecord("c", "What if the Library of Alexandria survived?")))

	premises, err := s.Premises()
	require.NoError(t, err)
	assert.Len(t, premises, 2)
}

func TestMemStoreDedupIgnoresFailed(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(newRecord("a", "What if Rome never fell?")))

	require.NoError(t, s.UpdateFields("a", StatusPending, StatusFailed, map[string]interface{}{
		"last_error": "gate exhausted",
	}))

	// A failed record releases its premise for another attempt.
	require.NoError(t, s.Create(newRecord("b", "What if Rome never fell?")))

	premises, err := s.Premises()
	require.NoError(t, err)
	assert.Equal(t, []string{"What if Rome never fell?"}, premises, "failed record excluded from avoid-list")
}

func TestMemStoreCreateSerializesDedup(t *testing.T) {
	s := NewMemStore()

	// Check and insert happen under one lock, so concurrent creates of the
	// same premise admit exactly one record.
	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(newRecord(fmt.Sprintf("rec-%d", i), "What if Rome never fell?"))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateScenario)
		}
	}
	assert.Equal(t, 1, created)

	premises, err := s.Premises()
	require.NoError(t, err)
	assert.Len(t, premises, 1)
}

func TestMemStoreGet(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(newRecord("a", "p1")))

	rec, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	// Returned record is a copy; mutating it must not leak into the store.
	rec.Stages[0].ImagePrompt = "mutated"
	again, err := s.Get("a")
	require.NoError(t, err)
	assert.Empty(t, again.Stages[0].ImagePrompt)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemStoreUpdateFieldsCAS(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(newRecord("a", "p1")))

	// Field-only update keeps the status.
	require.NoError(t, s.UpdateFields("a", StatusPending, StatusPending, map[string]interface{}{
		"title": "The Eternal Empire",
	}))
	rec, _ := s.Get("a")
	assert.Equal(t, "The Eternal Empire", rec.Title)
	assert.Equal(t, StatusPending, rec.Status)

	// Legal advance.
	stages := StageList{{Year: "1900", Description: "d1", ImageArtifact: "img://1"}}
	require.NoError(t, s.UpdateFields("a", StatusPending, StatusImagesDone, map[string]interface{}{
		"stages": stages,
	}))
	rec, _ = s.Get("a")
	assert.Equal(t, StatusImagesDone, rec.Status)
	assert.Equal(t, "img://1", rec.Stages[0].ImageArtifact)

	// Stale expected status loses the race.
	err := s.UpdateFields("a", StatusPending, StatusImagesDone, nil)
	assert.ErrorIs(t, err, ErrStaleStatus)

	// Skipping a step is rejected before any store access.
	err = s.UpdateFields("a", StatusImagesDone, StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = s.UpdateFields("missing", StatusPending, StatusImagesDone, nil)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemStoreListByStatus(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(newRecord("a", "p1")))
	require.NoError(t, s.Create(newRecord("b", "p2")))
	require.NoError(t, s.UpdateFields("b", StatusPending, StatusImagesDone, nil))

	pending, err := s.ListByStatus(StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	done, err := s.ListByStatus(StatusImagesDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "b", done[0].ID)
}

func TestMemStoreListKeepsCreationOrder(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(newRecord("a", "p1")))
	require.NoError(t, s.Create(newRecord("b", "p2")))
	require.NoError(t, s.Create(newRecord("c", "p3")))
	require.NoError(t, s.UpdateFields("b", StatusPending, StatusImagesDone, nil))

	// Status changes do not reorder: List stays in creation order no matter
	// how far each record has advanced.
	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
}

func TestMemStoreResetFailed(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(newRecord("a", "p1")))

	// Only FAILED records may be reset.
	assert.ErrorIs(t, s.ResetFailed("a"), ErrStaleStatus)
	assert.ErrorIs(t, s.ResetFailed("missing"), ErrRecordNotFound)

	require.NoError(t, s.UpdateFields("a", StatusPending, StatusFailed, map[string]interface{}{
		"last_error": "boom",
	}))
	require.NoError(t, s.ResetFailed("a"))

	rec, _ := s.Get("a")
	assert.Equal(t, StatusPending, rec.Status)
	assert.Empty(t, rec.LastError)
}
