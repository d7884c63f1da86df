package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostLedger(t *testing.T) {
	ledger := NewCostLedger()

	ledger.Log("rec-1", "text", "scenario")
	ledger.Log("rec-1", "image", "keyframe")
	ledger.Log("rec-1", "image", "keyframe")
	ledger.Log("rec-2", "video", "clip")

	assert.InDelta(t, 0.002+0.030+0.030, ledger.ScenarioTotal("rec-1"), 1e-9)
	assert.InDelta(t, 0.400, ledger.ScenarioTotal("rec-2"), 1e-9)
	assert.Zero(t, ledger.ScenarioTotal("rec-3"))

	total, byKind := ledger.Summary()
	assert.InDelta(t, 0.462, total, 1e-9)
	assert.InDelta(t, 0.060, byKind["image"], 1e-9)

	// Unknown kinds are tracked at zero rather than dropped.
	assert.Zero(t, ledger.Log("rec-1", "telepathy", ""))
}

func TestCostLedgerSaveToFile(t *testing.T) {
	ledger := NewCostLedger()
	ledger.Log("rec-1", "audio", "track")

	path := filepath.Join(t.TempDir(), "costs.json")
	require.NoError(t, ledger.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report struct {
		Total   float64            `json:"total"`
		ByKind  map[string]float64 `json:"by_kind"`
		Entries []CostEntry        `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.InDelta(t, 0.050, report.Total, 1e-9)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "rec-1", report.Entries[0].ScenarioID)
}
