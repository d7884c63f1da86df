package service

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Per-call provider pricing in USD. Flat rates per operation kind.
var defaultPricing = map[string]float64{
	"text":   0.002,
	"image":  0.030,
	"vision": 0.005,
	"video":  0.400,
	"audio":  0.050,
}

// CostEntry is one billed provider call.
type CostEntry struct {
	ScenarioID string    `json:"scenario_id"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
	Cost       float64   `json:"cost"`
	At         time.Time `json:"at"`
}

// CostLedger accumulates spend across a run. Safe for concurrent use.
type CostLedger struct {
	mu      sync.Mutex
	entries []CostEntry
	pricing map[string]float64
	log     *logrus.Entry
}

func NewCostLedger() *CostLedger {
	return &CostLedger{
		pricing: defaultPricing,
		log:     logrus.WithField("component", "costs"),
	}
}

// Log records one provider call of the given kind against a scenario and
// returns its cost. Unknown kinds are recorded at zero.
func (c *CostLedger) Log(scenarioID, kind, detail string) float64 {
	price := c.pricing[kind]

	c.mu.Lock()
	c.entries = append(c.entries, CostEntry{
		ScenarioID: scenarioID,
		Kind:       kind,
		Detail:     detail,
		Cost:       price,
		At:         time.Now().UTC(),
	})
	c.mu.Unlock()

	return price
}

// ScenarioTotal sums all entries for one scenario.
func (c *CostLedger) ScenarioTotal(scenarioID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64
	for _, e := range c.entries {
		if e.ScenarioID == scenarioID {
			total += e.Cost
		}
	}
	return total
}

// Summary returns the run's total spend and a per-kind breakdown.
func (c *CostLedger) Summary() (float64, map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]float64)
	var total float64
	for _, e := range c.entries {
		byKind[e.Kind] += e.Cost
		total += e.Cost
	}
	return total, byKind
}

// SaveToFile appends the run's entries as a JSON report next to the output.
func (c *CostLedger) SaveToFile(path string) error {
	c.mu.Lock()
	entries := make([]CostEntry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	total, byKind := c.Summary()
	report := struct {
		GeneratedAt time.Time          `json:"generated_at"`
		Total       float64            `json:"total"`
		ByKind      map[string]float64 `json:"by_kind"`
		Entries     []CostEntry        `json:"entries"`
	}{time.Now().UTC(), total, byKind, entries}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cost report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cost report: %w", err)
	}

	c.log.WithFields(logrus.Fields{"path": path, "total": total}).Info("cost report saved")
	return nil
}
