package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// ErrMalformedScenario marks generator output that does not match the
// required scenario shape (wrong stage count, missing fields). Non-retryable;
// the scenario is rejected before it ever reaches the store.
var ErrMalformedScenario = errors.New("malformed scenario")

// TextGenerator is the JSON-mode text generation call the screenwriter and
// prompt refiner depend on.
type TextGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, out interface{}) error
}

// Screenwriter produces new alternative-history scenarios: a premise, an
// anchoring landmark and one timed stage per configured slot.
type Screenwriter struct {
	textGen TextGenerator
	cfg     *config.Config
	log     *logrus.Entry
}

func NewScreenwriter(textGen TextGenerator, cfg *config.Config) *Screenwriter {
	return &Screenwriter{
		textGen: textGen,
		cfg:     cfg,
		log:     logrus.WithField("component", "screenwriter"),
	}
}

// scenarioJSON is the schema the model must return. Anything that does not
// unmarshal into this shape is rejected as malformed.
type scenarioJSON struct {
	Premise  string `json:"premise"`
	Title    string `json:"title"`
	Location struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
	} `json:"location"`
	Stages []struct {
		Year        string `json:"year"`
		Label       string `json:"label"`
		Description string `json:"description"`
		Mood        string `json:"mood"`
	} `json:"stages"`
}

// GenerateScenario asks the text model for one novel scenario, steering it
// away from every premise already in the store. The returned record is a
// skeleton with status PENDING and no derived prompts or artifacts, and it
// has not been persisted yet.
func (w *Screenwriter) GenerateScenario(ctx context.Context, avoidPremises []string) (*models.ScenarioRecord, error) {
	w.log.WithField("avoid", len(avoidPremises)).Info("generating scenario")

	var out scenarioJSON
	if err := w.textGen.GenerateJSON(ctx, w.buildPrompt(avoidPremises), &out); err != nil {
		return nil, fmt.Errorf("scenario generation: %w", err)
	}

	if len(out.Stages) != w.cfg.StageCount {
		return nil, fmt.Errorf("%w: got %d stages, want %d", ErrMalformedScenario, len(out.Stages), w.cfg.StageCount)
	}
	if strings.TrimSpace(out.Premise) == "" || strings.TrimSpace(out.Location.Name) == "" {
		return nil, fmt.Errorf("%w: missing premise or location", ErrMalformedScenario)
	}

	stages := make(models.StageList, 0, len(out.Stages))
	for i, st := range out.Stages {
		if strings.TrimSpace(st.Description) == "" {
			return nil, fmt.Errorf("%w: stage %d has no description", ErrMalformedScenario, i+1)
		}
		stages = append(stages, models.Stage{
			Year:        st.Year,
			Label:       st.Label,
			Description: st.Description,
			Mood:        st.Mood,
		})
	}

	rec := &models.ScenarioRecord{
		ID:             uuid.NewString(),
		Premise:        out.Premise,
		Title:          out.Title,
		LocationName:   out.Location.Name,
		LocationPrompt: out.Location.Prompt,
		Stages:         stages,
		Status:         models.StatusPending,
	}
	if err := rec.Validate(w.cfg.StageCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedScenario, err)
	}
	return rec, nil
}

func (w *Screenwriter) buildPrompt(avoidPremises []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a creative historian for a short-form video channel called %q.
Today is %s. Invent ONE new alternative-history scenario anchored on a single
real, visually iconic landmark. The scenario shows the landmark at %d points
in time as history diverges.

Return JSON ONLY with this exact shape:
{
  "premise": "What if ...?",
  "title": "short punchy display title",
  "location": {"name": "landmark name", "prompt": "visual description of the landmark"},
  "stages": [{"year": "...", "label": "...", "description": "...", "mood": "..."}]
}

The "stages" array must contain exactly %d entries in chronological order.
"description" is what the landmark looks like at that moment; "mood" is
ambient-sound keywords.
`, w.cfg.ChannelName, time.Now().Format("2006-01-02"), w.cfg.StageCount, w.cfg.StageCount)

	if len(avoidPremises) > 0 {
		b.WriteString("\nDo NOT reuse or closely resemble any of these existing premises:\n")
		for _, p := range avoidPremises {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}
