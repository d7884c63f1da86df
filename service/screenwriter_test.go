package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pladee42/alt-history-reel/models"
)

func TestGenerateScenario(t *testing.T) {
	gen := &recordingTextGen{replies: []string{scenarioReply("What if Rome never fell?")}}
	cfg := testConfig(t)

	rec, err := NewScreenwriter(gen, cfg).GenerateScenario(context.Background(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "What if Rome never fell?", rec.Premise)
	assert.Equal(t, "Eiffel Tower", rec.LocationName)
	assert.Equal(t, models.StatusPending, rec.Status)
	require.Len(t, rec.Stages, 3)

	// A fresh scenario is a skeleton: no derived prompts, no artifacts.
	for _, st := range rec.Stages {
		assert.Empty(t, st.ImagePrompt)
		assert.Empty(t, st.AudioPrompt)
		assert.Empty(t, st.ImageArtifact)
	}
}

func TestGenerateScenarioEmbedsAvoidList(t *testing.T) {
	gen := &recordingTextGen{replies: []string{scenarioReply("What if Rome never fell?")}}
	cfg := testConfig(t)

	avoid := []string{"What if the Colosseum was never built?", "What if Pompeii was evacuated?"}
	_, err := NewScreenwriter(gen, cfg).GenerateScenario(context.Background(), avoid)
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	for _, p := range avoid {
		assert.Contains(t, gen.prompts[0], p)
	}
}

func TestGenerateScenarioRejectsWrongStageCount(t *testing.T) {
	gen := &recordingTextGen{replies: []string{
		`{"premise": "p", "title": "t", "location": {"name": "n", "prompt": "lp"},
		  "stages": [{"year": "1900", "label": "l", "description": "d", "mood": "m"}]}`,
	}}
	cfg := testConfig(t) // wants 3 stages

	_, err := NewScreenwriter(gen, cfg).GenerateScenario(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedScenario)
}

func TestGenerateScenarioRejectsMissingFields(t *testing.T) {
	cfg := testConfig(t)

	gen := &recordingTextGen{replies: []string{
		`{"premise": "", "title": "t", "location": {"name": "n"},
		  "stages": [{"description": "a"}, {"description": "b"}, {"description": "c"}]}`,
	}}
	_, err := NewScreenwriter(gen, cfg).GenerateScenario(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedScenario)

	gen = &recordingTextGen{replies: []string{
		`{"premise": "p", "title": "t", "location": {"name": "n"},
		  "stages": [{"description": "a"}, {"description": ""}, {"description": "c"}]}`,
	}}
	_, err = NewScreenwriter(gen, cfg).GenerateScenario(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedScenario)
}
