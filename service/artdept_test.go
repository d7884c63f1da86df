package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pladee42/alt-history-reel/models"
)

func artRecord() *models.ScenarioRecord {
	return &models.ScenarioRecord{
		ID:           "rec-1",
		LocationName: "Eiffel Tower",
		Stages: models.StageList{
			{Year: "1889", Description: "d1", ImagePrompt: "ip-1", AudioPrompt: "ap-1"},
			{Year: "1940", Description: "d2", ImagePrompt: "ip-2", AudioPrompt: "ap-2"},
			{Year: "2024", Description: "d3", ImagePrompt: "ip-3", AudioPrompt: "ap-3"},
		},
	}
}

func TestGenerateVerifiedPassFirstAttempt(t *testing.T) {
	provider := &fakeProvider{}
	cfg := testConfig(t)
	art := NewArtDepartment(provider, provider, provider, cfg)

	stages, err := art.GenerateVerified(context.Background(), artRecord())
	require.NoError(t, err)
	require.Len(t, stages, 3)

	assert.Equal(t, 3, provider.imageCalls)
	assert.Equal(t, 1, provider.gateCalls)
	for i, st := range stages {
		assert.Equal(t, fmt.Sprintf("img://ip-%d", i+1), st.ImageArtifact)
		// Keyframe backups land in the scenario asset folder.
		assert.FileExists(t, fmt.Sprintf("%s/rec-1/frame_%d.png", cfg.OutputDir, i+1))
	}
}

func TestGenerateVerifiedExhaustsBudget(t *testing.T) {
	provider := &fakeProvider{gateVerdicts: []bool{false, false}}
	cfg := testConfig(t)
	cfg.ImageRetries = 2
	art := NewArtDepartment(provider, provider, provider, cfg)

	stages, err := art.GenerateVerified(context.Background(), artRecord())
	assert.Nil(t, stages)

	var gateErr *GateFailError
	require.ErrorAs(t, err, &gateErr)
	assert.Equal(t, 2, gateErr.Attempts)
	assert.Contains(t, gateErr.Reason, "camera angle")
	assert.Equal(t, 6, provider.imageCalls, "two attempts regenerate the full three-image set")
}

func TestGenerateVerifiedPropagatesProviderErrors(t *testing.T) {
	provider := &fakeProvider{imageErr: errors.New("image model offline")}
	art := NewArtDepartment(provider, provider, provider, testConfig(t))

	_, err := art.GenerateVerified(context.Background(), artRecord())
	require.Error(t, err)

	// Provider failures are not gate failures: no GateFailError, no burn of
	// the remaining retry budget.
	var gateErr *GateFailError
	assert.False(t, errors.As(err, &gateErr))
}
