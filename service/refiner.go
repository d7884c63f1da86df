package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// PromptRefiner turns raw stage descriptions into production-grade prompts.
// The derivations are chained on purpose: the audio prompt is derived from
// the refined image prompt, not from the raw description, because the
// soundscape has to match the finalized visual framing.
type PromptRefiner struct {
	textGen TextGenerator
	cfg     *config.Config
	log     *logrus.Entry
}

func NewPromptRefiner(textGen TextGenerator, cfg *config.Config) *PromptRefiner {
	return &PromptRefiner{
		textGen: textGen,
		cfg:     cfg,
		log:     logrus.WithField("component", "refiner"),
	}
}

// RefineStages derives image and audio prompts for every stage of a record.
// Failure on any stage aborts the whole record: the caller must not persist
// a partially refined stage set.
func (r *PromptRefiner) RefineStages(ctx context.Context, rec *models.ScenarioRecord) (models.StageList, error) {
	refined := make(models.StageList, len(rec.Stages))
	copy(refined, rec.Stages)

	for i := range refined {
		st := &refined[i]
		r.log.WithFields(logrus.Fields{"scenario": rec.ID, "stage": i + 1}).Info("refining prompts")

		imagePrompt, err := r.deriveImagePrompt(ctx, rec, st)
		if err != nil {
			return nil, fmt.Errorf("stage %d image prompt: %w", i+1, err)
		}
		audioPrompt, err := r.deriveAudioPrompt(ctx, imagePrompt, st.Mood)
		if err != nil {
			return nil, fmt.Errorf("stage %d audio prompt: %w", i+1, err)
		}

		st.ImagePrompt = imagePrompt
		st.AudioPrompt = audioPrompt
	}
	return refined, nil
}

// PolishTitle rewrites the screenwriter's working title into a short-form
// hook. Callers treat failure as non-fatal and keep the working title.
func (r *PromptRefiner) PolishTitle(ctx context.Context, rec *models.ScenarioRecord) (string, error) {
	prompt := fmt.Sprintf(`You are a short-form video editor. Polish the working title below into a
punchy hook for a vertical history reel. Keep it under 60 characters, no
hashtags, no emoji.
Premise: %s
Working title: %s

Return JSON ONLY: {"title": "..."}`,
		rec.Premise, rec.Title)

	var out struct {
		Title string `json:"title"`
	}
	if err := r.textGen.GenerateJSON(ctx, prompt, &out); err != nil {
		return "", err
	}
	polished := strings.TrimSpace(out.Title)
	if polished == "" {
		return "", fmt.Errorf("%w: empty title", ErrMalformedScenario)
	}
	return polished, nil
}

func (r *PromptRefiner) deriveImagePrompt(ctx context.Context, rec *models.ScenarioRecord, st *models.Stage) (string, error) {
	prompt := fmt.Sprintf(`You are a prompt engineer for a high-end image model.
Rewrite the scene below into one detailed image generation prompt.
Constraints: EXTERIOR VIEW ONLY of %q, wide establishing shot, same camera
angle across the whole series, no interior shots.
Location detail: %s
Scene (%s, %s): %s
Style: %s

Return JSON ONLY: {"image_prompt": "..."}`,
		rec.LocationName, rec.LocationPrompt, st.Label, st.Year, st.Description, r.cfg.Style.ImageSuffix)

	var out struct {
		ImagePrompt string `json:"image_prompt"`
	}
	if err := r.textGen.GenerateJSON(ctx, prompt, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ImagePrompt) == "" {
		return "", fmt.Errorf("%w: empty image prompt", ErrMalformedScenario)
	}
	// The style suffix must survive refinement so keyframes stay uniform.
	if !strings.Contains(strings.ToLower(out.ImagePrompt), strings.ToLower(r.cfg.Style.ImageSuffix)) {
		out.ImagePrompt = out.ImagePrompt + ", " + r.cfg.Style.ImageSuffix
	}
	return out.ImagePrompt, nil
}

func (r *PromptRefiner) deriveAudioPrompt(ctx context.Context, imagePrompt, mood string) (string, error) {
	prompt := fmt.Sprintf(`You are a prompt engineer for a sound-effect model.
The final visual for this scene is: %s
Mood keywords: %s
Channel-wide atmosphere: %s

Write one rich soundscape prompt (ambient noise, specific effects, mood)
matching that visual. Return JSON ONLY: {"audio_prompt": "..."}`,
		imagePrompt, mood, r.cfg.AudioMood)

	var out struct {
		AudioPrompt string `json:"audio_prompt"`
	}
	if err := r.textGen.GenerateJSON(ctx, prompt, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AudioPrompt) == "" {
		return "", fmt.Errorf("%w: empty audio prompt", ErrMalformedScenario)
	}
	return out.AudioPrompt, nil
}
