package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// AudioGenerator produces an ambient sound-effect track for one stage.
type AudioGenerator interface {
	GenerateAudio(ctx context.Context, prompt, mood string) (string, error)
}

// SoundEngineer generates per-stage audio. It depends only on the refined
// audio prompts, never on video artifacts, so the orchestrator is free to
// run it alongside the cinematographer.
type SoundEngineer struct {
	audio AudioGenerator
	files ArtifactFetcher
	cfg   *config.Config
	log   *logrus.Entry
}

func NewSoundEngineer(audio AudioGenerator, files ArtifactFetcher, cfg *config.Config) *SoundEngineer {
	return &SoundEngineer{
		audio: audio,
		files: files,
		cfg:   cfg,
		log:   logrus.WithField("component", "soundengineer"),
	}
}

// GenerateAll produces one audio track per stage, index-ordered. A single
// stage failure aborts the record's audio set.
func (s *SoundEngineer) GenerateAll(ctx context.Context, rec *models.ScenarioRecord) ([]string, error) {
	paths := make([]string, len(rec.Stages))

	g, gctx := errgroup.WithContext(ctx)
	for i := range rec.Stages {
		g.Go(func() error {
			st := rec.Stages[i]
			if st.AudioPrompt == "" {
				return fmt.Errorf("stage %d has no refined audio prompt", i+1)
			}

			s.log.WithFields(logrus.Fields{"scenario": rec.ID, "stage": i + 1}).Info("generating audio")
			url, err := s.audio.GenerateAudio(gctx, st.AudioPrompt, st.Mood)
			if err != nil {
				return fmt.Errorf("audio stage %d: %w", i+1, err)
			}

			local := filepath.Join(s.cfg.OutputDir, rec.ID, fmt.Sprintf("audio_%d.mp3", i+1))
			if err := s.files.Download(gctx, url, local); err != nil {
				return fmt.Errorf("download audio %d: %w", i+1, err)
			}
			paths[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
