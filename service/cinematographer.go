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

// VideoGenerator animates a single verified keyframe.
type VideoGenerator interface {
	ImageToVideo(ctx context.Context, imageURL, motionPrompt string) (string, error)
}

// Cinematographer turns a gate-passed keyframe set into per-stage video
// clips. It only ever runs on IMAGES_DONE records; the orchestrator enforces
// that, and the artifact check here is the backstop.
type Cinematographer struct {
	video VideoGenerator
	files ArtifactFetcher
	cfg   *config.Config
	log   *logrus.Entry
}

func NewCinematographer(video VideoGenerator, files ArtifactFetcher, cfg *config.Config) *Cinematographer {
	return &Cinematographer{
		video: video,
		files: files,
		cfg:   cfg,
		log:   logrus.WithField("component", "cinematographer"),
	}
}

// AnimateAll generates one clip per stage from its image artifact plus the
// style-level motion prompt (shared across all stages of a style). All clips
// must succeed; one failed stage aborts the whole record's motion phase so
// no partial VIDEO_DONE exists.
func (c *Cinematographer) AnimateAll(ctx context.Context, rec *models.ScenarioRecord) ([]string, error) {
	paths := make([]string, len(rec.Stages))

	g, gctx := errgroup.WithContext(ctx)
	for i := range rec.Stages {
		g.Go(func() error {
			st := rec.Stages[i]
			if st.ImageArtifact == "" {
				return fmt.Errorf("stage %d has no verified keyframe", i+1)
			}

			c.log.WithFields(logrus.Fields{"scenario": rec.ID, "stage": i + 1}).Info("animating keyframe")
			url, err := c.video.ImageToVideo(gctx, st.ImageArtifact, c.cfg.Style.VideoPrompt)
			if err != nil {
				return fmt.Errorf("animate stage %d: %w", i+1, err)
			}

			local := filepath.Join(c.cfg.OutputDir, rec.ID, fmt.Sprintf("video_%d.mp4", i+1))
			if err := c.files.Download(gctx, url, local); err != nil {
				return fmt.Errorf("download clip %d: %w", i+1, err)
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
