package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// ImageGenerator produces one keyframe from a refined prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ImageVerifier is the consistency gate: it judges the full ordered keyframe
// set as one batch, not per-pair.
type ImageVerifier interface {
	VerifyImageSet(ctx context.Context, imageURLs []string, locationName string) (bool, string, error)
}

// ArtifactFetcher saves a generated artifact to the local asset folder.
type ArtifactFetcher interface {
	Download(ctx context.Context, url, destPath string) error
}

// GateFailError is returned when the consistency gate rejected every attempt
// within the retry budget.
type GateFailError struct {
	Attempts int
	Reason   string
}

func (e *GateFailError) Error() string {
	return fmt.Sprintf("consistency gate failed after %d attempts: %s", e.Attempts, e.Reason)
}

// ArtDepartment generates keyframes and runs them through the consistency
// gate before the expensive animation step is allowed. Video generation is
// the costly call, so no image set leaves this component unverified.
type ArtDepartment struct {
	images ImageGenerator
	gate   ImageVerifier
	files  ArtifactFetcher
	cfg    *config.Config
	log    *logrus.Entry
}

func NewArtDepartment(images ImageGenerator, gate ImageVerifier, files ArtifactFetcher, cfg *config.Config) *ArtDepartment {
	return &ArtDepartment{
		images: images,
		gate:   gate,
		files:  files,
		cfg:    cfg,
		log:    logrus.WithField("component", "artdept"),
	}
}

// GenerateVerified produces a gate-passed keyframe set for the record and
// returns the stages with ImageArtifact filled in. On gate failure the FULL
// set is regenerated; per-image patching is not guaranteed to converge, so
// it is not attempted. The returned artifacts always belong to the attempt
// that passed.
func (a *ArtDepartment) GenerateVerified(ctx context.Context, rec *models.ScenarioRecord) (models.StageList, error) {
	budget := a.cfg.ImageRetries
	var lastReason string

	for attempt := 1; attempt <= budget; attempt++ {
		a.log.WithFields(logrus.Fields{
			"scenario": rec.ID,
			"attempt":  fmt.Sprintf("%d/%d", attempt, budget),
		}).Info("generating keyframe set")

		urls, err := a.generateSet(ctx, rec)
		if err != nil {
			return nil, err
		}

		passed, feedback, err := a.gate.VerifyImageSet(ctx, urls, rec.LocationName)
		if err != nil {
			return nil, fmt.Errorf("consistency gate: %w", err)
		}
		if passed {
			a.log.WithField("scenario", rec.ID).Info("consistency gate passed")
			return a.attachArtifacts(ctx, rec, urls)
		}

		lastReason = feedback
		a.log.WithFields(logrus.Fields{"scenario": rec.ID, "reason": feedback}).
			Warn("consistency gate failed, regenerating full set")
		if attempt < budget {
			time.Sleep(2 * time.Second)
		}
	}

	return nil, &GateFailError{Attempts: budget, Reason: lastReason}
}

// generateSet generates one image per stage concurrently. Results land in an
// index-addressed slice so stage order survives whatever order the provider
// finishes in; any single failure cancels the siblings and aborts the set.
func (a *ArtDepartment) generateSet(ctx context.Context, rec *models.ScenarioRecord) ([]string, error) {
	urls := make([]string, len(rec.Stages))

	g, gctx := errgroup.WithContext(ctx)
	for i := range rec.Stages {
		g.Go(func() error {
			url, err := a.images.GenerateImage(gctx, rec.Stages[i].ImagePrompt)
			if err != nil {
				return fmt.Errorf("keyframe %d: %w", i+1, err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// attachArtifacts records the verified set on the stages and pulls local
// copies into the scenario asset folder for backup and later reassembly.
func (a *ArtDepartment) attachArtifacts(ctx context.Context, rec *models.ScenarioRecord, urls []string) (models.StageList, error) {
	stages := make(models.StageList, len(rec.Stages))
	copy(stages, rec.Stages)

	for i := range stages {
		stages[i].ImageArtifact = urls[i]
		local := filepath.Join(a.cfg.OutputDir, rec.ID, fmt.Sprintf("frame_%d.png", i+1))
		if err := a.files.Download(ctx, urls[i], local); err != nil {
			a.log.WithError(err).WithField("stage", i+1).Warn("keyframe backup download failed")
		}
	}
	return stages, nil
}
