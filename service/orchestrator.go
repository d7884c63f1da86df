package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// How many records a single phase run works on in parallel. Video and image
// generation dominate provider quota, so this stays small.
const maxConcurrentRecords = 2

// How many times phase 2 re-rolls the screenwriter when it produces a
// duplicate or malformed scenario before giving up on creating a new record.
const scenarioAttempts = 5

// Uploader pushes a finished reel to object storage.
type Uploader interface {
	UploadVideo(ctx context.Context, localPath, scenarioID string) (string, error)
	UploadFolder(ctx context.Context, localDir, scenarioID string) error
}

// Publisher pushes a finished reel to an external platform. Optional; a nil
// publisher means storage upload only.
type Publisher interface {
	Publish(ctx context.Context, rec *models.ScenarioRecord, videoPath string) (string, error)
}

// PhaseSummary reports what one phase run did. Failed counts records that
// hit an error during this run, whether they were marked FAILED or left in a
// retryable status with last_error set.
type PhaseSummary struct {
	Processed int
	Advanced  int
	Failed    int
}

// Orchestrator drives records through the pipeline. Each phase run is a
// batch pass over the records whose status that phase owns: it claims work
// through compare-and-set status updates, so concurrent runs skip rather
// than double-process each other's records.
type Orchestrator struct {
	cfg       *config.Config
	store     models.Store
	writer    *Screenwriter
	refiner   *PromptRefiner
	art       *ArtDepartment
	camera    *Cinematographer
	sound     *SoundEngineer
	editor    *Editor
	uploader  Uploader
	publisher Publisher
	costs     *CostLedger

	// DryRun lists the work each phase would do without calling providers
	// or writing records.
	DryRun bool

	log *logrus.Entry
}

func NewOrchestrator(
	cfg *config.Config,
	store models.Store,
	writer *Screenwriter,
	refiner *PromptRefiner,
	art *ArtDepartment,
	camera *Cinematographer,
	sound *SoundEngineer,
	editor *Editor,
	uploader Uploader,
	publisher Publisher,
	costs *CostLedger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		writer:    writer,
		refiner:   refiner,
		art:       art,
		camera:    camera,
		sound:     sound,
		editor:    editor,
		uploader:  uploader,
		publisher: publisher,
		costs:     costs,
		log:       logrus.WithField("component", "orchestrator"),
	}
}

// RunPhase executes one pipeline phase:
//
//	1: verify configuration and store connectivity
//	2: create a new scenario, then take PENDING records to IMAGES_DONE
//	3: take IMAGES_DONE records to VIDEO_DONE
//	4: take VIDEO_DONE records to COMPLETED
func (o *Orchestrator) RunPhase(ctx context.Context, phase int) (PhaseSummary, error) {
	switch phase {
	case 1:
		return o.runPreflight()
	case 2:
		return o.runPending(ctx)
	case 3:
		return o.runBatch(ctx, models.StatusImagesDone, o.processImagesDone)
	case 4:
		return o.runBatch(ctx, models.StatusVideoDone, o.processVideoDone)
	default:
		return PhaseSummary{}, fmt.Errorf("unknown phase %d", phase)
	}
}

// runPreflight checks the pieces every later phase depends on and reports
// the backlog per status.
func (o *Orchestrator) runPreflight() (PhaseSummary, error) {
	for _, status := range []models.Status{
		models.StatusPending, models.StatusImagesDone, models.StatusVideoDone,
	} {
		recs, err := o.store.ListByStatus(status)
		if err != nil {
			return PhaseSummary{}, fmt.Errorf("store check: %w", err)
		}
		o.log.WithFields(logrus.Fields{"status": status, "count": len(recs)}).Info("backlog")
	}
	o.log.WithFields(logrus.Fields{
		"channel": o.cfg.ChannelName,
		"style":   o.cfg.Style.Name,
		"stages":  o.cfg.StageCount,
	}).Info("preflight ok")
	return PhaseSummary{}, nil
}

// runPending creates one fresh scenario, then advances the whole PENDING
// backlog including any records a previous run left behind.
func (o *Orchestrator) runPending(ctx context.Context) (PhaseSummary, error) {
	if o.DryRun {
		o.log.Info("dry run: would generate one new scenario")
	} else if _, err := o.createScenario(ctx); err != nil {
		// A creation failure does not block the backlog.
		o.log.WithError(err).Error("scenario creation failed")
	}
	return o.runBatch(ctx, models.StatusPending, o.processPending)
}

// createScenario asks the screenwriter for a premise the channel has not
// used, re-rolling on duplicates and malformed output. Rejected duplicates
// join the avoid-list so the next roll is steered away from them, not just
// the premises already in the store.
func (o *Orchestrator) createScenario(ctx context.Context) (*models.ScenarioRecord, error) {
	var rejected []string
	for attempt := 1; attempt <= scenarioAttempts; attempt++ {
		avoid, err := o.store.Premises()
		if err != nil {
			return nil, fmt.Errorf("load premise history: %w", err)
		}
		avoid = append(avoid, rejected...)

		rec, err := o.writer.GenerateScenario(ctx, avoid)
		if err != nil {
			if errors.Is(err, ErrMalformedScenario) {
				o.log.WithField("attempt", attempt).Warn("malformed scenario, re-rolling")
				continue
			}
			return nil, err
		}
		rec.Cost = o.costs.Log(rec.ID, "text", "scenario")

		if err := o.store.Create(rec); err != nil {
			if errors.Is(err, models.ErrDuplicateScenario) {
				rejected = append(rejected, rec.Premise)
				o.log.WithFields(logrus.Fields{
					"attempt": attempt,
					"premise": rec.Premise,
				}).Warn("duplicate premise, re-rolling")
				continue
			}
			return nil, err
		}

		o.log.WithFields(logrus.Fields{"scenario": rec.ID, "premise": rec.Premise}).Info("scenario created")
		return rec, nil
	}
	return nil, fmt.Errorf("no novel scenario after %d attempts", scenarioAttempts)
}

// runBatch fans a phase's worker over every record in the given status.
// Worker errors are absorbed into the summary; a record's failure never
// aborts its siblings.
func (o *Orchestrator) runBatch(ctx context.Context, status models.Status, work func(context.Context, *models.ScenarioRecord) error) (PhaseSummary, error) {
	recs, err := o.store.ListByStatus(status)
	if err != nil {
		return PhaseSummary{}, fmt.Errorf("list %s records: %w", status, err)
	}

	summary := PhaseSummary{Processed: len(recs)}
	if o.DryRun {
		for _, rec := range recs {
			o.log.WithFields(logrus.Fields{
				"scenario": rec.ID,
				"status":   rec.Status,
				"premise":  rec.Premise,
			}).Info("dry run: would process")
		}
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRecords)

	for i := range recs {
		rec := recs[i]
		g.Go(func() error {
			err := work(gctx, &rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Advanced++
			case errors.Is(err, models.ErrStaleStatus):
				// Another run claimed this record first.
				o.log.WithField("scenario", rec.ID).Warn("record claimed by concurrent run, skipping")
			default:
				summary.Failed++
				o.log.WithError(err).WithField("scenario", rec.ID).Error("record failed")
			}
			return nil
		})
	}
	g.Wait()

	return summary, nil
}

// processPending refines prompts if the record does not carry them yet, then
// runs the keyframe gate loop and advances to IMAGES_DONE.
func (o *Orchestrator) processPending(ctx context.Context, rec *models.ScenarioRecord) error {
	// Each phase runs in its own process, so the ledger only sees this run's
	// spend. The delta over the base gets added to the record's stored cost
	// at the status advance.
	costBase := o.costs.ScenarioTotal(rec.ID)

	if !rec.PromptsRefined() {
		stages, err := o.refiner.RefineStages(ctx, rec)
		if err != nil {
			// Refinement failure leaves the record at PENDING: nothing was
			// spent on images yet, so the next run simply retries it.
			refineErr := fmt.Errorf("refine prompts: %w", err)
			if uerr := o.store.UpdateFields(rec.ID, models.StatusPending, models.StatusPending, map[string]interface{}{
				"last_error": truncateErr(refineErr),
			}); uerr != nil {
				return uerr
			}
			return refineErr
		}
		for range stages {
			o.costs.Log(rec.ID, "text", "refine image prompt")
			o.costs.Log(rec.ID, "text", "refine audio prompt")
		}

		// Title polish is best-effort: a bad roll keeps the screenwriter's
		// working title.
		title := rec.Title
		if polished, err := o.refiner.PolishTitle(ctx, rec); err != nil {
			o.log.WithError(err).WithField("scenario", rec.ID).Warn("title polish failed, keeping working title")
		} else {
			title = polished
			o.costs.Log(rec.ID, "text", "polish title")
		}

		// Prompts are durable before any image spend happens, so a crash
		// between here and the gate never re-bills refinement.
		err = o.store.UpdateFields(rec.ID, models.StatusPending, models.StatusPending, map[string]interface{}{
			"stages": stages,
			"title":  title,
		})
		if err != nil {
			return err
		}
		rec.Stages = stages
		rec.Title = title
	}

	stages, err := o.art.GenerateVerified(ctx, rec)
	if err != nil {
		var gateErr *GateFailError
		if errors.As(err, &gateErr) {
			return o.markFailed(rec, gateErr)
		}
		return o.markFailed(rec, fmt.Errorf("keyframes: %w", err))
	}
	for range stages {
		o.costs.Log(rec.ID, "image", "keyframe")
	}
	o.costs.Log(rec.ID, "vision", "consistency gate")

	return o.store.UpdateFields(rec.ID, models.StatusPending, models.StatusImagesDone, map[string]interface{}{
		"stages": stages,
		"cost":   rec.Cost + o.costs.ScenarioTotal(rec.ID) - costBase,
	})
}

// processImagesDone animates the verified keyframes and generates the audio
// tracks in parallel, then advances to VIDEO_DONE. Audio never waits on a
// keyframe gate and video never waits on audio prompts, so the two fan out
// together.
func (o *Orchestrator) processImagesDone(ctx context.Context, rec *models.ScenarioRecord) error {
	costBase := o.costs.ScenarioTotal(rec.ID)
	var videoPaths, audioPaths []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		paths, err := o.camera.AnimateAll(gctx, rec)
		if err != nil {
			return err
		}
		videoPaths = paths
		return nil
	})
	g.Go(func() error {
		paths, err := o.sound.GenerateAll(gctx, rec)
		if err != nil {
			return err
		}
		audioPaths = paths
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.markFailed(rec, fmt.Errorf("motion and audio: %w", err))
	}

	stages := make(models.StageList, len(rec.Stages))
	copy(stages, rec.Stages)
	for i := range stages {
		stages[i].VideoArtifact = videoPaths[i]
		stages[i].AudioArtifact = audioPaths[i]
		o.costs.Log(rec.ID, "video", "clip")
		o.costs.Log(rec.ID, "audio", "track")
	}

	return o.store.UpdateFields(rec.ID, models.StatusImagesDone, models.StatusVideoDone, map[string]interface{}{
		"stages": stages,
		"cost":   rec.Cost + o.costs.ScenarioTotal(rec.ID) - costBase,
	})
}

// processVideoDone assembles the final cut and uploads it. Assembly reuses
// an existing final cut, so a record stuck here by an upload failure retries
// only the upload. Upload failures keep the record at VIDEO_DONE with
// last_error set rather than marking it FAILED.
func (o *Orchestrator) processVideoDone(ctx context.Context, rec *models.ScenarioRecord) error {
	costBase := o.costs.ScenarioTotal(rec.ID)
	finalCut, err := o.editor.AssembleFinalCut(ctx, rec)
	if err != nil {
		return o.markFailed(rec, fmt.Errorf("assemble: %w", err))
	}

	videoURL, err := o.uploader.UploadVideo(ctx, finalCut, rec.ID)
	if err != nil {
		uploadErr := fmt.Errorf("upload: %w", err)
		if uerr := o.store.UpdateFields(rec.ID, models.StatusVideoDone, models.StatusVideoDone, map[string]interface{}{
			"last_error": uploadErr.Error(),
		}); uerr != nil {
			return uerr
		}
		return uploadErr
	}

	// Asset backup and platform publishing are best-effort extras; neither
	// blocks completion.
	if err := o.uploader.UploadFolder(ctx, filepath.Join(o.cfg.OutputDir, rec.ID), rec.ID); err != nil {
		o.log.WithError(err).WithField("scenario", rec.ID).Warn("asset backup failed")
	}
	if o.publisher != nil {
		if watchURL, err := o.publisher.Publish(ctx, rec, finalCut); err != nil {
			o.log.WithError(err).WithField("scenario", rec.ID).Warn("platform publish failed")
		} else {
			o.log.WithFields(logrus.Fields{"scenario": rec.ID, "url": watchURL}).Info("published")
		}
	}

	return o.store.UpdateFields(rec.ID, models.StatusVideoDone, models.StatusCompleted, map[string]interface{}{
		"video_url": videoURL,
		"cost":      rec.Cost + o.costs.ScenarioTotal(rec.ID) - costBase,
	})
}

// markFailed parks the record at FAILED with the cause, preserving the
// original error for the caller's summary.
func (o *Orchestrator) markFailed(rec *models.ScenarioRecord, cause error) error {
	err := o.store.UpdateFields(rec.ID, rec.Status, models.StatusFailed, map[string]interface{}{
		"last_error": truncateErr(cause),
	})
	if err != nil {
		return fmt.Errorf("%w (additionally, marking failed: %v)", cause, err)
	}
	return cause
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
