package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/models"
)

// Clip/transition timing shared by every reel of a channel.
const (
	clipSeconds      = 5.0
	crossfadeSeconds = 0.5
	titleSeconds     = 3.0
)

// StageCut is one stage's assembly input: a local video clip, a local audio
// track and the burned-in label text.
type StageCut struct {
	VideoPath string
	AudioPath string
	Label     string
}

// CommandRunner abstracts the ffmpeg invocation so assembly stays testable
// without a real render.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Editor assembles the final reel. It makes no AI calls and carries no
// randomness: identical inputs produce an identical ffmpeg invocation.
type Editor struct {
	cfg    *config.Config
	runner CommandRunner
	log    *logrus.Entry
}

func NewEditor(cfg *config.Config) *Editor {
	return &Editor{
		cfg:    cfg,
		runner: execRunner{},
		log:    logrus.WithField("component", "editor"),
	}
}

// NewEditorWithRunner is used by tests to capture the invocation.
func NewEditorWithRunner(cfg *config.Config, runner CommandRunner) *Editor {
	e := NewEditor(cfg)
	e.runner = runner
	return e
}

// FinalCutPath is where the assembled reel for a scenario lives.
func (e *Editor) FinalCutPath(scenarioID string) string {
	return filepath.Join(e.cfg.OutputDir, scenarioID, "final_cut.mp4")
}

// AssembleFinalCut stitches the record's clips into one video: sequential
// stage playback, crossfades at stage boundaries, per-stage label text and
// a title overlay. If the final cut already exists it is reused, so a failed
// upload can be retried without re-rendering.
func (e *Editor) AssembleFinalCut(ctx context.Context, rec *models.ScenarioRecord) (string, error) {
	outPath := e.FinalCutPath(rec.ID)
	if _, err := os.Stat(outPath); err == nil {
		e.log.WithField("scenario", rec.ID).Info("final cut already rendered, reusing")
		return outPath, nil
	}

	cuts := make([]StageCut, 0, len(rec.Stages))
	for i, st := range rec.Stages {
		if st.VideoArtifact == "" || st.AudioArtifact == "" {
			return "", fmt.Errorf("stage %d is missing video or audio artifact", i+1)
		}
		cuts = append(cuts, StageCut{
			VideoPath: st.VideoArtifact,
			AudioPath: st.AudioArtifact,
			Label:     fmt.Sprintf("%s - %s", st.Year, st.Label),
		})
	}

	title := rec.Title
	if title == "" {
		title = rec.Premise
	}

	args := BuildFFmpegArgs(cuts, title, outPath)
	e.log.WithField("scenario", rec.ID).Info("rendering final cut")
	if err := e.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return "", fmt.Errorf("ffmpeg assembly: %w", err)
	}
	return outPath, nil
}

// BuildFFmpegArgs constructs the complete ffmpeg argument list for a reel.
// Pure and deterministic: stage order in cuts is playback order.
func BuildFFmpegArgs(cuts []StageCut, title, outPath string) []string {
	args := []string{"-y"}
	for _, c := range cuts {
		args = append(args, "-i", c.VideoPath, "-i", c.AudioPath)
	}

	args = append(args, "-filter_complex", buildFilterGraph(cuts, title))
	args = append(args,
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-r", "24",
		outPath,
	)
	return args
}

// buildFilterGraph lays out the filter chain: label each stage, crossfade
// consecutive stages (video xfade + audio acrossfade), then burn the title
// over the opening seconds.
func buildFilterGraph(cuts []StageCut, title string) string {
	var b strings.Builder

	// Per-stage label overlay.
	for i, c := range cuts {
		fmt.Fprintf(&b,
			"[%d:v]drawtext=text='%s':fontcolor=yellow:fontsize=64:borderw=4:bordercolor=black:x=(w-text_w)/2:y=120[v%d];",
			i*2, escapeDrawtext(c.Label), i)
	}

	// Chain video crossfades. Each xfade offset is relative to the combined
	// stream so far.
	vlast := "v0"
	for i := 1; i < len(cuts); i++ {
		out := fmt.Sprintf("vx%d", i)
		offset := float64(i)*clipSeconds - float64(i)*crossfadeSeconds
		fmt.Fprintf(&b, "[%s][v%d]xfade=transition=fade:duration=%.1f:offset=%.1f[%s];",
			vlast, i, crossfadeSeconds, offset, out)
		vlast = out
	}

	// Chain audio crossfades across the per-stage tracks.
	alast := "1:a"
	for i := 1; i < len(cuts); i++ {
		out := fmt.Sprintf("ax%d", i)
		fmt.Fprintf(&b, "[%s][%d:a]acrossfade=d=%.1f[%s];", alast, i*2+1, crossfadeSeconds, out)
		alast = out
	}

	// Title card over the opening.
	fmt.Fprintf(&b,
		"[%s]drawtext=text='%s':fontcolor=white:fontsize=48:borderw=3:bordercolor=black:x=(w-text_w)/2:y=h-240:enable='between(t,0,%.1f)'[vout];",
		vlast, escapeDrawtext(title), titleSeconds)
	fmt.Fprintf(&b, "[%s]anull[aout]", alast)

	return b.String()
}

// escapeDrawtext escapes the characters drawtext treats specially.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}
