package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the production state of a scenario record. Phases only ever move
// a record forward through the chain; FAILED is terminal.
type Status string

const (
	// StatusPending: scenario stored, prompts may or may not be refined yet,
	// no verified keyframes.
	StatusPending Status = "PENDING"
	// StatusImagesDone: all keyframes generated AND the consistency gate
	// passed. This is the precondition for animation.
	StatusImagesDone Status = "IMAGES_DONE"
	// StatusVideoDone: every stage has a video clip and an audio track.
	StatusVideoDone Status = "VIDEO_DONE"
	// StatusCompleted: final cut assembled and uploaded, VideoURL set.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed: a phase exhausted its retry budget. Terminal; excluded
	// from dedup checks and phase pulls until an operator reset.
	StatusFailed Status = "FAILED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no phase will pick the record up again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusImagesDone, StatusVideoDone, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks the status state machine. Records advance one step
// at a time; any non-terminal status may fail.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusPending:    {StatusImagesDone, StatusFailed},
		StatusImagesDone: {StatusVideoDone, StatusFailed},
		StatusVideoDone:  {StatusCompleted, StatusFailed},
		StatusCompleted:  {},
		StatusFailed:     {},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, v := range allowed {
		if v == next {
			return true
		}
	}
	return false
}

// Stage is one temporal snapshot of a scenario (e.g. past / turning point /
// new reality). Stage order inside a record is the playback order.
type Stage struct {
	Year        string `json:"year"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Mood        string `json:"mood"`

	// Derived by the prompt refiner. Write-once: a later pipeline run never
	// overwrites them (re-generation means a new record).
	ImagePrompt string `json:"image_prompt,omitempty"`
	AudioPrompt string `json:"audio_prompt,omitempty"`

	// Artifact references (local path or URL), absent until the
	// corresponding generation step succeeds for the whole record.
	ImageArtifact string `json:"image_artifact,omitempty"`
	VideoArtifact string `json:"video_artifact,omitempty"`
	AudioArtifact string `json:"audio_artifact,omitempty"`
}

// StageList is stored as a single JSON column so a record's stages are always
// written all-or-nothing.
type StageList []Stage

func (s StageList) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StageList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal stages value:", value))
	}
	return json.Unmarshal(bytes, s)
}

// ScenarioRecord is the unit of work: one alternative-history premise with a
// fixed number of stages, tracked from creation to published video.
type ScenarioRecord struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Premise        string    `json:"premise"`
	Title          string    `json:"title"`
	LocationName   string    `json:"locationName"`
	LocationPrompt string    `json:"locationPrompt"`
	Stages         StageList `gorm:"type:json" json:"stages"`
	Status         Status    `gorm:"type:varchar(32)" json:"status"`
	LastError      string    `json:"lastError"`
	Cost           float64   `json:"cost"`
	VideoURL       string    `json:"videoUrl"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (ScenarioRecord) TableName() string {
	return "scenario"
}

// NormalizePremise is the canonical form used for duplicate detection:
// lower-cased with all whitespace runs collapsed to single spaces.
// Dedup is an exact match on this normalized form.
func NormalizePremise(premise string) string {
	return strings.Join(strings.Fields(strings.ToLower(premise)), " ")
}

// Validate checks the record shape before it is allowed into the store.
func (r *ScenarioRecord) Validate(stageCount int) error {
	if r.ID == "" {
		return errors.New("scenario id is empty")
	}
	if strings.TrimSpace(r.Premise) == "" {
		return errors.New("scenario premise is empty")
	}
	if len(r.Stages) != stageCount {
		return fmt.Errorf("scenario has %d stages, expected %d", len(r.Stages), stageCount)
	}
	for i, st := range r.Stages {
		if strings.TrimSpace(st.Description) == "" {
			return fmt.Errorf("stage %d has no description", i+1)
		}
	}
	return nil
}

// PromptsRefined reports whether every stage already carries derived prompts.
func (r *ScenarioRecord) PromptsRefined() bool {
	for _, st := range r.Stages {
		if st.ImagePrompt == "" || st.AudioPrompt == "" {
			return false
		}
	}
	return true
}
