// Package generate drives one narrated-video generation job through its
// stages: speech synthesis, duration fitting, word timing, color
// classification, background sequencing, render and upload.
package generate

import (
	"encoding/json"
	"time"
)

// Stage names. A job moves strictly forward through the non-terminal stages;
// StageError is reachable from any non-terminal stage.
const (
	StageCreated                 = "created"
	StageAudioProcessing         = "audio_processing"
	StageAudioComplete           = "audio_complete"
	StageTranscriptionProcessing = "transcription_processing"
	StageTranscriptionComplete   = "transcription_complete"
	StageVideoProcessing         = "video_processing"
	StageVideoComplete           = "video_complete"
	StageError                   = "error"
)

// IsTerminal reports whether a stage ends the job.
func IsTerminal(stage string) bool {
	return stage == StageVideoComplete || stage == StageError
}

// Request is one generation job's input. Subtitle styling is opaque here and
// passed to the render collaborator unchanged.
type Request struct {
	UserID          string          `json:"user_id"`
	Hook            string          `json:"hook"`
	Script          string          `json:"script"`
	VoiceID         string          `json:"voice_id"`
	CaptionStyle    string          `json:"caption_style"`
	TargetDurationS float64         `json:"target_duration,omitempty"`
	PitchUp         bool            `json:"pitch_up"`
	BackgroundPool  string          `json:"background_pool"`
	Subtitle        json.RawMessage `json:"subtitle,omitempty"`
}

// Event is one immutable status message streamed to the caller as a stage
// completes. Fields beyond Status are stage-specific and omitted when empty.
type Event struct {
	Type             string  `json:"type"`
	JobID            string  `json:"job_id"`
	Status           string  `json:"status"`
	Message          string  `json:"message,omitempty"`
	VideoURL         string  `json:"video_url,omitempty"`
	DurationInFrames int     `json:"duration_in_frames,omitempty"`
	SpeedFactor      float64 `json:"speed_factor,omitempty"`
}

func statusEvent(jobID, status string) Event {
	return Event{Type: "status_update", JobID: jobID, Status: status}
}

// Job is the persisted record of a generation run.
type Job struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Stage           string    `json:"stage"`
	CaptionStyle    string    `json:"caption_style"`
	TargetDurationS float64   `json:"target_duration_s"`
	PitchUp         bool      `json:"pitch_up"`
	VideoURL        string    `json:"video_url,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
