package api

import (
	"time"

	"github.com/shortcast/shortcast-server/internal/generate"
	"github.com/shortcast/shortcast-server/internal/settings"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string              `json:"state"`
	JobsRunning int                 `json:"jobs_running"`
	LastError   string              `json:"last_error,omitempty"`
	Tools       *ToolStatusResponse `json:"tools,omitempty"`
}

type ToolStatusResponse struct {
	HasFFmpeg      bool   `json:"has_ffmpeg"`
	HasFFprobe     bool   `json:"has_ffprobe"`
	FFmpegVersion  string `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type JobResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id,omitempty"`
	Stage           string  `json:"stage"`
	CaptionStyle    string  `json:"caption_style"`
	TargetDurationS float64 `json:"target_duration_s,omitempty"`
	PitchUp         bool    `json:"pitch_up"`
	VideoURL        string  `json:"video_url,omitempty"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

func JobToResponse(j *generate.Job) JobResponse {
	return JobResponse{
		ID:              j.ID,
		UserID:          j.UserID,
		Stage:           j.Stage,
		CaptionStyle:    j.CaptionStyle,
		TargetDurationS: j.TargetDurationS,
		PitchUp:         j.PitchUp,
		VideoURL:        j.VideoURL,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	}
}

type SettingsRequest struct {
	VoiceID        string `json:"voice_id"`
	CaptionStyle   string `json:"caption_style"`
	PitchUp        bool   `json:"pitch_up"`
	BackgroundPool string `json:"background_pool"`
	SubtitleSize   int    `json:"subtitle_size"`
	SubtitleStroke string `json:"subtitle_stroke"`
}

func (r SettingsRequest) ToSettings(userID string) *settings.Settings {
	return &settings.Settings{
		UserID:         userID,
		VoiceID:        r.VoiceID,
		CaptionStyle:   r.CaptionStyle,
		PitchUp:        r.PitchUp,
		BackgroundPool: r.BackgroundPool,
		SubtitleSize:   r.SubtitleSize,
		SubtitleStroke: r.SubtitleStroke,
	}
}
