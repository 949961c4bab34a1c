package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds pipeline parameters that operators adjust per deployment.
// Values come from an optional YAML file; missing fields keep their defaults.
type Tuning struct {
	Audio    AudioTuning    `yaml:"audio"`
	Captions CaptionsTuning `yaml:"captions"`
}

type AudioTuning struct {
	// Silence gate thresholds. Hook audio is gated slightly harder than
	// script audio so the punchy opening has no dead air at all.
	HookSilenceThresholdDB   float64 `yaml:"hook_silence_threshold_db"`
	ScriptSilenceThresholdDB float64 `yaml:"script_silence_threshold_db"`
	SilenceMinDurationSec    float64 `yaml:"silence_min_duration_sec"`

	// Empirically tuned pitch boost for hook narration under pitch-up mode.
	// Hooks are never duration-fitted, so this is a style knob, not a fit.
	HookPitchFactor float64 `yaml:"hook_pitch_factor"`

	// Tempo applied when no target duration is requested.
	DefaultSpeedFactor float64 `yaml:"default_speed_factor"`
}

type CaptionsTuning struct {
	MaxAudioBytes    int64    `yaml:"max_audio_bytes"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	RetryDelaySec    float64  `yaml:"retry_delay_sec"`
	STTModels        []string `yaml:"stt_models"`
	ClassifierModels []string `yaml:"classifier_models"`
}

// DefaultTuning returns production defaults for all pipeline parameters.
func DefaultTuning() Tuning {
	return Tuning{
		Audio: AudioTuning{
			HookSilenceThresholdDB:   -40,
			ScriptSilenceThresholdDB: -45,
			SilenceMinDurationSec:    0.3,
			HookPitchFactor:          1.35,
			DefaultSpeedFactor:       1.0,
		},
		Captions: CaptionsTuning{
			MaxAudioBytes:    25 * 1024 * 1024,
			RetryAttempts:    3,
			RetryDelaySec:    2,
			STTModels:        []string{"whisper-1"},
			ClassifierModels: []string{"gpt-4o-mini", "gpt-4o"},
		},
	}
}

// RetryDelay returns the fixed inter-attempt delay for external service retries.
func (t CaptionsTuning) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelaySec * float64(time.Second))
}

// LoadTuning reads a YAML tuning file, layering it over the defaults.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()

	data, err := os.ReadFile(path)
	if err != nil {
		return tuning, fmt.Errorf("cannot read tuning file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return tuning, fmt.Errorf("cannot parse tuning file %s: %w", path, err)
	}

	if err := tuning.validate(); err != nil {
		return tuning, fmt.Errorf("invalid tuning file %s: %w", path, err)
	}

	return tuning, nil
}

func (t Tuning) validate() error {
	if t.Audio.HookPitchFactor < 1.0 || t.Audio.HookPitchFactor > 2.0 {
		return fmt.Errorf("audio.hook_pitch_factor %.2f outside [1.0, 2.0]", t.Audio.HookPitchFactor)
	}
	if t.Audio.DefaultSpeedFactor <= 0 {
		return fmt.Errorf("audio.default_speed_factor must be positive")
	}
	if t.Captions.RetryAttempts < 1 {
		return fmt.Errorf("captions.retry_attempts must be at least 1")
	}
	if len(t.Captions.STTModels) == 0 {
		return fmt.Errorf("captions.stt_models must not be empty")
	}
	if len(t.Captions.ClassifierModels) == 0 {
		return fmt.Errorf("captions.classifier_models must not be empty")
	}
	return nil
}
