package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/shortcast/shortcast-server/internal/config"
)

// Single-stage atempo is only numerically stable inside this window; factors
// outside it are realised by chaining multiple bounded stages.
const (
	tempoStageMin = 0.5
	tempoStageMax = 2.0
)

// Clamp windows for target-derived speed factors.
const (
	tempoFitMin = 0.8
	tempoFitMax = 2.0
	pitchFitMin = 1.0
	pitchFitMax = 2.0
)

const fallbackSampleRate = 44100

// AudioTool is the subset of Tool the fitter needs. Satisfied by *Tool.
type AudioTool interface {
	Filter(ctx context.Context, inputPath, outputPath, filter string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ProbeSampleRate(ctx context.Context, path string) (int, error)
}

// FitRequest asks for an asset's duration to be fit to a target.
// A zero TargetSeconds means "no target": DefaultSpeed is applied verbatim.
type FitRequest struct {
	Input         Asset
	TargetSeconds float64
	PitchUp       bool
	DefaultSpeed  float64
}

// FitResult carries the fitted asset plus the intermediate files the fit
// produced, so the caller can schedule them for cleanup.
type FitResult struct {
	Output        Asset
	Intermediates []string
	SpeedFactor   float64
	TargetDeltaS  float64
}

// Fitter removes silence from narration audio and applies the speed/pitch
// transform needed to land on a caller-specified target duration.
type Fitter struct {
	tool   AudioTool
	tuning config.AudioTuning
	logger *slog.Logger
}

func NewFitter(tool AudioTool, tuning config.AudioTuning, logger *slog.Logger) *Fitter {
	return &Fitter{tool: tool, tuning: tuning, logger: logger}
}

// Fit runs the full duration-fitting sequence: silence removal, speed factor
// computation, transform, and output re-measurement. A non-zero tool exit
// fails the fit; a duration delta from the target never does.
func (f *Fitter) Fit(ctx context.Context, req FitRequest) (FitResult, error) {
	trimmedPath := derivePath(req.Input.Path, "trimmed")

	if err := f.removeSilence(ctx, req.Input, trimmedPath); err != nil {
		// Silence removal is best-effort: fall back to the untouched input.
		f.logger.Warn("silence removal failed, using raw audio",
			"path", filepath.Base(req.Input.Path), "error", err)
		if err := copyFile(req.Input.Path, trimmedPath); err != nil {
			return FitResult{}, fmt.Errorf("cannot copy input audio: %w", err)
		}
	}

	trimmedDur, err := f.tool.ProbeDuration(ctx, trimmedPath)
	if err != nil {
		return FitResult{}, fmt.Errorf("cannot measure silence-removed audio: %w", err)
	}

	factor, filter, err := f.planTransform(ctx, req, trimmedPath, trimmedDur)
	if err != nil {
		return FitResult{}, err
	}

	fittedPath := derivePath(req.Input.Path, "fitted")
	if filter == "" {
		// Identity transform: the trimmed audio already is the output.
		fittedPath = trimmedPath
	} else if err := f.tool.Filter(ctx, trimmedPath, fittedPath, filter); err != nil {
		return FitResult{}, fmt.Errorf("audio transform failed: %w", err)
	}

	outDur, err := f.tool.ProbeDuration(ctx, fittedPath)
	if err != nil {
		return FitResult{}, fmt.Errorf("cannot measure fitted audio: %w", err)
	}

	result := FitResult{
		Output: Asset{
			Path:            fittedPath,
			DurationSeconds: outDur,
			SampleRateHz:    req.Input.SampleRateHz,
			IsHook:          req.Input.IsHook,
		},
		SpeedFactor: factor,
	}
	if fittedPath != trimmedPath {
		result.Intermediates = append(result.Intermediates, trimmedPath)
	}

	if req.TargetSeconds > 0 {
		result.TargetDeltaS = outDur - req.TargetSeconds
		f.logger.Info("duration fit complete",
			"is_hook", req.Input.IsHook,
			"speed_factor", round3(factor),
			"target_s", req.TargetSeconds,
			"actual_s", round3(outDur),
			"delta_s", round3(result.TargetDeltaS),
		)
	} else {
		f.logger.Info("audio processed",
			"is_hook", req.Input.IsHook,
			"speed_factor", round3(factor),
			"duration_s", round3(outDur),
		)
	}

	return result, nil
}

// planTransform decides the speed factor and the ffmpeg filter realising it.
// An empty filter means no transform is needed.
func (f *Fitter) planTransform(ctx context.Context, req FitRequest, trimmedPath string, trimmedDur float64) (float64, string, error) {
	switch {
	case req.Input.IsHook && req.PitchUp:
		// Hooks are not duration-fitted; they get a fixed stylised pitch boost.
		factor := Clamp(f.tuning.HookPitchFactor, pitchFitMin, pitchFitMax)
		filter, err := f.pitchFilter(ctx, trimmedPath, factor)
		return factor, filter, err

	case req.TargetSeconds <= 0:
		factor := req.DefaultSpeed
		if factor <= 0 {
			factor = f.tuning.DefaultSpeedFactor
		}
		if nearlyEqual(factor, 1.0) {
			return factor, "", nil
		}
		filter, err := tempoFilter(factor)
		return factor, filter, err

	case !req.PitchUp:
		if trimmedDur <= 0 {
			return 0, "", fmt.Errorf("silence-removed audio has zero duration")
		}
		factor := Clamp(trimmedDur/req.TargetSeconds, tempoFitMin, tempoFitMax)
		if nearlyEqual(factor, 1.0) {
			return factor, "", nil
		}
		filter, err := tempoFilter(factor)
		return factor, filter, err

	default:
		if trimmedDur <= 0 {
			return 0, "", fmt.Errorf("silence-removed audio has zero duration")
		}
		factor := Clamp(trimmedDur/req.TargetSeconds, pitchFitMin, pitchFitMax)
		if nearlyEqual(factor, 1.0) {
			return factor, "", nil
		}
		filter, err := f.pitchFilter(ctx, trimmedPath, factor)
		return factor, filter, err
	}
}

func (f *Fitter) removeSilence(ctx context.Context, input Asset, outPath string) error {
	threshold := f.tuning.ScriptSilenceThresholdDB
	if input.IsHook {
		threshold = f.tuning.HookSilenceThresholdDB
	}

	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_duration=0:start_threshold=%.0fdB:stop_periods=-1:stop_duration=%.2f:stop_threshold=%.0fdB",
		threshold, f.tuning.SilenceMinDurationSec, threshold,
	)
	return f.tool.Filter(ctx, input.Path, outPath, filter)
}

// pitchFilter realises a speed factor by resampling, changing pitch and tempo
// together at the resample ratio.
func (f *Fitter) pitchFilter(ctx context.Context, path string, factor float64) (string, error) {
	rate, err := f.tool.ProbeSampleRate(ctx, path)
	if err != nil || rate <= 0 {
		rate = fallbackSampleRate
	}
	raised := int(math.Round(float64(rate) * factor))
	return fmt.Sprintf("asetrate=%d,aresample=%d", raised, rate), nil
}

// tempoFilter builds a chained atempo filter for an arbitrary positive factor.
func tempoFilter(factor float64) (string, error) {
	stages, err := TempoStages(factor)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = fmt.Sprintf("atempo=%.6f", s)
	}
	return strings.Join(parts, ","), nil
}

// TempoStages decomposes a tempo factor into stages that each lie within the
// numerically stable atempo window. The product of the stages equals the
// requested factor.
func TempoStages(factor float64) ([]float64, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("invalid tempo factor %v", factor)
	}

	var stages []float64
	for factor > tempoStageMax {
		stages = append(stages, tempoStageMax)
		factor /= tempoStageMax
	}
	for factor < tempoStageMin {
		stages = append(stages, tempoStageMin)
		factor /= tempoStageMin
	}
	return append(stages, factor), nil
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// derivePath returns a sibling path tagged with a stage suffix:
// /tmp/a/script.mp3 -> /tmp/a/script_trimmed.mp3
func derivePath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + suffix + ext
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
