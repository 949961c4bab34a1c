package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shortcast/shortcast-server/internal/config"
)

type fakeTool struct {
	filters []string

	trimmedDuration float64
	fittedDuration  float64
	sampleRate      int

	failSilenceRemove bool
	failTransform     bool
}

func (f *fakeTool) Filter(ctx context.Context, inputPath, outputPath, filter string) error {
	if f.failSilenceRemove && strings.Contains(filter, "silenceremove") {
		return &ToolError{Tool: "ffmpeg", ExitCode: 1, StderrTail: "injected silenceremove failure"}
	}
	if f.failTransform && !strings.Contains(filter, "silenceremove") {
		return &ToolError{Tool: "ffmpeg", ExitCode: 1, StderrTail: "injected transform failure"}
	}
	f.filters = append(f.filters, filter)
	return os.WriteFile(outputPath, []byte("audio"), 0644)
}

func (f *fakeTool) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if strings.Contains(path, "_fitted") {
		return f.fittedDuration, nil
	}
	return f.trimmedDuration, nil
}

func (f *fakeTool) ProbeSampleRate(ctx context.Context, path string) (int, error) {
	if f.sampleRate == 0 {
		return 0, errors.New("no audio stream")
	}
	return f.sampleRate, nil
}

func (f *fakeTool) lastFilter() string {
	if len(f.filters) == 0 {
		return ""
	}
	return f.filters[len(f.filters)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFitter(tool AudioTool) *Fitter {
	return NewFitter(tool, config.DefaultTuning().Audio, testLogger())
}

func writeInput(t *testing.T, name string) Asset {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("raw"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return Asset{Path: path, DurationSeconds: 60}
}

func TestTempoStages(t *testing.T) {
	tests := []struct {
		name   string
		factor float64
	}{
		{name: "identity", factor: 1.0},
		{name: "in window", factor: 1.7},
		{name: "above window", factor: 3.5},
		{name: "far above window", factor: 9.0},
		{name: "below window", factor: 0.3},
		{name: "far below window", factor: 0.1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stages, err := TempoStages(tc.factor)
			if err != nil {
				t.Fatalf("TempoStages(%v) error = %v", tc.factor, err)
			}

			product := 1.0
			for _, s := range stages {
				if s < tempoStageMin-1e-9 || s > tempoStageMax+1e-9 {
					t.Errorf("stage %v outside [%v, %v]", s, tempoStageMin, tempoStageMax)
				}
				product *= s
			}
			if math.Abs(product-tc.factor) > 1e-9 {
				t.Errorf("stage product = %v, want %v", product, tc.factor)
			}
		})
	}
}

func TestTempoStages_RejectsInvalid(t *testing.T) {
	for _, factor := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := TempoStages(factor); err == nil {
			t.Errorf("TempoStages(%v) expected error", factor)
		}
	}
}

func TestFit_TargetTempoOnly_ClampsHigh(t *testing.T) {
	// 50s of speech into a 10s target would need 5x; tempo mode clamps to 2.0.
	tool := &fakeTool{trimmedDuration: 50, fittedDuration: 25}
	fitter := newTestFitter(tool)

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:         writeInput(t, "script.mp3"),
		TargetSeconds: 10,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if result.SpeedFactor != tempoFitMax {
		t.Errorf("SpeedFactor = %v, want clamped %v", result.SpeedFactor, tempoFitMax)
	}
	if !strings.Contains(tool.lastFilter(), "atempo=2.000000") {
		t.Errorf("filter = %q, want single atempo=2.0 stage", tool.lastFilter())
	}
}

func TestFit_TargetTempoOnly_ClampsLow(t *testing.T) {
	// 5s of speech into a 10s target would need 0.5x; tempo mode clamps to 0.8.
	tool := &fakeTool{trimmedDuration: 5, fittedDuration: 6.25}
	fitter := newTestFitter(tool)

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:         writeInput(t, "script.mp3"),
		TargetSeconds: 10,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if result.SpeedFactor != tempoFitMin {
		t.Errorf("SpeedFactor = %v, want clamped %v", result.SpeedFactor, tempoFitMin)
	}
	if !strings.Contains(tool.lastFilter(), "atempo=0.800000") {
		t.Errorf("filter = %q, want atempo=0.8", tool.lastFilter())
	}
}

func TestFit_TargetPitchMode_ResamplesAtRatio(t *testing.T) {
	// 15s into 10s = 1.5x realised through asetrate/aresample.
	tool := &fakeTool{trimmedDuration: 15, fittedDuration: 10, sampleRate: 44100}
	fitter := newTestFitter(tool)

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:         writeInput(t, "script.mp3"),
		TargetSeconds: 10,
		PitchUp:       true,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if result.SpeedFactor != 1.5 {
		t.Errorf("SpeedFactor = %v, want 1.5", result.SpeedFactor)
	}
	if got := tool.lastFilter(); got != "asetrate=66150,aresample=44100" {
		t.Errorf("filter = %q, want asetrate=66150,aresample=44100", got)
	}
}

func TestFit_TargetPitchMode_ClampsToUnity(t *testing.T) {
	// 5s into 10s would need 0.5x; pitch mode clamps up to 1.0 = identity.
	tool := &fakeTool{trimmedDuration: 5, fittedDuration: 5, sampleRate: 44100}
	fitter := newTestFitter(tool)

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:         writeInput(t, "script.mp3"),
		TargetSeconds: 10,
		PitchUp:       true,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if result.SpeedFactor != pitchFitMin {
		t.Errorf("SpeedFactor = %v, want clamped %v", result.SpeedFactor, pitchFitMin)
	}
	// Identity: only the silenceremove filter ran.
	if len(tool.filters) != 1 {
		t.Errorf("filters run = %d, want 1 (silence removal only)", len(tool.filters))
	}
}

func TestFit_HookPitchUp_UsesFixedFactor(t *testing.T) {
	tool := &fakeTool{trimmedDuration: 8, fittedDuration: 6, sampleRate: 48000}
	fitter := newTestFitter(tool)

	input := writeInput(t, "hook.mp3")
	input.IsHook = true

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:   input,
		PitchUp: true,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	want := config.DefaultTuning().Audio.HookPitchFactor
	if result.SpeedFactor != want {
		t.Errorf("SpeedFactor = %v, want hook pitch factor %v", result.SpeedFactor, want)
	}
	if !strings.HasPrefix(tool.lastFilter(), "asetrate=") {
		t.Errorf("filter = %q, want resample-based pitch filter", tool.lastFilter())
	}
}

func TestFit_NoTarget_ChainsOutOfWindowFactor(t *testing.T) {
	tool := &fakeTool{trimmedDuration: 30, fittedDuration: 10}
	fitter := newTestFitter(tool)

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:        writeInput(t, "script.mp3"),
		DefaultSpeed: 3.0,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if result.SpeedFactor != 3.0 {
		t.Errorf("SpeedFactor = %v, want 3.0 applied verbatim", result.SpeedFactor)
	}
	if got := tool.lastFilter(); got != "atempo=2.000000,atempo=1.500000" {
		t.Errorf("filter = %q, want chained atempo stages", got)
	}
}

func TestFit_SilenceRemovalFailure_FallsBackToRawCopy(t *testing.T) {
	tool := &fakeTool{trimmedDuration: 20, fittedDuration: 10, failSilenceRemove: true}
	fitter := newTestFitter(tool)

	input := writeInput(t, "script.mp3")
	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:         input,
		TargetSeconds: 10,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v, silence removal failure must not abort", err)
	}

	trimmedPath := derivePath(input.Path, "trimmed")
	if _, statErr := os.Stat(trimmedPath); statErr != nil {
		t.Errorf("expected raw copy at %s: %v", trimmedPath, statErr)
	}
	if result.SpeedFactor != 2.0 {
		t.Errorf("SpeedFactor = %v, want 2.0", result.SpeedFactor)
	}
}

func TestFit_TransformFailure_SurfacesToolError(t *testing.T) {
	tool := &fakeTool{trimmedDuration: 50, fittedDuration: 0, failTransform: true}
	fitter := newTestFitter(tool)

	_, err := fitter.Fit(context.Background(), FitRequest{
		Input:         writeInput(t, "script.mp3"),
		TargetSeconds: 10,
	})
	if err == nil {
		t.Fatal("expected error from failing transform")
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error = %v, want *ToolError in chain", err)
	}
}

func TestFit_ReportsTargetDelta(t *testing.T) {
	tool := &fakeTool{trimmedDuration: 20, fittedDuration: 10.4}
	fitter := newTestFitter(tool)

	result, err := fitter.Fit(context.Background(), FitRequest{
		Input:         writeInput(t, "script.mp3"),
		TargetSeconds: 10,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if math.Abs(result.TargetDeltaS-0.4) > 1e-9 {
		t.Errorf("TargetDeltaS = %v, want 0.4", result.TargetDeltaS)
	}
}

func TestSecondsToFrames(t *testing.T) {
	tests := []struct {
		seconds float64
		want    int
	}{
		{seconds: 0, want: 0},
		{seconds: 1, want: 30},
		{seconds: 1.5, want: 45},
		{seconds: 0.016, want: 0},
		{seconds: 0.017, want: 1},
		{seconds: 55, want: 1650},
	}
	for _, tc := range tests {
		if got := SecondsToFrames(tc.seconds); got != tc.want {
			t.Errorf("SecondsToFrames(%v) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}
