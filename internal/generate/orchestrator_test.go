package generate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shortcast/shortcast-server/internal/background"
	"github.com/shortcast/shortcast-server/internal/captions"
	"github.com/shortcast/shortcast-server/internal/media"
	"github.com/shortcast/shortcast-server/internal/render"
)

type fakeSynth struct {
	texts []string
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text, _ string, outPath string) error {
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return os.WriteFile(outPath, []byte("audio"), 0644)
}

// fakeFitter simulates duration fitting: hooks come out at hookDuration,
// scripts land close to their target. It creates real files so cleanup
// behavior is observable.
type fakeFitter struct {
	requests     []media.FitRequest
	hookDuration float64
	scriptSlop   float64
	failScript   bool

	created []string
}

func (f *fakeFitter) Fit(_ context.Context, req media.FitRequest) (media.FitResult, error) {
	f.requests = append(f.requests, req)

	if f.failScript && !req.Input.IsHook {
		return media.FitResult{}, &media.ToolError{Tool: "ffmpeg", ExitCode: 1, StderrTail: "boom"}
	}

	ext := filepath.Ext(req.Input.Path)
	base := strings.TrimSuffix(req.Input.Path, ext)
	trimmed := base + "_trimmed" + ext
	fitted := base + "_fitted" + ext
	for _, p := range []string{trimmed, fitted} {
		if err := os.WriteFile(p, []byte("audio"), 0644); err != nil {
			return media.FitResult{}, err
		}
		f.created = append(f.created, p)
	}

	duration := f.hookDuration
	if !req.Input.IsHook {
		duration = req.TargetSeconds + f.scriptSlop
		if req.TargetSeconds == 0 {
			duration = 50
		}
	}
	return media.FitResult{
		Output:        media.Asset{Path: fitted, DurationSeconds: duration, IsHook: req.Input.IsHook},
		Intermediates: []string{trimmed},
		SpeedFactor:   1.2,
	}, nil
}

type fakeTimer struct{}

func (fakeTimer) Transcribe(_ context.Context, audio media.Asset, style captions.Style, text string) []captions.WordTiming {
	return captions.FallbackTimings(text, style, audio.DurationFrames())
}

type fakeClassifier struct{ assignments []captions.ColorAssignment }

func (f *fakeClassifier) Classify(context.Context, string, captions.Style) []captions.ColorAssignment {
	return f.assignments
}

type fakeSequencer struct{ err error }

func (f *fakeSequencer) Build(_ context.Context, pool []string, requiredSeconds float64) (*background.Sequence, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &background.Sequence{
		Clips:                 []background.Clip{{URL: pool[0], DurationInFrames: 1800, DurationInSeconds: 60}},
		TotalDurationInFrames: media.SecondsToFrames(requiredSeconds) + 10,
	}, nil
}

type fakeRenderer struct{ inputs []render.Input }

func (f *fakeRenderer) Render(_ context.Context, input render.Input, outPath string) error {
	f.inputs = append(f.inputs, input)
	return os.WriteFile(outPath, []byte("video"), 0644)
}

type fakeStore struct{ uploads []string }

func (f *fakeStore) UploadFile(_ context.Context, _ string, objectPath string) (string, error) {
	f.uploads = append(f.uploads, objectPath)
	return "https://cdn.example.com/" + objectPath, nil
}

type fakeJobs struct {
	mu     sync.Mutex
	stages []string
	errMsg string
}

func (f *fakeJobs) Create(context.Context, *Job) error { return nil }

func (f *fakeJobs) SetStage(_ context.Context, _, stage, _, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	if errMessage != "" {
		f.errMsg = errMessage
	}
	return nil
}

type testHarness struct {
	orch   *Orchestrator
	synth  *fakeSynth
	fitter *fakeFitter
	render *fakeRenderer
	store  *fakeStore
	jobs   *fakeJobs
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		synth:  &fakeSynth{},
		fitter: &fakeFitter{hookDuration: 10, scriptSlop: 0.3},
		render: &fakeRenderer{},
		store:  &fakeStore{},
		jobs:   &fakeJobs{},
	}
	h.orch = NewOrchestrator(Deps{
		Synthesizer: h.synth,
		Fitter:      h.fitter,
		Timer:       fakeTimer{},
		Classifier:  &fakeClassifier{},
		Sequencer:   &fakeSequencer{},
		Renderer:    h.render,
		Store:       h.store,
		Jobs:        h.jobs,
		TempDir:     t.TempDir(),
		ResolvePool: func(string) ([]string, error) {
			return []string{"pool/clip1.mp4"}, nil
		},
	}, slog.Default())
	return h
}

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func statuses(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}

func TestRunEmitsStagesInOrder(t *testing.T) {
	h := newHarness(t)

	events := collect(h.orch.Run(context.Background(), Request{
		UserID:          "u1",
		Hook:            "wait for it",
		Script:          "here is the whole story told at length",
		VoiceID:         "voice-a",
		CaptionStyle:    "single",
		TargetDurationS: 55,
		BackgroundPool:  "minecraft",
	}))

	want := []string{
		StageAudioProcessing,
		StageAudioComplete,
		StageTranscriptionProcessing,
		StageTranscriptionComplete,
		StageVideoProcessing,
		StageVideoComplete,
	}
	got := statuses(events)
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}

	final := events[len(events)-1]
	if final.VideoURL == "" {
		t.Fatal("expected video URL on terminal event")
	}
	if final.DurationInFrames <= 0 {
		t.Fatal("expected positive duration on terminal event")
	}
	if events[1].SpeedFactor != 1.2 {
		t.Fatalf("expected speed factor on audio_complete, got %v", events[1].SpeedFactor)
	}
}

func TestRunScriptTargetSubtractsFittedHook(t *testing.T) {
	h := newHarness(t)

	collect(h.orch.Run(context.Background(), Request{
		Hook:            "hook line",
		Script:          "script body",
		VoiceID:         "voice-a",
		TargetDurationS: 55,
		BackgroundPool:  "minecraft",
	}))

	if len(h.fitter.requests) != 2 {
		t.Fatalf("expected 2 fit requests, got %d", len(h.fitter.requests))
	}
	hookReq, scriptReq := h.fitter.requests[0], h.fitter.requests[1]
	if !hookReq.Input.IsHook {
		t.Fatal("expected hook fitted first")
	}
	if hookReq.TargetSeconds != 0 {
		t.Fatalf("hooks must not be duration-fitted, got target %v", hookReq.TargetSeconds)
	}
	if scriptReq.TargetSeconds != 45 {
		t.Fatalf("expected script target 55 - 10 = 45, got %v", scriptReq.TargetSeconds)
	}
}

func TestRunFittedScriptNearTarget(t *testing.T) {
	h := newHarness(t)

	events := collect(h.orch.Run(context.Background(), Request{
		Hook:            "ten second hook",
		Script:          "fifty second script",
		VoiceID:         "voice-a",
		TargetDurationS: 55,
		BackgroundPool:  "minecraft",
	}))
	if statuses(events)[len(events)-1] != StageVideoComplete {
		t.Fatalf("expected success, got %v", statuses(events))
	}

	// Total = hook (10s) + script fitted to 45s within the fake's slop.
	gotFrames := events[len(events)-1].DurationInFrames
	wantFrames := media.SecondsToFrames(10 + 45 + h.fitter.scriptSlop)
	if gotFrames != wantFrames {
		t.Fatalf("expected %d frames, got %d", wantFrames, gotFrames)
	}
	if delta := (10 + 45.3) - 55; delta > 1 || delta < -1 {
		t.Fatalf("fitted total drifted past tolerance: %v", delta)
	}
}

func TestRunToolFailureEmitsSingleErrorAndCleansUp(t *testing.T) {
	h := newHarness(t)
	h.fitter.failScript = true

	events := collect(h.orch.Run(context.Background(), Request{
		Hook:           "hook",
		Script:         "script",
		VoiceID:        "voice-a",
		BackgroundPool: "minecraft",
	}))

	var errorCount int
	for _, ev := range events {
		if ev.Status == StageError {
			errorCount++
			if ev.Message == "" {
				t.Fatal("expected error event to carry a message")
			}
		}
	}
	if errorCount != 1 {
		t.Fatalf("expected exactly one error event, got %d (%v)", errorCount, statuses(events))
	}
	if events[len(events)-1].Status != StageError {
		t.Fatal("expected error event to terminate the stream")
	}

	for _, p := range h.fitter.created {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s cleaned up after failure", p)
		}
	}
}

func TestRunSuccessLeavesNoTempFiles(t *testing.T) {
	h := newHarness(t)

	events := collect(h.orch.Run(context.Background(), Request{
		Script:         "only a script here",
		VoiceID:        "voice-a",
		BackgroundPool: "minecraft",
	}))
	if events[len(events)-1].Status != StageVideoComplete {
		t.Fatalf("expected success, got %v", statuses(events))
	}

	for _, p := range h.fitter.created {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s cleaned up after success", p)
		}
	}
}

func TestRunVideoUploadedBeforeLocalCleanup(t *testing.T) {
	h := newHarness(t)

	collect(h.orch.Run(context.Background(), Request{
		Script:         "script",
		VoiceID:        "voice-a",
		BackgroundPool: "minecraft",
	}))

	if len(h.store.uploads) == 0 {
		t.Fatal("expected uploads")
	}
	last := h.store.uploads[len(h.store.uploads)-1]
	if !strings.HasSuffix(last, "/output.mp4") {
		t.Fatalf("expected video uploaded last, got %v", h.store.uploads)
	}
}

func TestRunWithoutHookSkipsHookStages(t *testing.T) {
	h := newHarness(t)

	events := collect(h.orch.Run(context.Background(), Request{
		Script:         "script without a hook",
		VoiceID:        "voice-a",
		BackgroundPool: "minecraft",
	}))
	if events[len(events)-1].Status != StageVideoComplete {
		t.Fatalf("expected success, got %v", statuses(events))
	}

	if len(h.fitter.requests) != 1 {
		t.Fatalf("expected a single fit request, got %d", len(h.fitter.requests))
	}
	if len(h.render.inputs) != 1 || h.render.inputs[0].HookAudioURL != "" {
		t.Fatal("expected empty hook audio URL in render input")
	}
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"missing script", Request{VoiceID: "v", BackgroundPool: "p"}},
		{"missing voice", Request{Script: "s", BackgroundPool: "p"}},
		{"negative target", Request{Script: "s", VoiceID: "v", TargetDurationS: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			events := collect(h.orch.Run(context.Background(), tt.req))
			if len(events) != 1 || events[0].Status != StageError {
				t.Fatalf("expected single error event, got %v", statuses(events))
			}
		})
	}
}

func TestRunHookLongerThanTargetFails(t *testing.T) {
	h := newHarness(t)
	h.fitter.hookDuration = 20

	events := collect(h.orch.Run(context.Background(), Request{
		Hook:            "very long hook",
		Script:          "script",
		VoiceID:         "voice-a",
		TargetDurationS: 15,
		BackgroundPool:  "minecraft",
	}))
	last := events[len(events)-1]
	if last.Status != StageError {
		t.Fatalf("expected error, got %v", statuses(events))
	}
	if !strings.Contains(last.Message, "target") {
		t.Fatalf("expected target-related message, got %q", last.Message)
	}
}

func TestRunSequencerFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.orch.deps.Sequencer = &fakeSequencer{err: fmt.Errorf("pool unusable")}

	events := collect(h.orch.Run(context.Background(), Request{
		Script:         "script",
		VoiceID:        "voice-a",
		BackgroundPool: "minecraft",
	}))
	got := statuses(events)
	if got[len(got)-1] != StageError {
		t.Fatalf("expected error terminal, got %v", got)
	}
	// video_processing was entered before the failure.
	if got[len(got)-2] != StageVideoProcessing {
		t.Fatalf("expected failure inside video_processing, got %v", got)
	}
}

func TestRunPersistsStages(t *testing.T) {
	h := newHarness(t)

	collect(h.orch.Run(context.Background(), Request{
		Script:         "script",
		VoiceID:        "voice-a",
		BackgroundPool: "minecraft",
	}))

	want := []string{
		StageAudioProcessing, StageAudioComplete,
		StageTranscriptionProcessing, StageTranscriptionComplete,
		StageVideoProcessing, StageVideoComplete,
	}
	if len(h.jobs.stages) != len(want) {
		t.Fatalf("expected %d persisted stages, got %v", len(want), h.jobs.stages)
	}
	for i := range want {
		if h.jobs.stages[i] != want[i] {
			t.Fatalf("persisted stage %d: expected %s, got %s", i, want[i], h.jobs.stages[i])
		}
	}
}
