package generate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/shortcast/shortcast-server/internal/background"
	"github.com/shortcast/shortcast-server/internal/captions"
	"github.com/shortcast/shortcast-server/internal/logging"
	"github.com/shortcast/shortcast-server/internal/media"
	"github.com/shortcast/shortcast-server/internal/render"
)

// Collaborator contracts the orchestrator drives. Each is satisfied by the
// corresponding production client and by a fake in tests.

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, outPath string) error
}

type AudioFitter interface {
	Fit(ctx context.Context, req media.FitRequest) (media.FitResult, error)
}

type WordTimer interface {
	Transcribe(ctx context.Context, audio media.Asset, style captions.Style, sourceText string) []captions.WordTiming
}

type ColorClassifier interface {
	Classify(ctx context.Context, text string, style captions.Style) []captions.ColorAssignment
}

type BackgroundSequencer interface {
	Build(ctx context.Context, pool []string, requiredSeconds float64) (*background.Sequence, error)
}

type Renderer interface {
	Render(ctx context.Context, input render.Input, outPath string) error
}

type ObjectStore interface {
	UploadFile(ctx context.Context, filePath, objectPath string) (string, error)
}

type JobStore interface {
	Create(ctx context.Context, job *Job) error
	SetStage(ctx context.Context, jobID, stage, videoURL, errMessage string) error
}

// Deps bundles everything one orchestrator run needs.
type Deps struct {
	Synthesizer Synthesizer
	Fitter      AudioFitter
	Timer       WordTimer
	Classifier  ColorClassifier
	Sequencer   BackgroundSequencer
	Renderer    Renderer
	Store       ObjectStore
	Jobs        JobStore

	TempDir        string
	BackgroundsDir string
	// ResolvePool maps a pool identifier to clip paths. Defaults to scanning
	// BackgroundsDir when nil.
	ResolvePool func(poolID string) ([]string, error)
}

// Orchestrator runs generation jobs. One job is one sequential control flow;
// concurrent jobs share nothing but the injected collaborators.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

func NewOrchestrator(deps Deps, logger *slog.Logger) *Orchestrator {
	if deps.ResolvePool == nil {
		dir := deps.BackgroundsDir
		deps.ResolvePool = func(poolID string) ([]string, error) {
			return background.ResolvePool(dir, poolID)
		}
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Run starts a job and returns the channel its status events are emitted on.
// The channel is closed after the terminal event. Events are produced
// synchronously as each stage completes, so their order is the pipeline
// order; a started job always reaches exactly one terminal event.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 8)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

// job carries the per-run mutable state. Nothing outside the orchestrator
// ever sees it; the persisted Job record is derived from it.
type job struct {
	id      string
	req     Request
	style   captions.Style
	workDir string

	// cleanupList holds every temp path the job has created and not yet
	// deleted. Deletion is best-effort and logged only.
	cleanupList map[string]struct{}

	hookAudio   media.Asset
	scriptAudio media.Asset
	speedFactor float64
	hookWords   []captions.WordTiming
	scriptWords []captions.WordTiming

	videoURL    string
	totalFrames int
}

func (j *job) track(paths ...string) {
	for _, p := range paths {
		if p != "" {
			j.cleanupList[p] = struct{}{}
		}
	}
}

// discard removes a superseded intermediate right away and drops it from the
// cleanup list.
func (j *job) discard(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		delete(j.cleanupList, p)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove intermediate file", "path", filepath.Base(p), "error", err)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	jobID := uuid.New().String()
	logger := logging.WithJobID(o.logger, jobID)
	if req.UserID != "" {
		logger = logging.WithUserID(logger, req.UserID)
	}

	j := &job{
		id:          jobID,
		req:         req,
		style:       captions.ParseStyle(req.CaptionStyle),
		workDir:     filepath.Join(o.deps.TempDir, jobID),
		cleanupList: make(map[string]struct{}),
	}

	if err := o.deps.Jobs.Create(ctx, &Job{
		ID: jobID, UserID: req.UserID, Stage: StageCreated,
		CaptionStyle: string(j.style), TargetDurationS: req.TargetDurationS, PitchUp: req.PitchUp,
	}); err != nil {
		logger.Warn("failed to persist job record", "error", err)
	}

	if err := validateRequest(req); err != nil {
		o.fail(ctx, j, events, logger, err)
		return
	}

	if err := os.MkdirAll(j.workDir, 0755); err != nil {
		o.fail(ctx, j, events, logger, fmt.Errorf("cannot create work directory: %w", err))
		return
	}
	defer os.RemoveAll(j.workDir)

	stages := []struct {
		enter string
		done  string
		fn    func(context.Context, *job, *slog.Logger) error
	}{
		{StageAudioProcessing, StageAudioComplete, o.processAudio},
		{StageTranscriptionProcessing, StageTranscriptionComplete, o.processTranscription},
		{StageVideoProcessing, "", o.processVideo},
	}

	for _, s := range stages {
		o.transition(ctx, j.id, s.enter, events, logger)
		if err := s.fn(ctx, j, logger); err != nil {
			o.fail(ctx, j, events, logger, err)
			return
		}
		if s.done != "" {
			ev := statusEvent(j.id, s.done)
			if s.done == StageAudioComplete {
				ev.SpeedFactor = j.speedFactor
			}
			o.persistAndEmit(ctx, ev, events, logger)
		}
	}

	if err := o.deps.Jobs.SetStage(ctx, j.id, StageVideoComplete, j.videoURL, ""); err != nil {
		logger.Warn("failed to persist terminal stage", "error", err)
	}
	final := statusEvent(j.id, StageVideoComplete)
	final.VideoURL = j.videoURL
	final.DurationInFrames = j.totalFrames
	events <- final

	o.cleanup(j, logger)
	logger.Info("job complete", "video_url", j.videoURL, "duration_frames", j.totalFrames)
}

func validateRequest(req Request) error {
	if req.Script == "" {
		return fmt.Errorf("script text is required")
	}
	if req.VoiceID == "" {
		return fmt.Errorf("voice id is required")
	}
	if req.TargetDurationS < 0 {
		return fmt.Errorf("target duration cannot be negative")
	}
	return nil
}

// processAudio synthesizes narration and fits it to the requested duration.
// The hook is never duration-fitted; the script's target is whatever remains
// of the total target after the fitted hook.
func (o *Orchestrator) processAudio(ctx context.Context, j *job, logger *slog.Logger) error {
	var hookFitted media.FitResult
	if j.req.Hook != "" {
		rawPath := filepath.Join(j.workDir, "hook.mp3")
		if err := o.deps.Synthesizer.Synthesize(ctx, j.req.Hook, j.req.VoiceID, rawPath); err != nil {
			return fmt.Errorf("hook speech synthesis failed: %w", err)
		}
		j.track(rawPath)

		fitted, err := o.deps.Fitter.Fit(ctx, media.FitRequest{
			Input:   media.Asset{Path: rawPath, IsHook: true},
			PitchUp: j.req.PitchUp,
		})
		if err != nil {
			return fmt.Errorf("hook audio processing failed: %w", err)
		}
		j.track(fitted.Output.Path)
		j.track(fitted.Intermediates...)
		j.discard(logger, rawPath)
		j.discard(logger, fitted.Intermediates...)
		hookFitted = fitted
		j.hookAudio = fitted.Output
	}

	scriptRaw := filepath.Join(j.workDir, "script.mp3")
	if err := o.deps.Synthesizer.Synthesize(ctx, j.req.Script, j.req.VoiceID, scriptRaw); err != nil {
		return fmt.Errorf("script speech synthesis failed: %w", err)
	}
	j.track(scriptRaw)

	scriptTarget := 0.0
	if j.req.TargetDurationS > 0 {
		scriptTarget = j.req.TargetDurationS - hookFitted.Output.DurationSeconds
		if scriptTarget <= 0 {
			return fmt.Errorf("hook narration alone exceeds the %0.1fs target", j.req.TargetDurationS)
		}
	}

	fitted, err := o.deps.Fitter.Fit(ctx, media.FitRequest{
		Input:         media.Asset{Path: scriptRaw},
		TargetSeconds: scriptTarget,
		PitchUp:       j.req.PitchUp,
	})
	if err != nil {
		return fmt.Errorf("script audio processing failed: %w", err)
	}
	j.track(fitted.Output.Path)
	j.track(fitted.Intermediates...)
	j.discard(logger, scriptRaw)
	j.discard(logger, fitted.Intermediates...)

	j.scriptAudio = fitted.Output
	j.speedFactor = fitted.SpeedFactor
	return nil
}

// processTranscription obtains word timings for both narrations and colors
// them. Neither call can fail the job: timing degrades to the deterministic
// fallback and classification degrades to all-white.
func (o *Orchestrator) processTranscription(ctx context.Context, j *job, logger *slog.Logger) error {
	if j.hookAudio.Path != "" {
		words := o.deps.Timer.Transcribe(ctx, j.hookAudio, j.style, j.req.Hook)
		colors := o.deps.Classifier.Classify(ctx, j.req.Hook, j.style)
		j.hookWords = captions.ApplyColors(words, colors)
	}

	words := o.deps.Timer.Transcribe(ctx, j.scriptAudio, j.style, j.req.Script)
	colors := o.deps.Classifier.Classify(ctx, j.req.Script, j.style)
	j.scriptWords = captions.ApplyColors(words, colors)

	logger.Info("word timings ready",
		"hook_words", len(j.hookWords),
		"script_words", len(j.scriptWords),
	)
	return nil
}

// processVideo uploads the fitted audio, builds the background sequence,
// renders and durably persists the final video. The local render output is
// removed only after the upload has succeeded.
func (o *Orchestrator) processVideo(ctx context.Context, j *job, logger *slog.Logger) error {
	var hookURL string
	if j.hookAudio.Path != "" {
		url, err := o.deps.Store.UploadFile(ctx, j.hookAudio.Path, objectPath(j.id, "hook.mp3"))
		if err != nil {
			return fmt.Errorf("hook audio upload failed: %w", err)
		}
		hookURL = url
		j.discard(logger, j.hookAudio.Path)
	}

	scriptURL, err := o.deps.Store.UploadFile(ctx, j.scriptAudio.Path, objectPath(j.id, "script.mp3"))
	if err != nil {
		return fmt.Errorf("script audio upload failed: %w", err)
	}
	j.discard(logger, j.scriptAudio.Path)

	totalSeconds := j.hookAudio.DurationSeconds + j.scriptAudio.DurationSeconds

	pool, err := o.deps.ResolvePool(j.req.BackgroundPool)
	if err != nil {
		return fmt.Errorf("cannot resolve background pool %q: %w", j.req.BackgroundPool, err)
	}
	sequence, err := o.deps.Sequencer.Build(ctx, pool, totalSeconds)
	if err != nil {
		return fmt.Errorf("background sequencing failed: %w", err)
	}

	j.totalFrames = media.SecondsToFrames(totalSeconds)
	videoPath := filepath.Join(j.workDir, "output.mp4")
	j.track(videoPath)

	input := render.Input{
		HookAudioURL:     hookURL,
		ScriptAudioURL:   scriptURL,
		HookWords:        j.hookWords,
		ScriptWords:      j.scriptWords,
		Background:       *sequence,
		DurationInFrames: j.totalFrames,
		Subtitle:         j.req.Subtitle,
	}
	if err := o.deps.Renderer.Render(ctx, input, videoPath); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	videoURL, err := o.deps.Store.UploadFile(ctx, videoPath, objectPath(j.id, "output.mp4"))
	if err != nil {
		return fmt.Errorf("video upload failed: %w", err)
	}
	j.videoURL = videoURL
	j.discard(logger, videoPath)
	return nil
}

func objectPath(jobID, name string) string {
	return "generations/" + jobID + "/" + name
}

// transition persists a stage entry and emits its status event.
func (o *Orchestrator) transition(ctx context.Context, jobID, stage string, events chan<- Event, logger *slog.Logger) {
	if err := o.deps.Jobs.SetStage(ctx, jobID, stage, "", ""); err != nil {
		logger.Warn("failed to persist stage", "stage", stage, "error", err)
	}
	logger.Info("stage entered", "stage", stage)
	events <- statusEvent(jobID, stage)
}

func (o *Orchestrator) persistAndEmit(ctx context.Context, ev Event, events chan<- Event, logger *slog.Logger) {
	if err := o.deps.Jobs.SetStage(ctx, ev.JobID, ev.Status, "", ""); err != nil {
		logger.Warn("failed to persist stage", "stage", ev.Status, "error", err)
	}
	events <- ev
}

// fail emits the single error event for a job and runs full cleanup. The
// caller sees a short message, never internals.
func (o *Orchestrator) fail(ctx context.Context, j *job, events chan<- Event, logger *slog.Logger, cause error) {
	logger.Error("job failed", "error", cause)
	if err := o.deps.Jobs.SetStage(ctx, j.id, StageError, "", cause.Error()); err != nil {
		logger.Warn("failed to persist error stage", "error", err)
	}

	ev := statusEvent(j.id, StageError)
	ev.Message = cause.Error()
	events <- ev

	o.cleanup(j, logger)
}

func (o *Orchestrator) cleanup(j *job, logger *slog.Logger) {
	for path := range j.cleanupList {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("cleanup failed", "path", filepath.Base(path), "error", err)
			continue
		}
		delete(j.cleanupList, path)
	}
}
