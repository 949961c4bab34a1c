package captions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shortcast/shortcast-server/internal/media"
	"github.com/shortcast/shortcast-server/internal/retry"
)

type fakeWordTimingService struct {
	words    []TranscriptWord
	err      error
	failures int // fail this many calls before succeeding
	calls    int
	models   []string
}

func (f *fakeWordTimingService) Words(ctx context.Context, audioPath, model string) ([]TranscriptWord, error) {
	f.calls++
	f.models = append(f.models, model)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		return nil, errors.New("transient transport failure")
	}
	return f.words, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAudio(t *testing.T, name string, size int) media.Asset {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write audio fixture: %v", err)
	}
	return media.Asset{Path: path, DurationSeconds: 10}
}

func newTestTranscriber(service WordTimingService) *Transcriber {
	policy := retry.NewPolicy(3, 0, []string{"whisper-1"})
	return NewTranscriber(service, policy, 1024*1024, discardLogger())
}

func TestTranscribe_ConvertsSecondsToFrames(t *testing.T) {
	service := &fakeWordTimingService{words: []TranscriptWord{
		{Text: "hello", Start: 0, End: 0.5},
		{Text: "world", Start: 0.5, End: 1.2},
	}}
	tr := newTestTranscriber(service)

	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.mp3", 100), StyleSingle, "hello world")

	if len(timings) != 2 {
		t.Fatalf("len = %d, want 2", len(timings))
	}
	if timings[0].StartFrame != 0 || timings[0].EndFrame != 15 {
		t.Errorf("timings[0] = %+v, want frames 0..15", timings[0])
	}
	if timings[1].StartFrame != 15 || timings[1].EndFrame != 36 {
		t.Errorf("timings[1] = %+v, want frames 15..36", timings[1])
	}
	if timings[0].Color != ColorWhite {
		t.Errorf("color = %q, want white pending classification", timings[0].Color)
	}
}

func TestTranscribe_ClampsLastWordToTotalFrames(t *testing.T) {
	// Word end past the 10s asset (300 frames) must be clamped, never exceed.
	service := &fakeWordTimingService{words: []TranscriptWord{
		{Text: "overrun", Start: 9.8, End: 10.4},
	}}
	tr := newTestTranscriber(service)

	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.mp3", 100), StyleSingle, "overrun")

	if len(timings) != 1 {
		t.Fatalf("len = %d, want 1", len(timings))
	}
	if timings[0].EndFrame != 300 {
		t.Errorf("EndFrame = %d, want clamped 300", timings[0].EndFrame)
	}
	if timings[0].StartFrame >= timings[0].EndFrame {
		t.Errorf("degenerate timing after clamp: %+v", timings[0])
	}
}

func TestTranscribe_RetriesThenSucceeds(t *testing.T) {
	service := &fakeWordTimingService{
		failures: 2,
		words:    []TranscriptWord{{Text: "ok", Start: 0, End: 1}},
	}
	tr := newTestTranscriber(service)

	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.mp3", 100), StyleSingle, "ok")

	if service.calls != 3 {
		t.Errorf("calls = %d, want 3", service.calls)
	}
	if len(timings) != 1 || timings[0].Text != "ok" {
		t.Fatalf("timings = %+v, want service result", timings)
	}
}

func TestTranscribe_ExhaustedRetriesFallBack(t *testing.T) {
	service := &fakeWordTimingService{err: errors.New("service down")}
	tr := newTestTranscriber(service)

	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.mp3", 100), StyleSingle, "never gonna give")

	if service.calls != 3 {
		t.Errorf("calls = %d, want 3 bounded attempts", service.calls)
	}
	if len(timings) != 3 {
		t.Fatalf("fallback timings len = %d, want 3", len(timings))
	}
	if timings[2].EndFrame != 300 {
		t.Errorf("fallback last EndFrame = %d, want 300", timings[2].EndFrame)
	}
}

func TestTranscribe_ValidationFailureShortCircuits(t *testing.T) {
	service := &fakeWordTimingService{words: []TranscriptWord{{Text: "x", Start: 0, End: 1}}}
	tr := newTestTranscriber(service)

	// Unsupported container: fallback without calling the service.
	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.webm", 100), StyleSingle, "some text here")

	if service.calls != 0 {
		t.Errorf("calls = %d, want 0 after validation failure", service.calls)
	}
	if len(timings) == 0 {
		t.Fatal("expected fallback timings")
	}
}

func TestTranscribe_OversizeFileFallsBack(t *testing.T) {
	service := &fakeWordTimingService{words: []TranscriptWord{{Text: "x", Start: 0, End: 1}}}
	policy := retry.NewPolicy(3, 0, []string{"whisper-1"})
	tr := NewTranscriber(service, policy, 10, discardLogger())

	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.mp3", 100), StyleSingle, "big file")

	if service.calls != 0 {
		t.Errorf("calls = %d, want 0 for oversize audio", service.calls)
	}
	if len(timings) != 2 {
		t.Fatalf("fallback timings len = %d, want 2", len(timings))
	}
}

func TestTranscribe_EmptyTextEmptyResult(t *testing.T) {
	service := &fakeWordTimingService{err: errors.New("down")}
	tr := newTestTranscriber(service)

	timings := tr.Transcribe(context.Background(), writeAudio(t, "a.mp3", 100), StyleSingle, "")

	if len(timings) != 0 {
		t.Errorf("len = %d, want 0 for empty source text", len(timings))
	}
}
