// Package media implements the duration-fitting audio processor: silence
// removal, tempo and pitch transforms, and duration probing, all executed
// through ffmpeg/ffprobe subprocesses.
package media

import (
	"fmt"
	"math"
	"time"
)

// FramesPerSecond is the fixed caption clock shared by the whole pipeline.
// Word timings, background sequences and render input all use this rate.
const FramesPerSecond = 30

// SecondsToFrames converts a duration in seconds to whole frames by rounding.
func SecondsToFrames(seconds float64) int {
	return int(math.Round(seconds * FramesPerSecond))
}

// FramesToSeconds converts whole frames back to seconds.
func FramesToSeconds(frames int) float64 {
	return float64(frames) / FramesPerSecond
}

// Asset identifies an audio resource on disk. Assets are immutable once
// written; each processing stage writes a new asset and leaves the old one
// to the caller's cleanup list.
type Asset struct {
	Path            string
	DurationSeconds float64
	SampleRateHz    int
	IsHook          bool
}

// DurationFrames returns the asset length on the shared 30 fps clock.
func (a Asset) DurationFrames() int {
	return SecondsToFrames(a.DurationSeconds)
}

// ToolError reports a non-zero exit from an ffmpeg/ffprobe invocation.
// Audio tool failures are never retried; a corrupted transform stage cannot
// be worked around.
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, e.StderrTail)
}
