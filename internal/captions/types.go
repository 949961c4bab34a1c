// Package captions produces word-synchronized, color-coded caption timings
// for narration audio: transcription with a deterministic fallback generator,
// and emphasis-color classification with a fault-tolerant response parser.
package captions

import "strings"

// Color is one of the fixed emphasis palette values.
type Color string

const (
	ColorWhite  Color = "white"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorPurple Color = "purple"
)

var palette = map[Color]bool{
	ColorWhite:  true,
	ColorYellow: true,
	ColorRed:    true,
	ColorGreen:  true,
	ColorPurple: true,
}

// NormalizeColor folds case and coerces anything outside the palette to white.
func NormalizeColor(s string) Color {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	if palette[c] {
		return c
	}
	return ColorWhite
}

// Style selects caption granularity: one word per caption, or greedy groups
// of up to three words.
type Style string

const (
	StyleSingle  Style = "single"
	StyleGrouped Style = "grouped"
)

// ParseStyle folds unknown styles to single.
func ParseStyle(s string) Style {
	if Style(strings.ToLower(strings.TrimSpace(s))) == StyleGrouped {
		return StyleGrouped
	}
	return StyleSingle
}

// WordTiming drives caption rendering: text shown between two frames on the
// shared 30 fps clock, in an emphasis color.
type WordTiming struct {
	Text       string `json:"text"`
	StartFrame int    `json:"startFrame"`
	EndFrame   int    `json:"endFrame"`
	Color      Color  `json:"color"`
}

// ColorAssignment is the classifier's word-to-emphasis mapping. Words are
// matched against timings case-insensitively.
type ColorAssignment struct {
	Word  string `json:"word"`
	Color Color  `json:"color"`
}

// TranscriptWord is one word with second offsets as returned by the
// speech-to-text collaborator.
type TranscriptWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// foldWord lowercases and strips surrounding punctuation for matching.
func foldWord(s string) string {
	return strings.Trim(strings.ToLower(s), ".,!?;:\"'()[]")
}
