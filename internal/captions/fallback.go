package captions

import "strings"

const maxGroupWords = 3

// FallbackTimings deterministically synthesizes word timings when external
// transcription is unavailable: the source text is split into units and the
// narration's total frame count is distributed evenly across them, with the
// final unit absorbing any remainder so coverage is exact.
func FallbackTimings(text string, style Style, totalFrames int) []WordTiming {
	if totalFrames <= 0 {
		return nil
	}

	units := splitUnits(text, style)
	if len(units) == 0 {
		return nil
	}

	framesPerUnit := totalFrames / len(units)
	if framesPerUnit == 0 {
		// More units than frames: collapse to a single unit spanning the
		// whole duration rather than emitting zero-width timings.
		units = []string{strings.Join(units, " ")}
		framesPerUnit = totalFrames
	}

	timings := make([]WordTiming, len(units))
	for i, unit := range units {
		start := i * framesPerUnit
		end := start + framesPerUnit
		if i == len(units)-1 {
			end = totalFrames
		}
		timings[i] = WordTiming{
			Text:       unit,
			StartFrame: start,
			EndFrame:   end,
			Color:      ColorWhite,
		}
	}
	return timings
}

// splitUnits breaks text into caption units: single words, or greedy runs of
// up to three words for the grouped style.
func splitUnits(text string, style Style) []string {
	words := strings.Fields(text)
	if len(words) == 0 || style != StyleGrouped {
		return words
	}

	units := make([]string, 0, (len(words)+maxGroupWords-1)/maxGroupWords)
	for i := 0; i < len(words); i += maxGroupWords {
		end := i + maxGroupWords
		if end > len(words) {
			end = len(words)
		}
		units = append(units, strings.Join(words[i:end], " "))
	}
	return units
}
