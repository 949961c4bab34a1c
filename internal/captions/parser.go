package captions

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Classification responses are not reliably well-formed JSON. The cascade
// trades strictness for availability: each tier is a pure strategy attempted
// only when the prior one yields nothing. A miscolored word is cosmetic; a
// crashed pipeline is not.
type parserStrategy func(raw string) ([]ColorAssignment, bool)

var cascade = []parserStrategy{
	parseJSONDocument,
	extractObjects,
	extractLines,
}

// assignmentPattern matches {word: ..., color: ...} objects, tolerant of
// single or double quotes and surrounding markdown noise.
var assignmentPattern = regexp.MustCompile(
	`\{\s*["']?word["']?\s*:\s*["']([^"']+)["']\s*,\s*["']?color["']?\s*:\s*["']([^"']+)["']\s*\}`)

// ParseAssignments runs the parsing cascade over a raw classification
// response. It returns an empty slice when no tier finds anything.
func ParseAssignments(raw string) []ColorAssignment {
	for _, strategy := range cascade {
		if assignments, ok := strategy(raw); ok {
			return assignments
		}
	}
	return nil
}

// DefaultAssignments is the cascade's last resort: every whitespace-separated
// token of the source text mapped to white.
func DefaultAssignments(text string) []ColorAssignment {
	words := strings.Fields(text)
	assignments := make([]ColorAssignment, 0, len(words))
	for _, w := range words {
		assignments = append(assignments, ColorAssignment{Word: w, Color: ColorWhite})
	}
	return assignments
}

type rawAssignment struct {
	Word  string `json:"word"`
	Color string `json:"color"`
}

// parseJSONDocument parses the whole response as JSON. A single object is
// wrapped into a one-element array.
func parseJSONDocument(raw string) ([]ColorAssignment, bool) {
	trimmed := strings.TrimSpace(raw)

	var items []rawAssignment
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		var single rawAssignment
		if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
			return nil, false
		}
		items = []rawAssignment{single}
	}

	return normalize(items)
}

// extractObjects pattern-matches individual {word, color} objects anywhere in
// the raw text, including inside markdown code fences.
func extractObjects(raw string) ([]ColorAssignment, bool) {
	matches := assignmentPattern.FindAllStringSubmatch(raw, -1)
	items := make([]rawAssignment, 0, len(matches))
	for _, m := range matches {
		items = append(items, rawAssignment{Word: m[1], Color: m[2]})
	}
	return normalize(items)
}

// extractLines applies the per-item pattern line by line.
func extractLines(raw string) ([]ColorAssignment, bool) {
	var items []rawAssignment
	for _, line := range strings.Split(raw, "\n") {
		m := assignmentPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		items = append(items, rawAssignment{Word: m[1], Color: m[2]})
	}
	return normalize(items)
}

func normalize(items []rawAssignment) ([]ColorAssignment, bool) {
	assignments := make([]ColorAssignment, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Word) == "" {
			continue
		}
		assignments = append(assignments, ColorAssignment{
			Word:  item.Word,
			Color: NormalizeColor(item.Color),
		})
	}
	if len(assignments) == 0 {
		return nil, false
	}
	return assignments, true
}
