package templates

import (
	"fmt"
	"strings"

	"novel_ai/story"
)

// StatusBadge is a character's condition and the tone it is shown in. Tones map to
// colors in style.css.
type StatusBadge struct {
	Description string
	Tone        string
}

// CharacterStatus maps the free-text status from analysis onto a badge.
func CharacterStatus(status string) StatusBadge {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "":
		return StatusBadge{"Unknown", "gray"}
	case strings.Contains(s, "dead"), strings.Contains(s, "deceased"):
		return StatusBadge{status, "gray"}
	case strings.Contains(s, "critical"), strings.Contains(s, "dying"):
		return StatusBadge{status, "red"}
	case strings.Contains(s, "wound"), strings.Contains(s, "hurt"), strings.Contains(s, "injur"):
		return StatusBadge{status, "orange"}
	case strings.Contains(s, "tired"), strings.Contains(s, "afraid"), strings.Contains(s, "worried"):
		return StatusBadge{status, "yellow"}
	default:
		return StatusBadge{status, "green"}
	}
}

// ItemNames joins hint names for a compact sidebar line.
func ItemNames(items []story.ItemHint) string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		if n := strings.TrimSpace(string(it.Name)); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}

// VignetteStyle darkens the story frame with the importance of the scene (1 to 5).
func VignetteStyle(importance int) string {
	if importance < 0 {
		importance = 0
	}
	if importance > 5 {
		importance = 5
	}
	tension := importance * 20
	opacity := float64(tension) / 200.0
	return fmt.Sprintf(`<style>
	#story-container::before {
		content: '';
		position: absolute;
		inset: 0;
		box-shadow: inset 0 0 %dpx %dpx rgba(0,0,0,%.2f);
		transition: box-shadow 0.5s ease-in-out;
		pointer-events: none;
		border-radius: 8px;
	}
</style>`, tension/4, tension/2, opacity)
}

// Paragraphs splits story text on blank lines.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
