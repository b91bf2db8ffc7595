package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"novel_ai/story"
)

// StoryRequest is the user message of a narrative call.
type StoryRequest struct {
	DynamicAssetDatabase story.WorldSnapshot `json:"dynamicAssetDatabase"`
	CurrentUserAction    string              `json:"currentUserAction"`
}

// AnalysisRequest is the user message of an analysis call.
type AnalysisRequest struct {
	StoryForAnalysis     string              `json:"storyForAnalysis"`
	DynamicAssetDatabase story.WorldSnapshot `json:"dynamicAssetDatabase"`
}

// Encode renders a request as the JSON text sent to the model.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return string(b), nil
}

// Brief is the user message of the world-builder call.
func Brief(genre, adventure string) string {
	return fmt.Sprintf("Genre: %s\nAdventure: %s", strings.TrimSpace(genre), strings.TrimSpace(adventure))
}

// MemorySummary folds the stories of older scenes into a single long-term memory message.
func MemorySummary(stories []string) string {
	var b strings.Builder
	b.WriteString("Long-term memory of earlier scenes, oldest first:")
	n := 0
	for _, s := range stories {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s", n, s)
	}
	if n == 0 {
		return ""
	}
	return b.String()
}
