package session

import (
	"novel_ai/gemini"
	"novel_ai/prompts"
	"novel_ai/story"
)

// DefaultHistoryWindow is how many recent scenes are sent verbatim to the narrative call.
const DefaultHistoryWindow = 4

// BuildContext assembles the conversation for a narrative call: one long-term memory message
// summarizing every scene older than the last window, then each recent scene's input and raw
// responses, then the current action with the world snapshot. Adjacent messages with the same
// role are merged.
func BuildContext(history []*story.Scene, input string, snapshot story.WorldSnapshot, window int) ([]gemini.Content, error) {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	split := len(history) - window
	if split < 0 {
		split = 0
	}

	var contents []gemini.Content
	older := make([]string, 0, split)
	for _, sc := range history[:split] {
		older = append(older, sc.Story)
	}
	if summary := prompts.MemorySummary(older); summary != "" {
		contents = append(contents, gemini.UserText(summary))
	}

	for _, sc := range history[split:] {
		if sc.UserInput != "" {
			contents = append(contents, gemini.UserText(sc.UserInput))
		}
		var parts []gemini.Part
		if sc.RawStoryResponse != "" {
			parts = append(parts, gemini.Part{Text: sc.RawStoryResponse})
		} else if sc.Story != "" {
			parts = append(parts, gemini.Part{Text: sc.Story})
		}
		if sc.RawAnalysisResponse != "" {
			parts = append(parts, gemini.Part{Text: sc.RawAnalysisResponse})
		}
		if len(parts) > 0 {
			contents = append(contents, gemini.Content{Role: gemini.RoleModel, Parts: parts})
		}
	}

	req, err := prompts.Encode(prompts.StoryRequest{DynamicAssetDatabase: snapshot, CurrentUserAction: input})
	if err != nil {
		return nil, err
	}
	contents = append(contents, gemini.UserText(req))
	return coalesce(contents), nil
}

func coalesce(contents []gemini.Content) []gemini.Content {
	out := make([]gemini.Content, 0, len(contents))
	for _, c := range contents {
		if n := len(out); n > 0 && out[n-1].Role == c.Role {
			out[n-1].Parts = append(out[n-1].Parts, c.Parts...)
			continue
		}
		out = append(out, gemini.Content{Role: c.Role, Parts: append([]gemini.Part(nil), c.Parts...)})
	}
	return out
}
