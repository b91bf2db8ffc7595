package story

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a model response has no JSON to decode.
var ErrEmptyResponse = errors.New("story: empty model response")

// DegradedTitle marks a scene whose narrative response could not be read.
const DegradedTitle = "Error: could not read the story"

// StripFences removes a surrounding ``` or ```json fence from a model response.
func StripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		if nl := strings.IndexByte(cleaned, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(cleaned[:nl]), "{") {
			cleaned = cleaned[nl+1:]
		} else {
			cleaned = strings.TrimPrefix(cleaned, "json")
		}
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	return strings.TrimSpace(cleaned)
}

// Narrative is the decoded story-generation response.
type Narrative struct {
	Title string `json:"title"`
	Story string `json:"story"`
}

// DecodeBrief reads the world-builder response into the initial snapshot.
func DecodeBrief(raw string) (WorldSnapshot, error) {
	var snapshot WorldSnapshot
	if err := decodeJSON(raw, &snapshot); err != nil {
		return WorldSnapshot{}, fmt.Errorf("decode world brief: %w", err)
	}
	return snapshot, nil
}

// DecodeNarrative reads a story-generation response. The title and story may be top-level
// or nested under a "render" object.
func DecodeNarrative(raw string) (Narrative, error) {
	var envelope struct {
		Narrative
		Render    *Narrative `json:"render"`
		TRPRender *Narrative `json:"TRP_render"`
	}
	if err := decodeJSON(raw, &envelope); err != nil {
		return Narrative{}, fmt.Errorf("decode narrative: %w", err)
	}
	n := envelope.Narrative
	for _, nested := range []*Narrative{envelope.Render, envelope.TRPRender} {
		if strings.TrimSpace(n.Story) == "" && nested != nil {
			n = *nested
		}
	}
	if strings.TrimSpace(n.Story) == "" {
		return Narrative{}, fmt.Errorf("decode narrative: %w", ErrEmptyResponse)
	}
	return n, nil
}

// Analysis is the decoded analysis response.
type Analysis struct {
	Evaluation     *Evaluation `json:"evaluation,omitempty"`
	NewAssets      *NewAssets  `json:"newAssets,omitempty"`
	TaskQueue      []ImageTask `json:"taskQueue"`
	Hints          *Hints      `json:"hints,omitempty"`
	Choices        []Text      `json:"choices"`
	DisplayImageID string      `json:"displayImageId"`
}

// DecodeAnalysis reads an analysis response. Tasks with an unknown type or no asset are discarded.
func DecodeAnalysis(raw string) (Analysis, error) {
	var a Analysis
	if err := decodeJSON(raw, &a); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	kept := a.TaskQueue[:0]
	for _, task := range a.TaskQueue {
		task.AssetID = strings.TrimSpace(task.AssetID)
		if !task.Type.Valid() || (task.AssetID == "" && task.Type != TaskKeyVisual) {
			continue
		}
		kept = append(kept, task)
	}
	a.TaskQueue = kept
	return a, nil
}

// ChoiceStrings flattens the choices to display strings, dropping empties.
func (a Analysis) ChoiceStrings() []string {
	out := make([]string, 0, len(a.Choices))
	for _, c := range a.Choices {
		if s := strings.TrimSpace(string(c)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DegradedScene is shown when the narrative response could not be parsed. It keeps the
// raw text for debugging and offers a single way back.
func DegradedScene(userInput, raw string, snapshot WorldSnapshot, cause error) Scene {
	msg := "the story response could not be read"
	if cause != nil {
		msg = cause.Error()
	}
	return Scene{
		UserInput:        userInput,
		Title:            DegradedTitle,
		Story:            "The narrator lost the thread. Try a different action or go back to an earlier scene.",
		Choices:          []string{"Go back"},
		WorldSnapshot:    snapshot.Clone(),
		IsComplete:       true,
		Error:            true,
		ErrorMessage:     msg,
		RawStoryResponse: raw,
	}
}

func decodeJSON(raw string, v any) error {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return ErrEmptyResponse
	}
	return json.Unmarshal([]byte(cleaned), v)
}
