package story

import (
	"encoding/json"
	"strings"
)

// TaskType selects the image template and reference set for an ImageTask.
type TaskType string

const (
	TaskKeyVisual    TaskType = "key_visual"
	TaskThreeView    TaskType = "three_view_reference"
	TaskHeadPortrait TaskType = "head_portrait"
	TaskIllustration TaskType = "illustration"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskKeyVisual, TaskThreeView, TaskHeadPortrait, TaskIllustration:
		return true
	}
	return false
}

// UnmarshalJSON normalizes the spellings the model uses for task types.
func (t *TaskType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseTaskType(s)
	return nil
}

// ParseTaskType maps a raw type string onto a TaskType. Unknown values pass through unchanged.
func ParseTaskType(s string) TaskType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "key_visual", "keyvisual":
		return TaskKeyVisual
	case "3_view_reference", "three_view_reference", "three_view", "3_view":
		return TaskThreeView
	case "head_portrait", "portrait":
		return TaskHeadPortrait
	case "illustration":
		return TaskIllustration
	}
	return TaskType(s)
}

// ImageTask is one image-generation request emitted by analysis.
type ImageTask struct {
	AssetID string   `json:"assetId"`
	Type    TaskType `json:"type"`
	Prompt  string   `json:"prompt,omitempty"`
}

// Text is a display string the model may send as a plain string, as {"en": ..., "ko": ...}
// or as {"label": ...}. The English variant wins when present.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		*t = Text(looseString(data))
		return nil
	}
	for _, key := range []string{"en", "label", "text", "ko"} {
		if value, ok := obj[key]; ok {
			*t = Text(looseString(value))
			return nil
		}
	}
	*t = ""
	return nil
}

// Evaluation is the analysis call's judgment of the player's last action.
type Evaluation struct {
	Plausibility int `json:"plausibility"`
	Importance   int `json:"importance"`
}

// CharacterHint is shown next to the story for a character present in the scene.
type CharacterHint struct {
	Name    Text `json:"name"`
	Status  Text `json:"status,omitempty"`
	Tooltip Text `json:"tooltip,omitempty"`
}

// ItemHint covers skills and inventory entries.
type ItemHint struct {
	Name    Text `json:"name"`
	Tooltip Text `json:"tooltip,omitempty"`
	Owner   Text `json:"owner,omitempty"`
}

// Hints is sidebar material produced by analysis.
type Hints struct {
	Characters []CharacterHint `json:"characters,omitempty"`
	Skills     []ItemHint      `json:"skills,omitempty"`
	Inventory  []ItemHint      `json:"inventory,omitempty"`
}

// Scene is one turn of the story.
type Scene struct {
	UserInput      string        `json:"userInput"`
	Title          string        `json:"title"`
	Story          string        `json:"story"`
	Hints          *Hints        `json:"hints,omitempty"`
	Choices        []string      `json:"choices"`
	DisplayImageID string        `json:"displayImageId"`
	WorldSnapshot  WorldSnapshot `json:"worldSnapshot"`
	TaskQueue      []ImageTask   `json:"taskQueue"`
	Evaluation     *Evaluation   `json:"evaluation,omitempty"`
	IsComplete     bool          `json:"isComplete"`

	Error        bool   `json:"error,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	RawStoryResponse    string `json:"rawStoryResponse,omitempty"`
	RawAnalysisResponse string `json:"rawAnalysisResponse,omitempty"`
}

// Clone returns a deep copy so callers outside the session lock can read it freely.
func (s *Scene) Clone() *Scene {
	if s == nil {
		return nil
	}
	out := *s
	out.WorldSnapshot = s.WorldSnapshot.Clone()
	out.Choices = append([]string(nil), s.Choices...)
	out.TaskQueue = append([]ImageTask(nil), s.TaskQueue...)
	if s.Evaluation != nil {
		e := *s.Evaluation
		out.Evaluation = &e
	}
	if s.Hints != nil {
		h := Hints{
			Characters: append([]CharacterHint(nil), s.Hints.Characters...),
			Skills:     append([]ItemHint(nil), s.Hints.Skills...),
			Inventory:  append([]ItemHint(nil), s.Hints.Inventory...),
		}
		out.Hints = &h
	}
	return &out
}
