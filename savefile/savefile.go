// Package savefile reads and writes a whole campaign as one JSON document.
package savefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"novel_ai/gemini"
	"novel_ai/story"
)

// ErrFormat is returned for documents that are not campaign saves.
var ErrFormat = errors.New("savefile: not a campaign save")

// Document is a saved campaign.
type Document struct {
	Version           string               `json:"version"`
	Genre             string               `json:"genre,omitempty"`
	SceneArchive      []*story.Scene       `json:"sceneArchive"`
	CurrentSceneIndex int                  `json:"currentSceneIndex"`
	ImageCache        map[string]string    `json:"imageCache"`
	InitialSnapshot   *story.WorldSnapshot `json:"initialWorldSnapshot"`
	SavedAt           time.Time            `json:"savedAt"`
}

// Write encodes doc as indented JSON.
func Write(w io.Writer, doc Document) error {
	if doc.Version == "" {
		doc.Version = story.SchemaVersion
	}
	if doc.ImageCache == nil {
		doc.ImageCache = map[string]string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write save file: %w", err)
	}
	return nil
}

// Read decodes and validates a save. Older key names are accepted. The first scene must
// carry a world snapshot object; the current index is clamped into the archive; loaded
// scenes are marked complete because no turn is running for them anymore.
func Read(r io.Reader) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	renameKey(top, "initialDadSnapshot", "initialWorldSnapshot")
	renameKey(top, "initialSnapshot", "initialWorldSnapshot")

	var scenes []map[string]json.RawMessage
	if raw, ok := top["sceneArchive"]; !ok || json.Unmarshal(raw, &scenes) != nil || len(scenes) == 0 {
		return Document{}, fmt.Errorf("%w: missing scene archive", ErrFormat)
	}
	for _, sc := range scenes {
		adaptScene(sc)
	}
	if !isObject(scenes[0]["worldSnapshot"]) {
		return Document{}, fmt.Errorf("%w: first scene has no world snapshot", ErrFormat)
	}
	adapted, err := json.Marshal(scenes)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	top["sceneArchive"] = adapted

	normalized, err := json.Marshal(top)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	var doc Document
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if doc.Version == "" {
		doc.Version = story.SchemaVersion
	}
	if doc.InitialSnapshot == nil {
		initial := doc.SceneArchive[0].WorldSnapshot.Clone()
		doc.InitialSnapshot = &initial
	}
	if doc.ImageCache == nil {
		doc.ImageCache = map[string]string{}
	}
	for key, value := range doc.ImageCache {
		if !gemini.IsImageDataURL(value) {
			log.Printf("[savefile] dropping cached image %q: not an image data url", key)
			delete(doc.ImageCache, key)
		}
	}
	if doc.CurrentSceneIndex < 0 || doc.CurrentSceneIndex >= len(doc.SceneArchive) {
		doc.CurrentSceneIndex = len(doc.SceneArchive) - 1
	}
	for i, sc := range doc.SceneArchive {
		if sc == nil {
			return Document{}, fmt.Errorf("%w: scene %d is empty", ErrFormat, i)
		}
		sc.IsComplete = true
	}
	return doc, nil
}

var legacySceneKeys = map[string]string{
	"dadSnapshot":           "worldSnapshot",
	"user_input":            "userInput",
	"raw_story_response":    "rawStoryResponse",
	"raw_analysis_response": "rawAnalysisResponse",
	"display_image_id":      "displayImageId",
}

func adaptScene(sc map[string]json.RawMessage) {
	for from, to := range legacySceneKeys {
		renameKey(sc, from, to)
	}
	if raw, ok := sc["choices"]; ok {
		var choices []story.Text
		if err := json.Unmarshal(raw, &choices); err == nil {
			flat := make([]string, 0, len(choices))
			for _, c := range choices {
				flat = append(flat, string(c))
			}
			if b, err := json.Marshal(flat); err == nil {
				sc["choices"] = b
			}
		}
	}
}

func renameKey(m map[string]json.RawMessage, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	if _, exists := m[to]; !exists {
		m[to] = v
	}
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
