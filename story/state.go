package story

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion identifies the response and save-file schema this package reads and writes.
const SchemaVersion = "v4"

// Kind names the snapshot list an entity lives in.
type Kind string

const (
	KindCharacter Kind = "character"
	KindItem      Kind = "item"
	KindLocation  Kind = "location"
	KindSkill     Kind = "skill"
)

// Entity is a named thing in the world: a character, item, location or skill.
// Merges key strictly on ID; names may repeat or be localized.
type Entity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	VisualKeywords string `json:"visualKeywords,omitempty"`
	Size           string `json:"size,omitempty"`

	// Extra holds fields the model sent that have no typed home, so they survive merges and saves.
	Extra map[string]json.RawMessage `json:"-"`
}

// WorldSnapshot is the state of the fictional world at one point in the narrative.
// A snapshot is never mutated once it belongs to a scene; turns produce new ones.
type WorldSnapshot struct {
	PlotSummary      string   `json:"plotSummary"`
	KeyCharacters    []Entity `json:"keyCharacters"`
	KeyItems         []Entity `json:"keyItems"`
	KeyLocations     []Entity `json:"keyLocations"`
	KeySkills        []Entity `json:"keySkills"`
	ArtStyleKeywords string   `json:"artStyleKeywords"`
}

// NewAssets is the set of entities an analysis call found new or changed in the latest story.
type NewAssets struct {
	KeyCharacters []Entity `json:"keyCharacters,omitempty"`
	KeyItems      []Entity `json:"keyItems,omitempty"`
	KeyLocations  []Entity `json:"keyLocations,omitempty"`
	KeySkills     []Entity `json:"keySkills,omitempty"`
}

// Empty reports whether the analysis found nothing new.
func (a *NewAssets) Empty() bool {
	return a == nil || len(a.KeyCharacters)+len(a.KeyItems)+len(a.KeyLocations)+len(a.KeySkills) == 0
}

// UnmarshalJSON accepts loosely typed model output: numbers become strings and unknown keys land in Extra.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode entity: %w", err)
	}
	*e = Entity{}
	for key, value := range raw {
		switch key {
		case "id":
			e.ID = strings.TrimSpace(looseString(value))
		case "name":
			e.Name = looseString(value)
		case "description":
			e.Description = looseString(value)
		case "visualKeywords":
			e.VisualKeywords = looseString(value)
		case "size":
			e.Size = looseString(value)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[key] = value
		}
	}
	return nil
}

// MarshalJSON writes the typed fields plus every Extra key.
func (e Entity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 5+len(e.Extra))
	for key, value := range e.Extra {
		out[key] = value
	}
	out["id"] = e.ID
	out["name"] = e.Name
	out["description"] = e.Description
	if e.VisualKeywords != "" {
		out["visualKeywords"] = e.VisualKeywords
	}
	if e.Size != "" {
		out["size"] = e.Size
	}
	return json.Marshal(out)
}

// Clone returns a copy that shares no memory with e.
func (e Entity) Clone() Entity {
	out := e
	if e.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for key, value := range e.Extra {
			out.Extra[key] = append(json.RawMessage(nil), value...)
		}
	}
	return out
}

// Clone returns a deep copy of the snapshot.
func (s WorldSnapshot) Clone() WorldSnapshot {
	out := s
	out.KeyCharacters = cloneEntities(s.KeyCharacters)
	out.KeyItems = cloneEntities(s.KeyItems)
	out.KeyLocations = cloneEntities(s.KeyLocations)
	out.KeySkills = cloneEntities(s.KeySkills)
	return out
}

// Lookup finds an entity by ID across all lists, characters first.
func (s WorldSnapshot) Lookup(id string) (Entity, Kind, bool) {
	lists := []struct {
		kind     Kind
		entities []Entity
	}{
		{KindCharacter, s.KeyCharacters},
		{KindItem, s.KeyItems},
		{KindLocation, s.KeyLocations},
		{KindSkill, s.KeySkills},
	}
	for _, list := range lists {
		if i := indexOf(list.entities, id); i >= 0 {
			return list.entities[i], list.kind, true
		}
	}
	return Entity{}, "", false
}

// Character finds a character by ID.
func (s WorldSnapshot) Character(id string) (Entity, bool) {
	if i := indexOf(s.KeyCharacters, id); i >= 0 {
		return s.KeyCharacters[i], true
	}
	return Entity{}, false
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func indexOf(entities []Entity, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i, e := range entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func looseString(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(value))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
