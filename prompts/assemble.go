package prompts

import (
	"strings"

	"novel_ai/story"
)

// DataPayload is the structured data rendered into the "Data Payload" section.
// Entity fields describe a single target; the snapshot fields describe the whole world.
type DataPayload struct {
	Name        string
	Description string
	Appearance  string
	Personality string
	Size        string

	PlotSummary   string
	ArtStyle      string
	KeyCharacters []story.Entity
	KeyItems      []story.Entity
	KeyLocations  []story.Entity
}

// Payload is everything one image prompt is assembled from.
type Payload struct {
	Template   Template
	TaskPrompt string
	Data       *DataPayload
	Narrative  string
}

// EntityPayload describes a single entity. Personality is read from the entity's extra fields when present.
func EntityPayload(e story.Entity) *DataPayload {
	d := &DataPayload{
		Name:        e.Name,
		Description: e.Description,
		Appearance:  e.VisualKeywords,
		Size:        e.Size,
	}
	if raw, ok := e.Extra["personality"]; ok {
		var p story.Text
		if err := p.UnmarshalJSON(raw); err == nil {
			d.Personality = string(p)
		}
	}
	return d
}

// SnapshotPayload describes the whole world.
func SnapshotPayload(s story.WorldSnapshot) *DataPayload {
	return &DataPayload{
		PlotSummary:   s.PlotSummary,
		ArtStyle:      s.ArtStyleKeywords,
		KeyCharacters: s.KeyCharacters,
		KeyItems:      s.KeyItems,
		KeyLocations:  s.KeyLocations,
	}
}

type section struct {
	label string
	body  string
}

// Assemble renders p as labeled prose sections in a fixed order. Empty sections are left out.
func Assemble(p Payload) string {
	t := p.Template
	sections := []section{
		{"Role", t.Role},
		{"Mission", t.Mission},
		{"Output Definition", t.OutputDefinition},
		{"Style Directive", t.StyleDirective},
		{"Format Directive", t.FormatDirective},
		{"Common Rules", t.CommonRules},
		{"Detail Focus", t.DetailFocus},
		{"Size Directive", t.SizeDirective},
		{"Situational Override", t.SituationalOverride},
		{"Composition Rule", t.CompositionRule},
		{"Attachment Mapping", t.AttachmentMapping},
		{"Task Prompt", p.TaskPrompt},
		{"Data Payload", renderData(p.Data)},
		{"Scene Narrative", p.Narrative},
		{"Quality Requirements", t.QualityRequirements},
		{"Technical Specifications", t.TechnicalSpecs},
		{"Content Policy", t.ContentPolicy},
	}

	var b strings.Builder
	for _, s := range sections {
		body := strings.TrimSpace(s.body)
		if body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.label)
		b.WriteString(":\n")
		b.WriteString(body)
	}
	return strings.TrimSpace(b.String())
}

func renderData(d *DataPayload) string {
	if d == nil {
		return ""
	}
	var lines []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, "- "+label+": "+value)
		}
	}
	add("Name", d.Name)
	add("Description", d.Description)
	add("Appearance", d.Appearance)
	add("Personality", d.Personality)
	add("Size", d.Size)
	add("Plot Summary", d.PlotSummary)
	add("Art Style", d.ArtStyle)

	addList := func(label string, entities []story.Entity) {
		var items []string
		for _, e := range entities {
			if item := renderEntity(e); item != "" {
				items = append(items, "  - "+item)
			}
		}
		if len(items) > 0 {
			lines = append(lines, "- "+label+":")
			lines = append(lines, items...)
		}
	}
	addList("Key Characters", d.KeyCharacters)
	addList("Key Items", d.KeyItems)
	addList("Key Locations", d.KeyLocations)

	return strings.Join(lines, "\n")
}

func renderEntity(e story.Entity) string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = e.ID
	}
	var details []string
	if d := strings.TrimSpace(e.Description); d != "" {
		details = append(details, d)
	}
	if v := strings.TrimSpace(e.VisualKeywords); v != "" {
		details = append(details, "appearance: "+v)
	}
	if s := strings.TrimSpace(e.Size); s != "" {
		details = append(details, "size: "+s)
	}
	if len(details) == 0 {
		return name
	}
	return name + ": " + strings.Join(details, "; ")
}
