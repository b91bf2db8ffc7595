package prompts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel_ai/story"
)

func TestAssembleOrderAndOmission(t *testing.T) {
	out := Assemble(Payload{
		Template: Template{
			Role:          "  artist  ",
			DetailFocus:   "faces",
			ContentPolicy: "be nice",
		},
		TaskPrompt: "draw Mara",
		Data:       &DataPayload{Name: "Mara", Size: "170cm"},
	})

	want := "Role:\nartist\n\n" +
		"Detail Focus:\nfaces\n\n" +
		"Task Prompt:\ndraw Mara\n\n" +
		"Data Payload:\n- Name: Mara\n- Size: 170cm\n\n" +
		"Content Policy:\nbe nice"
	assert.Equal(t, want, out)
}

func TestAssembleNeverEmitsEmptySections(t *testing.T) {
	out := Assemble(Payload{Template: Template{Mission: "m"}, Data: &DataPayload{}, Narrative: "   "})
	assert.Equal(t, "Mission:\nm", out)
	assert.Empty(t, Assemble(Payload{}))
}

func TestAssembleSnapshotPayload(t *testing.T) {
	snap := story.WorldSnapshot{
		PlotSummary:      "A heist.",
		ArtStyleKeywords: "ink wash",
		KeyCharacters: []story.Entity{
			{ID: "c1", Name: "Mara", Description: "a thief", VisualKeywords: "red coat", Size: "170cm"},
			{ID: "c2"},
		},
		KeyItems: []story.Entity{{ID: "i1", Name: "Lantern"}},
	}
	out := Assemble(Payload{Template: Templates[story.TaskIllustration], Data: SnapshotPayload(snap), Narrative: "You run."})

	assert.Contains(t, out, "- Plot Summary: A heist.\n- Art Style: ink wash\n- Key Characters:\n  - Mara: a thief; appearance: red coat; size: 170cm\n  - c2\n- Key Items:\n  - Lantern")
	assert.NotContains(t, out, "Key Locations")

	// Sections keep canonical order.
	order := []string{"Mission:", "Style Directive:", "Size Directive:", "Situational Override:", "Composition Rule:", "Data Payload:", "Scene Narrative:", "Quality Requirements:", "Technical Specifications:", "Content Policy:"}
	last := -1
	for _, label := range order {
		i := strings.Index(out, label)
		require.GreaterOrEqual(t, i, 0, label)
		assert.Greater(t, i, last, label)
		last = i
	}
}

func TestEntityPayloadPersonality(t *testing.T) {
	var e story.Entity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","name":"Mara","personality":{"en":"wry"}}`), &e))
	assert.Equal(t, "wry", EntityPayload(e).Personality)
}

func TestTemplatesCoverEveryTaskType(t *testing.T) {
	for _, tt := range []story.TaskType{story.TaskKeyVisual, story.TaskThreeView, story.TaskHeadPortrait, story.TaskIllustration} {
		tmpl, ok := Templates[tt]
		require.True(t, ok, tt)
		assert.NotEmpty(t, tmpl.ContentPolicy, tt)
	}
}

func TestGenrePrompts(t *testing.T) {
	assert.Contains(t, WorldBuilder("scifi"), "science fiction")
	assert.NotContains(t, StoryGenerator("noir"), "%!")
	assert.Empty(t, GenreDirective("freeform"))
}

func TestMemorySummary(t *testing.T) {
	assert.Empty(t, MemorySummary(nil))
	assert.Equal(t, "Long-term memory of earlier scenes, oldest first:\n1. one\n2. two", MemorySummary([]string{"one", " ", "two"}))
}
