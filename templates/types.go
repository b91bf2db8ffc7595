package templates

import "novel_ai/story"

// SetupForm is the campaign start screen.
type SetupForm struct {
	Genre     string
	Adventure string
	Error     string
}

// SceneData is everything SceneView needs.
type SceneData struct {
	Index      int
	Total      int
	Scene      *story.Scene
	ImageKey   string
	Generating bool
	Notice     string
	LastError  string
}

// Latest reports whether the scene is the end of the archive.
func (d SceneData) Latest() bool { return d.Index == d.Total-1 }

// ActionPath is where a choice on this scene posts: a new turn from the latest scene,
// a branch from an earlier one.
func (d SceneData) ActionPath() string {
	if d.Latest() {
		return "/turn"
	}
	return "/branch"
}

// SettingsForm is the settings panel state.
type SettingsForm struct {
	HasKey    bool
	PreferKey bool
	Debug     bool
}

// KeyPlaceholder hints whether a key is already saved without showing it.
func (s SettingsForm) KeyPlaceholder() string {
	if s.HasKey {
		return "A key is saved; enter a new one to replace it"
	}
	return "Gemini API key"
}
