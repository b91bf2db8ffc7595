package session

import (
	"fmt"
	"time"

	"novel_ai/savefile"
	"novel_ai/story"
	"novel_ai/tasks"
)

// View is a consistent copy of everything a page needs to render the session.
type View struct {
	ID          string
	Genre       string
	Scenes      []*story.Scene
	Current     int
	State       State
	Generating  bool
	Notice      string
	LastError   string
	HasCampaign bool
}

// CurrentScene returns the scene being shown, or nil before the first scene.
func (v View) CurrentScene() *story.Scene {
	if v.Current < 0 || v.Current >= len(v.Scenes) {
		return nil
	}
	return v.Scenes[v.Current]
}

// View returns a deep copy of the session's visible state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	scenes := make([]*story.Scene, len(s.archive))
	for i, sc := range s.archive {
		scenes[i] = sc.Clone()
	}
	return View{
		ID:          s.id,
		Genre:       s.genre,
		Scenes:      scenes,
		Current:     s.current,
		State:       s.state,
		Generating:  s.generating,
		Notice:      s.notice,
		LastError:   s.lastErr,
		HasCampaign: s.initial != nil,
	}
}

// Scene returns a copy of the scene at index.
func (s *Session) Scene(index int) (*story.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.archive) {
		return nil, fmt.Errorf("%w: %d", ErrSceneOutOfRange, index)
	}
	return s.archive[index].Clone(), nil
}

// Show moves the reading position to index without touching the archive.
func (s *Session) Show(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.archive) {
		return fmt.Errorf("%w: %d", ErrSceneOutOfRange, index)
	}
	s.current = index
	return nil
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// State returns the state of the latest turn.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TakeNotice returns the pending user-facing notice and clears it.
func (s *Session) TakeNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	s.notice = ""
	return n
}

// Image returns a cached image data URL.
func (s *Session) Image(key string) (string, bool) {
	return s.exec.Cache().Get(key)
}

// DisplayKey picks the cache key of the image to show with scene: the analysis' display
// id when it resolves, else the scene's last illustration, else the key visual.
func (s *Session) DisplayKey(scene *story.Scene) string {
	return DisplayKey(scene, s.exec.Cache())
}

// DisplayKey is the cache-level rule behind Session.DisplayKey.
func DisplayKey(scene *story.Scene, cache *tasks.Cache) string {
	if scene == nil {
		return ""
	}
	if id := scene.DisplayImageID; id != "" {
		if cache.Has(id) {
			return id
		}
		for _, task := range scene.TaskQueue {
			if task.AssetID == id {
				if key := tasks.CacheKey(task); cache.Has(key) {
					return key
				}
			}
		}
	}
	for i := len(scene.TaskQueue) - 1; i >= 0; i-- {
		task := scene.TaskQueue[i]
		if task.Type != story.TaskIllustration {
			continue
		}
		if key := tasks.CacheKey(task); cache.Has(key) {
			return key
		}
	}
	if cache.Has(tasks.KeyVisualKey) {
		return tasks.KeyVisualKey
	}
	return ""
}

// Export captures the campaign as a save document.
func (s *Session) Export() (savefile.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initial == nil || len(s.archive) == 0 {
		return savefile.Document{}, ErrNoCampaign
	}
	scenes := make([]*story.Scene, len(s.archive))
	for i, sc := range s.archive {
		scenes[i] = sc.Clone()
	}
	initial := s.initial.Clone()
	return savefile.Document{
		Version:           story.SchemaVersion,
		Genre:             s.genre,
		SceneArchive:      scenes,
		CurrentSceneIndex: s.current,
		ImageCache:        s.exec.Cache().Snapshot(),
		InitialSnapshot:   &initial,
		SavedAt:           time.Now().UTC(),
	}, nil
}

// Restore replaces the campaign with doc. It is rejected while a turn is in flight.
func (s *Session) Restore(doc savefile.Document) error {
	if len(doc.SceneArchive) == 0 || doc.InitialSnapshot == nil {
		return savefile.ErrFormat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return ErrTurnInFlight
	}
	scenes := make([]*story.Scene, len(doc.SceneArchive))
	for i, sc := range doc.SceneArchive {
		scenes[i] = sc.Clone()
	}
	initial := doc.InitialSnapshot.Clone()
	s.archive = scenes
	s.initial = &initial
	s.genre = doc.Genre
	s.current = doc.CurrentSceneIndex
	if s.current < 0 || s.current >= len(scenes) {
		s.current = len(scenes) - 1
	}
	s.exec.Cache().Replace(doc.ImageCache)
	s.state = StateAwaitingInput
	s.notice = ""
	s.lastErr = ""
	return nil
}
