package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel_ai/gemini"
	"novel_ai/prompts"
	"novel_ai/story"
	"novel_ai/tasks"
)

const (
	worldJSON = `{"plotSummary":"A detective hunts a forger.","keyCharacters":[{"id":"vince","name":"Vince","description":"a tired detective","visualKeywords":"trench coat"}],"keyItems":[],"keyLocations":[{"id":"office","name":"Office"}],"artStyleKeywords":"film noir"}`
	analysisJSON = `{"evaluation":{"plausibility":8,"importance":6},"newAssets":{"keyCharacters":[{"id":"vince","description":"a detective with a lead"}]},"taskQueue":[{"assetId":"vince","type":"3_view_reference"}],"hints":{"characters":[],"skills":[],"inventory":[]},"choices":["Follow the lead","Go home"],"displayImageId":"vince"}`
)

func narrativeJSON(title string) string {
	return fmt.Sprintf(`{"title":%q,"story":"Rain on the window of scene %s."}`, title, title)
}

type textCall struct {
	kind     string
	contents []gemini.Content
}

// fakeText answers by call kind, which it reads off the system prompt.
type fakeText struct {
	mu    sync.Mutex
	calls []textCall

	world    []string
	worldErr error
	story    func(n int) (string, error)
	analysis func(n int) (string, error)

	// release, when set, holds analysis calls until it is closed.
	release chan struct{}
}

func kindOf(system string) string {
	switch {
	case strings.HasPrefix(system, prompts.WorldBuilderPrompt[:30]):
		return "world"
	case strings.HasPrefix(system, prompts.StoryGeneratorPrompt[:30]):
		return "story"
	case system == prompts.AnalysisPrompt:
		return "analysis"
	}
	return "unknown"
}

func (f *fakeText) GenerateText(_ context.Context, contents []gemini.Content, system string, _ bool) (string, error) {
	kind := kindOf(system)
	f.mu.Lock()
	f.calls = append(f.calls, textCall{kind: kind, contents: contents})
	n := f.countLocked(kind)
	release := f.release
	f.mu.Unlock()

	switch kind {
	case "world":
		if f.worldErr != nil {
			return "", f.worldErr
		}
		if n-1 < len(f.world) {
			return f.world[n-1], nil
		}
		return worldJSON, nil
	case "story":
		if f.story != nil {
			return f.story(n)
		}
		return narrativeJSON(fmt.Sprint(n)), nil
	case "analysis":
		if release != nil {
			<-release
		}
		if f.analysis != nil {
			return f.analysis(n)
		}
		return analysisJSON, nil
	}
	return "", errors.New("unexpected call")
}

func (f *fakeText) countLocked(kind string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeText) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(kind)
}

type fakeImages struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeImages) GenerateImage(_ context.Context, _ string, _ []gemini.ReferenceImage, _ bool, cacheKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, cacheKey)
	if f.err != nil {
		return "", f.err
	}
	return gemini.DataURL("image/png", "img-"+cacheKey), nil
}

type errorLog struct {
	mu     sync.Mutex
	stages []string
}

func (e *errorLog) RecordError(_ context.Context, _ string, stage string, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = append(e.stages, stage)
}

func newTestSession(text TextGenerator, images tasks.ImageGenerator) *Session {
	return New(Options{
		ID:       "test",
		Text:     text,
		Executor: tasks.NewExecutor(images, tasks.NewCache(), nil),
	})
}

func wait(t *testing.T, turn *Turn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, turn.Wait(ctx))
}

func startCampaign(t *testing.T, s *Session) {
	t.Helper()
	turn, err := s.Start(context.Background(), "noir", "A forger in the rain.")
	require.NoError(t, err)
	wait(t, turn)
}

func TestStartOpensCampaign(t *testing.T) {
	text := &fakeText{}
	images := &fakeImages{}
	s := newTestSession(text, images)

	turn, err := s.Start(context.Background(), "noir", "A forger in the rain.")
	require.NoError(t, err)
	assert.Equal(t, 0, turn.Index)
	wait(t, turn)

	v := s.View()
	require.Len(t, v.Scenes, 1)
	assert.Equal(t, "noir", v.Genre)
	assert.True(t, v.HasCampaign)
	assert.False(t, v.Generating)
	assert.Equal(t, StateComplete, v.State)

	sc := v.CurrentScene()
	require.NotNil(t, sc)
	assert.Equal(t, "1", sc.Title)
	assert.True(t, sc.IsComplete)
	assert.Equal(t, []string{"Follow the lead", "Go home"}, sc.Choices)
	require.NotEmpty(t, sc.WorldSnapshot.KeyCharacters)
	assert.Equal(t, "a detective with a lead", sc.WorldSnapshot.KeyCharacters[0].Description)
	assert.Equal(t, "trench coat", sc.WorldSnapshot.KeyCharacters[0].VisualKeywords)

	// The opening turn always renders the key visual before anything that references it.
	assert.Equal(t, []string{tasks.KeyVisualKey, "vince_three_view_reference"}, images.keys)
	assert.Equal(t, "vince_three_view_reference", s.DisplayKey(sc))
}

func TestStartRepairsWorldBrief(t *testing.T) {
	text := &fakeText{world: []string{"not json at all", "```json\n" + worldJSON + "\n```"}}
	s := newTestSession(text, &fakeImages{})
	startCampaign(t, s)

	assert.Equal(t, 2, text.count("world"))
	v := s.View()
	require.Len(t, v.Scenes, 1)
	assert.Equal(t, "A detective hunts a forger.", v.Scenes[0].WorldSnapshot.PlotSummary)
}

func TestNarrativeReadyBeforeAnalysis(t *testing.T) {
	text := &fakeText{release: make(chan struct{})}
	s := newTestSession(text, &fakeImages{})

	turn, err := s.Start(context.Background(), "noir", "A forger in the rain.")
	require.NoError(t, err)

	v := s.View()
	require.Len(t, v.Scenes, 1)
	assert.True(t, v.Generating)
	assert.Equal(t, "1", v.Scenes[0].Title)
	assert.False(t, v.Scenes[0].IsComplete)

	_, err = s.Submit(context.Background(), "Knock on the door")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	_, err = s.Branch(context.Background(), 0, "Leave")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(text.release)
	wait(t, turn)
	assert.Len(t, s.View().Scenes, 1)
	assert.Equal(t, 1, text.count("story"))
}

func TestSubmitAppendsAndBranchTruncates(t *testing.T) {
	text := &fakeText{}
	s := newTestSession(text, &fakeImages{})
	startCampaign(t, s)

	for _, input := range []string{"Knock", "Enter", "Search the desk"} {
		turn, err := s.Submit(context.Background(), input)
		require.NoError(t, err)
		wait(t, turn)
	}
	require.Len(t, s.View().Scenes, 4)

	turn, err := s.Branch(context.Background(), 1, "Run instead")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Index)
	wait(t, turn)

	v := s.View()
	require.Len(t, v.Scenes, 3)
	assert.Equal(t, 2, v.Current)
	assert.Equal(t, "Run instead", v.Scenes[2].UserInput)
	assert.Equal(t, "Knock", v.Scenes[1].UserInput)

	turn, err = s.Submit(context.Background(), "Keep running")
	require.NoError(t, err)
	wait(t, turn)
	assert.Len(t, s.View().Scenes, 4)
}

func TestBranchUsesSnapshotOfBranchPoint(t *testing.T) {
	text := &fakeText{}
	s := newTestSession(text, &fakeImages{})
	startCampaign(t, s)

	turn, err := s.Branch(context.Background(), 0, "Again")
	require.NoError(t, err)
	wait(t, turn)

	text.mu.Lock()
	last := text.calls[len(text.calls)-2]
	text.mu.Unlock()
	require.Equal(t, "story", last.kind)
	final := last.contents[len(last.contents)-1].Parts
	request := final[len(final)-1].Text
	assert.Contains(t, request, "a detective with a lead")
	assert.Contains(t, request, `"currentUserAction":"Again"`)
}

func TestBranchOutOfRange(t *testing.T) {
	s := newTestSession(&fakeText{}, &fakeImages{})
	startCampaign(t, s)

	_, err := s.Branch(context.Background(), 5, "x")
	assert.ErrorIs(t, err, ErrSceneOutOfRange)
	assert.False(t, s.View().Generating)
}

func TestSubmitRequiresCampaign(t *testing.T) {
	s := newTestSession(&fakeText{}, &fakeImages{})
	_, err := s.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoCampaign)
	assert.False(t, s.View().Generating)

	_, err = s.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNarrativeFailureLeavesArchiveUntouched(t *testing.T) {
	text := &fakeText{}
	errs := &errorLog{}
	s := New(Options{ID: "test", Text: text, Executor: tasks.NewExecutor(&fakeImages{}, tasks.NewCache(), nil), Errors: errs})
	startCampaign(t, s)
	before := s.View().Scenes

	text.story = func(int) (string, error) { return "", errors.New("boom") }
	_, err := s.Branch(context.Background(), 0, "Try again")
	require.Error(t, err)

	v := s.View()
	assert.Equal(t, before, v.Scenes)
	assert.Equal(t, StateFailed, v.State)
	assert.False(t, v.Generating)
	assert.Contains(t, v.LastError, "boom")
	assert.Equal(t, []string{"narrative"}, errs.stages)
}

func TestKeyFailuresSuggestAddingAKey(t *testing.T) {
	quota := &gemini.APIError{Status: 429, Model: "free-model", Reason: "Resource exhausted"}

	t.Run("quota on start without a key", func(t *testing.T) {
		s := newTestSession(&fakeText{worldErr: quota}, &fakeImages{})
		_, err := s.Start(context.Background(), "noir", "A forger in the rain.")
		require.Error(t, err)
		assert.True(t, gemini.IsQuota(err))

		v := s.View()
		assert.Equal(t, MessageQuotaAddKey, v.LastError)
		assert.Equal(t, MessageQuotaAddKey, s.Describe(err))
	})

	t.Run("quota with a key saved", func(t *testing.T) {
		store := &memStore{values: map[string]string{}}
		prefs, err := LoadPreferences(context.Background(), store, "test", Settings{APIKey: "k"})
		require.NoError(t, err)
		s := New(Options{
			ID:          "test",
			Text:        &fakeText{worldErr: quota},
			Executor:    tasks.NewExecutor(&fakeImages{}, tasks.NewCache(), nil),
			Preferences: prefs,
		})
		_, err = s.Start(context.Background(), "noir", "A forger in the rain.")
		require.Error(t, err)
		assert.Equal(t, MessageQuotaWait, s.View().LastError)
	})

	t.Run("missing key on a turn", func(t *testing.T) {
		text := &fakeText{}
		s := newTestSession(text, &fakeImages{})
		startCampaign(t, s)

		text.story = func(int) (string, error) { return "", gemini.ErrCredentialRequired }
		_, err := s.Submit(context.Background(), "Knock")
		require.ErrorIs(t, err, gemini.ErrCredentialRequired)
		assert.Equal(t, MessageKeyRequired, s.View().LastError)
	})

	t.Run("other failures keep their text", func(t *testing.T) {
		s := newTestSession(&fakeText{}, &fakeImages{})
		assert.Equal(t, "boom", s.Describe(errors.New("boom")))
	})
}

func TestFailedStartKeepsPreviousCampaign(t *testing.T) {
	text := &fakeText{}
	s := newTestSession(text, &fakeImages{})
	startCampaign(t, s)

	text.story = func(int) (string, error) { return "", errors.New("down") }
	_, err := s.Start(context.Background(), "fantasy", "Dragons.")
	require.Error(t, err)

	v := s.View()
	assert.Equal(t, "noir", v.Genre)
	assert.Len(t, v.Scenes, 1)
	_, ok := s.Image(tasks.KeyVisualKey)
	assert.True(t, ok)
}

func TestUnreadableNarrativeIsDegraded(t *testing.T) {
	text := &fakeText{}
	s := newTestSession(text, &fakeImages{})
	startCampaign(t, s)

	text.story = func(int) (string, error) { return "the model rambled", nil }
	turn, err := s.Submit(context.Background(), "Look around")
	require.NoError(t, err)
	wait(t, turn)

	v := s.View()
	require.Len(t, v.Scenes, 2)
	sc := v.Scenes[1]
	assert.True(t, sc.Error)
	assert.True(t, sc.IsComplete)
	assert.Equal(t, story.DegradedTitle, sc.Title)
	assert.Equal(t, "the model rambled", sc.RawStoryResponse)
	assert.False(t, v.Generating)
	assert.Equal(t, 1, text.count("analysis"))
}

func TestMalformedAnalysisKeepsStory(t *testing.T) {
	text := &fakeText{}
	s := newTestSession(text, &fakeImages{})
	startCampaign(t, s)

	text.analysis = func(int) (string, error) { return "{broken", nil }
	turn, err := s.Submit(context.Background(), "Look around")
	require.NoError(t, err)
	wait(t, turn)

	v := s.View()
	sc := v.Scenes[1]
	assert.True(t, sc.Error)
	assert.True(t, sc.IsComplete)
	assert.Equal(t, "Rain on the window of scene 2.", sc.Story)
	assert.Equal(t, "{broken", sc.RawAnalysisResponse)
	assert.Equal(t, v.Scenes[0].WorldSnapshot, sc.WorldSnapshot)
	assert.Equal(t, StateComplete, v.State)
	assert.False(t, v.Generating)
}

func TestImageFailureSetsNoticeOnce(t *testing.T) {
	s := newTestSession(&fakeText{}, &fakeImages{err: &gemini.APIError{Status: http.StatusTooManyRequests}})
	startCampaign(t, s)

	assert.Equal(t, tasks.NoticeAddKey, s.TakeNotice())
	assert.Empty(t, s.TakeNotice())
	img, ok := s.Image(tasks.KeyVisualKey)
	require.True(t, ok)
	assert.Equal(t, tasks.Placeholder, img)
}

func TestQuotaFallbackEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var freeCalls, keyCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Query().Get("key") == "" {
			freeCalls++
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
			return
		}
		keyCalls++
		var req struct {
			SystemInstruction *gemini.Content `json:"systemInstruction"`
		}
		_ = json.Unmarshal(body, &req)
		var reply string
		if req.SystemInstruction == nil {
			_, _ = fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"QUJD"}}]}}]}`)
			return
		}
		switch kindOf(req.SystemInstruction.Parts[0].Text) {
		case "world":
			reply = worldJSON
		case "story":
			reply = narrativeJSON("1")
		default:
			reply = analysisJSON
		}
		out, _ := json.Marshal(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}}}},
		})
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	client := gemini.New(gemini.Config{BaseURL: srv.URL, APIKey: func() string { return "user-key" }})
	s := New(Options{ID: "test", Text: client, Executor: tasks.NewExecutor(client, tasks.NewCache(), nil)})
	startCampaign(t, s)

	v := s.View()
	require.Len(t, v.Scenes, 1)
	assert.False(t, v.Scenes[0].Error)
	assert.Empty(t, s.TakeNotice())
	img, ok := s.Image(tasks.KeyVisualKey)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,QUJD", img)

	mu.Lock()
	defer mu.Unlock()
	// world, story, analysis and two images: each fails once on the free tier.
	assert.Equal(t, 5, freeCalls)
	assert.Equal(t, 5, keyCalls)
}

func TestBuildContextWindowAndMemory(t *testing.T) {
	var history []*story.Scene
	for i := 1; i <= 6; i++ {
		history = append(history, &story.Scene{
			UserInput:           fmt.Sprintf("action %d", i),
			Story:               fmt.Sprintf("story %d", i),
			RawStoryResponse:    fmt.Sprintf("raw story %d", i),
			RawAnalysisResponse: fmt.Sprintf("raw analysis %d", i),
		})
	}
	contents, err := BuildContext(history, "next", story.WorldSnapshot{PlotSummary: "plot"}, 2)
	require.NoError(t, err)

	// memory+action5 | model5 | action6 | model6 | request
	require.Len(t, contents, 5)
	assert.Equal(t, gemini.RoleUser, contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	memory := contents[0].Parts[0].Text
	assert.Contains(t, memory, "1. story 1")
	assert.Contains(t, memory, "4. story 4")
	assert.NotContains(t, memory, "story 5")
	assert.Equal(t, "action 5", contents[0].Parts[1].Text)

	assert.Equal(t, gemini.RoleModel, contents[1].Role)
	assert.Equal(t, []gemini.Part{{Text: "raw story 5"}, {Text: "raw analysis 5"}}, contents[1].Parts)

	last := contents[4]
	assert.Equal(t, gemini.RoleUser, last.Role)
	require.Len(t, last.Parts, 1)
	assert.Contains(t, last.Parts[0].Text, `"currentUserAction":"next"`)
	assert.Contains(t, last.Parts[0].Text, `"plotSummary":"plot"`)
}

func TestBuildContextOpeningTurn(t *testing.T) {
	contents, err := BuildContext(nil, "begin", story.WorldSnapshot{}, 0)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, gemini.RoleUser, contents[0].Role)
}

func TestDisplayKeyFallbacks(t *testing.T) {
	cache := tasks.NewCache()
	sc := &story.Scene{
		DisplayImageID: "ghost",
		TaskQueue: []story.ImageTask{
			{AssetID: "harbor", Type: story.TaskIllustration},
		},
	}
	assert.Empty(t, DisplayKey(sc, cache))

	cache.Put(tasks.KeyVisualKey, "kv")
	assert.Equal(t, tasks.KeyVisualKey, DisplayKey(sc, cache))

	cache.Put("harbor_illustration", "ill")
	assert.Equal(t, "harbor_illustration", DisplayKey(sc, cache))

	cache.Put("ghost", "direct")
	assert.Equal(t, "ghost", DisplayKey(sc, cache))
	assert.Empty(t, DisplayKey(nil, cache))
}

func TestExportRestore(t *testing.T) {
	s := newTestSession(&fakeText{}, &fakeImages{})
	_, err := s.Export()
	assert.ErrorIs(t, err, ErrNoCampaign)

	startCampaign(t, s)
	doc, err := s.Export()
	require.NoError(t, err)
	assert.Equal(t, story.SchemaVersion, doc.Version)
	assert.Len(t, doc.SceneArchive, 1)
	assert.Contains(t, doc.ImageCache, tasks.KeyVisualKey)

	other := newTestSession(&fakeText{}, &fakeImages{})
	require.NoError(t, other.Restore(doc))
	v := other.View()
	assert.Equal(t, "noir", v.Genre)
	assert.Len(t, v.Scenes, 1)
	_, ok := other.Image(tasks.KeyVisualKey)
	assert.True(t, ok)

	// Restored campaigns accept new turns.
	turn, err := other.Submit(context.Background(), "Carry on")
	require.NoError(t, err)
	wait(t, turn)
	assert.Len(t, other.View().Scenes, 2)
}

func TestShowAndScene(t *testing.T) {
	s := newTestSession(&fakeText{}, &fakeImages{})
	startCampaign(t, s)
	turn, err := s.Submit(context.Background(), "Next")
	require.NoError(t, err)
	wait(t, turn)

	require.NoError(t, s.Show(0))
	assert.Equal(t, 0, s.View().Current)
	assert.ErrorIs(t, s.Show(9), ErrSceneOutOfRange)

	sc, err := s.Scene(1)
	require.NoError(t, err)
	sc.Title = "changed"
	again, err := s.Scene(1)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", again.Title)
}

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager(func(id string) (*Session, error) {
		return New(Options{ID: id, Text: &fakeText{}, Executor: tasks.NewExecutor(&fakeImages{}, tasks.NewCache(), nil)}), nil
	}, Limits{})

	s, created, err := m.GetOrCreate("")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, s.ID())

	again, created, err := m.GetOrCreate(s.ID())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)

	_, created, err = m.GetOrCreate("unknown")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, m.Len())

	const known = "6f1c1a4e-2b7d-4c55-9d47-0e3f1b2a9c10"
	rebuilt, created, err := m.GetOrCreate(known)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, known, rebuilt.ID())

	m.Delete(s.ID())
	_, ok := m.Get(s.ID())
	assert.False(t, ok)
}

func newLimitedManager(limits Limits, text *fakeText) (*Manager, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(func(id string) (*Session, error) {
		return New(Options{ID: id, Text: text, Executor: tasks.NewExecutor(&fakeImages{}, tasks.NewCache(), nil)}), nil
	}, limits)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManagerEvictsIdleSessions(t *testing.T) {
	m, now := newLimitedManager(Limits{IdleTimeout: time.Hour}, &fakeText{})

	old, _, err := m.GetOrCreate("")
	require.NoError(t, err)
	*now = now.Add(45 * time.Minute)
	recent, _, err := m.GetOrCreate("")
	require.NoError(t, err)

	*now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, m.Prune())
	_, ok := m.Get(old.ID())
	assert.False(t, ok)
	_, ok = m.Get(recent.ID())
	assert.True(t, ok)

	// An evicted browser comes back under the same id with a fresh session.
	back, created, err := m.GetOrCreate(old.ID())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, old.ID(), back.ID())
	assert.NotSame(t, old, back)
}

func TestManagerCapsSessionsLeastRecentlyUsedFirst(t *testing.T) {
	m, now := newLimitedManager(Limits{MaxSessions: 2}, &fakeText{})

	a, _, err := m.GetOrCreate("")
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	b, _, err := m.GetOrCreate("")
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, ok := m.Get(a.ID())
	require.True(t, ok)

	*now = now.Add(time.Minute)
	c, _, err := m.GetOrCreate("")
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	_, ok = m.Get(b.ID())
	assert.False(t, ok)
	_, ok = m.Get(a.ID())
	assert.True(t, ok)
	_, ok = m.Get(c.ID())
	assert.True(t, ok)
}

func TestManagerKeepsBusySessions(t *testing.T) {
	text := &fakeText{release: make(chan struct{})}
	m, now := newLimitedManager(Limits{IdleTimeout: time.Minute, MaxSessions: 1}, text)

	busy, _, err := m.GetOrCreate("")
	require.NoError(t, err)
	turn, err := busy.Start(context.Background(), "noir", "A forger in the rain.")
	require.NoError(t, err)
	require.True(t, busy.Busy())

	*now = now.Add(time.Hour)
	assert.Equal(t, 0, m.Prune())
	other, _, err := m.GetOrCreate("")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(busy.ID())
	assert.True(t, ok)

	close(text.release)
	wait(t, turn)
	assert.False(t, busy.Busy())
	*now = now.Add(time.Hour)
	assert.Equal(t, 2, m.Prune())
	_, ok = m.Get(other.ID())
	assert.False(t, ok)
}

type memStore struct {
	values map[string]string
}

func (m *memStore) GetSetting(_ context.Context, sessionID, key string) (string, bool, error) {
	v, ok := m.values[sessionID+"/"+key]
	return v, ok, nil
}

func (m *memStore) PutSetting(_ context.Context, sessionID, key, value string) error {
	m.values[sessionID+"/"+key] = value
	return nil
}

func TestPreferencesPersist(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	ctx := context.Background()

	p, err := LoadPreferences(ctx, store, "abc", Settings{})
	require.NoError(t, err)
	assert.False(t, p.UseKey())

	require.NoError(t, p.Update(ctx, Settings{APIKey: "  k1 ", PreferKey: true, Debug: true}))
	assert.True(t, p.UseKey())
	assert.Equal(t, "k1", p.APIKey())

	loaded, err := LoadPreferences(ctx, store, "abc", Settings{})
	require.NoError(t, err)
	assert.Equal(t, Settings{APIKey: "k1", PreferKey: true, Debug: true}, loaded.Settings())

	require.NoError(t, loaded.Update(ctx, Settings{PreferKey: true}))
	assert.False(t, loaded.UseKey())
}
