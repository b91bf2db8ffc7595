package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"novel_ai/gemini"
	"novel_ai/prompts"
	"novel_ai/story"
	"novel_ai/tasks"
)

// State is where the session's current turn stands.
type State string

const (
	StateAwaitingInput       State = "awaiting_input"
	StateNarrativeGenerating State = "narrative_generating"
	StateNarrativeReady      State = "narrative_ready"
	StateAnalysisGenerating  State = "analysis_generating"
	StateSnapshotMerging     State = "snapshot_merging"
	StateTaskQueueExecuting  State = "task_queue_executing"
	StateComplete            State = "complete"
	StateFailed              State = "failed"
)

var (
	// ErrTurnInFlight rejects a submission while another turn is still running.
	ErrTurnInFlight = errors.New("session: a turn is already in progress")
	// ErrNoCampaign rejects turns before a campaign has been started or loaded.
	ErrNoCampaign = errors.New("session: no campaign started")
	// ErrSceneOutOfRange rejects a scene index outside the archive.
	ErrSceneOutOfRange = errors.New("session: scene index out of range")
	// ErrEmptyInput rejects a blank action.
	ErrEmptyInput = errors.New("session: input is empty")
)

// Messages shown in place of the raw error when a text call fails for want of a key.
const (
	MessageQuotaAddKey = "The free tier is out of quota right now. Add your own Gemini API key in settings to keep playing."
	MessageQuotaWait   = "The Gemini quota is exhausted. Wait a moment and try again."
	MessageKeyRequired = "This request needs an API key. Add your Gemini API key in settings."
)

// TextGenerator is the part of the gateway the session needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, contents []gemini.Content, systemPrompt string, useKey bool) (string, error)
}

// ErrorRecorder receives pipeline failures for the debug log.
type ErrorRecorder interface {
	RecordError(ctx context.Context, sessionID, stage string, err error)
}

// Options configures a Session.
type Options struct {
	ID            string
	Text          TextGenerator
	Executor      *tasks.Executor
	HistoryWindow int
	// Preferences holds the session's settings. When UseKey is nil it decides the tier.
	Preferences *Preferences
	// UseKey reports whether calls should go straight to the key tier.
	UseKey func() bool
	Errors ErrorRecorder
}

// Session owns one campaign: its scene archive, image cache and the single in-flight turn.
// All mutable fields are guarded by mu; background turn work applies its results under mu.
type Session struct {
	id     string
	text   TextGenerator
	exec   *tasks.Executor
	window int
	useKey func() bool
	prefs  *Preferences
	errs   ErrorRecorder
	tracer trace.Tracer

	mu         sync.Mutex
	genre      string
	archive    []*story.Scene
	current    int
	initial    *story.WorldSnapshot
	generating bool
	state      State
	notice     string
	lastErr    string
}

// New builds an empty Session. opts.Text and opts.Executor are required.
func New(opts Options) *Session {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.UseKey == nil && opts.Preferences != nil {
		opts.UseKey = opts.Preferences.UseKey
	}
	if opts.UseKey == nil {
		opts.UseKey = func() bool { return false }
	}
	return &Session{
		id:     opts.ID,
		text:   opts.Text,
		exec:   opts.Executor,
		window: opts.HistoryWindow,
		useKey: opts.UseKey,
		prefs:  opts.Preferences,
		errs:   opts.Errors,
		tracer: otel.Tracer("novel_ai/session"),
		state:  StateAwaitingInput,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Preferences returns the session's settings, or nil when none were configured.
func (s *Session) Preferences() *Preferences { return s.prefs }

// Turn is a submitted turn. Index is the scene's position in the archive; Done closes
// once analysis and image generation have finished.
type Turn struct {
	Index int
	done  chan struct{}
}

// Done is closed when the turn's background work has finished.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn completes or ctx ends.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type campaign struct {
	genre   string
	initial story.WorldSnapshot
}

// plan is everything a turn needs, captured under the lock before any remote call.
type plan struct {
	keep     int
	history  []*story.Scene
	prev     story.WorldSnapshot
	genre    string
	input    string
	campaign *campaign
}

// Start builds a new world from genre and adventure and runs the opening turn.
// The previous campaign, if any, survives untouched unless the opening narrative succeeds.
func (s *Session) Start(ctx context.Context, genre, adventure string) (*Turn, error) {
	adventure = strings.TrimSpace(adventure)
	if adventure == "" {
		return nil, ErrEmptyInput
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "session.start", trace.WithAttributes(attribute.String("novel.genre", genre)))
	defer span.End()

	snapshot, err := s.buildWorld(ctx, genre, adventure)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.abort(ctx, "world", err)
		return nil, err
	}

	return s.run(ctx, plan{
		keep:     0,
		prev:     snapshot,
		genre:    genre,
		input:    adventure,
		campaign: &campaign{genre: genre, initial: snapshot},
	})
}

// Submit runs a turn appended after the last scene. It returns as soon as the narrative
// is ready; analysis and images continue in the background. A submission while a turn is
// in flight is rejected with ErrTurnInFlight.
func (s *Session) Submit(ctx context.Context, input string) (*Turn, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	p, err := s.planLocked(len(s.archive), input)
	s.mu.Unlock()
	if err != nil {
		s.release()
		return nil, err
	}
	return s.run(ctx, p)
}

// Branch discards every scene after index and continues from there with input.
// The archive is only truncated once the new narrative has arrived; on failure it is untouched.
func (s *Session) Branch(ctx context.Context, index int, input string) (*Turn, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if index < 0 || index >= len(s.archive) {
		s.mu.Unlock()
		s.release()
		return nil, fmt.Errorf("%w: %d", ErrSceneOutOfRange, index)
	}
	p, err := s.planLocked(index+1, input)
	s.mu.Unlock()
	if err != nil {
		s.release()
		return nil, err
	}
	return s.run(ctx, p)
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return ErrTurnInFlight
	}
	s.generating = true
	s.state = StateNarrativeGenerating
	s.lastErr = ""
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.generating = false
	s.state = StateAwaitingInput
	s.mu.Unlock()
}

func (s *Session) planLocked(keep int, input string) (plan, error) {
	if s.initial == nil {
		return plan{}, ErrNoCampaign
	}
	history := make([]*story.Scene, keep)
	for i := 0; i < keep; i++ {
		history[i] = s.archive[i].Clone()
	}
	prev := *s.initial
	if keep > 0 {
		prev = history[keep-1].WorldSnapshot
	}
	return plan{keep: keep, history: history, prev: prev.Clone(), genre: s.genre, input: input}, nil
}

func (s *Session) buildWorld(ctx context.Context, genre, adventure string) (story.WorldSnapshot, error) {
	system := prompts.WorldBuilder(genre)
	raw, err := s.text.GenerateText(ctx, []gemini.Content{gemini.UserText(prompts.Brief(genre, adventure))}, system, s.useKey())
	if err != nil {
		return story.WorldSnapshot{}, fmt.Errorf("build world: %w", err)
	}
	snapshot, err := story.DecodeBrief(raw)
	if err == nil {
		return snapshot, nil
	}

	log.Printf("[session] world brief did not decode, asking for a repair: %v", err)
	repaired, rerr := s.text.GenerateText(ctx, []gemini.Content{gemini.UserText(prompts.JSONRepair(raw))}, system, s.useKey())
	if rerr != nil {
		return story.WorldSnapshot{}, fmt.Errorf("repair world brief: %w", rerr)
	}
	snapshot, err = story.DecodeBrief(repaired)
	if err != nil {
		return story.WorldSnapshot{}, err
	}
	return snapshot, nil
}

// run performs the narrative call and commits the scene. The caller holds the in-flight flag.
func (s *Session) run(ctx context.Context, p plan) (*Turn, error) {
	ctx, span := s.tracer.Start(ctx, "session.narrative", trace.WithAttributes(attribute.Int("novel.scene_index", p.keep)))
	defer span.End()

	contents, err := BuildContext(p.history, p.input, p.prev, s.window)
	if err != nil {
		s.abort(ctx, "narrative", err)
		return nil, err
	}
	raw, err := s.text.GenerateText(ctx, contents, prompts.StoryGenerator(p.genre), s.useKey())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = fmt.Errorf("generate narrative: %w", err)
		s.abort(ctx, "narrative", err)
		return nil, err
	}

	scene := &story.Scene{
		UserInput:        p.input,
		WorldSnapshot:    p.prev.Clone(),
		RawStoryResponse: raw,
	}
	narrative, parseErr := story.DecodeNarrative(raw)
	if parseErr != nil {
		degraded := story.DegradedScene(p.input, raw, p.prev, parseErr)
		scene = &degraded
	} else {
		scene.Title = narrative.Title
		scene.Story = narrative.Story
	}

	turn := &Turn{Index: p.keep, done: make(chan struct{})}

	s.mu.Lock()
	if p.campaign != nil {
		initial := p.campaign.initial.Clone()
		s.genre = p.campaign.genre
		s.initial = &initial
		s.exec.Cache().Replace(nil)
		s.notice = ""
	}
	archive := make([]*story.Scene, p.keep, p.keep+1)
	copy(archive, s.archive[:p.keep])
	s.archive = append(archive, scene)
	s.current = p.keep
	s.state = StateNarrativeReady
	if parseErr != nil {
		s.generating = false
		s.state = StateComplete
		s.lastErr = parseErr.Error()
		s.mu.Unlock()
		s.recordError(ctx, "narrative parse", parseErr)
		close(turn.done)
		return turn, nil
	}
	s.mu.Unlock()

	go s.finish(context.WithoutCancel(ctx), turn, scene, p)
	return turn, nil
}

// finish runs analysis, merge and the task queue for a committed scene.
func (s *Session) finish(ctx context.Context, turn *Turn, scene *story.Scene, p plan) {
	defer close(turn.done)
	ctx, span := s.tracer.Start(ctx, "session.enrich", trace.WithAttributes(attribute.Int("novel.scene_index", turn.Index)))
	defer span.End()

	s.setState(StateAnalysisGenerating)
	s.mu.Lock()
	storyText := scene.Story
	s.mu.Unlock()

	req, err := prompts.Encode(prompts.AnalysisRequest{StoryForAnalysis: storyText, DynamicAssetDatabase: p.prev})
	if err != nil {
		s.markFailed(ctx, scene, "analysis", "", err)
		return
	}
	raw, err := s.text.GenerateText(ctx, []gemini.Content{gemini.UserText(req)}, prompts.AnalysisPrompt, s.useKey())
	if err != nil {
		span.RecordError(err)
		s.markFailed(ctx, scene, "analysis", "", err)
		return
	}
	analysis, err := story.DecodeAnalysis(raw)
	if err != nil {
		s.markFailed(ctx, scene, "analysis parse", raw, err)
		return
	}

	s.setState(StateSnapshotMerging)
	next := story.MergeNewAssets(p.prev, analysis.NewAssets)
	queue := analysis.TaskQueue
	if turn.Index == 0 && !hasKeyVisual(queue) && !s.exec.Cache().Has(tasks.KeyVisualKey) {
		queue = append([]story.ImageTask{{AssetID: tasks.KeyVisualKey, Type: story.TaskKeyVisual}}, queue...)
	}

	s.mu.Lock()
	scene.RawAnalysisResponse = raw
	scene.WorldSnapshot = next
	scene.TaskQueue = queue
	scene.Choices = analysis.ChoiceStrings()
	scene.Hints = analysis.Hints
	scene.Evaluation = analysis.Evaluation
	scene.DisplayImageID = analysis.DisplayImageID
	s.state = StateTaskQueueExecuting
	s.mu.Unlock()

	res := s.exec.Run(ctx, tasks.Input{Queue: queue, Snapshot: next, Story: storyText, UseKey: s.useKey()})

	s.mu.Lock()
	scene.IsComplete = true
	if res.Notice != "" {
		s.notice = res.Notice
	}
	s.generating = false
	s.state = StateComplete
	s.mu.Unlock()
}

func (s *Session) markFailed(ctx context.Context, scene *story.Scene, stage, raw string, err error) {
	log.Printf("[session] %s failed for %s: %v", stage, s.id, err)
	s.mu.Lock()
	scene.Error = true
	scene.ErrorMessage = err.Error()
	if raw != "" {
		scene.RawAnalysisResponse = raw
	}
	scene.IsComplete = true
	s.generating = false
	s.state = StateComplete
	s.lastErr = s.Describe(err)
	s.mu.Unlock()
	s.recordError(ctx, stage, err)
}

// abort ends a turn that failed before any scene was committed.
func (s *Session) abort(ctx context.Context, stage string, err error) {
	log.Printf("[session] %s failed for %s: %v", stage, s.id, err)
	s.mu.Lock()
	s.generating = false
	s.state = StateFailed
	s.lastErr = s.Describe(err)
	s.mu.Unlock()
	s.recordError(ctx, stage, err)
}

// Describe turns a turn failure into the message shown to the player. Quota and missing-key
// failures point at the settings panel; anything else is reported as is.
func (s *Session) Describe(err error) string {
	switch {
	case errors.Is(err, gemini.ErrCredentialRequired):
		return MessageKeyRequired
	case gemini.IsQuota(err):
		if s.prefs != nil && s.prefs.APIKey() != "" {
			return MessageQuotaWait
		}
		return MessageQuotaAddKey
	}
	return err.Error()
}

func (s *Session) recordError(ctx context.Context, stage string, err error) {
	if s.errs != nil {
		s.errs.RecordError(ctx, s.id, stage, err)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func hasKeyVisual(queue []story.ImageTask) bool {
	for _, task := range queue {
		if task.Type == story.TaskKeyVisual {
			return true
		}
	}
	return false
}
