package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel_ai/gemini"
	"novel_ai/prompts"
	"novel_ai/story"
)

// ImageGenerator is the part of the gateway the executor needs.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, refs []gemini.ReferenceImage, useKey bool, cacheKey string) (string, error)
}

// PromptRecord describes one assembled image prompt.
type PromptRecord struct {
	CacheKey   string
	AssetID    string
	Type       story.TaskType
	Prompt     string
	References []string
	At         time.Time
}

// PromptRecorder receives every assembled image prompt.
type PromptRecorder interface {
	RecordImagePrompt(ctx context.Context, rec PromptRecord)
}

// Notices shown once per run when an image falls back to the placeholder.
const (
	NoticeAddKey      = "Some images could not be generated and show a placeholder. Add your own Gemini API key in settings to use a tier with higher limits."
	NoticeKeyRequired = "Some images could not be generated because an API key is required. Add your Gemini API key in settings."
)

// priority orders task types so each runs after the images it references.
var priority = map[story.TaskType]int{
	story.TaskKeyVisual:    0,
	story.TaskThreeView:    1,
	story.TaskHeadPortrait: 2,
	story.TaskIllustration: 3,
}

// Order returns the queue sorted by dependency level. Tasks of the same level keep their queue order.
func Order(queue []story.ImageTask) []story.ImageTask {
	ordered := append([]story.ImageTask(nil), queue...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority[ordered[i].Type] < priority[ordered[j].Type]
	})
	return ordered
}

// Input is one turn's task queue and the context its prompts are built from.
type Input struct {
	Queue    []story.ImageTask
	Snapshot story.WorldSnapshot
	Story    string
	UseKey   bool
}

// Result lists what a run did, by cache key.
type Result struct {
	Generated []string
	Failed    []string
	Skipped   []string
	Notice    string
}

// Executor turns task queues into cache entries, one image call at a time.
type Executor struct {
	gen      ImageGenerator
	cache    *Cache
	recorder PromptRecorder
	tracer   trace.Tracer
	now      func() time.Time
}

// NewExecutor builds an Executor. recorder may be nil.
func NewExecutor(gen ImageGenerator, cache *Cache, recorder PromptRecorder) *Executor {
	return &Executor{
		gen:      gen,
		cache:    cache,
		recorder: recorder,
		tracer:   otel.Tracer("novel_ai/tasks"),
		now:      time.Now,
	}
}

// Cache returns the cache the executor fills.
func (e *Executor) Cache() *Cache {
	return e.cache
}

// Run executes in.Queue. The key visual, when queued and missing, runs before anything else.
// Cached keys are skipped. A failed image stores Placeholder and never aborts the run.
func (e *Executor) Run(ctx context.Context, in Input) Result {
	ctx, span := e.tracer.Start(ctx, "tasks.run", trace.WithAttributes(attribute.Int("tasks.queued", len(in.Queue))))
	defer span.End()

	var res Result
	for _, task := range Order(in.Queue) {
		key := CacheKey(task)
		if e.cache.Has(key) {
			res.Skipped = append(res.Skipped, key)
			continue
		}

		payload, refs := e.resolve(task, in)
		prompt := prompts.Assemble(payload)
		e.recordPrompt(ctx, task, key, prompt, refs)

		image, err := e.gen.GenerateImage(ctx, prompt, refs, in.UseKey, key)
		if err != nil {
			log.Printf("[tasks] image %s failed, using placeholder: %v", key, err)
			e.cache.Put(key, Placeholder)
			res.Failed = append(res.Failed, key)
			if res.Notice == "" {
				res.Notice = noticeFor(err)
			}
			continue
		}
		e.cache.Put(key, image)
		res.Generated = append(res.Generated, key)
	}

	span.SetAttributes(
		attribute.Int("tasks.generated", len(res.Generated)),
		attribute.Int("tasks.failed", len(res.Failed)),
	)
	return res
}

func (e *Executor) resolve(task story.ImageTask, in Input) (prompts.Payload, []gemini.ReferenceImage) {
	payload := prompts.Payload{
		Template:   prompts.Templates[task.Type],
		TaskPrompt: task.Prompt,
	}
	keyVisual := e.references(KeyVisualKey)

	var refs []gemini.ReferenceImage
	switch task.Type {
	case story.TaskKeyVisual:
		payload.Data = prompts.SnapshotPayload(in.Snapshot)

	case story.TaskThreeView:
		payload.Data = entityPayload(in.Snapshot, task.AssetID)
		refs = keyVisual

	case story.TaskHeadPortrait:
		payload.Data = entityPayload(in.Snapshot, task.AssetID)
		threeView := story.ImageTask{AssetID: task.AssetID, Type: story.TaskThreeView}
		refs = append(keyVisual, e.references(CacheKey(threeView))...)

	case story.TaskIllustration:
		payload.Data = prompts.SnapshotPayload(in.Snapshot)
		payload.Narrative = in.Story
		refs = keyVisual
		seen := make(map[string]bool)
		for _, queued := range in.Queue {
			if queued.AssetID == "" || seen[queued.AssetID] {
				continue
			}
			seen[queued.AssetID] = true
			threeView := story.ImageTask{AssetID: queued.AssetID, Type: story.TaskThreeView}
			refs = append(refs, e.references(CacheKey(threeView))...)
		}
	}
	payload.Template.AttachmentMapping = attachmentMapping(refs, in.Snapshot)
	return payload, refs
}

// attachmentMapping numbers the references actually attached, in order.
func attachmentMapping(refs []gemini.ReferenceImage, snapshot story.WorldSnapshot) string {
	lines := make([]string, 0, len(refs))
	for i, ref := range refs {
		var what string
		if ref.ID == KeyVisualKey {
			what = "the key visual for style reference"
		} else {
			assetID := strings.TrimSuffix(ref.ID, "_"+string(story.TaskThreeView))
			name := assetID
			if entity, _, ok := snapshot.Lookup(assetID); ok && entity.Name != "" {
				name = entity.Name
			}
			what = fmt.Sprintf("the three-view reference sheet of %s", name)
		}
		lines = append(lines, fmt.Sprintf("Attachment %d is %s.", i+1, what))
	}
	return strings.Join(lines, " ")
}

// references returns the cached image under key as a reference, or nothing when it is
// missing, a placeholder or unreadable.
func (e *Executor) references(key string) []gemini.ReferenceImage {
	url, ok := e.cache.Get(key)
	if !ok || url == Placeholder {
		return nil
	}
	mimeType, data, err := gemini.SplitDataURL(url)
	if err != nil {
		return nil
	}
	return []gemini.ReferenceImage{{ID: key, MIMEType: mimeType, Data: data}}
}

func (e *Executor) recordPrompt(ctx context.Context, task story.ImageTask, key, prompt string, refs []gemini.ReferenceImage) {
	if e.recorder == nil {
		return
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	e.recorder.RecordImagePrompt(ctx, PromptRecord{
		CacheKey:   key,
		AssetID:    task.AssetID,
		Type:       task.Type,
		Prompt:     prompt,
		References: ids,
		At:         e.now(),
	})
}

func entityPayload(snapshot story.WorldSnapshot, assetID string) *prompts.DataPayload {
	if entity, _, ok := snapshot.Lookup(assetID); ok {
		return prompts.EntityPayload(entity)
	}
	return &prompts.DataPayload{Name: assetID}
}

func noticeFor(err error) string {
	if errors.Is(err, gemini.ErrCredentialRequired) {
		return NoticeKeyRequired
	}
	return NoticeAddKey
}
