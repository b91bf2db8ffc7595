package gemini

import (
	"context"
	"time"
	"unicode/utf8"
)

// Tier is the credential tier a call was made on.
type Tier string

const (
	TierFree Tier = "free"
	TierKey  Tier = "key"
)

// CallKind distinguishes text from image calls.
type CallKind string

const (
	KindText  CallKind = "text"
	KindImage CallKind = "image"
)

// PayloadPreview is how much of each request body a CallRecord keeps.
const PayloadPreview = 500

// CallRecord describes one attempt against the service. A call that falls back produces two.
type CallRecord struct {
	Kind          CallKind
	Model         string
	Tier          Tier
	CacheKey      string
	Status        int
	Success       bool
	Duration      time.Duration
	RequestBytes  int
	ResponseBytes int
	Payload       string
	Error         string
	At            time.Time
}

// Recorder receives every CallRecord. Implementations must not block for long and must not fail the call.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec CallRecord)

func (f RecorderFunc) RecordCall(ctx context.Context, rec CallRecord) { f(ctx, rec) }

type nopRecorder struct{}

func (nopRecorder) RecordCall(context.Context, CallRecord) {}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for !utf8.ValidString(cut) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
