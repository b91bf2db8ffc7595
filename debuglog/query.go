package debuglog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultLimit caps list queries when the caller passes no limit.
const DefaultLimit = 500

// Call is a stored gateway attempt.
type Call struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"type"`
	Model         string    `json:"modelName"`
	Tier          string    `json:"tier"`
	CacheKey      string    `json:"cacheKey,omitempty"`
	Status        int       `json:"status,omitempty"`
	Success       bool      `json:"success"`
	DurationMS    int64     `json:"duration"`
	RequestBytes  int       `json:"requestSize"`
	ResponseBytes int       `json:"responseSize"`
	Payload       string    `json:"payload,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"timestamp"`
}

// ImagePrompt is a stored image prompt.
type ImagePrompt struct {
	ID         int64     `json:"id"`
	CacheKey   string    `json:"cacheKey"`
	AssetID    string    `json:"assetId,omitempty"`
	Type       string    `json:"type"`
	Prompt     string    `json:"prompt"`
	References []string  `json:"references,omitempty"`
	At         time.Time `json:"timestamp"`
}

// ErrorEntry is a stored pipeline failure.
type ErrorEntry struct {
	ID      int64     `json:"id"`
	Stage   string    `json:"operation"`
	Message string    `json:"message"`
	At      time.Time `json:"timestamp"`
}

// Summary aggregates a session's calls.
type Summary struct {
	TotalCalls        int     `json:"totalCalls"`
	SuccessfulCalls   int     `json:"successfulCalls"`
	FailedCalls       int     `json:"failedCalls"`
	AverageDurationMS float64 `json:"averageDuration"`
	TextCalls         int     `json:"textCalls"`
	ImageCalls        int     `json:"imageCalls"`
	ImagePrompts      int     `json:"imagePrompts"`
	Errors            int     `json:"errors"`
}

// Export is everything recorded for a session, oldest first.
type Export struct {
	SessionID    string        `json:"sessionId"`
	ExportedAt   time.Time     `json:"exportedAt"`
	Summary      Summary       `json:"summary"`
	Calls        []Call        `json:"apiCalls"`
	ImagePrompts []ImagePrompt `json:"imagePrompts"`
	Errors       []ErrorEntry  `json:"errors"`
}

// ListCalls returns up to limit calls of sessionID, oldest first.
func (s *Store) ListCalls(ctx context.Context, sessionID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, kind, model, tier, cache_key, status, success, duration_ms,
	request_bytes, response_bytes, payload, error, created_at
FROM api_calls
WHERE session_id = ?
ORDER BY created_at, id
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list api calls: %w", err)
	}
	defer rows.Close()

	calls := make([]Call, 0)
	for rows.Next() {
		var c Call
		var at int64
		if err := rows.Scan(&c.ID, &c.Kind, &c.Model, &c.Tier, &c.CacheKey, &c.Status, &c.Success,
			&c.DurationMS, &c.RequestBytes, &c.ResponseBytes, &c.Payload, &c.Error, &at); err != nil {
			return nil, fmt.Errorf("scan api call: %w", err)
		}
		c.At = fromMillis(at)
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api calls: %w", err)
	}
	return calls, nil
}

// ListImagePrompts returns up to limit image prompts of sessionID, oldest first.
func (s *Store) ListImagePrompts(ctx context.Context, sessionID string, limit int) ([]ImagePrompt, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, cache_key, asset_id, task_type, prompt, refs, created_at
FROM image_prompts
WHERE session_id = ?
ORDER BY created_at, id
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list image prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]ImagePrompt, 0)
	for rows.Next() {
		var p ImagePrompt
		var refs string
		var at int64
		if err := rows.Scan(&p.ID, &p.CacheKey, &p.AssetID, &p.Type, &p.Prompt, &refs, &at); err != nil {
			return nil, fmt.Errorf("scan image prompt: %w", err)
		}
		if refs != "" {
			p.References = strings.Split(refs, ",")
		}
		p.At = fromMillis(at)
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image prompts: %w", err)
	}
	return prompts, nil
}

// ListErrors returns up to limit errors of sessionID, oldest first.
func (s *Store) ListErrors(ctx context.Context, sessionID string, limit int) ([]ErrorEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, stage, message, created_at
FROM errors
WHERE session_id = ?
ORDER BY created_at, id
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	entries := make([]ErrorEntry, 0)
	for rows.Next() {
		var e ErrorEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.Stage, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		e.At = fromMillis(at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate errors: %w", err)
	}
	return entries, nil
}

// Summary aggregates everything recorded for sessionID.
func (s *Store) Summary(ctx context.Context, sessionID string) (Summary, error) {
	var sum Summary
	var avg float64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(success), 0),
	COALESCE(AVG(duration_ms), 0),
	COALESCE(SUM(kind = 'text'), 0),
	COALESCE(SUM(kind = 'image'), 0)
FROM api_calls
WHERE session_id = ?
`, sessionID).Scan(&sum.TotalCalls, &sum.SuccessfulCalls, &avg, &sum.TextCalls, &sum.ImageCalls)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize api calls: %w", err)
	}
	sum.FailedCalls = sum.TotalCalls - sum.SuccessfulCalls
	sum.AverageDurationMS = avg

	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_prompts WHERE session_id = ?`, sessionID,
	).Scan(&sum.ImagePrompts); err != nil {
		return Summary{}, fmt.Errorf("count image prompts: %w", err)
	}
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM errors WHERE session_id = ?`, sessionID,
	).Scan(&sum.Errors); err != nil {
		return Summary{}, fmt.Errorf("count errors: %w", err)
	}
	return sum, nil
}

// Export collects the summary and every record of sessionID.
func (s *Store) Export(ctx context.Context, sessionID string) (Export, error) {
	sum, err := s.Summary(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}
	calls, err := s.ListCalls(ctx, sessionID, sum.TotalCalls+1)
	if err != nil {
		return Export{}, err
	}
	prompts, err := s.ListImagePrompts(ctx, sessionID, sum.ImagePrompts+1)
	if err != nil {
		return Export{}, err
	}
	errs, err := s.ListErrors(ctx, sessionID, sum.Errors+1)
	if err != nil {
		return Export{}, err
	}
	return Export{
		SessionID:    sessionID,
		ExportedAt:   s.now().UTC(),
		Summary:      sum,
		Calls:        calls,
		ImagePrompts: prompts,
		Errors:       errs,
	}, nil
}
