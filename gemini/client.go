package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the public Generative Language API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Text backends for the key tier.
const (
	BackendREST = "rest"
	BackendSDK  = "sdk"
)

// Models names the model used for each call kind on each tier.
type Models struct {
	FreeText  string
	KeyText   string
	FreeImage string
	KeyImage  string
}

// DefaultModels are the models used when Config.Models leaves a field empty.
var DefaultModels = Models{
	FreeText:  "gemini-2.5-flash-preview-05-20",
	KeyText:   "gemini-2.5-pro",
	FreeImage: "gemini-2.5-flash-image-preview",
	KeyImage:  "gemini-2.5-flash-image",
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	FreeBaseURL string
	Models      Models
	// APIKey returns the user's key, or "" when none is set. It is read on every call.
	APIKey     func() string
	HTTPClient *http.Client
	Recorder   Recorder
	// Backend selects how key-tier text calls are sent: BackendREST or BackendSDK.
	Backend string
}

// Client is the only boundary to the generative service. It picks the model per tier,
// attaches the key and falls back from the free tier to the key tier once on quota errors.
type Client struct {
	cfg    Config
	tracer trace.Tracer
	now    func() time.Time
}

// New builds a Client, filling defaults for anything cfg leaves empty.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.FreeBaseURL) == "" {
		cfg.FreeBaseURL = cfg.BaseURL
	}
	if cfg.Models.FreeText == "" {
		cfg.Models.FreeText = DefaultModels.FreeText
	}
	if cfg.Models.KeyText == "" {
		cfg.Models.KeyText = DefaultModels.KeyText
	}
	if cfg.Models.FreeImage == "" {
		cfg.Models.FreeImage = DefaultModels.FreeImage
	}
	if cfg.Models.KeyImage == "" {
		cfg.Models.KeyImage = DefaultModels.KeyImage
	}
	if cfg.APIKey == nil {
		cfg.APIKey = func() string { return "" }
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendREST
	}
	return &Client{
		cfg:    cfg,
		tracer: otel.Tracer("novel_ai/gemini"),
		now:    time.Now,
	}
}

// HasKey reports whether a user key is currently configured.
func (c *Client) HasKey() bool {
	return strings.TrimSpace(c.cfg.APIKey()) != ""
}

// GenerateText sends contents with systemPrompt and returns the first candidate's text.
// A free-tier quota error is retried once on the key tier when a key is set; the caller
// never sees the first failure in that case.
func (c *Client) GenerateText(ctx context.Context, contents []Content, systemPrompt string, useKey bool) (string, error) {
	return c.generateText(ctx, contents, systemPrompt, useKey, true)
}

func (c *Client) generateText(ctx context.Context, contents []Content, systemPrompt string, useKey, allowFallback bool) (string, error) {
	key := strings.TrimSpace(c.cfg.APIKey())
	if useKey && key == "" {
		return "", ErrCredentialRequired
	}

	var (
		text string
		err  error
	)
	if useKey && c.cfg.Backend == BackendSDK {
		text, err = c.sdkText(ctx, c.cfg.Models.KeyText, key, contents, systemPrompt)
	} else {
		req := generateRequest{Contents: contents}
		if systemPrompt != "" {
			req.SystemInstruction = &Content{Parts: []Part{{Text: systemPrompt}}}
		}
		tier, model := TierFree, c.cfg.Models.FreeText
		if useKey {
			tier, model = TierKey, c.cfg.Models.KeyText
		}
		text, err = c.post(ctx, KindText, tier, model, "", req, extractText)
	}

	if err != nil && !useKey && allowFallback && key != "" && IsQuota(err) {
		log.Printf("[gemini] free tier quota exceeded for text, retrying with api key")
		return c.generateText(ctx, contents, systemPrompt, true, false)
	}
	return text, err
}

// GenerateImage sends prompt followed by refs, in order, and returns the generated image as a data URL.
// cacheKey only labels the attempt in records and spans. Fallback follows GenerateText.
func (c *Client) GenerateImage(ctx context.Context, prompt string, refs []ReferenceImage, useKey bool, cacheKey string) (string, error) {
	return c.generateImage(ctx, prompt, refs, useKey, cacheKey, true)
}

func (c *Client) generateImage(ctx context.Context, prompt string, refs []ReferenceImage, useKey bool, cacheKey string, allowFallback bool) (string, error) {
	key := strings.TrimSpace(c.cfg.APIKey())
	if useKey && key == "" {
		return "", ErrCredentialRequired
	}

	parts := []Part{{Text: prompt}}
	for _, ref := range refs {
		if ref.Data == "" {
			continue
		}
		mimeType := ref.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		parts = append(parts, Part{InlineData: &InlineData{MIMEType: mimeType, Data: ref.Data}})
	}
	req := generateRequest{
		Contents:         []Content{{Role: RoleUser, Parts: parts}},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"IMAGE"}},
	}
	tier, model := TierFree, c.cfg.Models.FreeImage
	if useKey {
		tier, model = TierKey, c.cfg.Models.KeyImage
	}

	dataURL, err := c.post(ctx, KindImage, tier, model, cacheKey, req, extractImage)
	if err != nil && !useKey && allowFallback && key != "" && IsQuota(err) {
		log.Printf("[gemini] free tier quota exceeded for image %s, retrying with api key", cacheKey)
		return c.generateImage(ctx, prompt, refs, true, cacheKey, false)
	}
	return dataURL, err
}

type extractor func(model string, resp generateResponse) (string, error)

// post sends one attempt and records it, whatever the outcome.
func (c *Client) post(ctx context.Context, kind CallKind, tier Tier, model, cacheKey string, body generateRequest, extract extractor) (result string, err error) {
	ctx, span, rec := c.begin(ctx, kind, tier, model, cacheKey)
	defer func() { c.end(ctx, span, &rec, err) }()

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &TransportError{Op: "encode " + string(kind), Model: model, Err: err}
	}
	rec.RequestBytes = len(payload)
	rec.Payload = truncate(string(payload), PayloadPreview)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(tier, model), bytes.NewReader(payload))
	if err != nil {
		return "", &TransportError{Op: "build " + string(kind), Model: model, Err: redactURLError(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: string(kind), Model: model, Err: redactURLError(err)}
	}
	defer res.Body.Close()
	rec.Status = res.StatusCode

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		rec.ResponseBytes = len(raw)
		return "", &APIError{Status: res.StatusCode, Model: model, Reason: errorMessage(raw)}
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &TransportError{Op: "read " + string(kind), Model: model, Err: err}
	}
	rec.ResponseBytes = len(raw)

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &TransportError{Op: "decode " + string(kind), Model: model, Err: err}
	}
	return extract(model, decoded)
}

func (c *Client) endpoint(tier Tier, model string) string {
	base := c.cfg.BaseURL
	if tier == TierFree {
		base = c.cfg.FreeBaseURL
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(base, "/"), url.PathEscape(model))
	if tier == TierKey {
		endpoint += "?key=" + url.QueryEscape(strings.TrimSpace(c.cfg.APIKey()))
	}
	return endpoint
}

// redactURLError masks the key query parameter in a *url.Error so the credential never
// reaches logs, traces, the debug store or the page.
func redactURLError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{Op: urlErr.Op, URL: RedactURL(urlErr.URL), Err: urlErr.Err}
}

// RedactURL replaces the value of the key query parameter with "REDACTED".
// Strings that do not parse are dropped entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if !q.Has("key") {
		return raw
	}
	q.Set("key", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) begin(ctx context.Context, kind CallKind, tier Tier, model, cacheKey string) (context.Context, trace.Span, CallRecord) {
	attrs := []attribute.KeyValue{
		attribute.String("gemini.model", model),
		attribute.String("gemini.tier", string(tier)),
	}
	if cacheKey != "" {
		attrs = append(attrs, attribute.String("gemini.cache_key", cacheKey))
	}
	ctx, span := c.tracer.Start(ctx, "gemini."+string(kind), trace.WithAttributes(attrs...))
	return ctx, span, CallRecord{Kind: kind, Model: model, Tier: tier, CacheKey: cacheKey, At: c.now()}
}

func (c *Client) end(ctx context.Context, span trace.Span, rec *CallRecord, err error) {
	rec.Duration = c.now().Sub(rec.At)
	rec.Success = err == nil
	if rec.Status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", rec.Status))
	}
	if err != nil {
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	c.cfg.Recorder.RecordCall(ctx, *rec)
}

func extractText(model string, resp generateResponse) (string, error) {
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		if text := resp.Candidates[0].Content.Parts[0].Text; text != "" {
			return text, nil
		}
	}
	if reason := resp.blockReason(); reason != "" {
		return "", &APIError{Model: model, Reason: "blocked: " + reason}
	}
	return "", &TransportError{Op: "text", Model: model, Err: ErrEmptyResponse}
}

func extractImage(model string, resp generateResponse) (string, error) {
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return DataURL(part.InlineData.MIMEType, part.InlineData.Data), nil
			}
		}
	}
	if reason := resp.blockReason(); reason != "" {
		return "", &APIError{Model: model, Reason: "blocked: " + reason}
	}
	return "", &TransportError{Op: "image", Model: model, Err: ErrNoImage}
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}
