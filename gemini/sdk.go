package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// sdkText sends a key-tier text call through the generative-ai-go SDK as a chat:
// every content but the last becomes history and the last is sent as the new message.
func (c *Client) sdkText(ctx context.Context, model, key string, contents []Content, systemPrompt string) (text string, err error) {
	ctx, span, rec := c.begin(ctx, KindText, TierKey, model, "")
	defer func() { c.end(ctx, span, &rec, err) }()

	if payload, err := json.Marshal(contents); err == nil {
		rec.RequestBytes = len(payload) + len(systemPrompt)
		rec.Payload = truncate(string(payload), PayloadPreview)
	}

	history, last, err := toSDKContents(contents)
	if err != nil {
		return "", &TransportError{Op: "encode text", Model: model, Err: err}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return "", &TransportError{Op: "sdk client", Model: model, Err: err}
	}
	defer client.Close()

	m := client.GenerativeModel(model)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	cs := m.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		mapped := mapSDKError(model, err)
		var apiErr *APIError
		if errors.As(mapped, &apiErr) {
			rec.Status = apiErr.Status
		}
		return "", mapped
	}
	rec.Status = http.StatusOK

	text = firstSDKText(resp)
	rec.ResponseBytes = len(text)
	if text == "" {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", &APIError{Model: model, Reason: "blocked: " + resp.PromptFeedback.BlockReason.String()}
		}
		return "", &TransportError{Op: "text", Model: model, Err: ErrEmptyResponse}
	}
	return text, nil
}

func toSDKContents(contents []Content) ([]*genai.Content, *genai.Content, error) {
	if len(contents) == 0 {
		return nil, nil, errors.New("no contents to send")
	}
	converted := make([]*genai.Content, 0, len(contents))
	for _, content := range contents {
		sc := &genai.Content{Role: content.Role}
		for _, part := range content.Parts {
			switch {
			case part.InlineData != nil:
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, nil, fmt.Errorf("decode inline data: %w", err)
				}
				sc.Parts = append(sc.Parts, genai.Blob{MIMEType: part.InlineData.MIMEType, Data: data})
			case part.Text != "":
				sc.Parts = append(sc.Parts, genai.Text(part.Text))
			}
		}
		converted = append(converted, sc)
	}
	last := converted[len(converted)-1]
	if last.Role != RoleUser && last.Role != "" {
		return nil, nil, fmt.Errorf("last content has role %q, want %q", last.Role, RoleUser)
	}
	if len(last.Parts) == 0 {
		return nil, nil, errors.New("last content is empty")
	}
	return converted[:len(converted)-1], last, nil
}

func firstSDKText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok && t != "" {
			return string(t)
		}
	}
	return ""
}

// mapSDKError converts SDK failures into the same taxonomy the REST path uses.
func mapSDKError(model string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &APIError{Status: gErr.Code, Model: model, Reason: gErr.Message}
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		reason := "content blocked"
		switch {
		case blocked.PromptFeedback != nil:
			reason = "blocked: " + blocked.PromptFeedback.BlockReason.String()
		case blocked.Candidate != nil:
			reason = "blocked: " + blocked.Candidate.FinishReason.String()
		}
		return &APIError{Model: model, Reason: reason}
	}
	if st, ok := status.FromError(err); ok && st.Code() != grpccodes.OK {
		if code := httpStatusFromGRPC(st.Code()); code != 0 {
			return &APIError{Status: code, Model: model, Reason: st.Message()}
		}
	}
	return &TransportError{Op: "text", Model: model, Err: err}
}

func httpStatusFromGRPC(code grpccodes.Code) int {
	switch code {
	case grpccodes.ResourceExhausted:
		return http.StatusTooManyRequests
	case grpccodes.InvalidArgument, grpccodes.FailedPrecondition, grpccodes.OutOfRange:
		return http.StatusBadRequest
	case grpccodes.Unauthenticated:
		return http.StatusUnauthorized
	case grpccodes.PermissionDenied:
		return http.StatusForbidden
	case grpccodes.NotFound:
		return http.StatusNotFound
	case grpccodes.Internal:
		return http.StatusInternalServerError
	case grpccodes.Unavailable:
		return http.StatusServiceUnavailable
	case grpccodes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return 0
}
