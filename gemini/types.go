package gemini

import (
	"errors"
	"strings"
)

// Roles used in conversation contents.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// InlineData is base64 media carried inside a part.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one piece of a content message: text or inline media.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// Content is a role-tagged message.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// UserText builds a single-part user message.
func UserText(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// ModelText builds a single-part model message.
func ModelText(text string) Content {
	return Content{Role: RoleModel, Parts: []Part{{Text: text}}}
}

// ReferenceImage is an image attached to an image request after the prompt text.
type ReferenceImage struct {
	ID       string
	MIMEType string
	Data     string
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

func (r generateResponse) blockReason() string {
	if r.PromptFeedback == nil {
		return ""
	}
	return r.PromptFeedback.BlockReason
}

// ErrInvalidDataURL is returned by SplitDataURL for anything that is not a base64 data URL.
var ErrInvalidDataURL = errors.New("gemini: invalid data url")

// DataURL builds a data:<mime>;base64,<data> URL.
func DataURL(mimeType, data string) string {
	return "data:" + mimeType + ";base64," + data
}

// AllowedImageMIME reports whether mimeType is one of the image types the app stores and serves.
func AllowedImageMIME(mimeType string) bool {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png", "image/jpeg", "image/webp", "image/gif":
		return true
	}
	return false
}

// IsImageDataURL reports whether u is a well-formed base64 data URL of an allowed image type.
func IsImageDataURL(u string) bool {
	mimeType, _, err := SplitDataURL(u)
	return err == nil && AllowedImageMIME(mimeType)
}

// SplitDataURL returns the MIME type and base64 payload of a data URL.
func SplitDataURL(u string) (mimeType, data string, err error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", "", ErrInvalidDataURL
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok || data == "" {
		return "", "", ErrInvalidDataURL
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", "", ErrInvalidDataURL
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return mimeType, data, nil
}
