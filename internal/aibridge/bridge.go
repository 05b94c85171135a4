package aibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrService wraps any failure reported by, or while reaching, the service.
	ErrService = errors.New("ai service error")
	// ErrSchema means the service answered but not in the expected shape.
	ErrSchema = errors.New("ai response does not match schema")
	// ErrInvalidRequest is returned before any call is made.
	ErrInvalidRequest = errors.New("invalid ai request")
)

// Kind is the requested operation.
type Kind string

const (
	BackgroundReplace Kind = "background-replace"
	OutfitChange      Kind = "outfit-change"
	Upscale           Kind = "upscale"
	Analyze           Kind = "analyze"
	Generate          Kind = "generate"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case BackgroundReplace, OutfitChange, Upscale, Analyze, Generate:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, s)
}

// ProducesImage reports whether a successful result carries a bitmap.
func (k Kind) ProducesImage() bool { return k != Analyze }

// Request is one call to the service. Image is the current composited
// output; Generate needs only a prompt.
type Request struct {
	Kind   Kind
	Prompt string
	Image  image.Image
}

// Validate checks the request has what its kind needs.
func (r Request) Validate() error {
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Kind != Generate && r.Image == nil {
		return fmt.Errorf("%w: %s needs an image", ErrInvalidRequest, r.Kind)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		switch r.Kind {
		case BackgroundReplace, OutfitChange, Generate:
			return fmt.Errorf("%w: %s needs a prompt", ErrInvalidRequest, r.Kind)
		}
	}
	return nil
}

// Step is one suggested enhancement.
type Step struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Report is the structured answer to an analyze request.
type Report struct {
	AestheticSummary string   `json:"aestheticSummary"`
	TechnicalIssues  []string `json:"technicalIssues"`
	EnhancementSteps []Step   `json:"enhancementSteps"`
	SuggestedCaption string   `json:"suggestedCaption,omitempty"`
}

// Result is exactly one of Image or Report, by Kind.
type Result struct {
	Kind   Kind
	Image  image.Image
	Report *Report
}

// Bridge is the boundary to the generative service. Implementations return
// errors wrapping ErrService or ErrSchema; callers must not apply anything
// from a failed call.
type Bridge interface {
	Do(ctx context.Context, req Request) (Result, error)
}

type rawReport struct {
	AestheticSummary *string   `json:"aestheticSummary"`
	TechnicalIssues  *[]string `json:"technicalIssues"`
	EnhancementSteps *[]Step   `json:"enhancementSteps"`
	SuggestedCaption string    `json:"suggestedCaption"`
}

// ParseReport decodes and validates a report. Missing required fields, an
// empty summary or an untitled step are schema errors.
func ParseReport(text string) (*Report, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(text, "```")), "```")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrSchema)
	}
	var raw rawReport
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	switch {
	case raw.AestheticSummary == nil || strings.TrimSpace(*raw.AestheticSummary) == "":
		return nil, fmt.Errorf("%w: missing aestheticSummary", ErrSchema)
	case raw.TechnicalIssues == nil:
		return nil, fmt.Errorf("%w: missing technicalIssues", ErrSchema)
	case raw.EnhancementSteps == nil:
		return nil, fmt.Errorf("%w: missing enhancementSteps", ErrSchema)
	}
	for i, s := range *raw.EnhancementSteps {
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("%w: enhancement step %d has no title", ErrSchema, i)
		}
	}
	return &Report{
		AestheticSummary: *raw.AestheticSummary,
		TechnicalIssues:  *raw.TechnicalIssues,
		EnhancementSteps: *raw.EnhancementSteps,
		SuggestedCaption: raw.SuggestedCaption,
	}, nil
}
