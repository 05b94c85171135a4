package aibridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"google.golang.org/genai"

	"pixelmind/internal/render"
)

const (
	DefaultImageModel = "gemini-2.5-flash-image"
	DefaultTextModel  = "gemini-3-flash-preview"

	upscalePrompt = "Please enhance the quality and details of this image, make it sharper and clearer."
	analyzePrompt = "Analyse this photo and give professional retouching advice: identify its aesthetic " +
		"style, list technical issues (exposure, noise, colour balance) and give three concrete " +
		"enhancement steps. Answer in JSON."
)

// generator is the part of the genai client the bridge calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig selects models and limits.
type GeminiConfig struct {
	APIKey     string
	ImageModel string
	TextModel  string
	Timeout    time.Duration
}

// Gemini implements Bridge on the Gemini API.
type Gemini struct {
	gen        generator
	imageModel string
	textModel  string
	timeout    time.Duration
	log        *slog.Logger
}

// NewGemini connects a client. An empty key is a service error so the
// failure surfaces on first use like any other.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrService)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	return newGemini(client.Models, cfg, log), nil
}

func newGemini(gen generator, cfg GeminiConfig, log *slog.Logger) *Gemini {
	if log == nil {
		log = slog.Default()
	}
	g := &Gemini{gen: gen, imageModel: cfg.ImageModel, textModel: cfg.TextModel, timeout: cfg.Timeout, log: log}
	if g.imageModel == "" {
		g.imageModel = DefaultImageModel
	}
	if g.textModel == "" {
		g.textModel = DefaultTextModel
	}
	if g.timeout <= 0 {
		g.timeout = 2 * time.Minute
	}
	return g
}

// Do sends one request and converts the answer into a Result.
func (g *Gemini) Do(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts, err := g.parts(req)
	if err != nil {
		return Result{}, err
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	start := time.Now()
	if req.Kind == Analyze {
		resp, err := g.gen.GenerateContent(ctx, g.textModel, contents, &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   reportSchema(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrService, err)
		}
		rep, err := ParseReport(resp.Text())
		if err != nil {
			return Result{}, err
		}
		g.log.Info("ai analysis", "model", g.textModel, "steps", len(rep.EnhancementSteps), "took", time.Since(start))
		return Result{Kind: req.Kind, Report: rep}, nil
	}

	resp, err := g.gen.GenerateContent(ctx, g.imageModel, contents, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrService, err)
	}
	data := firstInlineImage(resp)
	if data == nil {
		return Result{}, fmt.Errorf("%w: response carried no image", ErrSchema)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: returned image unreadable: %v", ErrSchema, err)
	}
	g.log.Info("ai image", "kind", req.Kind, "model", g.imageModel,
		"w", img.Bounds().Dx(), "h", img.Bounds().Dy(), "took", time.Since(start))
	return Result{Kind: req.Kind, Image: img}, nil
}

func (g *Gemini) parts(req Request) ([]*genai.Part, error) {
	var parts []*genai.Part
	if req.Image != nil {
		png, err := render.EncodeBytes(req.Image, render.PNG, 100)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(png, string(render.PNG)))
	}
	return append(parts, genai.NewPartFromText(instruction(req))), nil
}

func instruction(req Request) string {
	switch req.Kind {
	case Upscale:
		return upscalePrompt
	case Analyze:
		if req.Prompt != "" {
			return analyzePrompt + " " + req.Prompt
		}
		return analyzePrompt
	case BackgroundReplace:
		return "Replace the background of this image. Keep the subject unchanged. New background: " + req.Prompt
	case OutfitChange:
		return "Change the outfit of the person in this image. Keep face, pose and background unchanged. New outfit: " + req.Prompt
	}
	return req.Prompt
}

func firstInlineImage(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return p.InlineData.Data
			}
		}
	}
	return nil
}

func reportSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"aestheticSummary": str,
			"technicalIssues":  {Type: genai.TypeArray, Items: str},
			"enhancementSteps": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":       str,
						"description": str,
					},
					Required: []string{"title", "description"},
				},
			},
			"suggestedCaption": str,
		},
		Required: []string{"aestheticSummary", "technicalIssues", "enhancementSteps"},
	}
}
