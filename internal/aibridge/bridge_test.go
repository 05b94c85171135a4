package aibridge

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

type stubGenerator struct {
	resp      *genai.GenerateContentResponse
	err       error
	lastModel string
	lastParts []*genai.Part
	lastCfg   *genai.GenerateContentConfig
}

func (s *stubGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.lastModel = model
	s.lastCfg = cfg
	if len(contents) > 0 {
		s.lastParts = contents[0].Parts
	}
	return s.resp, s.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
	}}}
}

func imageResponse(t *testing.T, w, h int) *genai.GenerateContentResponse {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.SetNRGBA(0, 0, color.NRGBA{1, 2, 3, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: buf.Bytes()}},
		}},
	}}}
}

func input() image.Image { return image.NewNRGBA(image.Rect(0, 0, 8, 8)) }

func TestParseReport(t *testing.T) {
	rep, err := ParseReport("```json\n" + `{"aestheticSummary":"moody","technicalIssues":["noise"],"enhancementSteps":[{"title":"Denoise","description":"reduce noise"}]}` + "\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Report{
		AestheticSummary: "moody",
		TechnicalIssues:  []string{"noise"},
		EnhancementSteps: []Step{{Title: "Denoise", Description: "reduce noise"}},
	}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}

	bad := []string{
		"",
		"not json",
		`{"technicalIssues":[],"enhancementSteps":[]}`,
		`{"aestheticSummary":"x","enhancementSteps":[]}`,
		`{"aestheticSummary":"x","technicalIssues":[]}`,
		`{"aestheticSummary":"x","technicalIssues":[],"enhancementSteps":[{"description":"d"}]}`,
	}
	for _, b := range bad {
		if _, err := ParseReport(b); !errors.Is(err, ErrSchema) {
			t.Fatalf("%q: expected ErrSchema, got %v", b, err)
		}
	}
}

func TestGeminiAnalyze(t *testing.T) {
	stub := &stubGenerator{resp: textResponse(`{"aestheticSummary":"bright","technicalIssues":[],"enhancementSteps":[],"suggestedCaption":"sun"}`)}
	g := newGemini(stub, GeminiConfig{}, nil)
	res, err := g.Do(context.Background(), Request{Kind: Analyze, Image: input()})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Report == nil || res.Image != nil || res.Report.SuggestedCaption != "sun" {
		t.Fatalf("expected report-only result, got %+v", res)
	}
	if stub.lastModel != DefaultTextModel || stub.lastCfg == nil || stub.lastCfg.ResponseMIMEType != "application/json" {
		t.Fatalf("analyze should request JSON from the text model")
	}
	if len(stub.lastParts) != 2 || stub.lastParts[0].InlineData == nil || stub.lastParts[0].InlineData.MIMEType != "image/png" {
		t.Fatalf("expected png payload followed by instruction")
	}
}

func TestGeminiImageKinds(t *testing.T) {
	stub := &stubGenerator{resp: imageResponse(t, 5, 4)}
	g := newGemini(stub, GeminiConfig{ImageModel: "img-model"}, nil)
	res, err := g.Do(context.Background(), Request{Kind: Upscale, Image: input()})
	if err != nil {
		t.Fatalf("upscale: %v", err)
	}
	if res.Image == nil || res.Image.Bounds().Dx() != 5 {
		t.Fatalf("expected decoded 5x4 image")
	}
	if stub.lastModel != "img-model" || stub.lastParts[1].Text != upscalePrompt {
		t.Fatalf("upscale should use the fixed prompt on the image model")
	}

	res, err = g.Do(context.Background(), Request{Kind: Generate, Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(stub.lastParts) != 1 || stub.lastParts[0].Text != "a red fox" {
		t.Fatalf("generate should send only the prompt")
	}
	if res.Image == nil {
		t.Fatalf("generate should return an image")
	}
}

func TestGeminiFailures(t *testing.T) {
	cases := []struct {
		name string
		stub *stubGenerator
		req  Request
		want error
	}{
		{"service error", &stubGenerator{err: errors.New("quota")}, Request{Kind: Upscale, Image: input()}, ErrService},
		{"no image part", &stubGenerator{resp: textResponse("sorry")}, Request{Kind: BackgroundReplace, Prompt: "beach", Image: input()}, ErrSchema},
		{"bad report", &stubGenerator{resp: textResponse("{}")}, Request{Kind: Analyze, Image: input()}, ErrSchema},
		{"missing prompt", &stubGenerator{}, Request{Kind: OutfitChange, Image: input()}, ErrInvalidRequest},
		{"missing image", &stubGenerator{}, Request{Kind: Upscale}, ErrInvalidRequest},
		{"unknown kind", &stubGenerator{}, Request{Kind: "paint", Image: input()}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newGemini(tc.stub, GeminiConfig{}, nil).Do(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNewGeminiNeedsKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}, nil); !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService without a key, got %v", err)
	}
}
