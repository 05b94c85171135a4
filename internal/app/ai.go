package app

import (
	"context"
	"errors"
	"fmt"
	"image"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/ingest"
)

// ApplyAI runs one generative request against the editor.
//
// Image-editing kinds send the current rendering and, on success, replace the
// bitmap behind the session: geometry and text are reset, filters kept and
// history dropped. Analyze sends the unedited source and only returns the
// report. Generate with no image open adds the new picture to the library
// and opens it. A failed request changes nothing.
func (c *Controller) ApplyAI(ctx context.Context, kind aibridge.Kind, prompt string) (aibridge.Result, error) {
	if c.ai == nil {
		return aibridge.Result{}, ErrAIDisabled
	}
	kind, err := aibridge.ParseKind(string(kind))
	if err != nil {
		return aibridge.Result{}, err
	}

	_, src, token, err := c.current()
	if err != nil && !(kind == aibridge.Generate && errors.Is(err, ErrNoSession)) {
		return aibridge.Result{}, err
	}
	open := err == nil

	req := aibridge.Request{Kind: kind, Prompt: prompt}
	switch {
	case kind == aibridge.Analyze:
		if req.Image, err = src.Decode(ctx); err != nil {
			return aibridge.Result{}, err
		}
	case kind != aibridge.Generate:
		if req.Image, err = c.Render(ctx); err != nil {
			return aibridge.Result{}, err
		}
	}

	res, err := c.ai.Do(ctx, req)
	if err != nil {
		c.log.Warn("ai request failed", "kind", kind, "err", err)
		return aibridge.Result{}, err
	}
	if !kind.ProducesImage() {
		return res, nil
	}

	if open {
		if err := c.replaceSelected(token, res.Image); err != nil {
			return aibridge.Result{}, err
		}
		c.log.Info("image replaced by ai result", "kind", kind, "w", res.Image.Bounds().Dx(), "h", res.Image.Bounds().Dy())
		return res, nil
	}
	c.addGenerated(res.Image)
	return res, nil
}

func (c *Controller) addGenerated(img image.Image) {
	s := ingest.NewDecoded(fmt.Sprintf("generated_%d.png", c.now().UnixMilli()), img)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.library[s.ID] = s
	c.order = append(c.order, s.ID)
	c.openLocked(s.ID)
}
