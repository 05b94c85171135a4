package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/batch"
	"pixelmind/internal/edit"
	"pixelmind/internal/ingest"
	"pixelmind/internal/merge"
	"pixelmind/internal/render"
	"pixelmind/internal/storage"
)

func pngBlob(t *testing.T, name string, w, h int, c color.NRGBA) ingest.Blob {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return ingest.Blob{Name: name, MIME: "image/png", Data: buf.Bytes()}
}

type stubBridge struct {
	res    aibridge.Result
	err    error
	last   aibridge.Request
	during func()
}

func (s *stubBridge) Do(_ context.Context, req aibridge.Request) (aibridge.Result, error) {
	s.last = req
	if s.during != nil {
		s.during()
	}
	return s.res, s.err
}

func newController(ai aibridge.Bridge) *Controller {
	c := New(Deps{AI: ai})
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return c
}

func openOne(t *testing.T, c *Controller, w, h int) string {
	t.Helper()
	infos := c.AddBlobs([]ingest.Blob{pngBlob(t, "photo.png", w, h, color.NRGBA{200, 40, 40, 255})}, "upload")
	if len(infos) != 1 {
		t.Fatalf("expected one source, got %d", len(infos))
	}
	return infos[0].ID
}

func TestAddBlobsFiltersAndAutoOpens(t *testing.T) {
	c := newController(nil)
	id := openOne(t, c, 8, 8)
	if sel, ok := c.Selected(); !ok || sel != id || c.Mode() != ModeEditor {
		t.Fatalf("single upload into empty library should open the editor")
	}

	infos := c.AddBlobs([]ingest.Blob{
		pngBlob(t, "a.png", 4, 4, color.NRGBA{A: 255}),
		{Name: "notes.txt", MIME: "text/plain", Data: []byte("x")},
		pngBlob(t, "b.png", 4, 4, color.NRGBA{A: 255}),
		pngBlob(t, "c.png", 4, 4, color.NRGBA{A: 255}),
	}, "upload")
	if len(infos) != 3 {
		t.Fatalf("expected 3 of 4 blobs accepted, got %d", len(infos))
	}
	var names []string
	for _, s := range c.Sources() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"photo.png", "a.png", "b.png", "c.png"}, names); diff != "" {
		t.Fatalf("library order (-want +got):\n%s", diff)
	}
	if sel, _ := c.Selected(); sel != id {
		t.Fatalf("later uploads should not change the selection")
	}
}

func TestRemoveSelectedClosesEditor(t *testing.T) {
	c := newController(nil)
	id := openOne(t, c, 8, 8)
	if _, err := c.ToggleMerge(id); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := c.Selected(); ok {
		t.Fatalf("selection should be cleared")
	}
	if c.Mode() != ModeLibrary || len(c.MergeSelection()) != 0 {
		t.Fatalf("editor and merge selection should be cleared")
	}
	if _, err := c.Session(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := c.Remove(id); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if err := c.SetMode(ModeEditor); !errors.Is(err, ErrNoSession) {
		t.Fatalf("editor mode needs a selection, got %v", err)
	}
}

func TestApplyEditDragIsOneUndoStep(t *testing.T) {
	c := newController(nil)
	openOne(t, c, 8, 8)

	steps := []Edit{
		{Drag: DragBegin, Field: edit.FieldBrightness, Value: 110},
		{Field: edit.FieldBrightness, Value: 130},
		{Drag: DragEnd, Field: edit.FieldBrightness, Value: 150},
	}
	for _, e := range steps {
		if _, err := c.ApplyEdit(e); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}
	st, err := c.ApplyEdit(Edit{Rotate: true})
	if err != nil {
		t.Fatal(err)
	}
	if st.Filters.Brightness != 150 || st.Transform.Rotate != 90 {
		t.Fatalf("unexpected state %+v", st)
	}

	st, _ = c.ApplyEdit(Edit{Undo: true})
	if st.Transform.Rotate != 0 || st.Filters.Brightness != 150 {
		t.Fatalf("first undo should revert the rotation only: %+v", st)
	}
	st, _ = c.ApplyEdit(Edit{Undo: true})
	if st.Filters.Brightness != 100 {
		t.Fatalf("second undo should revert the whole drag, got %v", st.Filters.Brightness)
	}
}

func TestApplyEditRejectsInvalidWithoutChange(t *testing.T) {
	c := newController(nil)
	openOne(t, c, 8, 8)
	sess, _ := c.Session()
	for _, e := range []Edit{
		{Field: "gamma", Value: 3},
		{Preset: "nope"},
		{CropEdge: "middle", CropDelta: 5},
		{TextPatch: &edit.TextPatch{}},
		{Drag: "sideways"},
	} {
		if _, err := c.ApplyEdit(e); err == nil {
			t.Fatalf("expected %+v to be rejected", e)
		}
	}
	if sess.UndoDepth() != 0 {
		t.Fatalf("rejected edits must not push history")
	}
}

func TestApplyEditTextAndAspect(t *testing.T) {
	c := newController(nil)
	id := openOne(t, c, 200, 100)
	src, _ := c.Source(id)
	if _, err := src.Decode(context.Background()); err != nil {
		t.Fatal(err)
	}

	st, err := c.ApplyEdit(Edit{AddText: true})
	if err != nil || len(st.Texts) != 1 {
		t.Fatalf("add text: %v %+v", err, st.Texts)
	}
	txt := "Hello"
	st, _ = c.ApplyEdit(Edit{TextID: st.Texts[0].ID, TextPatch: &edit.TextPatch{Text: &txt}})
	if st.Texts[0].Text != "Hello" {
		t.Fatalf("text not updated: %+v", st.Texts[0])
	}

	square := 1.0
	st, _ = c.ApplyEdit(Edit{Aspect: &square})
	if st.Transform.Crop.Left != 25 || st.Transform.Crop.Right != 25 || st.Transform.Crop.Top != 0 {
		t.Fatalf("unexpected square crop %+v", st.Transform.Crop)
	}
}

func TestExportCurrentChoosesFormat(t *testing.T) {
	c := newController(nil)
	openOne(t, c, 16, 10)
	ctx := context.Background()

	out, err := c.ExportCurrent(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.Name != "pixelmind_1700000000123.jpeg" || out.Format != render.JPEG {
		t.Fatalf("unexpected export %q %s", out.Name, out.Format)
	}

	if _, err := c.ApplyEdit(Edit{Field: edit.FieldBorderRadius, Value: 40}); err != nil {
		t.Fatal(err)
	}
	out, err = c.ExportCurrent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Format != render.PNG || !strings.HasSuffix(out.Name, ".png") {
		t.Fatalf("rounded corners should export png, got %s", out.Format)
	}
}

func TestSampleReadsRenderedPixel(t *testing.T) {
	c := newController(nil)
	openOne(t, c, 10, 10)
	hex, err := c.Sample(context.Background(), image.Pt(100, 100), image.Pt(50, 50))
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if hex != "#C82828" {
		t.Fatalf("expected #C82828, got %s", hex)
	}
}

func TestRunBatchAndDownload(t *testing.T) {
	c := newController(nil)
	c.AddBlobs([]ingest.Blob{
		pngBlob(t, "a.png", 6, 4, color.NRGBA{A: 255}),
		{Name: "broken.png", MIME: "image/png", Data: []byte("garbage")},
		pngBlob(t, "c.png", 6, 4, color.NRGBA{A: 255}),
	}, "upload")

	if _, err := c.DownloadBatch(context.Background(), batch.FuncSink(func(string, []byte) error { return nil })); !errors.Is(err, ErrNoBatchRun) {
		t.Fatalf("expected ErrNoBatchRun, got %v", err)
	}

	var last [2]int
	run, err := c.RunBatch(context.Background(), c.BatchOptions(), func(done, total int) { last = [2]int{done, total} })
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if last != [2]int{3, 3} {
		t.Fatalf("unexpected final progress %v", last)
	}
	if s := batch.Summarize(run.Items); s.Done != 2 || s.Failed != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}

	var got []string
	n, err := c.DownloadBatch(context.Background(), batch.FuncSink(func(name string, _ []byte) error {
		got = append(got, name)
		return nil
	}))
	if err != nil || n != 2 {
		t.Fatalf("download: %d %v", n, err)
	}
	if diff := cmp.Diff([]string{"a_processed.jpeg", "c_processed.jpeg"}, got); diff != "" {
		t.Fatalf("download order (-want +got):\n%s", diff)
	}
}

func TestMergeSelection(t *testing.T) {
	c := newController(nil)
	infos := c.AddBlobs([]ingest.Blob{
		pngBlob(t, "a.png", 100, 80, color.NRGBA{A: 255}),
		pngBlob(t, "b.png", 140, 180, color.NRGBA{A: 255}),
	}, "upload")

	if _, err := c.Merge(context.Background(), nil); !errors.Is(err, merge.ErrTooFewSources) {
		t.Fatalf("expected ErrTooFewSources, got %v", err)
	}
	for _, in := range infos {
		if _, err := c.ToggleMerge(in.ID); err != nil {
			t.Fatal(err)
		}
	}
	c.SetMergeSettings(merge.Settings{Direction: merge.Horizontal, Gap: 10, Padding: 10, Background: "#0f172a", Align: merge.AlignCenter})
	out, err := c.Merge(context.Background(), nil)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Name != "merged.png" {
		t.Fatalf("unexpected name %q", out.Name)
	}
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 270 || img.Bounds().Dy() != 200 {
		t.Fatalf("unexpected merged size %v", img.Bounds())
	}
}

func TestApplyAIFailureLeavesStateUntouched(t *testing.T) {
	ai := &stubBridge{err: aibridge.ErrService}
	c := newController(ai)
	id := openOne(t, c, 8, 8)
	if _, err := c.ApplyEdit(Edit{Rotate: true}); err != nil {
		t.Fatal(err)
	}
	before, _ := c.Source(id)

	if _, err := c.ApplyAI(context.Background(), aibridge.BackgroundReplace, "beach"); !errors.Is(err, aibridge.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
	after, _ := c.Source(id)
	sess, _ := c.Session()
	if after != before || sess.State().Transform.Rotate != 90 || sess.UndoDepth() != 1 {
		t.Fatalf("failed ai call must not mutate state")
	}
}

func TestApplyAIReplacesImage(t *testing.T) {
	replacement := image.NewNRGBA(image.Rect(0, 0, 30, 20))
	ai := &stubBridge{res: aibridge.Result{Kind: aibridge.Upscale, Image: replacement}}
	c := newController(ai)
	id := openOne(t, c, 8, 8)
	for _, e := range []Edit{{Rotate: true}, {Field: edit.FieldSepia, Value: 40}, {AddText: true}} {
		if _, err := c.ApplyEdit(e); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := c.ApplyAI(context.Background(), aibridge.Upscale, ""); err != nil {
		t.Fatalf("ai: %v", err)
	}
	if ai.last.Image == nil || ai.last.Image.Bounds().Dx() != 8 {
		t.Fatalf("the rendered image should be sent, got %v", ai.last.Image)
	}
	src, _ := c.Source(id)
	img, ok := src.Decoded()
	if !ok || img.Bounds().Dx() != 30 {
		t.Fatalf("source not replaced")
	}
	sess, _ := c.Session()
	st := sess.State()
	if st.Transform != edit.DefaultTransform() || len(st.Texts) != 0 || st.Filters.Sepia != 40 || sess.UndoDepth() != 0 {
		t.Fatalf("replace should reset geometry and text, keep filters, clear history: %+v", st)
	}
}

func TestApplyAIStaleResultDropped(t *testing.T) {
	ai := &stubBridge{res: aibridge.Result{Kind: aibridge.Upscale, Image: image.NewNRGBA(image.Rect(0, 0, 2, 2))}}
	c := newController(ai)
	first := openOne(t, c, 8, 8)
	second := c.AddBlobs([]ingest.Blob{pngBlob(t, "other.png", 8, 8, color.NRGBA{A: 255})}, "upload")[0].ID
	ai.during = func() { _ = c.Open(second) }

	if _, err := c.ApplyAI(context.Background(), aibridge.Upscale, ""); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	src, _ := c.Source(first)
	if img, _ := src.Decoded(); img.Bounds().Dx() != 8 {
		t.Fatalf("stale result must not replace the old source")
	}
}

func TestApplyAIAnalyzeAndGenerate(t *testing.T) {
	rep := &aibridge.Report{AestheticSummary: "calm", TechnicalIssues: []string{}, EnhancementSteps: []aibridge.Step{}}
	ai := &stubBridge{res: aibridge.Result{Kind: aibridge.Analyze, Report: rep}}
	c := newController(ai)

	if _, err := c.ApplyAI(context.Background(), aibridge.Analyze, ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("analyze needs an open image, got %v", err)
	}
	openOne(t, c, 8, 8)
	res, err := c.ApplyAI(context.Background(), aibridge.Analyze, "")
	if err != nil || res.Report.AestheticSummary != "calm" {
		t.Fatalf("analyze: %v %+v", err, res)
	}

	c2 := newController(&stubBridge{res: aibridge.Result{Kind: aibridge.Generate, Image: image.NewNRGBA(image.Rect(0, 0, 12, 12))}})
	if _, err := c2.ApplyAI(context.Background(), aibridge.Generate, "a lighthouse"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	srcs := c2.Sources()
	if len(srcs) != 1 || srcs[0].Name != "generated_1700000000123.png" || c2.Mode() != ModeEditor {
		t.Fatalf("generated image should be added and opened: %+v", srcs)
	}
}

func TestApplyAIDisabled(t *testing.T) {
	c := newController(nil)
	openOne(t, c, 4, 4)
	if _, err := c.ApplyAI(context.Background(), aibridge.Upscale, ""); !errors.Is(err, ErrAIDisabled) {
		t.Fatalf("expected ErrAIDisabled, got %v", err)
	}
}

func TestUndoDepthIsFixedAtTwenty(t *testing.T) {
	c := newController(nil)
	openOne(t, c, 8, 8)
	for i := 0; i < 25; i++ {
		if _, err := c.ApplyEdit(Edit{Rotate: true}); err != nil {
			t.Fatal(err)
		}
	}
	sess, _ := c.Session()
	if sess.UndoDepth() != edit.DefaultHistoryDepth {
		t.Fatalf("expected %d undo steps, got %d", edit.DefaultHistoryDepth, sess.UndoDepth())
	}
}

func TestRunBatchLogsStoreFailures(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	var logs bytes.Buffer
	c := New(Deps{Store: store, Log: slog.New(slog.NewTextHandler(&logs, nil))})
	c.AddBlobs([]ingest.Blob{pngBlob(t, "a.png", 4, 4, color.NRGBA{A: 255})}, "upload")
	if _, err := c.RunBatch(context.Background(), c.BatchOptions(), nil); err != nil {
		t.Fatalf("store failures must not fail the batch: %v", err)
	}
	for _, msg := range []string{"failed to record job start", "failed to record job result"} {
		if !strings.Contains(logs.String(), msg) {
			t.Fatalf("expected %q in logs:\n%s", msg, logs.String())
		}
	}
}
