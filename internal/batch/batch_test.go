package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pixelmind/internal/ingest"
	"pixelmind/internal/render"
)

func pngBlob(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newEngine() *Engine {
	return NewEngine(render.NewCompositor(render.NewSurface(0), render.DefaultFontBook(), nil), nil)
}

func fiveSourcesThirdCorrupt(t *testing.T) []Source {
	var out []Source
	for i, name := range []string{"a.png", "b.png", "c.jpg", "d.png", "e.png"} {
		data := pngBlob(t, 30+i, 20)
		if i == 2 {
			data = []byte("garbage")
		}
		out = append(out, ingest.NewSource(name, "image/png", data))
	}
	return out
}

func TestRunPartialFailure(t *testing.T) {
	var reports [][2]int
	items, err := newEngine().Run(context.Background(), fiveSourcesThirdCorrupt(t), DefaultOptions(), func(done, total int) {
		reports = append(reports, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	s := Summarize(items)
	if s.Done != 4 || s.Failed != 1 {
		t.Fatalf("expected 4 done and 1 failed, got %+v", s)
	}
	if items[2].Status != StatusFailed || !errors.Is(items[2].Err, ingest.ErrDecode) {
		t.Fatalf("third item should fail with a decode error: %+v", items[2])
	}
	want := [][2]int{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {5, 5}}
	if diff := cmp.Diff(want, reports); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
	if items[0].OutputName != "a_processed.jpeg" {
		t.Fatalf("unexpected output name %q", items[0].OutputName)
	}
}

func TestRunAppliesResizeAndFormat(t *testing.T) {
	src := ingest.NewSource("wide.photo.png", "image/png", pngBlob(t, 200, 100))
	opts := Options{Format: render.PNG, Quality: 5, Resize: Resize{Mode: ResizeLongest, Edge: 50}}
	items, err := newEngine().Run(context.Background(), []Source{src}, opts, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	it := items[0]
	if it.Width != 50 || it.Height != 25 {
		t.Fatalf("expected 50x25, got %dx%d", it.Width, it.Height)
	}
	if it.OutputName != "wide_processed.png" {
		t.Fatalf("unexpected name %q", it.OutputName)
	}
	if _, err := png.Decode(bytes.NewReader(it.Output)); err != nil {
		t.Fatalf("output is not a png: %v", err)
	}
}

func TestResizeTargets(t *testing.T) {
	cases := []struct {
		name string
		r    Resize
		w, h int
		want image.Point
	}{
		{"original", Resize{Mode: ResizeOriginal}, 640, 480, image.Pt(640, 480)},
		{"longest caps", Resize{Mode: ResizeLongest, Edge: 320}, 640, 480, image.Pt(320, 240)},
		{"longest never upscales", Resize{Mode: ResizeLongest, Edge: 1920}, 640, 480, image.Pt(640, 480)},
		{"portrait longest", Resize{Mode: ResizeLongest, Edge: 100}, 50, 200, image.Pt(25, 100)},
		{"percent", Resize{Mode: ResizePercent, Percent: 50}, 641, 480, image.Pt(321, 240)},
		{"exact", Resize{Mode: ResizeExact, Width: 100, Height: 100}, 640, 480, image.Pt(100, 100)},
		{"exact locked width", Resize{Mode: ResizeExact, Width: 320, Height: 999, LockAspect: true}, 640, 480, image.Pt(320, 240)},
		{"exact locked height", Resize{Mode: ResizeExact, Height: 120, LockAspect: true}, 640, 480, image.Pt(160, 120)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Target(tc.w, tc.h); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNormalizeOptions(t *testing.T) {
	o, err := Options{Format: "webp", Quality: 500}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if o.Format != render.WEBP || o.Quality != 100 || o.Resize.Mode != ResizeOriginal {
		t.Fatalf("unexpected normalized options %+v", o)
	}
	if o, _ := (Options{Quality: 3}).Normalize(); o.Quality != 10 {
		t.Fatalf("quality should clamp to 10, got %d", o.Quality)
	}
	if _, err := (Options{Resize: Resize{Mode: "stretch"}}).Normalize(); err == nil {
		t.Fatalf("expected error for unknown resize mode")
	}
	f := Options{AutoBalance: true}.Filters()
	if f.Contrast != 110 || f.Saturation != 110 || f.Brightness != 100 {
		t.Fatalf("unexpected auto-balance filters %+v", f)
	}
}

func TestRunnerDropsSupersededRun(t *testing.T) {
	r := NewRunner(newEngine())
	block := make(chan struct{})
	slow := &gatedSource{gate: block, entered: make(chan struct{}), data: pngBlob(t, 4, 4)}

	errc := make(chan error, 1)
	go func() {
		_, err := r.Start(context.Background(), []Source{slow}, DefaultOptions(), nil)
		errc <- err
	}()
	<-slow.entered

	run, err := r.Start(context.Background(), []Source{ingest.NewSource("x.png", "image/png", pngBlob(t, 4, 4))}, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	close(block)
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected first run superseded, got %v", err)
	}
	last, ok := r.Last()
	if !ok || last != run || last.Generation != 2 {
		t.Fatalf("newest run must stay the visible result")
	}
}

type gatedSource struct {
	gate    chan struct{}
	entered chan struct{}
	data    []byte
}

func (g *gatedSource) Decode(ctx context.Context) (image.Image, error) {
	close(g.entered)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return png.Decode(bytes.NewReader(g.data))
}

func (g *gatedSource) Stem() string  { return "slow" }
func (g *gatedSource) Bytes() []byte { return g.data }

func TestExporterStaggersAndSkipsFailures(t *testing.T) {
	items := []Item{
		{Status: StatusDone, OutputName: "a_processed.jpeg", Output: []byte("a")},
		{Status: StatusFailed},
		{Status: StatusDone, OutputName: "c_processed.jpeg", Output: []byte("c")},
	}
	var waits []time.Duration
	var names []string
	e := NewExporter(FuncSink(func(name string, _ []byte) error {
		names = append(names, name)
		return nil
	}))
	e.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	n, err := e.Export(context.Background(), items)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 exports, got %d %v", n, err)
	}
	if diff := cmp.Diff([]time.Duration{ExportStagger}, waits); diff != "" {
		t.Fatalf("stagger mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a_processed.jpeg", "c_processed.jpeg"}, names); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDirAndZipSinks(t *testing.T) {
	dir := t.TempDir()
	if err := (DirSink{Dir: filepath.Join(dir, "out")}).Put("x.png", []byte("data")); err != nil {
		t.Fatalf("dir sink: %v", err)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "out", "x.png")); err != nil || string(b) != "data" {
		t.Fatalf("file not written: %v", err)
	}

	var buf bytes.Buffer
	z := NewZipSink(&buf)
	if err := z.Put("one.jpeg", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := z.Put("two.jpeg", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := z.Close(); err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[1].Name != "two.jpeg" {
		t.Fatalf("unexpected archive contents")
	}
}

func TestRunFailsOnlyTheOversizedItem(t *testing.T) {
	e := NewEngine(render.NewCompositor(render.NewSurface(40*40), render.DefaultFontBook(), nil), nil)
	sources := []Source{
		ingest.NewSource("small.png", "image/png", pngBlob(t, 20, 20)),
		ingest.NewSource("huge.png", "image/png", pngBlob(t, 60, 60)),
		ingest.NewSource("tiny.png", "image/png", pngBlob(t, 20, 20)),
	}
	var reports []int
	run, err := NewRunner(e).Start(context.Background(), sources, DefaultOptions(), func(done, _ int) {
		reports = append(reports, done)
	})
	if err != nil {
		t.Fatalf("run should survive an oversized item: %v", err)
	}
	var got []Status
	for _, it := range run.Items {
		got = append(got, it.Status)
	}
	if diff := cmp.Diff([]Status{StatusDone, StatusFailed, StatusDone}, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(run.Items[1].Err, render.ErrCanvasTooLarge) {
		t.Fatalf("oversized item should record ErrCanvasTooLarge, got %v", run.Items[1].Err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, reports); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestRunGivesCollidingStemsDistinctNames(t *testing.T) {
	sources := []Source{
		ingest.NewSource("a.png", "image/png", pngBlob(t, 10, 10)),
		ingest.NewSource("a.jpg", "image/png", pngBlob(t, 12, 10)),
		ingest.NewSource("a.gif", "image/png", pngBlob(t, 14, 10)),
	}
	items, err := newEngine().Run(context.Background(), sources, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var names []string
	for _, it := range items {
		names = append(names, it.OutputName)
	}
	want := []string{"a_processed.jpeg", "a_processed-2.jpeg", "a_processed-3.jpeg"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	dir := t.TempDir()
	dup := []Item{
		{Status: StatusDone, OutputName: "x.png", Output: []byte("1")},
		{Status: StatusDone, OutputName: "x.png", Output: []byte("2")},
	}
	ex := NewExporter(DirSink{Dir: dir})
	ex.Stagger = 0
	if n, err := ex.Export(context.Background(), dup); err != nil || n != 2 {
		t.Fatalf("export: %d %v", n, err)
	}
	for name, want := range map[string]string{"x.png": "1", "x-2.png": "2"} {
		if b, err := os.ReadFile(filepath.Join(dir, name)); err != nil || string(b) != want {
			t.Fatalf("%s: got %q, %v", name, b, err)
		}
	}
}
