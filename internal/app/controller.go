// Package app holds the application state shared by the HTTP server and the
// CLI: the source library, the selected image and its editing session, the
// merge selection and the newest batch run.
package app

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/batch"
	"pixelmind/internal/config"
	"pixelmind/internal/edit"
	"pixelmind/internal/ingest"
	"pixelmind/internal/merge"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/render"
	"pixelmind/internal/storage"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrNoSession     = errors.New("no image open in the editor")
	ErrNoBatchRun    = errors.New("no batch results yet")
	ErrAIDisabled    = errors.New("ai service not configured")
	ErrStale         = errors.New("editor moved on before the result arrived")
)

// Mode is the active workspace.
type Mode string

const (
	ModeLibrary  Mode = "library"
	ModeEditor   Mode = "editor"
	ModeBatch    Mode = "batch"
	ModeMerge    Mode = "merge"
	ModeSettings Mode = "settings"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLibrary, ModeEditor, ModeBatch, ModeMerge, ModeSettings:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// SourceInfo describes one library entry.
type SourceInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MIME       string    `json:"mime"`
	Size       int64     `json:"size"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Decoded    bool      `json:"decoded"`
	IngestedAt time.Time `json:"ingestedAt"`
}

// Deps are the collaborators a Controller drives. AI may be nil.
type Deps struct {
	Config     *config.Config
	Log        *slog.Logger
	Store      *storage.Store
	Compositor *render.Compositor
	AI         aibridge.Bridge
}

// Controller is the single owner of application state. Views send it
// commands; it never reaches back into them.
type Controller struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.Store
	comp   *render.Compositor
	runner *batch.Runner
	merger *merge.Compositor
	ai     aibridge.Bridge
	now    func() time.Time

	mu        sync.Mutex
	library   map[string]*ingest.Source
	order     []string
	selected  string
	mode      Mode
	session   *edit.Session
	sessionID uint64
	merging   merge.Selection
	mergeOpts merge.Settings
	lastBatch *batch.Run
	batchJob  string
}

// New wires a controller. A nil Compositor gets a default surface and font
// book.
func New(d Deps) *Controller {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Compositor == nil {
		d.Compositor = render.NewCompositor(render.NewSurface(d.Config.Editor.MaxPixels), render.DefaultFontBook(), d.Log)
	}
	return &Controller{
		cfg:       d.Config,
		log:       d.Log,
		store:     d.Store,
		comp:      d.Compositor,
		runner:    batch.NewRunner(batch.NewEngine(d.Compositor, d.Log)),
		merger:    merge.NewCompositor(d.Compositor, d.Log),
		ai:        d.AI,
		now:       time.Now,
		library:   make(map[string]*ingest.Source),
		mode:      ModeLibrary,
		mergeOpts: MergeDefaults(d.Config.Merge),
	}
}

// Processor returns a pipeline processor sharing this controller's
// compositor and batch runner, so queued jobs and interactive runs supersede
// each other.
func (c *Controller) Processor() pipeline.Processor {
	return pipeline.NewRouter(c.log, c.store, c.runner, c.merger, c.comp)
}

// Compositor exposes the shared renderer.
func (c *Controller) Compositor() *render.Compositor { return c.comp }

// AddBlobs ingests dropped files. Non-images are skipped; every accepted blob
// starts decoding right away. Uploading a single file into an empty library
// opens it in the editor.
func (c *Controller) AddBlobs(blobs []ingest.Blob, origin string) []SourceInfo {
	srcs := ingest.Ingest(blobs)

	c.mu.Lock()
	wasEmpty := len(c.order) == 0
	for _, s := range srcs {
		c.library[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	if wasEmpty && len(srcs) == 1 && len(blobs) == 1 {
		c.openLocked(srcs[0].ID)
	}
	c.mu.Unlock()

	out := make([]SourceInfo, len(srcs))
	for i, s := range srcs {
		s.Start()
		if err := c.store.RecordSource(storage.SourceRecord{ID: s.ID, Name: s.Name, MIME: s.MIME, Size: s.Size, Origin: origin}); err != nil {
			c.log.Warn("failed to record source", "id", s.ID, "err", err)
		}
		out[i] = info(s)
	}
	if len(blobs) > len(srcs) {
		c.log.Info("skipped non-image files", "count", len(blobs)-len(srcs), "origin", origin)
	}
	return out
}

// Sources lists the library in upload order.
func (c *Controller) Sources() []SourceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SourceInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, info(c.library[id]))
	}
	return out
}

// Source returns one library entry.
func (c *Controller) Source(id string) (*ingest.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.library[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return s, nil
}

// Remove drops a source from the library and from the merge selection.
// Removing the selected source closes the editor.
func (c *Controller) Remove(id string) error {
	c.mu.Lock()
	if _, ok := c.library[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	delete(c.library, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.merging.Drop(id)
	if c.selected == id {
		c.selected = ""
		c.session = nil
		c.sessionID++
		if c.mode == ModeEditor {
			c.mode = ModeLibrary
		}
	}
	c.mu.Unlock()

	if err := c.store.DeleteSource(id); err != nil {
		c.log.Warn("failed to delete source record", "id", id, "err", err)
	}
	return nil
}

// Open selects a source and starts a fresh editing session on it.
func (c *Controller) Open(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.library[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	c.openLocked(id)
	return nil
}

func (c *Controller) openLocked(id string) {
	c.selected = id
	c.session = edit.NewSession(edit.DefaultHistoryDepth)
	c.sessionID++
	c.mode = ModeEditor
}

// Selected returns the id of the image open in the editor.
func (c *Controller) Selected() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

// Mode returns the active workspace.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches workspace. The editor needs a selected image.
func (c *Controller) SetMode(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == ModeEditor && c.selected == "" {
		return ErrNoSession
	}
	c.mode = m
	return nil
}

// Session returns the open editing session.
func (c *Controller) Session() (*edit.Session, error) {
	s, _, _, err := c.current()
	return s, err
}

// current returns the session, its source and a token that changes whenever
// the editor is pointed at something else.
func (c *Controller) current() (*edit.Session, *ingest.Source, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil, 0, ErrNoSession
	}
	return c.session, c.library[c.selected], c.sessionID, nil
}

// replaceSelected swaps the bitmap behind the open session, keeping the
// library id. It fails with ErrStale when the editor changed since token
// was taken.
func (c *Controller) replaceSelected(token uint64, img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || token != c.sessionID {
		return ErrStale
	}
	old := c.library[c.selected]
	ns := ingest.NewDecoded(old.Name, img)
	ns.ID = old.ID
	c.library[old.ID] = ns
	c.session.Replaced()
	return nil
}

func info(s *ingest.Source) SourceInfo {
	si := SourceInfo{ID: s.ID, Name: s.Name, MIME: s.MIME, Size: s.Size, IngestedAt: s.IngestedAt}
	if img, ok := s.Decoded(); ok {
		si.Decoded = true
		si.Width, si.Height = img.Bounds().Dx(), img.Bounds().Dy()
	}
	return si
}

// MergeDefaults converts the merge section of the config.
func MergeDefaults(m config.Merge) merge.Settings {
	return merge.Settings{
		Direction:  merge.Direction(m.Direction),
		Gap:        m.Gap,
		Padding:    m.Padding,
		Background: m.Background,
		Align:      merge.Align(m.Align),
	}.Normalize()
}
