package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/app"
	"pixelmind/internal/batch"
	"pixelmind/internal/edit"
	"pixelmind/internal/ingest"
	"pixelmind/internal/merge"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/render"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNoSession), errors.Is(err, app.ErrNoBatchRun),
		errors.Is(err, app.ErrStale), errors.Is(err, batch.ErrSuperseded),
		errors.Is(err, render.ErrNotDecoded):
		return http.StatusConflict
	case errors.Is(err, aibridge.ErrInvalidRequest), errors.Is(err, merge.ErrTooFewSources),
		errors.Is(err, merge.ErrSelectionFull), errors.Is(err, ingest.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, aibridge.ErrService), errors.Is(err, aibridge.ErrSchema):
		return http.StatusBadGateway
	case errors.Is(err, render.ErrCanvasTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, app.ErrAIDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type stateResponse struct {
	Mode           app.Mode         `json:"mode"`
	Selected       string           `json:"selected,omitempty"`
	Sources        []app.SourceInfo `json:"sources"`
	MergeSelection []string         `json:"mergeSelection"`
	MergeSettings  merge.Settings   `json:"mergeSettings"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sel, _ := s.ctrl.Selected()
	writeJSON(w, http.StatusOK, stateResponse{
		Mode:           s.ctrl.Mode(),
		Selected:       sel,
		Sources:        s.ctrl.Sources(),
		MergeSelection: s.ctrl.MergeSelection(),
		MergeSettings:  s.ctrl.MergeSettings(),
	})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := app.ParseMode(body.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.SetMode(m); err != nil {
		writeError(w, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Sources())
}

// handleUpload accepts multipart "files". Parts whose declared type is not
// an image are skipped.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var blobs []ingest.Blob
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		blobs = append(blobs, ingest.Blob{Name: fh.Filename, MIME: fh.Header.Get("Content-Type"), Data: data})
	}
	infos := s.ctrl.AddBlobs(blobs, "upload")
	s.hub.Send(Message{Type: "library", Data: map[string]any{"added": len(infos)}})
	writeJSON(w, http.StatusCreated, infos)
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Remove(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	s.hub.Send(Message{Type: "library", Data: map[string]any{"removed": mux.Vars(r)["id"]}})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Open(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	s.handleSessionState(w, r)
}

// session checks the path id names the image open in the editor.
func (s *Server) session(w http.ResponseWriter, r *http.Request) bool {
	id := mux.Vars(r)["id"]
	sel, ok := s.ctrl.Selected()
	if !ok {
		writeError(w, app.ErrNoSession)
		return false
	}
	if sel != id {
		http.Error(w, fmt.Sprintf("source %s is not open in the editor", id), http.StatusConflict)
		return false
	}
	return true
}

type sessionResponse struct {
	ID        string        `json:"id"`
	State     edit.Snapshot `json:"state"`
	UndoDepth int           `json:"undoDepth"`
	Active    string        `json:"activeText,omitempty"`
}

func (s *Server) writeSession(w http.ResponseWriter, id string, st edit.Snapshot) {
	sess, err := s.ctrl.Session()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := sessionResponse{ID: id, State: st, UndoDepth: sess.UndoDepth()}
	if a, ok := sess.Active(); ok {
		resp.Active = a.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	sess, err := s.ctrl.Session()
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeSession(w, mux.Vars(r)["id"], sess.State())
}

func (s *Server) handleGesture(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	var e app.Edit
	if err := decodeBody(r, &e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.ctrl.ApplyEdit(e)
	if err != nil {
		if errors.Is(err, app.ErrNoSession) {
			writeError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeSession(w, mux.Vars(r)["id"], st)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	st, err := s.ctrl.ApplyEdit(app.Edit{Undo: true})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeSession(w, mux.Vars(r)["id"], st)
}

// handleRender streams a PNG preview of the current session.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	img, err := s.ctrl.Render(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", string(render.PNG))
	w.Header().Set("Cache-Control", "no-store")
	if err := render.Encode(w, img, render.PNG, 0); err != nil {
		s.log.Warn("preview write failed", "err", err)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	out, err := s.ctrl.ExportCurrent(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, out)
}

func writeDownload(w http.ResponseWriter, out app.Export) {
	w.Header().Set("Content-Type", string(out.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Write(out.Data)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	var body struct {
		DisplayWidth  int `json:"displayWidth"`
		DisplayHeight int `json:"displayHeight"`
		X             int `json:"x"`
		Y             int `json:"y"`
	}
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hex, err := s.ctrl.Sample(r.Context(), image.Pt(body.DisplayWidth, body.DisplayHeight), image.Pt(body.X, body.Y))
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"color": hex})
}

func (s *Server) handleAI(w http.ResponseWriter, r *http.Request) {
	if !s.session(w, r) {
		return
	}
	var body struct {
		Kind   string `json:"kind"`
		Prompt string `json:"prompt"`
	}
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.ctrl.ApplyAI(r.Context(), aibridge.Kind(body.Kind), body.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Report != nil {
		writeJSON(w, http.StatusOK, res.Report)
		return
	}
	sess, err := s.ctrl.Session()
	if err != nil {
		writeError(w, err)
		return
	}
	sel, _ := s.ctrl.Selected()
	s.writeSession(w, sel, sess.State())
}

type batchItem struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleBatch runs the library through the batch engine. The body is an
// optional batch.Options; missing fields use the configured defaults.
// Progress is pushed to websocket clients while the request is open.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	opts := s.ctrl.BatchOptions()
	if err := decodeBody(r, &opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := opts.Normalize(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	run, err := s.ctrl.RunBatch(r.Context(), opts, func(done, total int) {
		s.hub.Send(Message{Type: "batch-progress", Completed: done, Total: total})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	_, jobID, _ := s.ctrl.LastBatch()
	items := make([]batchItem, len(run.Items))
	for i, it := range run.Items {
		items[i] = batchItem{Index: it.Index, Status: string(it.Status), Output: it.OutputName, Width: it.Width, Height: it.Height, Bytes: len(it.Output)}
		if it.Err != nil {
			items[i].Error = it.Err.Error()
		}
	}
	sum := batch.Summarize(run.Items)
	writeJSON(w, http.StatusOK, map[string]any{"job": jobID, "done": sum.Done, "failed": sum.Failed, "items": items})
}

// handleBatchDownload packs the newest run's outputs into one zip.
func (s *Server) handleBatchDownload(w http.ResponseWriter, r *http.Request) {
	_, jobID, err := s.ctrl.LastBatch()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".zip"))
	z := batch.NewZipSink(w)
	if _, err := s.ctrl.DownloadBatch(r.Context(), z); err != nil {
		s.log.Warn("batch download interrupted", "job", jobID, "err", err)
	}
	if err := z.Close(); err != nil {
		s.log.Warn("batch archive not finished", "job", jobID, "err", err)
	}
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Texts []edit.TextOverlay `json:"texts"`
	}
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.ctrl.Merge(r.Context(), body.Texts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, out)
}

func (s *Server) handleMergeToggle(w http.ResponseWriter, r *http.Request) {
	selected, err := s.ctrl.ToggleMerge(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"selected": selected, "selection": s.ctrl.MergeSelection()})
}

func (s *Server) handleMergeSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.ctrl.MergeSettings()
	if err := decodeBody(r, &settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.SetMergeSettings(settings))
}

type jobRequest struct {
	Type     pipeline.JobType `json:"type"`
	Input    string           `json:"input"`
	Images   []string         `json:"images"`
	Output   string           `json:"output"`
	Archive  bool             `json:"archive"`
	Batch    *batch.Options   `json:"batch,omitempty"`
	Merge    *merge.Settings  `json:"merge,omitempty"`
	Document *edit.Snapshot   `json:"document,omitempty"`
	Format   string           `json:"format,omitempty"`
}

// handleSubmitJob queues an on-disk job: a batch over a folder, a merge of
// image files or a render of one file with a saved document.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job := pipeline.Job{
		ID:        string(req.Type) + "-" + uuid.NewString()[:8],
		Type:      req.Type,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   map[string]any{},
	}
	if len(req.Images) > 0 {
		job.Options["images"] = req.Images
	}
	switch req.Type {
	case pipeline.JobBatch:
		opts := s.ctrl.BatchOptions()
		if req.Batch != nil {
			opts = *req.Batch
		}
		job.Options["options"] = opts
		job.Options["archive"] = req.Archive
	case pipeline.JobMerge:
		settings := s.ctrl.MergeSettings()
		if req.Merge != nil {
			settings = *req.Merge
		}
		job.Options["settings"] = settings
	case pipeline.JobRender:
		if req.Document != nil {
			job.Options["document"] = *req.Document
		}
		if req.Format != "" {
			job.Options["format"] = req.Format
		}
	default:
		http.Error(w, fmt.Sprintf("unknown job type %q", req.Type), http.StatusBadRequest)
		return
	}
	if err := s.pipeline.Submit(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}
