package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"pixelmind/internal/app"
	"pixelmind/internal/config"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/storage"
)

// Server is the local HTTP front of the editor: library, editing session,
// batch and merge commands, job history and live progress.
type Server struct {
	addr     string
	grpcAddr string
	maxBody  int64
	inbox    string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	ctrl     *app.Controller
	hub      *Hub
	log      *slog.Logger
	server   *http.Server
}

// NewServer wires the HTTP surface onto a controller and job pipeline.
func NewServer(cfg *config.Config, store *storage.Store, pipe *pipeline.Pipeline, ctrl *app.Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     cfg.Server.Addr,
		grpcAddr: cfg.Server.GRPCAddr,
		maxBody:  cfg.Server.MaxBody,
		inbox:    cfg.Paths.Inbox,
		store:    store,
		pipeline: pipe,
		ctrl:     ctrl,
		hub:      NewHub(log),
		log:      log,
	}
}

// Start serves HTTP, the gRPC health endpoint and the inbox watcher until
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.relayJobs(ctx)
		return nil
	})
	if s.grpcAddr != "" {
		g.Go(func() error { return s.serveGRPC(ctx, s.grpcAddr) })
	}
	if s.inbox != "" {
		g.Go(func() error {
			if err := s.ctrl.WatchInbox(ctx, s.inbox); err != nil {
				s.log.Warn("inbox watcher disabled", "dir", s.inbox, "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctxShutdown)
	})
	g.Go(func() error {
		s.log.Info("Server starting", "addr", s.addr, "grpc", s.grpcAddr)
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/state", s.handleState).Methods("GET")
	r.HandleFunc("/mode", s.handleMode).Methods("PUT")

	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJobMeta).Methods("GET")
	r.HandleFunc("/jobs/{id}/items", s.handleJobItems).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")

	r.HandleFunc("/sources", s.handleListSources).Methods("GET")
	r.HandleFunc("/sources", s.handleUpload).Methods("POST")
	r.HandleFunc("/sources/{id}", s.handleRemoveSource).Methods("DELETE")

	r.HandleFunc("/sessions/{id}", s.handleOpen).Methods("POST")
	r.HandleFunc("/sessions/{id}", s.handleSessionState).Methods("GET")
	r.HandleFunc("/sessions/{id}/gesture", s.handleGesture).Methods("POST")
	r.HandleFunc("/sessions/{id}/undo", s.handleUndo).Methods("POST")
	r.HandleFunc("/sessions/{id}/render", s.handleRender).Methods("GET")
	r.HandleFunc("/sessions/{id}/export", s.handleExport).Methods("GET")
	r.HandleFunc("/sessions/{id}/sample", s.handleSample).Methods("POST")
	r.HandleFunc("/sessions/{id}/ai", s.handleAI).Methods("POST")

	r.HandleFunc("/batch", s.handleBatch).Methods("POST")
	r.HandleFunc("/batch/download", s.handleBatchDownload).Methods("GET")

	r.HandleFunc("/merge", s.handleMerge).Methods("POST")
	r.HandleFunc("/merge/selection/{id}", s.handleMergeToggle).Methods("POST")
	r.HandleFunc("/merge/settings", s.handleMergeSettings).Methods("PUT")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleJobMeta returns the result metadata recorded when a job finished.
func (s *Server) handleJobMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.JobMeta(mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "job has no result", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleJobItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.BatchItems(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	evCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// relayJobs forwards pipeline events to websocket clients.
func (s *Server) relayJobs(ctx context.Context) {
	if s.pipeline == nil {
		return
	}
	evCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			m := Message{JobID: ev.JobID, Completed: ev.Completed, Total: ev.Total, Error: ev.Error, Data: ev.Meta}
			m.Type = "job-progress"
			if ev.Kind == pipeline.EventResult {
				m.Type = "job-result"
			}
			s.hub.Send(m)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
