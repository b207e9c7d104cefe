// Package server exposes the arena over HTTP: match creation, single-step
// advancement, snapshot polling, SSE streaming and websocket subscriptions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/arena"
	"github.com/kapu/llm-chess-arena/internal/config"
	"github.com/kapu/llm-chess-arena/internal/obslog"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/internal/ratings"
	"github.com/kapu/llm-chess-arena/internal/registry"
)

type Server struct {
	cfg     *config.AppConfig
	reg     *registry.Registry
	table   *ratings.Table
	client  *actor.Client
	router  actor.Router
	prompts *prompt.Catalog
	archive arena.MatchArchiver
}

func New(cfg *config.AppConfig, reg *registry.Registry, table *ratings.Table, client *actor.Client, router actor.Router, prompts *prompt.Catalog, archive arena.MatchArchiver) *Server {
	return &Server{
		cfg:     cfg,
		reg:     reg,
		table:   table,
		client:  client,
		router:  router,
		prompts: prompts,
		archive: archive,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/ratings", s.handleRatings)
	mux.HandleFunc("GET /api/start_game", s.handleStartGame)
	mux.HandleFunc("POST /api/step", s.handleStep)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/watch", s.handleWatch)
	mux.HandleFunc("GET /api/ws", s.handleWS)
	return mux
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := config.ReadModelsFile(s.cfg.ModelsFile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleRatings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

// handleStartGame registers a match between the two requested identities.
// Unless auto=false, a single driver goroutine advances the match to
// completion; readers follow along on /api/state, /api/watch or /api/ws.
func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	white := strings.TrimSpace(r.URL.Query().Get("white_player"))
	black := strings.TrimSpace(r.URL.Query().Get("black_player"))
	if white == "" || black == "" {
		writeError(w, http.StatusBadRequest, "both players must be selected")
		return
	}

	m, err := arena.NewMatch(
		white, actor.NewModelActor(s.client, s.router, white),
		black, actor.NewModelActor(s.client, s.router, black),
		s.prompts, s.archive, s.table,
		arena.Config{Retries: s.cfg.MoveRetries, MaxFullmoves: s.cfg.MaxFullmoves},
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e := s.reg.Create(m)
	auto := !strings.EqualFold(r.URL.Query().Get("auto"), "false")
	if auto {
		go s.drive(e.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": e.ID, "auto": auto})
}

// drive is the single writer for one match: it steps until terminal. An
// unexpected panic marks the match failed instead of crashing the process.
func (s *Server) drive(id string) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("driver_panic", zap.String("match_id", id), zap.Any("panic", r))
			s.reg.Fail(context.Background(), id, fmt.Sprintf("driver panic: %v", r))
		}
	}()

	ctx := context.Background()
	for {
		out, err := s.reg.Advance(ctx, id)
		if err != nil {
			obslog.L().Error("driver_stop", zap.String("match_id", id), zap.Error(err))
			return
		}
		if out.Terminal {
			return
		}
	}
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	out, err := s.reg.Advance(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrMatchNotFound) {
			writeError(w, http.StatusNotFound, "unknown match id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	e, err := s.reg.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown match id")
		return
	}
	snap, version := e.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "state": snap})
}

// handleWatch streams snapshots over SSE. Idle periods produce comment
// keep-alives so intermediaries do not drop the connection; the stream ends
// after the terminal snapshot is emitted.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	e, err := s.reg.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown match id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	snap, version := e.Snapshot()
	writeEvent(w, flusher, snap)
	if snap.Over() {
		return
	}

	for {
		next, nextVersion, changed, err := e.Wait(r.Context(), version, s.cfg.WatchKeepAlive)
		if err != nil {
			return // client gone
		}
		if !changed {
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
			continue
		}
		version = nextVersion
		writeEvent(w, flusher, next)
		if next.Over() {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	obslog.L().Info("server_listen", zap.String("addr", s.cfg.ListenAddr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
