// Package api is the non-UI transport standing in for the explicitly
// out-of-scope shell: a chi JSON command surface plus an SSE event
// stream, carrying commands and events only, never rendering.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/archiveforge/gitarchiver/internal/commands"
	"github.com/archiveforge/gitarchiver/internal/events"
	"github.com/archiveforge/gitarchiver/internal/model"
)

// Server wires the command facade and the event broadcaster into an
// http.Handler.
type Server struct {
	cmds        *commands.Commands
	broadcaster *events.Broadcaster
	log         *log.Logger
}

// New builds a Server.
func New(cmds *commands.Commands, broadcaster *events.Broadcaster, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "archiver ", log.LstdFlags|log.LUTC)
	}
	return &Server{cmds: cmds, broadcaster: broadcaster, log: logger}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/repos", s.handleAddRepo)
		r.Get("/repos", s.handleListRepos)
		r.Delete("/repos/{id}", s.handleDeleteRepo)
		r.Post("/repos/{id}/clone", s.handleCloneRepo)
		r.Post("/repos/{id}/update", s.handleUpdateRepo)
		r.Post("/update-all", s.handleUpdateAll)
		r.Post("/tasks/stop", s.handleStopAllTasks)
		r.Get("/archives", s.handleListArchives)
		r.Post("/archives/{id}/extract", s.handleExtractArchive)
		r.Delete("/archives/{id}", s.handleDeleteArchive)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)
		r.Get("/rate-limit", s.handleRateLimit)
		r.Post("/import", s.handleImportFromFile)
		r.Post("/migrate", s.handleMigrateFromJSON)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	repo, err := s.cmds.AddRepo(r.Context(), body.URL)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	repos, err := s.cmds.ListRepos(r.Context(), status)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	removeFiles := r.URL.Query().Get("remove_files") == "true"
	if !s.handleErr(w, s.cmds.DeleteRepo(r.Context(), id, removeFiles)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloneRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.handleErr(w, s.cmds.CloneRepo(id)) {
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpdateRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.handleErr(w, s.cmds.UpdateRepo(id)) {
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IncludeArchived bool `json:"include_archived"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !s.handleErr(w, s.cmds.UpdateAll(body.IncludeArchived)) {
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStopAllTasks(w http.ResponseWriter, _ *http.Request) {
	s.cmds.StopAllTasks()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(r.URL.Query().Get("repo_id"), 10, 64)
	if err != nil {
		http.Error(w, "repo_id query parameter is required", http.StatusBadRequest)
		return
	}
	archives, listErr := s.cmds.ListArchives(r.Context(), repoID)
	if !s.handleErr(w, listErr) {
		return
	}
	writeJSON(w, http.StatusOK, archives)
}

func (s *Server) handleExtractArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		DestDir string `json:"dest_dir"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !s.handleErr(w, s.cmds.ExtractArchive(r.Context(), id, body.DestDir)) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.handleErr(w, s.cmds.DeleteArchive(r.Context(), id)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.cmds.GetSettings(r.Context())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Settings  map[string]*string `json:"settings"`
		AuthToken *string            `json:"auth_token"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !s.handleErr(w, s.cmds.SaveSettings(r.Context(), body.Settings, body.AuthToken)) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := s.cmds.CheckRateLimit(r.Context())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleImportFromFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := s.cmds.ImportFromFile(r.Context(), body.Path)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMigrateFromJSON(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := s.cmds.MigrateFromJSON(r.Context(), body.Path)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEvents streams task-progress and repo-updated events over SSE to
// a single connection, which Subscribe registers as one of potentially
// many concurrent listeners.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broadcaster.Subscribe(r.Context())
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Printf("failed to marshal event: %v", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleErr writes the safe rendering of err (if any) at the appropriate
// status code and reports whether the caller should continue.
func (s *Server) handleErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	var ae *model.AppError
	status := http.StatusInternalServerError
	if asAppError(err, &ae) && (ae.Kind == model.KindUserVisible || ae.Kind == model.KindBadInput) {
		status = http.StatusBadRequest
	}
	s.log.Printf("request failed: %v", err)
	http.Error(w, model.Render(err), status)
	return false
}

func asAppError(err error, target **model.AppError) bool {
	ae, ok := err.(*model.AppError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
