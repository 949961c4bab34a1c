package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/shortcast/shortcast-server/internal/generate"
)

// GenerationService runs a generation job and yields its status events.
// Satisfied by *generate.Orchestrator.
type GenerationService interface {
	Run(ctx context.Context, req generate.Request) <-chan generate.Event
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", generateHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/settings/{userID}", getSettingsHandler(cfg))
		r.Put("/settings/{userID}", putSettingsHandler(cfg))
	})

	r.Get("/ws/jobs/{id}", jobSocketHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: "0.1.0",
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobs, _ := cfg.Repository.List(ctx, "", 20)

		state := "idle"
		running := 0
		lastError := ""
		for _, j := range jobs {
			if !generate.IsTerminal(j.Stage) {
				running++
			}
			if j.Stage == generate.StageError && lastError == "" {
				lastError = j.Error
			}
		}
		if running > 0 {
			state = "generating"
		}

		resp := StatusResponse{State: state, JobsRunning: running, LastError: lastError}

		if cfg.Doctor != nil {
			if caps, err := cfg.Doctor.Get(ctx); err == nil && caps != nil {
				resp.Tools = &ToolStatusResponse{
					HasFFmpeg:      caps.HasFFmpeg,
					HasFFprobe:     caps.HasFFprobe,
					FFmpegVersion:  caps.FFmpegVersion,
					FFprobeVersion: caps.FFprobeVersion,
					LastProbeAt:    caps.ProbedAt.Format(time.RFC3339),
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// generateHandler streams status events as newline-delimited JSON, one
// object per event, objects separated by a blank line. The pipeline runs on
// a detached context: once started, a job reaches a terminal state even if
// the caller disconnects, and the websocket feed still sees every event.
func generateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// pitch_up needs presence detection: an absent flag falls back to
		// the user's stored default, an explicit false does not.
		var body struct {
			generate.Request
			PitchUp *bool `json:"pitch_up"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		req := body.Request
		if body.PitchUp != nil {
			req.PitchUp = *body.PitchUp
		}
		applyStoredDefaults(r.Context(), cfg, &req, body.PitchUp == nil)

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		events := cfg.Generator.Run(context.WithoutCancel(r.Context()), req)

		var jobID string
		enc := json.NewEncoder(w)
		for ev := range events {
			jobID = ev.JobID
			if cfg.Hub != nil {
				cfg.Hub.Publish(ev.JobID, ev)
			}
			if err := enc.Encode(ev); err != nil {
				// Client went away; keep draining so the job finishes and
				// the hub feed stays complete.
				continue
			}
			w.Write([]byte("\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if cfg.Hub != nil && jobID != "" {
			cfg.Hub.Close(jobID)
		}
	}
}

// applyStoredDefaults fills request fields the caller left empty from the
// user's stored settings.
func applyStoredDefaults(ctx context.Context, cfg ServerConfig, req *generate.Request, pitchUnset bool) {
	if cfg.Settings == nil || req.UserID == "" {
		return
	}
	stored, err := cfg.Settings.Get(ctx, req.UserID)
	if err != nil || stored == nil {
		return
	}
	if req.VoiceID == "" {
		req.VoiceID = stored.VoiceID
	}
	if pitchUnset {
		req.PitchUp = stored.PitchUp
	}
	if req.CaptionStyle == "" {
		req.CaptionStyle = stored.CaptionStyle
	}
	if req.BackgroundPool == "" {
		req.BackgroundPool = stored.BackgroundPool
	}
	if req.Subtitle == nil && stored.SubtitleSize > 0 {
		sub, err := json.Marshal(map[string]any{
			"size":   stored.SubtitleSize,
			"stroke": stored.SubtitleStroke,
		})
		if err == nil {
			req.Subtitle = sub
		}
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.List(r.Context(), r.URL.Query().Get("user_id"), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func getSettingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		stored, err := cfg.Settings.Get(r.Context(), userID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read settings", "INTERNAL_ERROR")
			return
		}
		if stored == nil {
			WriteError(w, http.StatusNotFound, "no settings for user", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, stored)
	}
}

func putSettingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		var req SettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		stored := req.ToSettings(userID)
		if err := cfg.Settings.Put(r.Context(), stored); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to store settings", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stored)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// jobSocketHandler mirrors a job's status events over a websocket: history
// first, then live events until the job reaches a terminal stage.
func jobSocketHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		if jobID == "" || cfg.Hub == nil {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		history, live, cancel := cfg.Hub.Subscribe(jobID)
		defer cancel()

		for _, ev := range history {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		if live == nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
			return
		}

		for ev := range live {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	}
}
