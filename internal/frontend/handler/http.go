package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/frontend"
	"github.com/linkflow/humantask/internal/security/authn"
)

const (
	// MaxRequestBodySize limits request body to 1MB to prevent memory exhaustion.
	MaxRequestBodySize = 1 << 20 // 1 MB

	actorHeader = "X-Actor-ID"
)

// HTTPHandler serves the JSON API used by work-list and inbox frontends.
type HTTPHandler struct {
	service *frontend.Service
	signer  *authn.Signer
	logger  *slog.Logger
}

// NewHTTPHandler creates a new HTTP handler. A nil signer trusts the
// X-Actor-ID header for the acting actor.
func NewHTTPHandler(service *frontend.Service, signer *authn.Signer, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		service: service,
		signer:  signer,
		logger:  logger,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	// Instance-scoped resolution
	mux.HandleFunc("GET /api/v1/instances/{instance_id}/participants", h.secure(h.InstanceParticipants))
	mux.HandleFunc("GET /api/v1/instances/{instance_id}/actors", h.secure(h.InstanceActors))
	mux.HandleFunc("GET /api/v1/instances/{instance_id}/tasks", h.secure(h.InstanceTasks))
	mux.HandleFunc("GET /api/v1/instances/{instance_id}/status", h.secure(h.InstanceStatus))
	mux.HandleFunc("POST /api/v1/instances/{instance_id}/variables", h.secure(h.PropagateVariables))

	// Task lifecycle
	mux.HandleFunc("GET /api/v1/tasks/{task_id}/participants", h.secure(h.TaskParticipants))
	mux.HandleFunc("POST /api/v1/tasks/{task_id}/claim", h.secure(h.ClaimTask))
	mux.HandleFunc("POST /api/v1/tasks/{task_id}/complete", h.secure(h.CompleteTask))
	mux.HandleFunc("POST /api/v1/tasks/{task_id}/candidate-groups", h.secure(h.AddCandidateGroups))

	// Actor work lists
	mux.HandleFunc("GET /api/v1/actors/{actor_id}/tasks", h.secure(h.ActorTasks))
	mux.HandleFunc("GET /api/v1/actors/{actor_id}/instances", h.secure(h.ActorInstances))
	mux.HandleFunc("GET /api/v1/actors/{actor_id}/open-work", h.secure(h.ActorOpenWork))
	mux.HandleFunc("GET /api/v1/actors/{actor_id}/history", h.secure(h.ActorHistory))

	// Health check (no security middleware needed for health endpoints)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
}

func (h *HTTPHandler) secure(next http.HandlerFunc) http.HandlerFunc {
	return h.securityMiddleware(h.actorMiddleware(next))
}

// securityMiddleware adds security headers and request limits to handlers.
func (h *HTTPHandler) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Limit request body size to prevent memory exhaustion attacks
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}

		next(w, r)
	}
}

// actorMiddleware attaches the acting actor to the request context. With a
// signer every request needs a valid bearer token.
func (h *HTTPHandler) actorMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.signer == nil {
			if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
				r = r.WithContext(authn.WithClaims(r.Context(), &authn.Claims{Subject: actor}))
			}
			next(w, r)
			return
		}

		token, err := authn.ExtractBearer(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		claims, err := h.signer.Validate(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r.WithContext(authn.WithClaims(r.Context(), claims)))
	}
}

func actorOf(r *http.Request) string {
	actor, _ := authn.ActorFromContext(r.Context())
	return actor
}

// GET /api/v1/instances/{instance_id}/participants.
func (h *HTTPHandler) InstanceParticipants(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.service.InstanceParticipants(r.Context(), r.PathValue("instance_id"), r.URL.Query().Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	tasks := make(map[string][]string, len(resolved))
	for _, ta := range resolved {
		tasks[ta.TaskID] = ta.Actors
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// GET /api/v1/instances/{instance_id}/actors.
func (h *HTTPHandler) InstanceActors(w http.ResponseWriter, r *http.Request) {
	actors, err := h.service.InstanceActors(r.Context(), r.PathValue("instance_id"), r.URL.Query().Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
}

// GET /api/v1/instances/{instance_id}/tasks?actor=.
func (h *HTTPHandler) InstanceTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actor := q.Get("actor")
	if actor == "" {
		actor = actorOf(r)
	}

	ids, err := h.service.InstanceTaskIDs(r.Context(), r.PathValue("instance_id"), actor, q.Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"task_ids": ids})
}

// GET /api/v1/instances/{instance_id}/status.
func (h *HTTPHandler) InstanceStatus(w http.ResponseWriter, r *http.Request) {
	ended, err := h.service.InstanceEnded(r.Context(), r.PathValue("instance_id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ended": ended})
}

// PropagateVariablesRequest is the body of a variables call.
type PropagateVariablesRequest struct {
	Variables map[string]any `json:"variables"`
}

// POST /api/v1/instances/{instance_id}/variables.
func (h *HTTPHandler) PropagateVariables(w http.ResponseWriter, r *http.Request) {
	var req PropagateVariablesRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.service.PropagateVariables(r.Context(), actorOf(r), r.PathValue("instance_id"), req.Variables)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// GET /api/v1/tasks/{task_id}/participants.
func (h *HTTPHandler) TaskParticipants(w http.ResponseWriter, r *http.Request) {
	actors, err := h.service.TaskParticipants(r.Context(), r.PathValue("task_id"), r.URL.Query().Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
}

// POST /api/v1/tasks/{task_id}/claim.
func (h *HTTPHandler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Claim(r.Context(), actorOf(r), r.PathValue("task_id")); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

// POST /api/v1/tasks/{task_id}/complete.
func (h *HTTPHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Complete(r.Context(), actorOf(r), r.PathValue("task_id")); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// AddCandidateGroupsRequest is the body of a candidate-groups call.
type AddCandidateGroupsRequest struct {
	Groups []string `json:"groups"`
}

// POST /api/v1/tasks/{task_id}/candidate-groups.
func (h *HTTPHandler) AddCandidateGroups(w http.ResponseWriter, r *http.Request) {
	var req AddCandidateGroupsRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.AddCandidateGroups(r.Context(), actorOf(r), r.PathValue("task_id"), req.Groups); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// TaskInfo is the JSON form of an open task.
type TaskInfo struct {
	ID              string    `json:"id"`
	InstanceID      string    `json:"instance_id"`
	Name            string    `json:"name"`
	Assignee        string    `json:"assignee,omitempty"`
	CandidateUsers  []string  `json:"candidate_users,omitempty"`
	CandidateGroups []string  `json:"candidate_groups,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func taskInfo(t *engine.Task) TaskInfo {
	return TaskInfo{
		ID:              t.ID,
		InstanceID:      t.InstanceID,
		Name:            t.Name,
		Assignee:        t.Assignee,
		CandidateUsers:  t.CandidateUsers,
		CandidateGroups: t.CandidateGroups,
		CreatedAt:       t.CreatedAt,
	}
}

// GET /api/v1/actors/{actor_id}/tasks.
func (h *HTTPHandler) ActorTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.ActorTasks(r.Context(), r.PathValue("actor_id"), r.URL.Query().Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, taskInfo(t))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": infos})
}

// GET /api/v1/actors/{actor_id}/instances.
func (h *HTTPHandler) ActorInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ActorInstances(r.Context(), r.PathValue("actor_id"), r.URL.Query().Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"instance_ids": ids})
}

// GET /api/v1/actors/{actor_id}/open-work.
func (h *HTTPHandler) ActorOpenWork(w http.ResponseWriter, r *http.Request) {
	ok, err := h.service.ActorHasOpenWork(r.Context(), r.PathValue("actor_id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"has_open_work": ok})
}

// GET /api/v1/actors/{actor_id}/history.
func (h *HTTPHandler) ActorHistory(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ActorHistory(r.Context(), r.PathValue("actor_id"), r.URL.Query().Get("channel"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"instance_ids": ids})
}

// Health check endpoint.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready check endpoint.
func (h *HTTPHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Helper functions

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// StatusClientClosedRequest is the non-standard status for a request the
// caller abandoned.
const StatusClientClosedRequest = 499

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, frontend.ErrInvalidArgument), errors.Is(err, engine.ErrInvalidChannel):
		return http.StatusBadRequest
	case errors.Is(err, frontend.ErrNoActor):
		return http.StatusUnauthorized
	case errors.Is(err, frontend.ErrNoOpenWork):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrTaskNotFound), errors.Is(err, engine.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, frontend.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.writeError(w, status, "Internal server error")
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
