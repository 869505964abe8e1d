package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"delego/pkg/domain"
	dErrors "delego/pkg/domain-errors"
	"delego/pkg/platform/audit"
	"delego/pkg/platform/httputil"
)

// AuditHandler exposes read-only audit history for operators.
type AuditHandler struct {
	store  audit.Store
	logger *slog.Logger
}

func NewAuditHandler(store audit.Store, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

// Register mounts the audit routes.
func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/audit/tasks/{taskID}", h.handleListByTask)
	r.Get("/audit/agents/{agentID}", h.handleListByAgent)
	r.Get("/audit/recent", h.handleListRecent)
}

type eventPayload struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Category  string         `json:"category"`
	Principal string         `json:"principal,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Task      string         `json:"task,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Decision  string         `json:"decision"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func toEventPayloads(events []audit.Event) []eventPayload {
	out := make([]eventPayload, 0, len(events))
	for _, e := range events {
		out = append(out, eventPayload{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Kind:      string(e.Kind),
			Category:  string(e.Kind.Category()),
			Principal: e.PrincipalID.String(),
			Agent:     e.AgentID.String(),
			Task:      e.TaskID.String(),
			Resource:  e.ResourceID.String(),
			Decision:  string(e.Decision),
			Reason:    e.Reason,
			Metadata:  e.Metadata,
		})
	}
	return out
}

func (h *AuditHandler) handleListByTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := domain.ParseTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid task id"))
		return
	}
	events, err := h.store.ListByTask(r.Context(), taskID)
	if err != nil {
		h.writeListError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventPayloads(events))
}

func (h *AuditHandler) handleListByAgent(w http.ResponseWriter, r *http.Request) {
	agentID := domain.AgentID(chi.URLParam(r, "agentID"))
	if agentID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid agent id"))
		return
	}
	events, err := h.store.ListByAgent(r.Context(), agentID)
	if err != nil {
		h.writeListError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventPayloads(events))
}

const defaultRecentLimit = 100

func (h *AuditHandler) handleListRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid limit"))
			return
		}
		limit = parsed
	}
	events, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeListError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventPayloads(events))
}

func (h *AuditHandler) writeListError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "audit listing failed", "error", err)
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "audit store unavailable"))
}
