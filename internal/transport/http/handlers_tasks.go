// Package http exposes the delegation engine over REST.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"delego/internal/delegation"
	"delego/internal/delegation/models"
	"delego/internal/delegation/service"
	"delego/internal/tasktoken"
	"delego/pkg/domain"
	dErrors "delego/pkg/domain-errors"
	"delego/pkg/platform/httputil"
	"delego/pkg/requestcontext"
)

// TaskService is the engine surface behind the task endpoints.
type TaskService interface {
	CreateTask(ctx context.Context, in service.CreateTaskInput) (*models.Task, error)
	GetTask(ctx context.Context, taskID domain.TaskID) (*models.Task, error)
}

// AccessService checks and revokes through the decision cache, so HTTP
// callers get cached decisions and cache-coherent revocations.
type AccessService interface {
	delegation.Checker
	delegation.Revoker
}

// InitiateService runs the scope-inference delegation flow.
type InitiateService interface {
	Initiate(ctx context.Context, in service.InitiateInput) (*service.TaskContext, error)
}

// TokenService issues and validates task tokens.
type TokenService interface {
	Issue(task *models.Task) (string, error)
	Validate(token string) (*tasktoken.Identity, error)
}

// TaskHandler handles the delegation lifecycle endpoints.
type TaskHandler struct {
	tasks    TaskService
	access   AccessService
	initiate InitiateService
	tokens   TokenService
	logger   *slog.Logger
}

func NewTaskHandler(tasks TaskService, access AccessService, initiate InitiateService, tokens TokenService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:    tasks,
		access:   access,
		initiate: initiate,
		tokens:   tokens,
		logger:   logger,
	}
}

type grantPayload struct {
	Resource string `json:"resource"`
	Access   string `json:"access"`
}

type createTaskRequest struct {
	Delegator   string         `json:"delegator"`
	Agent       string         `json:"agent"`
	Description string         `json:"description"`
	Grants      []grantPayload `json:"grants"`
	TTL         string         `json:"ttl"`
}

type taskPayload struct {
	ID          string         `json:"id"`
	Delegator   string         `json:"delegator"`
	Agent       string         `json:"agent"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Status      string         `json:"status"`
	Grants      []grantPayload `json:"grants"`
}

type createTaskResponse struct {
	Task  taskPayload `json:"task"`
	Token string      `json:"token"`
}

func toTaskPayload(task *models.Task) taskPayload {
	grants := make([]grantPayload, 0, len(task.Grants))
	for _, g := range task.Grants {
		grants = append(grants, grantPayload{Resource: g.Resource.String(), Access: g.Access.String()})
	}
	return taskPayload{
		ID:          task.ID.String(),
		Delegator:   task.Delegator.String(),
		Agent:       task.Agent.String(),
		Description: task.Description,
		CreatedAt:   task.CreatedAt,
		ExpiresAt:   task.ExpiresAt,
		Status:      string(task.Status),
		Grants:      grants,
	}
}

func (h *TaskHandler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[createTaskRequest](w, r, h.logger)
	if !ok {
		return
	}

	in := service.CreateTaskInput{
		Delegator:   domain.PrincipalID(req.Delegator),
		Agent:       domain.AgentID(req.Agent),
		Description: req.Description,
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid ttl"))
			return
		}
		in.TTL = ttl
	}
	for _, g := range req.Grants {
		in.Grants = append(in.Grants, models.ResourceGrant{
			Resource: domain.ResourceID(g.Resource),
			Access:   domain.AccessLevel(g.Access),
		})
	}

	task, err := h.tasks.CreateTask(ctx, in)
	if err != nil {
		h.writeServiceError(ctx, w, "task creation failed", err)
		return
	}
	h.writeTaskWithToken(ctx, w, task)
}

type initiateRequest struct {
	Delegator string `json:"delegator"`
	Agent     string `json:"agent"`
	Request   string `json:"request"`
}

type inferencePayload struct {
	Resources []grantPayload `json:"resources"`
	Reasoning string         `json:"reasoning"`
}

type initiateResponse struct {
	Task      taskPayload      `json:"task"`
	Token     string           `json:"token"`
	Inference inferencePayload `json:"inference"`
	Rejected  []grantPayload   `json:"rejected,omitempty"`
}

func (h *TaskHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[initiateRequest](w, r, h.logger)
	if !ok {
		return
	}

	taskCtx, err := h.initiate.Initiate(ctx, service.InitiateInput{
		Delegator:   domain.PrincipalID(req.Delegator),
		Agent:       domain.AgentID(req.Agent),
		RequestText: req.Request,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "delegation initiation failed", err)
		return
	}

	token, err := h.tokens.Issue(taskCtx.Task)
	if err != nil {
		h.logger.ErrorContext(ctx, "task token issuance failed",
			"task_id", taskCtx.Task.ID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "token issuance failed"))
		return
	}

	resp := initiateResponse{
		Task:  toTaskPayload(taskCtx.Task),
		Token: token,
		Inference: inferencePayload{
			Reasoning: taskCtx.Inference.Reasoning,
		},
	}
	for _, res := range taskCtx.Inference.Resources {
		resp.Inference.Resources = append(resp.Inference.Resources, grantPayload{
			Resource: res.ID.String(), Access: res.Access.String(),
		})
	}
	for _, res := range taskCtx.Rejected {
		resp.Rejected = append(resp.Rejected, grantPayload{
			Resource: res.ID.String(), Access: res.Access.String(),
		})
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *TaskHandler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, err := domain.ParseTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid task id"))
		return
	}
	task, err := h.tasks.GetTask(ctx, taskID)
	if err != nil {
		h.writeServiceError(ctx, w, "task lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTaskPayload(task))
}

type revokeResponse struct {
	TaskID        string `json:"task_id"`
	TuplesRevoked int    `json:"tuples_revoked"`
}

func (h *TaskHandler) handleRevokeTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, err := domain.ParseTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid task id"))
		return
	}
	result, err := h.access.RevokeTask(ctx, taskID)
	if err != nil {
		h.writeServiceError(ctx, w, "task revocation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revokeResponse{
		TaskID:        result.TaskID.String(),
		TuplesRevoked: result.TuplesRevoked,
	})
}

type checkAccessRequest struct {
	Agent    string `json:"agent,omitempty"`
	Task     string `json:"task,omitempty"`
	Resource string `json:"resource"`
	Access   string `json:"access"`
}

type checkAccessResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// handleCheckAccess answers an access check. Agent identity comes from a
// bearer task token when one is presented; otherwise the caller names the
// agent and task explicitly, which suits trusted in-cluster enforcement
// points.
func (h *TaskHandler) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[checkAccessRequest](w, r, h.logger)
	if !ok {
		return
	}

	agentID := domain.AgentID(req.Agent)
	var taskID domain.TaskID
	if req.Task != "" {
		parsed, err := domain.ParseTaskID(req.Task)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid task id"))
			return
		}
		taskID = parsed
	}

	if token := bearerToken(r); token != "" {
		identity, err := h.tokens.Validate(token)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		agentID = identity.AgentID
		taskID = identity.TaskID
	}

	decision, err := h.access.CheckAccess(ctx, agentID, taskID, domain.ResourceID(req.Resource), domain.AccessLevel(req.Access))
	if err != nil {
		h.writeServiceError(ctx, w, "access check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, checkAccessResponse{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
	})
}

func (h *TaskHandler) writeTaskWithToken(ctx context.Context, w http.ResponseWriter, task *models.Task) {
	token, err := h.tokens.Issue(task)
	if err != nil {
		h.logger.ErrorContext(ctx, "task token issuance failed",
			"task_id", task.ID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "token issuance failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createTaskResponse{
		Task:  toTaskPayload(task),
		Token: token,
	})
}

// writeServiceError logs once and translates. Store errors surface as
// unavailability rather than internal errors so clients can distinguish
// retryable failures.
func (h *TaskHandler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	var readErr *delegation.StoreReadError
	var writeErr *delegation.StoreWriteError
	var metaErr *delegation.MetadataError
	storeFailure := errors.As(err, &readErr) || errors.As(err, &writeErr) || errors.As(err, &metaErr)

	if storeFailure || dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	if storeFailure {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "authorization store unavailable"))
		return
	}
	httputil.WriteError(w, err)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
