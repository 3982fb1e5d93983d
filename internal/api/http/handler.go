package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
	"github.com/neuroerp/neuroerp/internal/orchestrator"
	"github.com/neuroerp/neuroerp/pkg/audit"
	"github.com/neuroerp/neuroerp/pkg/auth"
	"github.com/neuroerp/neuroerp/pkg/log"
)

// Handler handles HTTP API requests
type Handler struct {
	logger    *slog.Logger
	registry  *agent.Registry
	fabric    *fabric.Fabric
	engine    *orchestrator.Engine
	scheduler *orchestrator.Scheduler
	auth      *auth.Manager
	audit     *audit.PostgresStore

	// workflowModel is the LLM used for natural-language workflow generation
	workflowModel string

	started time.Time
}

// NewHandler creates a new HTTP handler. Auth and audit may be nil (disabled).
func NewHandler(registry *agent.Registry, f *fabric.Fabric, engine *orchestrator.Engine,
	scheduler *orchestrator.Scheduler, authManager *auth.Manager, auditStore *audit.PostgresStore,
	workflowModel string) *Handler {
	return &Handler{
		logger:        log.Logger("http.handler"),
		registry:      registry,
		fabric:        f,
		engine:        engine,
		scheduler:     scheduler,
		auth:          authManager,
		audit:         auditStore,
		workflowModel: workflowModel,
		started:       time.Now().UTC(),
	}
}

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("POST /api/v1/token", h.Token)

	// Agents
	mux.HandleFunc("GET /api/v1/agents", h.ListAgents)
	mux.HandleFunc("POST /api/v1/agents/{type}/ask", h.Ask)
	mux.HandleFunc("POST /api/v1/agents/{type}/tasks", h.SubmitTask)

	// Tasks
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.GetTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.CancelTask)

	// Fabric
	mux.HandleFunc("POST /api/v1/fabric/nodes", h.CreateNode)
	mux.HandleFunc("GET /api/v1/fabric/nodes/{id}", h.GetNode)
	mux.HandleFunc("PUT /api/v1/fabric/nodes/{id}", h.UpdateNode)
	mux.HandleFunc("DELETE /api/v1/fabric/nodes/{id}", h.DeleteNode)
	mux.HandleFunc("GET /api/v1/fabric/nodes/{id}/connections", h.Connections)
	mux.HandleFunc("GET /api/v1/fabric/nodes/{id}/traverse", h.Traverse)
	mux.HandleFunc("POST /api/v1/fabric/connect", h.Connect)
	mux.HandleFunc("POST /api/v1/fabric/disconnect", h.Disconnect)
	mux.HandleFunc("GET /api/v1/fabric/nodes", h.QueryNodes)
	mux.HandleFunc("POST /api/v1/fabric/search", h.Search)
	mux.HandleFunc("GET /api/v1/fabric/stats", h.FabricStats)

	// Workflows
	mux.HandleFunc("POST /api/v1/workflows", h.StartWorkflow)
	mux.HandleFunc("GET /api/v1/workflows", h.ListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.GetWorkflow)

	// Scheduler
	mux.HandleFunc("GET /api/v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("GET /api/v1/scheduler/metrics", h.SchedulerMetrics)

	// Audit trail
	mux.HandleFunc("GET /api/v1/audit/tasks", h.AuditTasks)
	mux.HandleFunc("GET /api/v1/audit/events", h.AuditEvents)

	// Health check and status
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/status", h.Status)
}

// Token handles POST /api/v1/token
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		h.writeError(w, http.StatusNotFound, "auth is disabled")
		return
	}

	var req domain.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	token, err := h.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    domain.TokenResponse{Token: token},
	})
}

// ListAgents handles GET /api/v1/agents
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := make([]map[string]any, 0)
	for _, agentType := range h.registry.Types() {
		a, err := h.registry.Get(agentType)
		if err != nil {
			continue
		}
		agents = append(agents, map[string]any{
			"type":   agentType,
			"skills": a.Skills(),
		})
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: agents})
}

// Ask handles POST /api/v1/agents/{type}/ask
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	agentType := r.PathValue("type")

	a, err := h.registry.Get(agentType)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req domain.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := a.Ask(r.Context(), &req)
	if err != nil {
		h.logger.Error("ask failed", "agent", agentType, "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: resp})
}

// taskRequest is the submission body for agent tasks
type taskRequest struct {
	Skill    string         `json:"skill"`
	Params   map[string]any `json:"params,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Interval string         `json:"interval,omitempty"` // Go duration, makes the task periodic
}

// SubmitTask handles POST /api/v1/agents/{type}/tasks
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	agentType := r.PathValue("type")
	if _, err := h.registry.Get(agentType); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Skill == "" {
		h.writeError(w, http.StatusBadRequest, "skill is required")
		return
	}

	task := &orchestrator.Task{
		AgentType: agentType,
		Skill:     req.Skill,
		Params:    req.Params,
		Priority:  orchestrator.ParsePriority(req.Priority),
	}
	if req.Interval != "" {
		interval, err := time.ParseDuration(req.Interval)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid interval: "+err.Error())
			return
		}
		task.Interval = interval
	}

	id, err := h.scheduler.Submit(task)
	if err != nil {
		h.writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	h.writeJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data:    map[string]string{"task_id": id},
	})
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.scheduler.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: task})
}

// CancelTask handles DELETE /api/v1/tasks/{id}
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.scheduler.Cancel(id); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"cancelled": id},
	})
}

// CreateNode handles POST /api/v1/fabric/nodes
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req domain.NodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	node, err := h.fabric.CreateNode(r.Context(), req.Type, req.Name, req.Properties)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, Response{Success: true, Data: node})
}

// GetNode handles GET /api/v1/fabric/nodes/{id}
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.fabric.GetNode(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: node})
}

// UpdateNode handles PUT /api/v1/fabric/nodes/{id}
func (h *Handler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var properties map[string]any
	if err := json.NewDecoder(r.Body).Decode(&properties); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	node, err := h.fabric.UpdateNode(r.Context(), r.PathValue("id"), properties)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: node})
}

// DeleteNode handles DELETE /api/v1/fabric/nodes/{id}
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.fabric.DeleteNode(r.Context(), id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"deleted": id},
	})
}

// Connections handles GET /api/v1/fabric/nodes/{id}/connections
func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.fabric.ConnectedNodes(r.PathValue("id"), r.URL.Query().Get("relation_type"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: nodes})
}

// Traverse handles GET /api/v1/fabric/nodes/{id}/traverse
func (h *Handler) Traverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	depth := 0
	if d := q.Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
		depth = n
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	nodes, err := h.fabric.Traverse(r.Context(), r.PathValue("id"),
		q["relation_type"], q.Get("direction"), depth, limit)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: nodes})
}

// Connect handles POST /api/v1/fabric/connect
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req domain.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.fabric.ConnectNodes(r.Context(), req.SourceID, req.TargetID, req.RelationType, req.Properties); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// Disconnect handles POST /api/v1/fabric/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req domain.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.fabric.DisconnectNodes(r.Context(), req.SourceID, req.TargetID, req.RelationType); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// QueryNodes handles GET /api/v1/fabric/nodes
func (h *Handler) QueryNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fabric.NodeFilter{
		Type: q.Get("type"),
		Name: q.Get("name"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.fabric.QueryNodes(filter)})
}

// Search handles POST /api/v1/fabric/search
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	nodes, err := h.fabric.SemanticSearch(r.Context(), req.Query, req.NodeType, req.Limit)
	if err != nil {
		h.logger.Error("search failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: nodes})
}

// FabricStats handles GET /api/v1/fabric/stats
func (h *Handler) FabricStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.fabric.Stats()})
}

// StartWorkflow handles POST /api/v1/workflows
func (h *Handler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req domain.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var wf *orchestrator.Workflow
	var err error
	switch {
	case req.Template != "":
		wf, err = h.engine.StartTemplate(r.Context(), req.Template, req.Params)
	case req.Description != "":
		wf, err = h.engine.Generate(r.Context(), req.Description, h.workflowModel)
		if err == nil {
			wf.Params = req.Params
			wf, err = h.engine.Run(r.Context(), wf)
		}
	default:
		h.writeError(w, http.StatusBadRequest, "template or description is required")
		return
	}

	if err != nil {
		h.logger.Error("workflow failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: wf})
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.engine.List(limit)})
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.engine.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: wf})
}

// SchedulerStatus handles GET /api/v1/scheduler/status
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.scheduler.Status()})
}

// SchedulerMetrics handles GET /api/v1/scheduler/metrics
func (h *Handler) SchedulerMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.scheduler.Metrics()})
}

// AuditTasks handles GET /api/v1/audit/tasks
func (h *Handler) AuditTasks(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.writeError(w, http.StatusNotFound, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.HistoryFilter{
		AgentType: q.Get("agent_type"),
		Status:    q.Get("status"),
		Type:      q.Get("type"),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid since, want RFC3339")
			return
		}
		filter.Since = ts
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	records, err := h.audit.TaskHistory(r.Context(), filter)
	if err != nil {
		h.logger.Error("task history query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: records})
}

// AuditEvents handles GET /api/v1/audit/events
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.writeError(w, http.StatusNotFound, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.audit.Events(r.Context(), q.Get("type"), limit)
	if err != nil {
		h.logger.Error("event query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: records})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]string{
			"status": "healthy",
		},
	})
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]any{
			"status":    "healthy",
			"uptime":    time.Since(h.started).Round(time.Second).String(),
			"agents":    h.registry.Types(),
			"templates": h.engine.Templates(),
			"fabric":    h.fabric.Stats(),
			"scheduler": h.scheduler.Status(),
			"backends":  h.fabric.Health(r.Context()),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}
