package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/internal/fabric"
	"github.com/neuroerp/neuroerp/internal/orchestrator"
	"github.com/neuroerp/neuroerp/pkg/auth"
	pkggenkit "github.com/neuroerp/neuroerp/pkg/genkit"
)

func newTestServer(t *testing.T, authManager *auth.Manager) (*httptest.Server, *fabric.Fabric) {
	t.Helper()

	f := fabric.New(fabric.Config{})
	t.Cleanup(f.Close)

	registry := agent.NewRegistry(f, pkggenkit.Config{})
	engine := orchestrator.NewEngine(registry, nil)
	scheduler := orchestrator.NewScheduler(orchestrator.SchedulerConfig{}, registry, nil, nil)

	handler := NewHandler(registry, f, engine, scheduler, authManager, nil, "")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	var h http.Handler = mux
	h = authMiddleware(authManager, h)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, f
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var parsed Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp, parsed
}

func TestHandler_Health(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, parsed := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, parsed.Success)
}

func TestHandler_Status(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, parsed := doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := parsed.Data.(map[string]any)
	assert.Equal(t, "healthy", data["status"])
	assert.Len(t, data["agents"].([]any), 3)
	assert.NotEmpty(t, data["uptime"])

	backends := data["backends"].(map[string]any)
	assert.Equal(t, "ok", backends["fabric"])
}

func TestHandler_NodeCRUD(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// create
	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/fabric/nodes", map[string]any{
		"type": "product",
		"name": "Bolt",
		"properties": map[string]any{
			"stock": 100,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, parsed.Success)

	node := parsed.Data.(map[string]any)
	nodeID := node["id"].(string)
	require.NotEmpty(t, nodeID)

	// get
	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/fabric/nodes/"+nodeID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bolt", parsed.Data.(map[string]any)["name"])

	// update
	resp, parsed = doJSON(t, http.MethodPut, srv.URL+"/api/v1/fabric/nodes/"+nodeID, map[string]any{
		"stock": 250,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	props := parsed.Data.(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, 250.0, props["stock"])

	// query
	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/fabric/nodes?type=product", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parsed.Data.([]any), 1)

	// delete
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/fabric/nodes/"+nodeID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/fabric/nodes/"+nodeID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ConnectAndConnections(t *testing.T) {
	srv, f := newTestServer(t, nil)

	a, err := f.CreateNode(t.Context(), "customer", "Acme", nil)
	require.NoError(t, err)
	b, err := f.CreateNode(t.Context(), "transaction", "Order 1", nil)
	require.NoError(t, err)

	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/fabric/connect", map[string]any{
		"source_id":     a.ID,
		"target_id":     b.ID,
		"relation_type": "placed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, parsed.Success)

	resp, parsed = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/fabric/nodes/%s/connections?relation_type=placed", srv.URL, a.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, parsed.Data.([]any), 1)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/fabric/disconnect", map[string]any{
		"source_id":     a.ID,
		"target_id":     b.ID,
		"relation_type": "placed",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_Traverse(t *testing.T) {
	srv, f := newTestServer(t, nil)

	customer, err := f.CreateNode(t.Context(), "customer", "Acme", nil)
	require.NoError(t, err)
	order, err := f.CreateNode(t.Context(), "transaction", "Order 1", nil)
	require.NoError(t, err)
	invoice, err := f.CreateNode(t.Context(), "document", "Invoice 1", nil)
	require.NoError(t, err)
	require.NoError(t, f.ConnectNodes(t.Context(), customer.ID, order.ID, "placed", nil))
	require.NoError(t, f.ConnectNodes(t.Context(), order.ID, invoice.ID, "billed_as", nil))

	resp, parsed := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/fabric/nodes/%s/traverse?depth=2", srv.URL, customer.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parsed.Data.([]any), 2)

	// one hop only
	resp, parsed = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/fabric/nodes/%s/traverse?depth=1", srv.URL, customer.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parsed.Data.([]any), 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/fabric/nodes/missing/traverse", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/fabric/nodes/%s/traverse?depth=two", srv.URL, customer.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_AuditDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, parsed := doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit/tasks", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, parsed.Error, "audit trail is disabled")

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ListAgentsAndStats(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, parsed := doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	agents := parsed.Data.([]any)
	assert.Len(t, agents, 3)

	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/fabric/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := parsed.Data.(map[string]any)
	assert.Equal(t, 0.0, stats["node_count"])
}

func TestHandler_Ask_UnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/marketing/ask", map[string]any{
		"query": "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, parsed.Success)
}

func TestHandler_Workflows(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{
		"template": orchestrator.TemplateOnboarding,
		"params": map[string]any{
			"name":       "Dana Reyes",
			"department": "finance",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wf := parsed.Data.(map[string]any)
	assert.Equal(t, "completed", wf["status"])
	wfID := wf["id"].(string)

	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/"+wfID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parsed.Data.([]any), 1)

	// missing both template and description
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_TasksAndScheduler(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// scheduler is not started in tests, tasks stay queued
	resp, parsed := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/hr/tasks", map[string]any{
		"skill":    "headcount",
		"priority": "high",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	taskID := parsed.Data.(map[string]any)["task_id"].(string)

	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", parsed.Data.(map[string]any)["status"])

	resp, parsed = doJSON(t, http.MethodGet, srv.URL+"/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, parsed.Data.(map[string]any)["queued"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/tasks/"+taskID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// unknown skill still queues; bad agent type is rejected up front
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/nope/tasks", map[string]any{"skill": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_AuthFlow(t *testing.T) {
	manager := auth.NewManager(auth.Config{
		Enabled:  true,
		Secret:   "test-secret",
		TokenTTL: "1h",
		Users:    []auth.UserConfig{{Username: "admin", Password: "pw", Role: "admin"}},
	})
	srv, _ := newTestServer(t, manager)

	// protected without token
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/agents", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// health stays open
	resp2, parsed := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.True(t, parsed.Success)

	// bad credentials
	resp2, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/token", map[string]any{
		"username": "admin", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	// token flow
	resp2, parsed = doJSON(t, http.MethodPost, srv.URL+"/api/v1/token", map[string]any{
		"username": "admin", "password": "pw",
	})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	token := parsed.Data.(map[string]any)["token"].(string)
	require.NotEmpty(t, token)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
