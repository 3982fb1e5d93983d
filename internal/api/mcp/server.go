package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
	"github.com/neuroerp/neuroerp/internal/orchestrator"
	"github.com/neuroerp/neuroerp/pkg/log"
)

// Deps holds everything the MCP tools need.
type Deps struct {
	Registry      *agent.Registry
	Fabric        *fabric.Fabric
	Engine        *orchestrator.Engine
	WorkflowModel string
}

// Server exposes the ERP over the Model Context Protocol on stdio, so
// external assistants can query agents and the fabric directly.
type Server struct {
	logger *slog.Logger
	mcp    *server.MCPServer
}

// NewServer creates an MCP server with all ERP tools registered.
func NewServer(deps Deps) *Server {
	s := server.NewMCPServer(
		"neuroerp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("NeuroERP, an AI-native ERP with domain agents, a semantic business fabric, and workflow orchestration."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("erp_ask",
			mcp.WithDescription("Ask a domain agent (finance, hr, supply_chain) a natural-language question."),
			mcp.WithString("agent", mcp.Description("Agent type to ask"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session for conversational memory")),
		),
		toolAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("erp_execute_skill",
			mcp.WithDescription("Execute a specific agent skill with structured parameters."),
			mcp.WithString("agent", mcp.Description("Agent type that owns the skill"), mcp.Required()),
			mcp.WithString("skill", mcp.Description("Skill name, e.g. analyze_transactions"), mcp.Required()),
			mcp.WithString("params", mcp.Description("JSON object of skill parameters")),
		),
		toolExecuteSkill(deps),
	)

	s.AddTool(
		mcp.NewTool("fabric_search",
			mcp.WithDescription("Semantically search business entities in the fabric."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Optional node type filter (employee, product, customer, transaction, document)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		toolFabricSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("fabric_create_node",
			mcp.WithDescription("Create a business entity node in the fabric."),
			mcp.WithString("type", mcp.Description("Node type"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Node name"), mcp.Required()),
			mcp.WithString("properties", mcp.Description("JSON object of node properties")),
		),
		toolCreateNode(deps),
	)

	s.AddTool(
		mcp.NewTool("workflow_run",
			mcp.WithDescription("Run a workflow: either a named template or one generated from a description."),
			mcp.WithString("template", mcp.Description("Template name (employee_onboarding, procurement)")),
			mcp.WithString("description", mcp.Description("Natural-language description to generate a workflow from")),
			mcp.WithString("params", mcp.Description("JSON object of workflow parameters")),
		),
		toolWorkflowRun(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"erp://agents",
			"ERP Agents",
			mcp.WithResourceDescription("Registered agents and their skills"),
			mcp.WithMIMEType("application/json"),
		),
		resourceAgents(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"erp://fabric/stats",
			"Fabric Statistics",
			mcp.WithResourceDescription("Node and connection counts by type"),
			mcp.WithMIMEType("application/json"),
		),
		resourceStats(deps),
	)

	return &Server{
		logger: log.Logger("mcp"),
		mcp:    s,
	}
}

// Listen serves MCP over stdio until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func toolAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentType, err := req.RequireString("agent")
		if err != nil {
			return mcpError("agent is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		a, err := deps.Registry.Get(agentType)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		resp, err := a.Ask(ctx, &domain.AskRequest{
			Query:     query,
			SessionID: req.GetString("session_id", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcpJSON(resp)
	}
}

func toolExecuteSkill(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentType, err := req.RequireString("agent")
		if err != nil {
			return mcpError("agent is required"), nil
		}
		skill, err := req.RequireString("skill")
		if err != nil {
			return mcpError("skill is required"), nil
		}

		params, err := parseJSONObject(req.GetString("params", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid params JSON: %v", err)), nil
		}

		result, err := deps.Registry.ExecuteTask(ctx, agentType, skill, params)
		if err != nil {
			return mcpError(fmt.Sprintf("skill failed: %v", err)), nil
		}

		return mcpJSON(result)
	}
}

func toolFabricSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		nodes, err := deps.Fabric.SemanticSearch(ctx, query, req.GetString("type", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(nodes) == 0 {
			return mcpText("[]"), nil
		}

		return mcpJSON(nodes)
	}
}

func toolCreateNode(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		nodeType, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		properties, err := parseJSONObject(req.GetString("properties", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid properties JSON: %v", err)), nil
		}

		node, err := deps.Fabric.CreateNode(ctx, nodeType, name, properties)
		if err != nil {
			return mcpError(fmt.Sprintf("create failed: %v", err)), nil
		}

		return mcpJSON(node)
	}
}

func toolWorkflowRun(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		template := req.GetString("template", "")
		description := req.GetString("description", "")
		if template == "" && description == "" {
			return mcpError("template or description is required"), nil
		}

		params, err := parseJSONObject(req.GetString("params", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid params JSON: %v", err)), nil
		}

		var wf *orchestrator.Workflow
		if template != "" {
			wf, err = deps.Engine.StartTemplate(ctx, template, params)
		} else {
			wf, err = deps.Engine.Generate(ctx, description, deps.WorkflowModel)
			if err == nil {
				wf.Params = params
				wf, err = deps.Engine.Run(ctx, wf)
			}
		}
		if err != nil {
			return mcpError(fmt.Sprintf("workflow failed: %v", err)), nil
		}

		return mcpJSON(wf)
	}
}

func resourceAgents(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type agentInfo struct {
			Type   string   `json:"type"`
			Skills []string `json:"skills"`
		}

		var infos []agentInfo
		for _, t := range deps.Registry.Types() {
			a, err := deps.Registry.Get(t)
			if err != nil {
				continue
			}
			infos = append(infos, agentInfo{Type: t, Skills: a.Skills()})
		}

		b, err := json.Marshal(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal agents: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func resourceStats(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Fabric.Stats())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func parseJSONObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
