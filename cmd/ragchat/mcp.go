package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/session"
	"github.com/flemzord/ragchat/pkg/app"
)

// chatService is the part of the orchestrator the MCP tools drive.
type chatService interface {
	SubmitTurn(ctx context.Context, req chat.TurnRequest) (chat.TurnResult, error)
	ListSessions() []session.Info
	GetSession(id string) (session.State, error)
	ForceSummarize(ctx context.Context, id string) (session.State, error)
}

var _ chatService = (*chat.Orchestrator)(nil)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the chat tools over MCP on stdin/stdout",
		Long: "Runs the configured chat core without the HTTP gateway and exposes it\n" +
			"as MCP tools. Logs go to stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			params := runParams(cmd)
			params.Headless = true
			rt, err := app.Build(ctx, params)
			if err != nil {
				return err
			}
			if err := rt.Start(); err != nil {
				rt.Close(ctx)
				return err
			}
			defer rt.Shutdown(context.Background())

			srv := newMCPServer(rt.Orchestrator)
			rt.Logger.Info("serving MCP on stdio")
			return server.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout)
		},
	}
}

func newMCPServer(svc chatService) *server.MCPServer {
	s := server.NewMCPServer("ragchat", version, server.WithToolCapabilities(false))
	t := &mcpTools{svc: svc}

	s.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send a message to a chat session and return the assistant reply. "+
			"Omit session_id to start a new session, or pass your own id to start one under it."),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("session_id", mcp.Description("Session to continue or create")),
		mcp.WithBoolean("use_rag", mcp.Description("Ground the reply in retrieved passages (default true)")),
	), t.chat)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List active chat sessions"),
	), t.listSessions)

	s.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Return the summary and retained turns of a session"),
		mcp.WithString("session_id", mcp.Required()),
	), t.getSession)

	s.AddTool(mcp.NewTool("summarize_session",
		mcp.WithDescription("Fold a session's older turns into its summary now"),
		mcp.WithString("session_id", mcp.Required()),
	), t.summarizeSession)

	return s
}

type mcpTools struct {
	svc chatService
}

func (t *mcpTools) chat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.svc.SubmitTurn(ctx, chat.TurnRequest{
		SessionID: req.GetString("session_id", ""),
		Message:   msg,
		UseRAG:    req.GetBool("use_rag", true),
	})
	if err != nil {
		return turnError(err), nil
	}
	return jsonResult(res)
}

func (t *mcpTools) listSessions(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.svc.ListSessions())
}

func (t *mcpTools) getSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := t.svc.GetSession(id)
	if err != nil {
		return turnError(err), nil
	}
	return jsonResult(st)
}

func (t *mcpTools) summarizeSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := t.svc.ForceSummarize(ctx, id)
	if err != nil {
		return turnError(err), nil
	}
	return jsonResult(st)
}

// turnError reports a failed call as a tool error carrying its kind, so
// the client model can tell a missing session from a model outage.
func turnError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(chat.NewTurnError(err).Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
