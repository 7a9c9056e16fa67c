// Package mcpadapter exposes the book Q&A pipeline as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
)

const (
	serverName = "book-qa-assistant"

	toolAskBooks      = "ask_books"
	toolListBooks     = "list_books"
	toolClassifyQuery = "classify_query"
)

type Server struct {
	qa      ports.QuestionAnswerer
	logger  *slog.Logger
	version string
}

type askArguments struct {
	Query   string         `json:"query"`
	History domain.History `json:"history"`
}

func NewServer(qa ports.QuestionAnswerer, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{qa: qa, logger: logger, version: version}
}

// MCPServer builds a server with every tool registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(
		serverName,
		s.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool(toolAskBooks,
		mcp.WithDescription("Answer a question from the indexed books. Returns the validated answer followed by its sources."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to answer.")),
		mcp.WithArray("history",
			mcp.Description("Previous turns, oldest first. Each item has user, assistant and optional active_book."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user":        map[string]any{"type": "string"},
					"assistant":   map[string]any{"type": "string"},
					"active_book": map[string]any{"type": "string"},
				},
			}),
		),
	), s.askBooks)

	srv.AddTool(mcp.NewTool(toolListBooks,
		mcp.WithDescription("List the books available for questions."),
	), s.listBooks)

	srv.AddTool(mcp.NewTool(toolClassifyQuery,
		mcp.WithDescription("Classify a question into an intent and optional book scope without answering it."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to classify.")),
	), s.classifyQuery)

	return srv
}

// ServeStdio serves MCP over in and out until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.MCPServer())
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) askBooks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args askArguments
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	answer, err := s.qa.Answer(ctx, domain.AskRequest{Query: args.Query, History: args.History})
	if err != nil {
		s.logger.Warn("mcp_tool_failed", "tool", toolAskBooks, "error", err)
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError("the question could not be answered right now, please retry"), nil
	}

	s.logger.Info("mcp_tool_completed",
		"tool", toolAskBooks,
		"intent", answer.Intent,
		"sources", len(answer.Sources),
		"cached", answer.Cached,
		"refused", answer.Refused,
	)
	return mcp.NewToolResultText(formatAnswer(answer)), nil
}

func (s *Server) listBooks(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	books := s.qa.Books()
	if len(books) == 0 {
		return mcp.NewToolResultText("No books are available."), nil
	}
	var b strings.Builder
	for i, book := range books {
		fmt.Fprintf(&b, "%d. %s", i+1, book.Title)
		if book.Author != "" {
			fmt.Fprintf(&b, " by %s", book.Author)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) classifyQuery(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is empty"), nil
	}

	payload, err := json.Marshal(s.qa.Classify(query, nil))
	if err != nil {
		return nil, fmt.Errorf("marshal classification: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func formatAnswer(answer *domain.Answer) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(answer.Text))
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, src := range answer.Sources {
			fmt.Fprintf(&b, "- %s (score %.2f)\n", src.Citation, src.Score)
		}
	}
	if answer.Validation != nil && !answer.Validation.Valid {
		fmt.Fprintf(&b, "\nValidation confidence: %.2f", answer.Validation.Confidence)
	}
	return strings.TrimRight(b.String(), "\n")
}
