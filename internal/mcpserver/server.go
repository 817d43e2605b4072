// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes distwiki tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/distwiki/internal/wikiservice"
)

const guideURI = "distwiki://publishing-guide"

// Server wraps the MCP server with distwiki tools.
type Server struct {
	mcp *server.MCPServer
	svc *wikiservice.Service
}

// New creates a new MCP server with all distwiki tools registered.
func New(svc *wikiservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"distwiki",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_titles",
		mcp.WithDescription("List every article title registered on-chain, in registration order."),
	), s.listTitles)

	s.mcp.AddTool(mcp.NewTool("read_article",
		mcp.WithDescription("Retrieve an article from the storage network and return its text. "+
			"Without a version the latest one is returned."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Article title")),
		mcp.WithNumber("version", mcp.Description("Optional version index, counting from 0")),
	), s.readArticle)

	s.mcp.AddTool(mcp.NewTool("article_history",
		mcp.WithDescription("List every version of an article with its content id, author and time."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Article title")),
	), s.articleHistory)

	s.mcp.AddTool(mcp.NewTool("publish_article",
		mcp.WithDescription("Publish a new article, or a new version of an existing one when revise is true. "+
			"Read the publishing guide first via get_publishing_guide or the "+guideURI+" resource. "+
			"The call returns once the transaction is broadcast; use recent_actions to follow it."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Article title, at most 32 UTF-8 bytes")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full article text")),
		mcp.WithBoolean("revise", mcp.Description("Publish as a new version of an existing article")),
		mcp.WithArray("authorized", mcp.WithStringItems(),
			mcp.Description("Extra account addresses allowed to revise a new article")),
	), s.publishArticle)

	s.mcp.AddTool(mcp.NewTool("import_article",
		mcp.WithDescription("Download text from an http(s) URL or a base64 data: URI and publish it as a new article."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Article title, at most 32 UTF-8 bytes")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:text/...;base64,... URI")),
	), s.importArticle)

	s.mcp.AddTool(mcp.NewTool("recent_actions",
		mcp.WithDescription("List recent submissions from this account, newest first, with their status "+
			"(pending, success or failed)."),
		mcp.WithNumber("limit", mcp.Description("Max entries (default 10)")),
	), s.recentActions)

	s.mcp.AddTool(mcp.NewTool("estimate_cost",
		mcp.WithDescription("Estimated cost in wei of publishing one article at the current gas price."),
	), s.estimateCost)

	s.mcp.AddTool(mcp.NewTool("get_publishing_guide",
		mcp.WithDescription("Returns the rules for titles, versions and transaction status. "+
			"Call this before publishing."),
	), s.getPublishingGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Publishing Guide",
			mcp.WithResourceDescription("Rules for article titles, versions and transaction status."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listTitles(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	titles, err := s.svc.Titles(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(titles) == 0 {
		return mcp.NewToolResultText("no articles"), nil
	}
	return mcp.NewToolResultText(strings.Join(titles, "\n")), nil
}

func (s *Server) readArticle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var version *int
	if _, ok := req.GetArguments()["version"]; ok {
		v, err := req.RequireInt("version")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		version = &v
	}
	detail, err := s.svc.Read(ctx, title, version)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(detail.Content), nil
}

func (s *Server) articleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	versions, err := s.svc.History(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(versions), nil
}

func (s *Server) publishArticle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sub *wikiservice.Submission
	if req.GetBool("revise", false) {
		sub, err = s.svc.Revise(ctx, title, []byte(content))
	} else {
		sub, err = s.svc.Publish(ctx, title, []byte(content), req.GetStringSlice("authorized", nil))
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sub), nil
}

func (s *Server) recentActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	actions, err := s.svc.RecentActions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(actions) == 0 {
		return mcp.NewToolResultText("no recent actions"), nil
	}
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = fmt.Sprintf("%s: %s", a.Description, a.Status)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) estimateCost(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wei, err := s.svc.EstimateCost(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(wei.String() + " wei"), nil
}

func (s *Server) getPublishingGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PublishingGuide), nil
}

func (s *Server) readGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     PublishingGuide,
		},
	}, nil
}
