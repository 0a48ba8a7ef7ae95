package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.io/infrasutra/mailmcp/internal/dispatch"
)

// Version is set by build flags.
var Version = "dev"

const implementationName = "mailmcp"

const instructions = "Send email to addresses, groups and event attendees, " +
	"manage the address book and templates, and query sent-mail history. " +
	"Dates are RFC 3339 timestamps."

// Server wraps the MCP SDK server with the mail dispatch tools registered.
type Server struct {
	mcpServer *mcp.Server
	svc       *dispatch.Service
	logger    *slog.Logger
}

type ServerOptions struct {
	Logger  *slog.Logger
	Version string
}

func NewServer(svc *dispatch.Service, opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = Version
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    implementationName,
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: instructions,
		Logger:       logger,
	})

	s := &Server{
		mcpServer: mcpServer,
		svc:       svc,
		logger:    logger.With("component", "mcp"),
	}
	RegisterTools(s)
	return s
}

// Run serves the tools over stdio until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp server stopped", "error", err)
		return err
	}
	return nil
}

// Handler serves the tools over streamable HTTP. Sessions are stateless so
// any replica can answer any request.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
		Logger:    s.logger,
	})
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
