// Package mcp exposes swarm operations as a Model Context Protocol server.
package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

// ServerConfig holds MCP server identity and auth.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// TaskPusher queues tasks and reports queue statistics.
type TaskPusher interface {
	Push(ctx context.Context, t *task.Task) error
	Stats(ctx context.Context) (task.QueueStats, error)
}

// WorkerLister lists the running workers.
type WorkerLister interface {
	List() []worker.Info
}

// KarmaReader reads the leaderboard.
type KarmaReader interface {
	Top(ctx context.Context, limit int) ([]karma.Standing, error)
}

// ServerDeps are the swarm services the tools call. Nil deps make the
// corresponding tools return an error result.
type ServerDeps struct {
	Tasks   TaskPusher
	Workers WorkerLister
	Karma   KarmaReader
}

// Server wraps an mcp-go server and its streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *server.MCPServer
	http      *server.StreamableHTTPServer
}

// NewServer creates the server with every tool and resource registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	s.http = server.NewStreamableHTTPServer(s.mcpServer, server.WithStateLess(true))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP endpoint behind the API-key check.
func (s *Server) Handler() http.Handler {
	return requireKey(s.cfg.APIKey, s.http)
}
