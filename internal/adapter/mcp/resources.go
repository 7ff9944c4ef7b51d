package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// jsonResource is a read-only snapshot served as application/json.
type jsonResource struct {
	uri, name, desc string
	// read returns nil, nil when its dependency is not configured.
	read func(ctx context.Context) (any, error)
}

func (s *Server) resources() []jsonResource {
	return []jsonResource{
		{
			uri: "sweepjudge://karma/top", name: "Karma Leaderboard",
			desc: "Top agents by karma score",
			read: func(ctx context.Context) (any, error) {
				if s.deps.Karma == nil {
					return nil, nil
				}
				return s.deps.Karma.Top(ctx, defaultTopLimit)
			},
		},
		{
			uri: "sweepjudge://queue/stats", name: "Queue Statistics",
			desc: "Task counts by status and current queue size",
			read: func(ctx context.Context) (any, error) {
				if s.deps.Tasks == nil {
					return nil, nil
				}
				return s.deps.Tasks.Stats(ctx)
			},
		},
		{
			uri: "sweepjudge://workers", name: "Running Workers",
			desc: "Workers running in this process with their class and status",
			read: func(context.Context) (any, error) {
				if s.deps.Workers == nil {
					return nil, nil
				}
				return s.deps.Workers.List(), nil
			},
		},
	}
}

func (s *Server) registerResources() {
	for _, res := range s.resources() {
		s.mcpServer.AddResource(
			mcplib.NewResource(res.uri, res.name,
				mcplib.WithResourceDescription(res.desc),
				mcplib.WithMIMEType("application/json")),
			res.handler(),
		)
	}
}

func (res jsonResource) handler() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
		v, err := res.read(ctx)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, errors.New(res.name + " is not configured")
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	}
}
