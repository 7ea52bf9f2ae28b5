// Package mcp provides an MCP (Model Context Protocol) server over stored
// identity snapshots, so agents can list builds and resolve node ids to
// engine handles.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clinssen/bmtk/internal/ratelimit"
	"github.com/clinssen/bmtk/internal/store"
)

// Server wraps the MCP SDK server.
type Server struct {
	server *sdk.Server
	store        store.Store
	logger       *slog.Logger
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string       // Server name (e.g., "pointnet")
	Version string       // Server version
	Store   store.Store  // Snapshot store; owned by the caller
	Logger  *slog.Logger // Tool call log; nil discards
}

// NewServer creates a new MCP server with pointnet tools and resources.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("mcp server requires a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:        cfg.Store,
		logger:       logger,
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves over stdio until the client disconnects, the context is
// cancelled, or the process is interrupted.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// auditTool logs one tool invocation.
func (s *Server) auditTool(tool string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "tool", tool, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		s.logger.Warn("mcp tool call failed", append(attrs, "error", err)...)
		return
	}
	s.logger.Info("mcp tool call", attrs...)
}
