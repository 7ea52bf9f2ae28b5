package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clinssen/bmtk/internal/ratelimit"
	"github.com/clinssen/bmtk/internal/store"
)

const latestRunURI = "pointnet://runs/latest"

// registerTools registers all pointnet MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pointnet_runs",
		Description: "List stored network builds with population and node counts",
	}, s.handleRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pointnet_populations",
		Description: "List the populations of a build's real or virtual identity pool",
	}, s.handlePopulations)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pointnet_resolve",
		Description: "Resolve population-scoped node ids to engine handles for a build",
	}, s.handleResolve)
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         latestRunURI,
		Name:        "pointnet-latest-run",
		Description: "Summary of the most recent network build.",
		MIMEType:    "text/markdown",
	}, s.handleLatestRunResource)
}

func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool("pointnet_runs", start, retErr, "limit", args.Limit) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "pointnet_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	if args.Limit < 0 {
		return nil, RunsOutput{}, fmt.Errorf("limit must be non-negative, got %d", args.Limit)
	}

	runs, err := s.store.Runs(ctx)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}
	if args.Limit > 0 && len(runs) > args.Limit {
		runs = runs[:args.Limit]
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return nil, RunsOutput{Runs: runs, Count: len(runs)}, nil
}

func (s *Server) handlePopulations(ctx context.Context, req *sdk.CallToolRequest, args PopulationsInput) (_ *sdk.CallToolResult, _ PopulationsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pointnet_populations", start, retErr, "run", args.Run, "namespace", args.Namespace)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "pointnet_populations"); err != nil {
		return nil, PopulationsOutput{}, err
	}

	ns, err := store.ParseNamespace(args.Namespace)
	if err != nil {
		return nil, PopulationsOutput{}, err
	}
	run, err := store.Lookup(ctx, s.store, args.Run)
	if err != nil {
		return nil, PopulationsOutput{}, err
	}

	out := PopulationsOutput{Run: run.ID, Namespace: string(ns), Populations: []PopulationItem{}}
	for _, m := range run.Mappings {
		if m.Namespace == ns {
			out.Populations = append(out.Populations, PopulationItem{Name: m.Population, Nodes: len(m.NodeIDs)})
		}
	}
	return nil, out, nil
}

func (s *Server) handleResolve(ctx context.Context, req *sdk.CallToolRequest, args ResolveInput) (_ *sdk.CallToolResult, _ ResolveOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pointnet_resolve", start, retErr,
			"run", args.Run, "population", args.Population, "ids", len(args.NodeIDs))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "pointnet_resolve"); err != nil {
		return nil, ResolveOutput{}, err
	}

	if args.Population == "" {
		return nil, ResolveOutput{}, fmt.Errorf("population is required")
	}
	ns, err := store.ParseNamespace(args.Namespace)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	run, err := store.Lookup(ctx, s.store, args.Run)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	pool, err := run.Pool(ns)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	handles, err := pool.Resolve(args.Population, args.NodeIDs)
	if err != nil {
		return nil, ResolveOutput{}, err
	}

	out := ResolveOutput{
		Run:        run.ID,
		Population: args.Population,
		Namespace:  string(ns),
		Handles:    make([]int64, len(handles)),
	}
	for i, h := range handles {
		out.Handles[i] = int64(h)
	}
	return nil, out, nil
}

// handleLatestRunResource renders the newest run as markdown.
func (s *Server) handleLatestRunResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	run, err := s.store.LatestRun(ctx)
	if err != nil {
		return &sdk.ReadResourceResult{
			Contents: []*sdk.ResourceContents{{
				URI:      latestRunURI,
				MIMEType: "text/markdown",
				Text:     "# Latest Build\n\nNo builds stored yet. Run `pointnet build --config <file>`.\n",
			}},
		}, nil
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      latestRunURI,
			MIMEType: "text/markdown",
			Text:     renderRun(run),
		}},
	}, nil
}

func renderRun(run *store.Run) string {
	sum := run.Summary()
	var sb strings.Builder
	sb.WriteString("# Latest Build\n\n")
	fmt.Fprintf(&sb, "- run: `%s`\n", run.ID)
	fmt.Fprintf(&sb, "- created: %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- engine version: %s\n", run.EngineVersion)
	fmt.Fprintf(&sb, "- nodes: %d in %d populations, %d spike generators\n\n", sum.Nodes, sum.Populations, sum.VirtualNodes)

	sb.WriteString("| population | namespace | nodes |\n|---|---|---|\n")
	for _, m := range run.Mappings {
		fmt.Fprintf(&sb, "| %s | %s | %d |\n", m.Population, m.Namespace, len(m.NodeIDs))
	}
	return sb.String()
}
