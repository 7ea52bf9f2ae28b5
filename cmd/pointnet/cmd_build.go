package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clinssen/bmtk/internal/config"
	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/logging"
	"github.com/clinssen/bmtk/internal/network"
	"github.com/clinssen/bmtk/internal/sonata"
	"github.com/clinssen/bmtk/internal/spikes"
	"github.com/clinssen/bmtk/internal/store"
)

// buildResult is the output of the build command.
type buildResult struct {
	Run           string `json:"run"`
	EngineVersion string `json:"engine_version"`
	network.Summary
	Synapses    int    `json:"synapses"`
	TraceEvents int    `json:"trace_events,omitempty"`
	Store       string `json:"store"`
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Instantiate the configured network and record its identity mapping",
		Long: `Load the network description named by the configuration, create every
internal node, wire recurrent edges, attach spike generators for each
configured input, and save the resulting node-id to handle mapping as a run.

Examples:
  pointnet build --config config.yaml
  pointnet build -c config.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			forceResolution, _ := cmd.Flags().GetBool("force-resolution")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			result, err := runBuild(cmd.Context(), cfg, logger, forceResolution)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %d nodes in %d populations, %d spike generators, %d synapses\n",
				result.Nodes, result.Populations, result.VirtualNodes, result.Synapses)
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s saved to %s\n", result.Run, result.Store)
			return nil
		},
	}

	cmd.Flags().Bool("force-resolution", false, "Accepted for compatibility; edges are always built at the configured resolution")

	return cmd
}

// runBuild performs the three build phases against a recording engine and
// persists the identity snapshot.
func runBuild(ctx context.Context, cfg *config.Config, logger *slog.Logger, forceResolution bool) (*buildResult, error) {
	if cfg.Network.File == "" {
		return nil, fmt.Errorf("no network file configured (network.file)")
	}

	dialect, err := engine.DialectFor(cfg.Run.EngineVersion)
	if err != nil {
		return nil, err
	}
	trace := logging.NewTraceLogger(cfg.Logging.TraceDir, cfg.Logging.Level)
	defer trace.Close()

	eng := engine.NewRecorder(cfg.Run.DT, cfg.Run.EngineVersion)
	net := network.New(eng,
		network.WithLogger(logger),
		network.WithTrace(trace),
		network.WithComponents(cfg),
		network.WithDialect(dialect),
	)

	desc, err := sonata.LoadFile(cfg.Network.File, net.WeightFunctions())
	if err != nil {
		return nil, err
	}
	for _, pop := range desc.Nodes {
		if err := net.AddNodePopulation(pop); err != nil {
			return nil, err
		}
	}
	for _, ep := range desc.Edges {
		net.AddEdgePopulation(ep)
	}

	logger.Info("building nodes", "populations", len(desc.Nodes), "engine_major", net.Dialect().Major())
	if err := net.BuildNodes(ctx); err != nil {
		return nil, fmt.Errorf("building nodes: %w", err)
	}
	logger.Info("building recurrent edges", "edge_populations", len(desc.Edges))
	if err := net.BuildRecurrentEdges(ctx, forceResolution); err != nil {
		return nil, fmt.Errorf("building recurrent edges: %w", err)
	}

	for _, input := range cfg.Inputs {
		if err := addInput(ctx, net, input, logger); err != nil {
			return nil, fmt.Errorf("input %q: %w", input.Name, err)
		}
	}

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	run := store.NewRun(cfg.Run.EngineVersion, net.Pool(), net.VirtualPool())
	run.ConfigPath = cfg.Path()
	if err := st.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	summary := net.Summary()
	logger.Info("build complete", "run", run.ID, "nodes", summary.Nodes, "virtual_nodes", summary.VirtualNodes)

	storeDesc := cfg.Store.Backend
	if storeDesc != "memory" {
		storeDesc = cfg.Store.Path
	}
	return &buildResult{
		Run:           run.ID,
		EngineVersion: cfg.Run.EngineVersion,
		Summary:       summary,
		Synapses:      eng.SynapseCount(),
		TraceEvents:   trace.Events(),
		Store:         storeDesc,
	}, nil
}

func addInput(ctx context.Context, net *network.Network, input config.InputConfig, logger *slog.Logger) error {
	table, err := spikes.LoadCSV(input.SpikesFile)
	if err != nil {
		return err
	}
	defer table.Release()

	logger.Info("adding spike trains", "input", input.Name, "spikes", table.Len(), "nodes", table.Nodes())

	var generatorParams engine.Status
	if len(input.GeneratorParams) > 0 {
		generatorParams = engine.Status(input.GeneratorParams)
	}
	return net.AddSpikeTrains(ctx, table, sonata.PopulationNames(input.NodeSet), generatorParams)
}
