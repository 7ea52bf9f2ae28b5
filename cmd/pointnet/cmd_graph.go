package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinssen/bmtk/internal/sonata"
	"github.com/clinssen/bmtk/internal/visualization"
	"github.com/clinssen/bmtk/internal/weights"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Visualize the population graph",
		Long:  `Output the populations and edge populations of the configured network in DOT (Graphviz) or JSON format.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			f, err := visualization.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Network.File == "" {
				return fmt.Errorf("no network file configured (network.file)")
			}

			registry := weights.NewRegistry()
			registry.RegisterDefault(weights.DefaultWeight)
			desc, err := sonata.LoadFile(cfg.Network.File, registry)
			if err != nil {
				return err
			}

			nodes := make([]sonata.NodePopulation, len(desc.Nodes))
			for i, pop := range desc.Nodes {
				nodes[i] = pop
			}
			edges := make([]sonata.EdgePopulation, len(desc.Edges))
			for i, ep := range desc.Edges {
				edges[i] = ep
			}

			switch f {
			case visualization.FormatDOT:
				fmt.Fprint(cmd.OutOrStdout(), visualization.RenderDOT(nodes, edges))
			case visualization.FormatJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(visualization.RenderJSON(nodes, edges)); err != nil {
					return fmt.Errorf("encode JSON: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot or json")

	return cmd
}
