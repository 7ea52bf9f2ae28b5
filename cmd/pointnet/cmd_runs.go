package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clinssen/bmtk/internal/api"
	"github.com/clinssen/bmtk/internal/config"
	"github.com/clinssen/bmtk/internal/store"
)

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded builds, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}

			if jsonOut {
				if runs == nil {
					runs = []store.RunSummary{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-20s  %-8s  %6s  %6s  %7s\n", "RUN", "CREATED", "ENGINE", "POPS", "NODES", "VIRTUAL")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s  %-20s  %-8s  %6d  %6d  %7d\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.EngineVersion,
					r.Populations, r.Nodes, r.VirtualNodes)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 0, "Maximum number of runs to list (0 for all)")

	return cmd
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Map node ids of a population to engine handles",
		Long: `Look up the engine handles created for node ids of a population in a
recorded build. Ids are resolved in the given order and may repeat.

Examples:
  pointnet resolve --population v1 --ids 0,1,2
  pointnet resolve --population lgn --ids 4 --virtual --run <run-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			population, _ := cmd.Flags().GetString("population")
			idList, _ := cmd.Flags().GetString("ids")
			virtual, _ := cmd.Flags().GetBool("virtual")
			runID, _ := cmd.Flags().GetString("run")

			ids, err := api.ParseIDs(idList)
			if err != nil {
				return err
			}
			ns := store.NamespaceReal
			if virtual {
				ns = store.NamespaceVirtual
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			handles, err := store.Resolve(cmd.Context(), st, runID, ns, population, ids)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"population": population,
					"namespace":  ns,
					"node_ids":   ids,
					"handles":    handles,
				})
			}
			parts := make([]string, len(handles))
			for i, h := range handles {
				parts[i] = fmt.Sprintf("%d", h)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
			return nil
		},
	}

	cmd.Flags().String("population", "", "Population name (required)")
	cmd.Flags().String("ids", "", "Comma separated node ids")
	cmd.Flags().Bool("virtual", false, "Resolve spike generator handles of virtual nodes")
	cmd.Flags().String("run", "", "Run id (default latest)")
	cmd.MarkFlagRequired("population")

	return cmd
}
