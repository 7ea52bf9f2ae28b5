package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/store"
)

// versionInfo is what the version command reports. Runs recorded by one
// binary are readable by any binary with the same or newer store schema.
type versionInfo struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	Built         string `json:"built"`
	GoVersion     string `json:"go_version"`
	EngineDefault string `json:"engine_default"`
	StoreSchema   int    `json:"store_schema"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:       version,
		Commit:        commit,
		Built:         date,
		GoVersion:     runtime.Version(),
		EngineDefault: constants.DefaultEngineVersion,
		StoreSchema:   store.SchemaVersion,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, default engine version and store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersion()
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "pointnet %s (commit %s, built %s, %s)\n", info.Version, info.Commit, info.Built, info.GoVersion)
			fmt.Fprintf(w, "default engine version %s, store schema v%d\n", info.EngineDefault, info.StoreSchema)
			return nil
		},
	}
}
