package mcp

import "github.com/clinssen/bmtk/internal/store"

// RunsInput defines the input for the pointnet_runs tool.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of runs to return, newest first (default: all)"`
}

// RunsOutput defines the output for the pointnet_runs tool.
type RunsOutput struct {
	Runs  []store.RunSummary `json:"runs" jsonschema:"Stored builds, newest first"`
	Count int                `json:"count" jsonschema:"Number of runs returned"`
}

// PopulationsInput defines the input for the pointnet_populations tool.
type PopulationsInput struct {
	Run       string `json:"run,omitempty" jsonschema:"Run ID (default: latest run)"`
	Namespace string `json:"namespace,omitempty" jsonschema:"Identity pool: real (simulated nodes, default) or virtual (spike generators)"`
}

// PopulationItem summarizes one population's identity pool entry.
type PopulationItem struct {
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
}

// PopulationsOutput defines the output for the pointnet_populations tool.
type PopulationsOutput struct {
	Run         string           `json:"run" jsonschema:"Run ID the populations belong to"`
	Namespace   string           `json:"namespace"`
	Populations []PopulationItem `json:"populations" jsonschema:"Populations in creation order"`
}

// ResolveInput defines the input for the pointnet_resolve tool.
type ResolveInput struct {
	Run        string  `json:"run,omitempty" jsonschema:"Run ID (default: latest run)"`
	Population string  `json:"population" jsonschema:"Population name"`
	NodeIDs    []int64 `json:"node_ids" jsonschema:"Population-scoped node ids; order is preserved and repeats are allowed"`
	Namespace  string  `json:"namespace,omitempty" jsonschema:"Identity pool: real (default) or virtual"`
}

// ResolveOutput defines the output for the pointnet_resolve tool.
type ResolveOutput struct {
	Run        string  `json:"run"`
	Population string  `json:"population"`
	Namespace  string  `json:"namespace"`
	Handles    []int64 `json:"handles" jsonschema:"Engine handles, one per requested node id"`
}
