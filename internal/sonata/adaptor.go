// Package sonata defines the adaptor view of a node/edge network that the
// builder consumes, and a loader for YAML network descriptions that provides
// one concrete implementation of it.
package sonata

import (
	"strings"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
)

// Classification tells the builder which phase instantiates a population.
type Classification int

const (
	// Internal populations hold only simulated nodes.
	Internal Classification = iota
	// Virtual populations hold only external spike sources.
	Virtual
	// Mixed populations hold both.
	Mixed
)

func (c Classification) String() string {
	switch c {
	case Internal:
		return "internal"
	case Virtual:
		return "virtual"
	case Mixed:
		return "mixed"
	}
	return "unknown"
}

// NodePopulation is a named, ordered collection of node batches.
type NodePopulation interface {
	Name() string
	Classification() Classification
	Batches() []NodeBatch
	NodeCount() int
}

// NodeBatch is a group of nodes sharing a model and dynamics parameters.
type NodeBatch interface {
	NodeIDs() []int64
	ModelType() string
	ModelTemplate() string
	DynamicsParams() (map[string]any, bool)
	ParamsFile() string
}

// EdgePopulation is a collection of synaptic projections between two node populations.
type EdgePopulation interface {
	Name() string
	SourcePopulation() string
	TargetPopulation() string
	// Virtual reports whether the sources are external spike inputs.
	Virtual() bool
	Edges() []Edge
}

// Edge is a bulk set of one-to-one connections sharing a parameter bundle.
type Edge interface {
	SourceNodeIDs() []int64
	TargetNodeIDs() []int64
	// Params returns the mutable bundle passed to the engine as synapse spec.
	Params() engine.Status
}

// NodeSet names the populations a spike input feeds.
type NodeSet interface {
	PopulationNames() []string
}

// PopulationNames is a NodeSet listing populations by name.
type PopulationNames []string

// PopulationNames implements NodeSet.
func (p PopulationNames) PopulationNames() []string {
	return p
}

// Classify derives a population's classification from its batches' model types.
// A population without batches is Internal.
func Classify(batches []NodeBatch) Classification {
	var virtual, internal int
	for _, b := range batches {
		if IsVirtual(b) {
			virtual++
		} else {
			internal++
		}
	}
	switch {
	case virtual > 0 && internal > 0:
		return Mixed
	case virtual > 0:
		return Virtual
	}
	return Internal
}

// IsVirtual reports whether b is a batch of external spike sources.
func IsVirtual(b NodeBatch) bool {
	return b.ModelType() == constants.VirtualModelType
}

// ModelName returns the engine model of a template like "nest:iaf_psc_alpha".
func ModelName(template string) string {
	if _, model, ok := strings.Cut(template, ":"); ok {
		return model
	}
	return template
}
