package sonata

import "github.com/clinssen/bmtk/internal/engine"

// Batch is a NodeBatch backed by plain fields. Dynamics holds either a
// parameter file name (string) or inline parameters (map).
type Batch struct {
	IDs      []int64
	Type     string
	Template string
	Dynamics any
}

// NodeIDs returns the batch's node ids in file order.
func (b *Batch) NodeIDs() []int64 { return b.IDs }

// ModelType returns the model_type column, e.g. "point_neuron" or "virtual".
func (b *Batch) ModelType() string { return b.Type }

// ModelTemplate returns the model_template column, e.g. "nest:iaf_psc_alpha".
func (b *Batch) ModelTemplate() string { return b.Template }

// DynamicsParams returns Dynamics when it holds inline parameters.
func (b *Batch) DynamicsParams() (map[string]any, bool) {
	m, ok := b.Dynamics.(map[string]any)
	return m, ok
}

// ParamsFile returns Dynamics when it names a parameter file, or "".
func (b *Batch) ParamsFile() string {
	s, _ := b.Dynamics.(string)
	return s
}

// Population is a NodePopulation over a fixed list of batches.
type Population struct {
	name           string
	batches        []NodeBatch
	classification Classification
	count          int
}

// NewPopulation returns a population classified from its batches.
func NewPopulation(name string, batches ...*Batch) *Population {
	p := &Population{name: name}
	for _, b := range batches {
		p.batches = append(p.batches, b)
		p.count += len(b.IDs)
	}
	p.classification = Classify(p.batches)
	return p
}

// Name returns the population name.
func (p *Population) Name() string { return p.name }

// Classification reports whether the population is internal, virtual or mixed.
func (p *Population) Classification() Classification { return p.classification }

// Batches returns the population's batches in order.
func (p *Population) Batches() []NodeBatch { return p.batches }

// NodeCount returns the total number of nodes across batches.
func (p *Population) NodeCount() int { return p.count }

// Connections is an Edge: parallel source/target node ids and a parameter bundle.
type Connections struct {
	Sources []int64
	Targets []int64
	Bundle  engine.Status
}

// SourceNodeIDs returns the source node ids, parallel to TargetNodeIDs.
func (c *Connections) SourceNodeIDs() []int64 { return c.Sources }

// TargetNodeIDs returns the target node ids, parallel to SourceNodeIDs.
func (c *Connections) TargetNodeIDs() []int64 { return c.Targets }

// Params returns the parameter bundle shared by every pair in the group.
func (c *Connections) Params() engine.Status { return c.Bundle }

// Projection is an EdgePopulation over a fixed list of connection groups.
type Projection struct {
	name    string
	source  string
	target  string
	virtual bool
	edges   []Edge
}

// NewProjection returns an edge population from source to target.
func NewProjection(name, source, target string, virtual bool, groups ...*Connections) *Projection {
	p := &Projection{name: name, source: source, target: target, virtual: virtual}
	for _, g := range groups {
		p.edges = append(p.edges, g)
	}
	return p
}

// Name returns the edge population name.
func (p *Projection) Name() string { return p.name }

// SourcePopulation returns the name of the presynaptic node population.
func (p *Projection) SourcePopulation() string { return p.source }

// TargetPopulation returns the name of the postsynaptic node population.
func (p *Projection) TargetPopulation() string { return p.target }

// Virtual reports whether sources are spike generators rather than simulated nodes.
func (p *Projection) Virtual() bool { return p.virtual }

// Edges returns the connection groups in order.
func (p *Projection) Edges() []Edge { return p.edges }

// ConnectionCount returns the number of source/target pairs across all groups.
func (p *Projection) ConnectionCount() int {
	n := 0
	for _, e := range p.edges {
		n += len(e.SourceNodeIDs())
	}
	return n
}
