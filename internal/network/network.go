// Package network builds a point-neuron network inside a simulation engine.
//
// A Network is the session object for one build: it owns the identity pools
// (real and virtual), the dynamics parameter cache, the weight function
// registry and the set of spike input populations already instantiated.
// Build phases run in order, each exactly once per population:
//
//  1. BuildNodes instantiates simulated nodes.
//  2. BuildRecurrentEdges connects node to node projections.
//  3. AddSpikeTrains instantiates spike generators for virtual nodes and
//     connects their projections.
//
// A Network is not safe for concurrent use.
package network

import (
	"fmt"
	"log/slog"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/gateway"
	"github.com/clinssen/bmtk/internal/identity"
	"github.com/clinssen/bmtk/internal/logging"
	"github.com/clinssen/bmtk/internal/params"
	"github.com/clinssen/bmtk/internal/sonata"
	"github.com/clinssen/bmtk/internal/weights"
)

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Network) { n.logger = logger }
}

// WithTrace sets the build trace. A nil trace disables tracing.
func WithTrace(trace *logging.TraceLogger) Option {
	return func(n *Network) { n.trace = trace }
}

// WithComponents sets the resolver for the models directory.
func WithComponents(resolver params.ComponentResolver) Option {
	return func(n *Network) { n.components = resolver }
}

// WithDialect sets the engine dialect. The default speaks the current major version.
func WithDialect(d engine.Dialect) Option {
	return func(n *Network) { n.dialect = d }
}

// Network holds the state of one network build.
type Network struct {
	engine     engine.Engine
	gateway    *gateway.Gateway
	dialect    engine.Dialect
	components params.ComponentResolver
	logger     *slog.Logger
	trace      *logging.TraceLogger

	nodePops []sonata.NodePopulation
	edgePops []sonata.EdgePopulation

	pool         *identity.Pool
	virtualPool  *identity.Pool
	params       *params.Cache
	weights      *weights.Registry
	virtualBuilt map[string]struct{}
}

// New returns an empty network building into eng. The default weight
// function is registered.
func New(eng engine.Engine, opts ...Option) *Network {
	n := &Network{
		engine:       eng,
		pool:         identity.NewPool(),
		virtualPool:  identity.NewPool(),
		weights:      weights.NewRegistry(),
		virtualBuilt: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.New(slog.DiscardHandler)
	}
	if n.dialect == nil {
		n.dialect = engine.MustDialectFor(constants.DefaultEngineVersion)
	}
	n.params = params.NewCache(n.components)
	n.gateway = gateway.New(eng, n.logger)
	n.weights.RegisterDefault(weights.DefaultWeight)
	return n
}

// AddNodePopulation registers a node population. Names must be unique.
func (n *Network) AddNodePopulation(pop sonata.NodePopulation) error {
	for _, p := range n.nodePops {
		if p.Name() == pop.Name() {
			return fmt.Errorf("node population %q already added", pop.Name())
		}
	}
	n.nodePops = append(n.nodePops, pop)
	return nil
}

// AddEdgePopulation registers an edge population.
func (n *Network) AddEdgePopulation(pop sonata.EdgePopulation) {
	n.edgePops = append(n.edgePops, pop)
}

// NodePopulations returns the registered node populations in order.
func (n *Network) NodePopulations() []sonata.NodePopulation {
	return n.nodePops
}

// EdgePopulations returns the registered edge populations in order.
func (n *Network) EdgePopulations() []sonata.EdgePopulation {
	return n.edgePops
}

// FindEdges returns edge populations matching source and target population
// names. An empty name matches any population.
func (n *Network) FindEdges(source, target string) []sonata.EdgePopulation {
	var out []sonata.EdgePopulation
	for _, ep := range n.edgePops {
		if source != "" && ep.SourcePopulation() != source {
			continue
		}
		if target != "" && ep.TargetPopulation() != target {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// NodeHandles resolves simulated node ids of a population to engine handles.
func (n *Network) NodeHandles(population string, nodeIDs []int64) ([]engine.Handle, error) {
	return n.pool.Resolve(population, nodeIDs)
}

// Pool returns the identity pool of simulated nodes.
func (n *Network) Pool() *identity.Pool { return n.pool }

// VirtualPool returns the identity pool of spike generators.
func (n *Network) VirtualPool() *identity.Pool { return n.virtualPool }

// WeightFunctions returns the weight function registry.
func (n *Network) WeightFunctions() *weights.Registry { return n.weights }

// ParamsCache returns the dynamics parameter cache.
func (n *Network) ParamsCache() *params.Cache { return n.params }

// Dialect returns the engine dialect in use.
func (n *Network) Dialect() engine.Dialect { return n.dialect }

// Summary counts what has been instantiated so far.
type Summary struct {
	Populations  int `json:"populations"`
	Nodes        int `json:"nodes"`
	VirtualNodes int `json:"virtual_nodes"`
}

// Summary returns instantiation counts across both pools.
func (n *Network) Summary() Summary {
	s := Summary{Populations: len(n.nodePops)}
	for _, pop := range n.pool.Populations() {
		s.Nodes += n.pool.Len(pop)
	}
	for _, pop := range n.virtualPool.Populations() {
		s.VirtualNodes += n.virtualPool.Len(pop)
	}
	return s
}
