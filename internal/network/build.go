package network

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/logging"
	"github.com/clinssen/bmtk/internal/sonata"
	"github.com/clinssen/bmtk/internal/spikes"
)

// ErrInvalidSpikeTime marks a spike train holding a time at or before the simulation start.
var ErrInvalidSpikeTime = errors.New("spike train contains negative/zero time")

// BuildNodes creates an identity pool entry for every node population and
// instantiates its simulated nodes. Virtual nodes are left to AddSpikeTrains.
func (n *Network) BuildNodes(ctx context.Context) error {
	for _, pop := range n.nodePops {
		name := pop.Name()
		if err := n.pool.Create(name); err != nil {
			return fmt.Errorf("build nodes: %w", err)
		}

		switch pop.Classification() {
		case sonata.Internal:
			for _, b := range pop.Batches() {
				if err := n.buildBatch(ctx, name, b); err != nil {
					return err
				}
			}
		case sonata.Mixed:
			for _, b := range pop.Batches() {
				if sonata.IsVirtual(b) {
					continue
				}
				if err := n.buildBatch(ctx, name, b); err != nil {
					return err
				}
			}
		}

		n.logger.Debug("built node population",
			"population", name,
			"classification", pop.Classification().String(),
			"nodes", n.pool.Len(name))
	}
	return nil
}

func (n *Network) buildBatch(ctx context.Context, population string, b sonata.NodeBatch) error {
	ids := b.NodeIDs()
	if len(ids) == 0 {
		return nil
	}

	dyn, err := n.params.Get(b)
	if err != nil {
		n.logger.Error("failed to load dynamics params", "population", population, "file", b.ParamsFile(), "error", err)
		return fmt.Errorf("population %q: %w", population, err)
	}

	model := sonata.ModelName(b.ModelTemplate())
	handles, err := n.engine.Create(ctx, model, len(ids), engine.Status(dyn))
	if err != nil {
		n.logger.Error(err.Error(), "population", population, "model", model)
		return fmt.Errorf("population %q: create %s: %w", population, model, err)
	}
	if err := n.pool.AddMapping(population, ids, handles); err != nil {
		return fmt.Errorf("population %q: %w", population, err)
	}
	return nil
}

// BuildRecurrentEdges connects every edge population whose sources are
// simulated nodes. Both ends resolve through the real identity pool.
//
// forceResolution is accepted for compatibility with existing callers; it has
// no effect.
func (n *Network) BuildRecurrentEdges(ctx context.Context, forceResolution bool) error {
	var recurrent []sonata.EdgePopulation
	for _, ep := range n.edgePops {
		if !ep.Virtual() {
			recurrent = append(recurrent, ep)
		}
	}
	if len(recurrent) == 0 {
		n.logger.Debug("no recurrent edge populations")
		return nil
	}

	for _, ep := range recurrent {
		for _, e := range ep.Edges() {
			srcs, err := n.pool.Resolve(ep.SourcePopulation(), e.SourceNodeIDs())
			if err != nil {
				return fmt.Errorf("edge population %q: sources: %w", ep.Name(), err)
			}
			tgts, err := n.pool.Resolve(ep.TargetPopulation(), e.TargetNodeIDs())
			if err != nil {
				return fmt.Errorf("edge population %q: targets: %w", ep.Name(), err)
			}
			if err := n.connect(ctx, "recurrent", ep, e, srcs, tgts); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddSpikeTrains instantiates one spike generator per virtual node of each
// population in nodeSet, schedules its spikes from trains and connects the
// population's virtual edge populations. Populations built by an earlier call
// are skipped, so overlapping node sets are safe. A nil generatorParams means
// {"precise_times": true}; the dialect adapts it to the engine version.
func (n *Network) AddSpikeTrains(ctx context.Context, trains spikes.Source, nodeSet sonata.NodeSet, generatorParams engine.Status) error {
	if generatorParams == nil {
		generatorParams = engine.Status{constants.PreciseTimesKey: true}
	}
	sgParams := n.dialect.GeneratorParams(generatorParams)

	wanted := make(map[string]struct{})
	for _, name := range nodeSet.PopulationNames() {
		wanted[name] = struct{}{}
	}

	var built []sonata.NodePopulation
	for _, pop := range n.nodePops {
		name := pop.Name()
		if _, ok := wanted[name]; !ok {
			continue
		}
		if _, done := n.virtualBuilt[name]; done {
			continue
		}

		class := pop.Classification()
		if class == sonata.Internal {
			n.logger.Warn("population has no virtual nodes, ignoring spike input", "population", name)
			continue
		}

		if !n.virtualPool.Has(name) {
			if err := n.virtualPool.Create(name); err != nil {
				return fmt.Errorf("spike input: %w", err)
			}
		}
		for _, b := range pop.Batches() {
			if class == sonata.Mixed && !sonata.IsVirtual(b) {
				continue
			}
			if err := n.buildGenerators(ctx, name, b, sgParams, trains); err != nil {
				return err
			}
		}

		n.virtualBuilt[name] = struct{}{}
		built = append(built, pop)
		n.logger.Debug("built spike generators", "population", name, "generators", n.virtualPool.Len(name))
	}

	for _, pop := range built {
		for _, ep := range n.FindEdges(pop.Name(), "") {
			if !ep.Virtual() {
				continue
			}
			for _, e := range ep.Edges() {
				tgts, err := n.pool.Resolve(ep.TargetPopulation(), e.TargetNodeIDs())
				if err != nil {
					return fmt.Errorf("edge population %q: targets: %w", ep.Name(), err)
				}
				srcs, err := n.virtualPool.Resolve(ep.SourcePopulation(), e.SourceNodeIDs())
				if err != nil {
					return fmt.Errorf("edge population %q: sources: %w", ep.Name(), err)
				}
				if err := n.connect(ctx, "virtual", ep, e, srcs, tgts); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (n *Network) buildGenerators(ctx context.Context, population string, b sonata.NodeBatch, sgParams engine.Status, trains spikes.Source) error {
	ids := b.NodeIDs()
	if len(ids) == 0 {
		return nil
	}

	handles, err := n.engine.Create(ctx, constants.SpikeGeneratorModel, len(ids), sgParams)
	if err != nil {
		n.logger.Error(err.Error(), "population", population, "model", constants.SpikeGeneratorModel)
		return fmt.Errorf("population %q: create %s: %w", population, constants.SpikeGeneratorModel, err)
	}
	if err := n.virtualPool.AddMapping(population, ids, handles); err != nil {
		return fmt.Errorf("population %q: %w", population, err)
	}

	for i, id := range ids {
		if err := n.setSpikes(ctx, population, id, handles[i], trains); err != nil {
			return err
		}
	}
	return nil
}

// setSpikes schedules a node's spike train on its generator. An absent or
// empty train leaves the generator silent.
func (n *Network) setSpikes(ctx context.Context, population string, nodeID int64, h engine.Handle, trains spikes.Source) error {
	times := trains.Times(population, nodeID)
	if len(times) == 0 {
		return nil
	}

	for _, t := range times {
		if !(t > 0) {
			n.logger.Error(fmt.Sprintf("spike train %v contains negative/zero time, unable to run virtual node", times),
				"population", population, "node_id", nodeID)
			return fmt.Errorf("%w: population %q node %d: %v", ErrInvalidSpikeTime, population, nodeID, times)
		}
	}

	sorted := slices.Clone(times)
	slices.Sort(sorted)
	if err := n.dialect.SetSpikeTimes(ctx, n.engine, h, sorted); err != nil {
		return fmt.Errorf("population %q node %d: set spike times: %w", population, nodeID, err)
	}

	n.logger.Log(ctx, logging.LevelTrace, "scheduled spikes", "population", population, "node_id", nodeID, "spikes", len(sorted))
	n.trace.Event("spikes", map[string]any{
		"population": population,
		"node_id":    nodeID,
		"handle":     int64(h),
		"spikes":     len(sorted),
	})
	return nil
}

func (n *Network) connect(ctx context.Context, phase string, ep sonata.EdgePopulation, e sonata.Edge, srcs, tgts []engine.Handle) error {
	syn := e.Params()
	BroadcastWeight(syn, len(srcs))

	if err := n.gateway.Connect(ctx, srcs, tgts, engine.OneToOne(), syn); err != nil {
		return fmt.Errorf("edge population %q: %w", ep.Name(), err)
	}

	n.trace.Event("connect", map[string]any{
		"phase":           phase,
		"edge_population": ep.Name(),
		"source":          ep.SourcePopulation(),
		"target":          ep.TargetPopulation(),
		"connections":     len(srcs),
	})
	return nil
}

// BroadcastWeight expands an integral scalar weight into one float64 weight
// per connection and reports whether it did. Float scalars and weights that
// are already arrays are left alone.
//
// Only integral scalars trigger the expansion. A float scalar weight is passed
// to the engine as is, which applies it to every connection anyway.
func BroadcastWeight(syn engine.Status, connections int) bool {
	var w float64
	switch v := syn[constants.WeightKey].(type) {
	case int:
		w = float64(v)
	case int32:
		w = float64(v)
	case int64:
		w = float64(v)
	default:
		return false
	}

	ws := make([]float64, connections)
	for i := range ws {
		ws[i] = w
	}
	syn[constants.WeightKey] = ws
	return true
}
