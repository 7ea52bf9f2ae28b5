package sonata

import (
	"fmt"
	"os"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/weights"
	"gopkg.in/yaml.v3"
)

// Description is a loaded network: node populations and edge populations in file order.
type Description struct {
	Nodes []*Population
	Edges []*Projection
}

type descriptionDoc struct {
	Nodes []populationDoc `yaml:"nodes"`
	Edges []projectionDoc `yaml:"edges"`
}

type populationDoc struct {
	Name    string     `yaml:"name"`
	Batches []batchDoc `yaml:"batches"`
}

type batchDoc struct {
	NodeIDs        []int64 `yaml:"node_ids"`
	ModelType      string  `yaml:"model_type"`
	ModelTemplate  string  `yaml:"model_template"`
	DynamicsParams any     `yaml:"dynamics_params"`
}

type projectionDoc struct {
	Name    string     `yaml:"name"`
	Source  string     `yaml:"source"`
	Target  string     `yaml:"target"`
	Virtual bool       `yaml:"virtual"`
	Groups  []groupDoc `yaml:"groups"`
}

type groupDoc struct {
	SourceNodeIDs  []int64        `yaml:"source_node_ids"`
	TargetNodeIDs  []int64        `yaml:"target_node_ids"`
	WeightFunction string         `yaml:"weight_function"`
	Params         map[string]any `yaml:"params"`
}

// LoadFile reads a YAML network description. See Load.
func LoadFile(path string, registry *weights.Registry) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network description: %w", err)
	}
	desc, err := Load(data, registry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

// Load parses a YAML network description.
//
// Edge groups naming a weight_function, or carrying syn_weight without an
// explicit weight, get their weight computed through registry; syn_weight and
// nsyns are then removed from the bundle handed to the engine. An edge
// population is virtual when flagged or when its source population is
// virtual-only.
func Load(data []byte, registry *weights.Registry) (*Description, error) {
	var doc descriptionDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing network description: %w", err)
	}

	desc := &Description{}
	byName := make(map[string]*Population, len(doc.Nodes))
	for _, pd := range doc.Nodes {
		if pd.Name == "" {
			return nil, fmt.Errorf("node population name is required")
		}
		if _, dup := byName[pd.Name]; dup {
			return nil, fmt.Errorf("duplicate node population %q", pd.Name)
		}
		batches := make([]*Batch, 0, len(pd.Batches))
		for i, bd := range pd.Batches {
			if bd.ModelType == "" {
				return nil, fmt.Errorf("population %q batch %d: model_type is required", pd.Name, i)
			}
			if bd.ModelType != constants.VirtualModelType && bd.ModelTemplate == "" {
				return nil, fmt.Errorf("population %q batch %d: model_template is required", pd.Name, i)
			}
			batches = append(batches, &Batch{
				IDs:      bd.NodeIDs,
				Type:     bd.ModelType,
				Template: bd.ModelTemplate,
				Dynamics: bd.DynamicsParams,
			})
		}
		pop := NewPopulation(pd.Name, batches...)
		byName[pd.Name] = pop
		desc.Nodes = append(desc.Nodes, pop)
	}

	for _, ed := range doc.Edges {
		src, ok := byName[ed.Source]
		if !ok {
			return nil, fmt.Errorf("edge population %q: unknown source population %q", ed.Name, ed.Source)
		}
		if _, ok := byName[ed.Target]; !ok {
			return nil, fmt.Errorf("edge population %q: unknown target population %q", ed.Name, ed.Target)
		}

		groups := make([]*Connections, 0, len(ed.Groups))
		for i, gd := range ed.Groups {
			if len(gd.SourceNodeIDs) != len(gd.TargetNodeIDs) {
				return nil, fmt.Errorf("edge population %q group %d: %d source ids but %d target ids",
					ed.Name, i, len(gd.SourceNodeIDs), len(gd.TargetNodeIDs))
			}
			bundle, err := edgeParams(gd, registry)
			if err != nil {
				return nil, fmt.Errorf("edge population %q group %d: %w", ed.Name, i, err)
			}
			groups = append(groups, &Connections{
				Sources: gd.SourceNodeIDs,
				Targets: gd.TargetNodeIDs,
				Bundle:  bundle,
			})
		}

		virtual := ed.Virtual || src.Classification() == Virtual
		desc.Edges = append(desc.Edges, NewProjection(ed.Name, ed.Source, ed.Target, virtual, groups...))
	}

	return desc, nil
}

func edgeParams(gd groupDoc, registry *weights.Registry) (engine.Status, error) {
	bundle := engine.Status(gd.Params).Clone()

	name := gd.WeightFunction
	if name == "" {
		_, hasWeight := bundle[constants.WeightKey]
		_, hasSynWeight := bundle[constants.SynWeightKey]
		if hasWeight || !hasSynWeight {
			return bundle, nil
		}
		name = constants.DefaultWeightFunction
	}
	if registry == nil {
		return nil, fmt.Errorf("weight function %q requested but no registry available", name)
	}

	fn, err := registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	bundle[constants.WeightKey] = fn(bundle)
	delete(bundle, constants.SynWeightKey)
	delete(bundle, constants.NSynsKey)
	return bundle, nil
}
