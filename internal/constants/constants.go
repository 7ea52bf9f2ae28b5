// Package constants provides named constants shared across the pointnet packages.
// Names that the engine or the network description format fix are kept here so
// the builder, the adaptor and the engine agree on them.
package constants

// Model names
const (
	// VirtualModelType is the model_type of nodes that stand for external spike input.
	VirtualModelType = "virtual"

	// SpikeGeneratorModel is the engine model instantiated for each virtual node.
	SpikeGeneratorModel = "spike_generator"
)

// Connection and parameter keys
const (
	// OneToOneRule pairs the i-th source with the i-th target.
	OneToOneRule = "one_to_one"

	// WeightKey is the synaptic weight entry of an edge parameter bundle.
	WeightKey = "weight"

	// DelayKey is the synaptic delay entry of an edge parameter bundle.
	DelayKey = "delay"

	// SpikeTimesKey is the spike generator status entry holding the schedule.
	SpikeTimesKey = "spike_times"

	// PreciseTimesKey is the spike generator parameter enabling off-grid spike times.
	// Engines of major version 3 and later no longer accept it.
	PreciseTimesKey = "precise_times"

	// ResolutionKey is the kernel status entry holding the simulation step.
	ResolutionKey = "resolution"

	// VersionKey is the kernel status entry holding the engine version string.
	VersionKey = "version"
)

// Weight functions
const (
	// DefaultWeightFunction is the registry name of the default weight function.
	DefaultWeightFunction = "default_weight_fnc"

	// SynWeightKey and NSynsKey feed the default weight function.
	SynWeightKey = "syn_weight"
	NSynsKey     = "nsyns"
)

// Components
const (
	// ModelsDirComponent names the directory holding dynamics parameter files.
	ModelsDirComponent = "models_dir"
)

// Diagnostics
const (
	// Unavailable replaces a value that could not be read while building a diagnostic.
	Unavailable = "unavailable"
)

// Defaults
const (
	// DefaultResolution is the simulation step in ms used when none is configured.
	DefaultResolution = 0.1

	// DefaultEngineVersion is the engine version assumed when none is configured.
	DefaultEngineVersion = "3.0"
)
