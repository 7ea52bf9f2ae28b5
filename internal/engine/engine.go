// Package engine defines the capability set this module needs from a
// discrete-event neural simulation engine: create objects, connect them,
// set their status and read the kernel status.
//
// The engine itself is an external collaborator. Recorder is an in-process
// implementation that allocates handles and records every call, used for
// dry runs and tests.
package engine

import (
	"context"
	"fmt"
)

// Handle is an opaque engine-native object identifier.
type Handle int64

// Status is a parameter or status dictionary passed to or read from the engine.
type Status map[string]any

// Engine is the capability set consumed by the network builder.
type Engine interface {
	// Create instantiates n objects of the given model with params applied.
	Create(ctx context.Context, model string, n int, params Status) ([]Handle, error)

	// Connect issues a bulk connection between sources and targets.
	Connect(ctx context.Context, sources, targets []Handle, conn, syn Status) error

	// SetStatus applies status to every handle.
	SetStatus(ctx context.Context, handles []Handle, status Status) error

	// KernelStatus returns the engine-wide status (resolution, version, ...).
	KernelStatus(ctx context.Context) (Status, error)
}

// BadDelayError is raised by an engine when a synaptic delay is not
// representable at the current simulation resolution.
type BadDelayError struct {
	Name    string
	Message string
}

func (e *BadDelayError) Error() string {
	return fmt.Sprintf("%s%s", e.Name, e.Message)
}

// OneToOne returns the connection spec for pairwise source/target connection.
func OneToOne() Status {
	return Status{"rule": "one_to_one"}
}

// Clone returns a shallow copy of s. A nil Status clones to an empty one.
func (s Status) Clone() Status {
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
