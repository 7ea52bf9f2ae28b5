package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/utils"
)

// Object is an engine object created through Recorder.
type Object struct {
	Handle Handle
	Model  string
	Params Status
	Status Status
}

// Connection is one bulk connect call seen by Recorder.
type Connection struct {
	Sources []Handle
	Targets []Handle
	Conn    Status
	Syn     Status
}

// Recorder is an in-process Engine. It hands out sequential handles starting
// at 1, keeps every object's status and records every connect call. Connect
// enforces the one_to_one length contract and rejects delays shorter than the
// kernel resolution the way a real engine does.
type Recorder struct {
	resolution float64
	version    string
	objects    []Object
	conns      []Connection
}

// NewRecorder returns a Recorder with the given resolution (ms) and version.
func NewRecorder(resolution float64, version string) *Recorder {
	return &Recorder{resolution: resolution, version: version}
}

// Create implements Engine.
func (r *Recorder) Create(ctx context.Context, model string, n int, params Status) ([]Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		return nil, fmt.Errorf("create: model name is required")
	}
	if n < 0 {
		return nil, fmt.Errorf("create %s: negative count %d", model, n)
	}

	handles := make([]Handle, n)
	for i := range handles {
		h := Handle(len(r.objects) + 1)
		r.objects = append(r.objects, Object{
			Handle: h,
			Model:  model,
			Params: params.Clone(),
			Status: Status{},
		})
		handles[i] = h
	}
	return handles, nil
}

// Connect implements Engine.
func (r *Recorder) Connect(ctx context.Context, sources, targets []Handle, conn, syn Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rule := utils.GetString(conn, "rule", constants.OneToOneRule); rule == constants.OneToOneRule && len(sources) != len(targets) {
		return fmt.Errorf("one_to_one connect: %d sources but %d targets", len(sources), len(targets))
	}
	for _, h := range append(append([]Handle{}, sources...), targets...) {
		if _, err := r.object(h); err != nil {
			return err
		}
	}

	if delay, ok := utils.GetNumber(syn, constants.DelayKey); ok && delay < r.resolution-1e-12 {
		return &BadDelayError{
			Name:    "BadDelay",
			Message: fmt.Sprintf(" in Connect_: Delay must be greater than or equal to resolution (%g ms).", r.resolution),
		}
	}

	r.conns = append(r.conns, Connection{
		Sources: append([]Handle(nil), sources...),
		Targets: append([]Handle(nil), targets...),
		Conn:    conn.Clone(),
		Syn:     syn.Clone(),
	})
	return nil
}

// SetStatus implements Engine.
func (r *Recorder) SetStatus(ctx context.Context, handles []Handle, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, h := range handles {
		obj, err := r.object(h)
		if err != nil {
			return err
		}
		for k, v := range status {
			obj.Status[k] = v
		}
	}
	return nil
}

// KernelStatus implements Engine.
func (r *Recorder) KernelStatus(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := Status{constants.VersionKey: r.version}
	if !math.IsNaN(r.resolution) {
		st[constants.ResolutionKey] = r.resolution
	}
	return st, nil
}

// Objects returns the objects created so far, in creation order.
func (r *Recorder) Objects() []Object {
	return r.objects
}

// Object returns the object behind h.
func (r *Recorder) Object(h Handle) (Object, error) {
	obj, err := r.object(h)
	if err != nil {
		return Object{}, err
	}
	return *obj, nil
}

// Connections returns the connect calls seen so far.
func (r *Recorder) Connections() []Connection {
	return r.conns
}

// SynapseCount returns the number of source/target pairs connected so far.
func (r *Recorder) SynapseCount() int {
	n := 0
	for _, c := range r.conns {
		n += len(c.Sources)
	}
	return n
}

func (r *Recorder) object(h Handle) (*Object, error) {
	i := int(h) - 1
	if i < 0 || i >= len(r.objects) {
		return nil, fmt.Errorf("unknown engine handle %d", h)
	}
	return &r.objects[i], nil
}
