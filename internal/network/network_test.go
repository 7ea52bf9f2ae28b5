package network

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/identity"
	"github.com/clinssen/bmtk/internal/logging"
	"github.com/clinssen/bmtk/internal/params"
	"github.com/clinssen/bmtk/internal/sonata"
	"github.com/clinssen/bmtk/internal/spikes"
)

type modelsDir string

func (d modelsDir) Component(string) (string, error) { return string(d), nil }

// trainMap is a spikes.Source keyed by population then node id.
type trainMap map[string]map[int64][]float64

func (m trainMap) Times(population string, nodeID int64) []float64 {
	return m[population][nodeID]
}

func newTestNetwork(t *testing.T, rec *engine.Recorder, opts ...Option) (*Network, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(rec, append([]Option{WithLogger(logger)}, opts...)...), &buf
}

func internalBatch(ids ...int64) *sonata.Batch {
	return &sonata.Batch{IDs: ids, Type: "point_neuron", Template: "nest:iaf_psc_alpha", Dynamics: map[string]any{"C_m": 250.0}}
}

func virtualBatch(ids ...int64) *sonata.Batch {
	return &sonata.Batch{IDs: ids, Type: "virtual"}
}

func TestBuildNodes_InternalPopulation(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	if err := net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(10, 11, 12))); err != nil {
		t.Fatal(err)
	}

	if err := net.BuildNodes(context.Background()); err != nil {
		t.Fatalf("BuildNodes() error = %v", err)
	}

	got, err := net.NodeHandles("v1", []int64{12, 10, 11})
	if err != nil {
		t.Fatalf("NodeHandles() error = %v", err)
	}
	want := []engine.Handle{3, 1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NodeHandles() = %v, want %v", got, want)
	}

	obj, _ := rec.Object(1)
	if obj.Model != "iaf_psc_alpha" {
		t.Errorf("model = %q, want iaf_psc_alpha", obj.Model)
	}
	if obj.Params["C_m"] != 250.0 {
		t.Errorf("params = %v, want C_m 250", obj.Params)
	}
}

func TestBuildNodes_UnknownNode(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0, 1)))
	if err := net.BuildNodes(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := net.NodeHandles("v1", []int64{7}); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("NodeHandles(unknown id) error = %v, want ErrNotFound", err)
	}
	if _, err := net.NodeHandles("nope", []int64{0}); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("NodeHandles(unknown population) error = %v, want ErrNotFound", err)
	}
}

func TestBuildNodes_VirtualPopulationGetsEmptyEntry(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("lgn", virtualBatch(0, 1)))

	if err := net.BuildNodes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !net.Pool().Has("lgn") {
		t.Error("real pool should have an entry for a virtual population")
	}
	if net.Pool().Len("lgn") != 0 {
		t.Errorf("real pool Len(lgn) = %d, want 0", net.Pool().Len("lgn"))
	}
	if len(rec.Objects()) != 0 {
		t.Errorf("created %d objects, want 0", len(rec.Objects()))
	}
}

func TestBuildNodes_Twice(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0)))
	if err := net.BuildNodes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := net.BuildNodes(context.Background()); !errors.Is(err, identity.ErrPoolExists) {
		t.Errorf("second BuildNodes() error = %v, want ErrPoolExists", err)
	}
}

func TestAddNodePopulation_Duplicate(t *testing.T) {
	net, _ := newTestNetwork(t, engine.NewRecorder(0.1, "3.0"))
	_ = net.AddNodePopulation(sonata.NewPopulation("v1"))
	if err := net.AddNodePopulation(sonata.NewPopulation("v1")); err == nil {
		t.Error("duplicate population should be rejected")
	}
}

func TestBuildNodes_ParamsFileLoadedOnce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "exc.json"), []byte(`{"V_th": -50.0}`), 0644); err != nil {
		t.Fatal(err)
	}

	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec, WithComponents(modelsDir(dir)))
	b1 := &sonata.Batch{IDs: []int64{0, 1}, Type: "point_neuron", Template: "iaf_psc_alpha", Dynamics: "exc.json"}
	b2 := &sonata.Batch{IDs: []int64{2}, Type: "point_neuron", Template: "iaf_psc_delta", Dynamics: "exc.json"}
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", b1, b2))

	if err := net.BuildNodes(context.Background()); err != nil {
		t.Fatalf("BuildNodes() error = %v", err)
	}
	if net.ParamsCache().Len() != 1 {
		t.Errorf("cached files = %d, want 1", net.ParamsCache().Len())
	}
	for _, obj := range rec.Objects() {
		if obj.Params["V_th"] != -50.0 {
			t.Errorf("object %d params = %v, want V_th -50", obj.Handle, obj.Params)
		}
	}
}

func TestBuildNodes_MissingParamsFile(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, buf := newTestNetwork(t, rec, WithComponents(modelsDir(t.TempDir())))
	b := &sonata.Batch{IDs: []int64{0}, Type: "point_neuron", Template: "iaf_psc_alpha", Dynamics: "missing.json"}
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", b))

	if err := net.BuildNodes(context.Background()); err == nil {
		t.Fatal("BuildNodes() with missing params file should fail")
	}
	if !strings.Contains(buf.String(), "missing.json") {
		t.Errorf("log should name the missing file, got:\n%s", buf.String())
	}
}

func TestBuildNodes_NoParamsSource(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	b := &sonata.Batch{IDs: []int64{0}, Type: "point_neuron", Template: "iaf_psc_alpha"}
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", b))

	err := net.BuildNodes(context.Background())
	if !errors.Is(err, params.ErrParams) {
		t.Fatalf("BuildNodes() error = %v, want ErrParams", err)
	}
	if len(rec.Objects()) != 0 {
		t.Errorf("created %d objects without parameters", len(rec.Objects()))
	}
}

func TestNew_DefaultDialect(t *testing.T) {
	net, _ := newTestNetwork(t, engine.NewRecorder(0.1, "3.0"))
	want, err := engine.DialectFor(constants.DefaultEngineVersion)
	if err != nil {
		t.Fatal(err)
	}
	if net.Dialect().Major() != want.Major() {
		t.Errorf("default dialect major = %d, want %d", net.Dialect().Major(), want.Major())
	}
}

func TestMixedPopulation(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("tw", virtualBatch(0, 2), internalBatch(1)))
	ctx := context.Background()

	if err := net.BuildNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if ids, _ := net.Pool().Entries("tw"); !reflect.DeepEqual(ids, []int64{1}) {
		t.Errorf("real pool ids = %v, want [1]", ids)
	}

	trains := trainMap{"tw": {0: {2.0}, 2: {4.0}}}
	if err := net.AddSpikeTrains(ctx, trains, sonata.PopulationNames{"tw"}, nil); err != nil {
		t.Fatalf("AddSpikeTrains() error = %v", err)
	}
	ids, handles := net.VirtualPool().Entries("tw")
	if !reflect.DeepEqual(ids, []int64{0, 2}) {
		t.Errorf("virtual pool ids = %v, want [0 2]", ids)
	}
	for _, h := range handles {
		obj, _ := rec.Object(h)
		if obj.Model != "spike_generator" {
			t.Errorf("handle %d model = %q, want spike_generator", h, obj.Model)
		}
	}
	if _, err := net.VirtualPool().Resolve("tw", []int64{1}); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("virtual pool should not hold the simulated node, error = %v", err)
	}
}

func TestBuildRecurrentEdges(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0, 1, 2)))
	net.AddEdgePopulation(sonata.NewProjection("v1_v1", "v1", "v1", false,
		&sonata.Connections{Sources: []int64{0, 1}, Targets: []int64{1, 2}, Bundle: engine.Status{"weight": 2, "delay": 1.5}},
		&sonata.Connections{Sources: []int64{2}, Targets: []int64{0}, Bundle: engine.Status{"weight": 0.5, "delay": 1.0}},
	))
	ctx := context.Background()

	if err := net.BuildNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if err := net.BuildRecurrentEdges(ctx, false); err != nil {
		t.Fatalf("BuildRecurrentEdges() error = %v", err)
	}

	conns := rec.Connections()
	if len(conns) != 2 {
		t.Fatalf("connect calls = %d, want 2", len(conns))
	}
	if !reflect.DeepEqual(conns[0].Sources, []engine.Handle{1, 2}) || !reflect.DeepEqual(conns[0].Targets, []engine.Handle{2, 3}) {
		t.Errorf("first connect = %v -> %v", conns[0].Sources, conns[0].Targets)
	}
	if conns[0].Conn["rule"] != "one_to_one" {
		t.Errorf("rule = %v, want one_to_one", conns[0].Conn["rule"])
	}
	if !reflect.DeepEqual(conns[0].Syn["weight"], []float64{2, 2}) {
		t.Errorf("integer weight = %#v, want broadcast [2 2]", conns[0].Syn["weight"])
	}
	if conns[1].Syn["weight"] != 0.5 {
		t.Errorf("float weight = %#v, want 0.5 unchanged", conns[1].Syn["weight"])
	}
}

func TestBuildRecurrentEdges_NoneIsNoop(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0)))
	_ = net.AddNodePopulation(sonata.NewPopulation("lgn", virtualBatch(0)))
	net.AddEdgePopulation(sonata.NewProjection("lgn_v1", "lgn", "v1", true,
		&sonata.Connections{Sources: []int64{0}, Targets: []int64{0}, Bundle: engine.Status{"delay": 1.0}}))
	ctx := context.Background()

	if err := net.BuildNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if err := net.BuildRecurrentEdges(ctx, true); err != nil {
		t.Fatalf("BuildRecurrentEdges() error = %v", err)
	}
	if len(rec.Connections()) != 0 {
		t.Errorf("connect calls = %d, want 0", len(rec.Connections()))
	}
}

func TestBuildRecurrentEdges_BadDelay(t *testing.T) {
	rec := engine.NewRecorder(0.5, "3.0")
	net, buf := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0, 1)))
	net.AddEdgePopulation(sonata.NewProjection("v1_v1", "v1", "v1", false,
		&sonata.Connections{Sources: []int64{0}, Targets: []int64{1}, Bundle: engine.Status{"delay": 0.1}}))
	ctx := context.Background()

	if err := net.BuildNodes(ctx); err != nil {
		t.Fatal(err)
	}
	err := net.BuildRecurrentEdges(ctx, false)
	var bad *engine.BadDelayError
	if !errors.As(err, &bad) {
		t.Fatalf("BuildRecurrentEdges() error = %v, want BadDelayError", err)
	}
	if !strings.Contains(err.Error(), "v1_v1") {
		t.Errorf("error should name the edge population: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"BadDelay", "not compatible with simulator resolution", "delay=0.1", "resolution=0.5"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestBuildRecurrentEdges_UnknownNode(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := newTestNetwork(t, rec)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0)))
	net.AddEdgePopulation(sonata.NewProjection("v1_v1", "v1", "v1", false,
		&sonata.Connections{Sources: []int64{0}, Targets: []int64{9}}))
	ctx := context.Background()

	if err := net.BuildNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if err := net.BuildRecurrentEdges(ctx, false); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("BuildRecurrentEdges() error = %v, want ErrNotFound", err)
	}
}

func lgnNetwork(t *testing.T, rec *engine.Recorder, opts ...Option) (*Network, *bytes.Buffer) {
	t.Helper()
	net, buf := newTestNetwork(t, rec, opts...)
	_ = net.AddNodePopulation(sonata.NewPopulation("v1", internalBatch(0, 1)))
	_ = net.AddNodePopulation(sonata.NewPopulation("lgn", virtualBatch(0, 1, 2)))
	net.AddEdgePopulation(sonata.NewProjection("lgn_v1", "lgn", "v1", true,
		&sonata.Connections{Sources: []int64{0, 1, 2}, Targets: []int64{0, 0, 1}, Bundle: engine.Status{"weight": 3, "delay": 1.0}}))
	if err := net.BuildNodes(context.Background()); err != nil {
		t.Fatal(err)
	}
	return net, buf
}

func TestAddSpikeTrains(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := lgnNetwork(t, rec)
	trains := trainMap{"lgn": {0: {5, 1, 3}, 1: {2.5}}}

	if err := net.AddSpikeTrains(context.Background(), trains, sonata.PopulationNames{"lgn"}, nil); err != nil {
		t.Fatalf("AddSpikeTrains() error = %v", err)
	}

	handles, err := net.VirtualPool().Resolve("lgn", []int64{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	first, _ := rec.Object(handles[0])
	if !reflect.DeepEqual(first.Status["spike_times"], []float64{1, 3, 5}) {
		t.Errorf("spike_times = %v, want sorted [1 3 5]", first.Status["spike_times"])
	}
	if _, ok := first.Params["precise_times"]; ok {
		t.Error("current engine versions should not receive precise_times")
	}
	silent, _ := rec.Object(handles[2])
	if _, ok := silent.Status["spike_times"]; ok {
		t.Error("node without spikes should have no spike_times")
	}

	conns := rec.Connections()
	if len(conns) != 1 {
		t.Fatalf("connect calls = %d, want 1", len(conns))
	}
	if !reflect.DeepEqual(conns[0].Sources, handles) {
		t.Errorf("sources = %v, want generators %v", conns[0].Sources, handles)
	}
	targets, _ := net.NodeHandles("v1", []int64{0, 0, 1})
	if !reflect.DeepEqual(conns[0].Targets, targets) {
		t.Errorf("targets = %v, want %v", conns[0].Targets, targets)
	}
	if !reflect.DeepEqual(conns[0].Syn["weight"], []float64{3, 3, 3}) {
		t.Errorf("weight = %#v, want [3 3 3]", conns[0].Syn["weight"])
	}
}

func TestAddSpikeTrains_Idempotent(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := lgnNetwork(t, rec)
	trains := trainMap{}
	ctx := context.Background()

	if err := net.AddSpikeTrains(ctx, trains, sonata.PopulationNames{"lgn"}, nil); err != nil {
		t.Fatal(err)
	}
	objects, conns := len(rec.Objects()), len(rec.Connections())
	if err := net.AddSpikeTrains(ctx, trains, sonata.PopulationNames{"lgn", "v1"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.Objects()) != objects || len(rec.Connections()) != conns {
		t.Errorf("second call created %d objects and %d connects, want none",
			len(rec.Objects())-objects, len(rec.Connections())-conns)
	}
	if net.Summary().VirtualNodes != 3 {
		t.Errorf("Summary().VirtualNodes = %d, want 3", net.Summary().VirtualNodes)
	}
}

func TestAddSpikeTrains_InvalidTime(t *testing.T) {
	tests := []struct {
		name  string
		times []float64
	}{
		{"negative", []float64{-1, 2}},
		{"zero", []float64{0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := engine.NewRecorder(0.1, "3.0")
			net, buf := lgnNetwork(t, rec)
			trains := trainMap{"lgn": {0: tt.times}}

			err := net.AddSpikeTrains(context.Background(), trains, sonata.PopulationNames{"lgn"}, nil)
			if !errors.Is(err, ErrInvalidSpikeTime) {
				t.Fatalf("AddSpikeTrains() error = %v, want ErrInvalidSpikeTime", err)
			}
			if !strings.Contains(buf.String(), "negative/zero time") {
				t.Errorf("log should report the invalid train:\n%s", buf.String())
			}
			for _, obj := range rec.Objects() {
				if _, ok := obj.Status["spike_times"]; ok {
					t.Errorf("object %d should not have spike_times", obj.Handle)
				}
			}
			if len(rec.Connections()) != 0 {
				t.Error("no edges should be connected after a failed spike train")
			}
		})
	}
}

func TestAddSpikeTrains_LegacyDialect(t *testing.T) {
	rec := engine.NewRecorder(0.1, "2.20.1")
	d, err := engine.DialectFor("2.20.1")
	if err != nil {
		t.Fatal(err)
	}
	net, _ := lgnNetwork(t, rec, WithDialect(d))
	trains := trainMap{"lgn": {1: {4, 2}}}

	if err := net.AddSpikeTrains(context.Background(), trains, sonata.PopulationNames{"lgn"}, nil); err != nil {
		t.Fatal(err)
	}
	handles, _ := net.VirtualPool().Resolve("lgn", []int64{1})
	obj, _ := rec.Object(handles[0])
	if obj.Params["precise_times"] != true {
		t.Errorf("generator params = %v, want precise_times true", obj.Params)
	}
	if !reflect.DeepEqual(obj.Status["spike_times"], []float64{2, 4}) {
		t.Errorf("spike_times = %v, want [2 4]", obj.Status["spike_times"])
	}
}

func TestAddSpikeTrains_InternalPopulationIgnored(t *testing.T) {
	rec := engine.NewRecorder(0.1, "3.0")
	net, buf := lgnNetwork(t, rec)
	before := len(rec.Objects())

	if err := net.AddSpikeTrains(context.Background(), trainMap{}, sonata.PopulationNames{"v1"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.Objects()) != before {
		t.Error("internal population should not get spike generators")
	}
	if !strings.Contains(buf.String(), "no virtual nodes") {
		t.Errorf("expected warning, got:\n%s", buf.String())
	}
}

func TestAddSpikeTrains_Trace(t *testing.T) {
	dir := t.TempDir()
	trace := logging.NewTraceLogger(dir, "debug")
	t.Cleanup(func() { trace.Close() })

	rec := engine.NewRecorder(0.1, "3.0")
	net, _ := lgnNetwork(t, rec, WithTrace(trace))
	tbl := spikes.NewTable([]spikes.Spike{{Population: "lgn", NodeID: 0, Time: 1}})
	defer tbl.Release()

	if err := net.AddSpikeTrains(context.Background(), tbl, sonata.PopulationNames{"lgn"}, nil); err != nil {
		t.Fatal(err)
	}
	// one spikes event and one connect event
	if trace.Events() != 2 {
		t.Errorf("trace events = %d, want 2", trace.Events())
	}
}

func TestBroadcastWeight(t *testing.T) {
	tests := []struct {
		name    string
		weight  any
		changed bool
		want    any
	}{
		{"int", 2, true, []float64{2, 2, 2}},
		{"int64", int64(-1), true, []float64{-1, -1, -1}},
		{"float", 1.5, false, 1.5},
		{"slice", []float64{1, 2, 3}, false, []float64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syn := engine.Status{"weight": tt.weight}
			if got := BroadcastWeight(syn, 3); got != tt.changed {
				t.Errorf("BroadcastWeight() = %v, want %v", got, tt.changed)
			}
			if !reflect.DeepEqual(syn["weight"], tt.want) {
				t.Errorf("weight = %#v, want %#v", syn["weight"], tt.want)
			}
			// array weights are left alone on every call
			BroadcastWeight(syn, 3)
			if !reflect.DeepEqual(syn["weight"], tt.want) {
				t.Errorf("second call weight = %#v, want %#v", syn["weight"], tt.want)
			}
		})
	}

	if BroadcastWeight(engine.Status{}, 3) {
		t.Error("missing weight should not be broadcast")
	}
}

func TestFindEdges(t *testing.T) {
	net, _ := newTestNetwork(t, engine.NewRecorder(0.1, "3.0"))
	net.AddEdgePopulation(sonata.NewProjection("a", "lgn", "v1", true))
	net.AddEdgePopulation(sonata.NewProjection("b", "v1", "v1", false))
	net.AddEdgePopulation(sonata.NewProjection("c", "lgn", "lm", true))

	names := func(eps []sonata.EdgePopulation) []string {
		var out []string
		for _, ep := range eps {
			out = append(out, ep.Name())
		}
		return out
	}
	if got := names(net.FindEdges("lgn", "")); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("FindEdges(lgn, any) = %v", got)
	}
	if got := names(net.FindEdges("", "v1")); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("FindEdges(any, v1) = %v", got)
	}
	if got := names(net.FindEdges("x", "")); got != nil {
		t.Errorf("FindEdges(x, any) = %v, want none", got)
	}
}
