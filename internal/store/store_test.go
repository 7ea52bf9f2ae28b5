package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/identity"
)

func testPools(t *testing.T) (*identity.Pool, *identity.Pool) {
	t.Helper()
	realPool := identity.NewPool()
	virtualPool := identity.NewPool()
	for _, pop := range []string{"v1", "lgn"} {
		if err := realPool.Create(pop); err != nil {
			t.Fatal(err)
		}
	}
	if err := realPool.AddMapping("v1", []int64{10, 11, 12}, []engine.Handle{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := virtualPool.Create("lgn"); err != nil {
		t.Fatal(err)
	}
	if err := virtualPool.AddMapping("lgn", []int64{0, 1}, []engine.Handle{4, 5}); err != nil {
		t.Fatal(err)
	}
	return realPool, virtualPool
}

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	realPool, virtualPool := testPools(t)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := NewRun("3.0", realPool, virtualPool)
			run.ConfigPath = "/tmp/config.yaml"
			if err := s.SaveRun(ctx, run); err != nil {
				t.Fatalf("SaveRun() error = %v", err)
			}

			got, err := s.GetRun(ctx, run.ID)
			if err != nil {
				t.Fatalf("GetRun() error = %v", err)
			}
			if got.EngineVersion != "3.0" || got.ConfigPath != "/tmp/config.yaml" {
				t.Errorf("GetRun() = %+v", got)
			}
			if !got.CreatedAt.Equal(run.CreatedAt) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
			}
			if pops := got.Populations(NamespaceReal); !reflect.DeepEqual(pops, []string{"v1", "lgn"}) {
				t.Errorf("real populations = %v, want [v1 lgn]", pops)
			}
			if pops := got.Populations(NamespaceVirtual); !reflect.DeepEqual(pops, []string{"lgn"}) {
				t.Errorf("virtual populations = %v, want [lgn]", pops)
			}

			sum := got.Summary()
			if sum.Populations != 2 || sum.Nodes != 3 || sum.VirtualNodes != 2 {
				t.Errorf("Summary() = %+v", sum)
			}
		})
	}
}

func TestStore_Resolve(t *testing.T) {
	realPool, virtualPool := testPools(t)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := NewRun("3.0", realPool, virtualPool)
			if err := s.SaveRun(ctx, run); err != nil {
				t.Fatal(err)
			}

			got, err := Resolve(ctx, s, "", NamespaceReal, "v1", []int64{12, 10, 12})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got, []engine.Handle{3, 1, 3}) {
				t.Errorf("Resolve() = %v, want [3 1 3]", got)
			}

			got, err = Resolve(ctx, s, run.ID, NamespaceVirtual, "lgn", []int64{1})
			if err != nil {
				t.Fatalf("Resolve(virtual) error = %v", err)
			}
			if !reflect.DeepEqual(got, []engine.Handle{5}) {
				t.Errorf("Resolve(virtual) = %v, want [5]", got)
			}

			if _, err := Resolve(ctx, s, run.ID, NamespaceReal, "v1", []int64{99}); !errors.Is(err, identity.ErrNotFound) {
				t.Errorf("Resolve(unknown node) error = %v, want identity.ErrNotFound", err)
			}
			if _, err := Resolve(ctx, s, "missing", NamespaceReal, "v1", nil); !errors.Is(err, ErrNotFound) {
				t.Errorf("Resolve(unknown run) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_RunsNewestFirst(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.LatestRun(ctx); !errors.Is(err, ErrNotFound) {
				t.Errorf("LatestRun() on empty store error = %v, want ErrNotFound", err)
			}

			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				run := Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute), EngineVersion: "3.0"}
				if err := s.SaveRun(ctx, run); err != nil {
					t.Fatal(err)
				}
			}

			runs, err := s.Runs(ctx)
			if err != nil {
				t.Fatalf("Runs() error = %v", err)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			if !reflect.DeepEqual(ids, []string{"c", "b", "a"}) {
				t.Errorf("Runs() order = %v, want [c b a]", ids)
			}

			latest, err := s.LatestRun(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if latest.ID != "c" {
				t.Errorf("LatestRun() = %s, want c", latest.ID)
			}
		})
	}
}

func TestStore_RunsNewestFirst_SubSecond(t *testing.T) {
	base := time.Date(2026, 1, 2, 12, 0, 5, 0, time.UTC)
	// Saved out of order; whole seconds and fractions of varying length mix.
	saved := []struct {
		id     string
		offset time.Duration
	}{
		{"ms120", 120 * time.Millisecond},
		{"ms100", 100 * time.Millisecond},
		{"whole", 0},
		{"ms500", 500 * time.Millisecond},
		{"next", time.Second},
	}

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, r := range saved {
				if err := s.SaveRun(ctx, Run{ID: r.id, CreatedAt: base.Add(r.offset), EngineVersion: "3.0"}); err != nil {
					t.Fatal(err)
				}
			}

			runs, err := s.Runs(ctx)
			if err != nil {
				t.Fatalf("Runs() error = %v", err)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			want := []string{"next", "ms500", "ms120", "ms100", "whole"}
			if !reflect.DeepEqual(ids, want) {
				t.Errorf("Runs() order = %v, want %v", ids, want)
			}
			if !runs[2].CreatedAt.Equal(base.Add(120 * time.Millisecond)) {
				t.Errorf("CreatedAt = %v, want %v", runs[2].CreatedAt, base.Add(120*time.Millisecond))
			}

			latest, err := s.LatestRun(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if latest.ID != "next" {
				t.Errorf("LatestRun() = %s, want next", latest.ID)
			}
		})
	}
}

func TestStore_SaveRunErrors(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.SaveRun(ctx, Run{}); err == nil {
				t.Error("SaveRun() without ID should fail")
			}
			run := Run{ID: "dup", CreatedAt: time.Now().UTC()}
			if err := s.SaveRun(ctx, run); err != nil {
				t.Fatal(err)
			}
			if err := s.SaveRun(ctx, run); err == nil {
				t.Error("SaveRun() with duplicate ID should fail")
			}
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	realPool, virtualPool := testPools(t)
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	run := NewRun("2.20.1", realPool, virtualPool)
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != run.ID || got.EngineVersion != "2.20.1" {
		t.Errorf("LatestRun() = %+v", got)
	}
	if !reflect.DeepEqual(got.Mappings, run.Mappings) {
		t.Errorf("mappings = %+v, want %+v", got.Mappings, run.Mappings)
	}
}

func TestInitSchema_NewerVersionRejected(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("second InitSchema() error = %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	err = InitSchema(ctx, db)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("InitSchema() error = %v, want newer-version error", err)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T", s)
	}

	s, err = Open("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T", s)
	}

	if _, err := Open("neo4j", ""); err == nil {
		t.Error("Open() with unknown backend should fail")
	}
}

func TestParseNamespace(t *testing.T) {
	tests := []struct {
		in      string
		want    Namespace
		wantErr bool
	}{
		{"", NamespaceReal, false},
		{"real", NamespaceReal, false},
		{"virtual", NamespaceVirtual, false},
		{"other", "", true},
	}
	for _, tt := range tests {
		got, err := ParseNamespace(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseNamespace(%q) = %q, %v", tt.in, got, err)
		}
	}
}
