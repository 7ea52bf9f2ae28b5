package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/clinssen/bmtk/internal/constants"
)

// Dialect captures the behavior that differs between engine major versions.
// One Dialect is chosen at startup and passed to the builder.
type Dialect interface {
	// Major returns the engine major version this dialect speaks.
	Major() int

	// GeneratorParams adapts spike generator creation params to the engine version.
	GeneratorParams(params Status) Status

	// SetSpikeTimes pushes a sorted spike schedule into a spike generator.
	SetSpikeTimes(ctx context.Context, e Engine, h Handle, times []float64) error
}

// DialectFor returns the dialect for an engine version string such as "2.20.1"
// or "3.4". Versions below 3 get the v2 dialect.
func DialectFor(version string) (Dialect, error) {
	major, err := ParseMajor(version)
	if err != nil {
		return nil, err
	}
	if major >= 3 {
		return v3Dialect{major: major}, nil
	}
	return v2Dialect{}, nil
}

// MustDialectFor is like DialectFor but panics if version cannot be parsed.
// It is meant for compile-time constants.
func MustDialectFor(version string) Dialect {
	d, err := DialectFor(version)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseMajor extracts the major component of a dotted version string.
// A leading "v" or "nest-" prefix is ignored.
func ParseMajor(version string) (int, error) {
	v := strings.TrimSpace(version)
	v = strings.TrimPrefix(v, "nest-")
	v = strings.TrimPrefix(v, "v")
	head, _, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(head)
	if err != nil || major < 1 {
		return 0, fmt.Errorf("invalid engine version %q", version)
	}
	return major, nil
}

type v2Dialect struct{}

func (v2Dialect) Major() int { return 2 }

func (v2Dialect) GeneratorParams(params Status) Status {
	return params.Clone()
}

func (v2Dialect) SetSpikeTimes(ctx context.Context, e Engine, h Handle, times []float64) error {
	return e.SetStatus(ctx, []Handle{h}, Status{constants.SpikeTimesKey: times})
}

type v3Dialect struct {
	major int
}

func (d v3Dialect) Major() int { return d.major }

// GeneratorParams drops precise_times: v3 spike generators reject it and
// schedule off-grid times from the precise spike models instead.
func (v3Dialect) GeneratorParams(params Status) Status {
	out := params.Clone()
	delete(out, constants.PreciseTimesKey)
	return out
}

func (v3Dialect) SetSpikeTimes(ctx context.Context, e Engine, h Handle, times []float64) error {
	return e.SetStatus(ctx, []Handle{h}, Status{constants.SpikeTimesKey: times})
}
