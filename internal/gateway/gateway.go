// Package gateway wraps the engine's bulk connect call with diagnostics.
// Engine failures are logged and returned, never swallowed; a delay that the
// engine's resolution cannot represent is logged with both offending values.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/utils"
)

// Gateway forwards bulk connections to an engine.
type Gateway struct {
	engine engine.Engine
	logger *slog.Logger
}

// New returns a Gateway over eng. A nil logger discards diagnostics.
func New(eng engine.Engine, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{engine: eng, logger: logger}
}

// Connect connects sources to targets with the given connection and synapse specs.
// Empty source and target lists are a no-op.
func (g *Gateway) Connect(ctx context.Context, sources, targets []engine.Handle, conn, syn engine.Status) error {
	if len(sources) == 0 && len(targets) == 0 {
		return nil
	}

	err := g.engine.Connect(ctx, sources, targets, conn, syn)
	if err == nil {
		return nil
	}

	var bde *engine.BadDelayError
	if errors.As(err, &bde) {
		resolution := g.resolution(ctx)
		delay := utils.Describe(syn, constants.DelayKey, constants.Unavailable)
		g.logger.Error(fmt.Sprintf("%s%s", bde.Name, bde.Message))
		g.logger.Error(fmt.Sprintf(`synaptic "delay" value in edges (%s) is not compatible with simulator resolution/"dt" (%s)`,
			delay, resolution), "delay", delay, "resolution", resolution)
		return fmt.Errorf("connect %d sources to %d targets: %w", len(sources), len(targets), err)
	}

	g.logger.Error(err.Error(), "sources", len(sources), "targets", len(targets))
	return fmt.Errorf("connect %d sources to %d targets: %w", len(sources), len(targets), err)
}

// resolution reads the kernel resolution for a diagnostic. It never fails:
// anything unreadable becomes the unavailable sentinel.
func (g *Gateway) resolution(ctx context.Context) string {
	status, err := g.engine.KernelStatus(ctx)
	if err != nil {
		return constants.Unavailable
	}
	return utils.Describe(status, constants.ResolutionKey, constants.Unavailable)
}
