package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/command"
	"github.com/muurk/miyo/internal/cube"
)

// ErrWinterModeActive is returned by UpdateCircuitState when the cube refuses
// to irrigate a circuit. It also matches cube.ErrIrrigation.
var ErrWinterModeActive = errors.New("irrigation can not be turned on while winter mode is active")

// UpdateCircuitState sends a command batch for a circuit to the cube.
// The only error returned is ErrWinterModeActive, so callers can revert an
// optimistic state change. Any other failure is logged and dropped.
func (e *Engine) UpdateCircuitState(ctx context.Context, c cube.Circuit, batch command.Batch) error {
	logger := e.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("circuit_id", c.NormalizedID),
		zap.Stringer("batch", batch),
	)

	err := e.dispatcher.Dispatch(ctx, c, batch)
	switch {
	case err == nil:
		logger.Debug("Circuit state updated")
		return nil

	case errors.Is(err, cube.ErrIrrigation):
		logger.Info("Cube refused irrigation command", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrWinterModeActive, err)

	case errors.Is(err, command.ErrUnsupportedCommand), errors.Is(err, command.ErrEmptyBatch):
		logger.Warn("Command is not supported", zap.Error(err))

	case cube.IsTransportError(err):
		logger.Warn("Cube unreachable while updating circuit", zap.Error(err))

	case cube.IsStateError(err):
		logger.Debug("Cube not authenticated while updating circuit", zap.Error(err))

	default:
		logger.Warn("Error while accessing circuit", zap.Error(err))
	}

	return nil
}
