package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/logging"
)

// onNotAuthenticated tries to recover a usable session: pairing when no
// token is configured, authenticating with the configured token otherwise.
// It reports whether the engine is connected afterwards.
func (e *Engine) onNotAuthenticated(ctx context.Context) bool {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	username := e.Username()
	if username == "" {
		return e.createUser(ctx)
	}

	if err := e.api.Authenticate(ctx, username); err != nil {
		if cube.IsTransportError(err) {
			e.logger.Debug("Cube unreachable while authenticating", zap.Error(err))
			return false
		}
		e.logger.Warn("API token is not accepted by cube; configure a valid token or remove it to pair again",
			zap.String("token", logging.MaskToken(username)),
			zap.Error(err))
		e.signalAuthenticationRequired(ReasonInvalidUsername)
		return false
	}

	e.markConnected()
	return true
}

// createUser pairs with the cube and hands the new token to the token store
func (e *Engine) createUser(ctx context.Context) bool {
	e.logger.Info("Creating API token on cube; press the pairing button on the cube")

	// A failed reachability probe can leave its credential installed
	e.api.ReleaseSession()

	token, err := e.api.Link(ctx)
	if err != nil {
		if cube.IsPairingError(err) {
			e.logger.Debug("Failed creating API token", zap.Error(err))
			e.signalAuthenticationRequired(ReasonPressPairingButton)
			return false
		}
		e.logger.Warn("Failed creating API token on cube", zap.Error(err))
		e.signalAuthenticationRequired(ReasonFailedCreatingUser)
		return false
	}

	e.setUsername(token)
	if e.tokenStore != nil {
		if err := e.tokenStore.SaveToken(e.api.IP(), token); err != nil {
			e.logger.Warn("Unable to persist API token", zap.Error(err))
		}
	}

	e.markConnected()
	return true
}

// ListCircuits fetches circuits straight from the cube, bypassing the
// snapshot table. When the token is rejected the engine re-authenticates and
// retries once.
func (e *Engine) ListCircuits(ctx context.Context) ([]cube.Circuit, error) {
	circuits, err := e.api.ListCircuits(ctx)
	if err == nil {
		return circuits, nil
	}

	if cube.IsUnauthorizedError(err) || cube.IsStateError(err) {
		e.setState(Disconnected)
		if e.onNotAuthenticated(ctx) {
			circuits, err = e.api.ListCircuits(ctx)
			if err == nil {
				return circuits, nil
			}
		}
	}

	e.logger.Error("Bridge cannot search for new circuits", zap.Error(err))
	return nil, err
}
