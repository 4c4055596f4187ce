package handler

import (
	"context"
	"net/http"

	"signpad-agent/internal/service"
	"signpad-agent/pkg/response"

	"github.com/rs/zerolog"
)

// IdentityResetter clears every persisted device identity field.
type IdentityResetter interface {
	Clear(ctx context.Context) error
}

type SessionHandler struct {
	orchestrator *service.Orchestrator
	identity     IdentityResetter
	logger       zerolog.Logger
}

func NewSessionHandler(orchestrator *service.Orchestrator, identity IdentityResetter, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		orchestrator: orchestrator,
		identity:     identity,
		logger:       logger,
	}
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.orchestrator.Snapshot())
}

// Retry runs asynchronously: the teardown plus settle delay would otherwise
// hold the UI's request open.
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := h.orchestrator.Retry(context.Background()); err != nil {
			h.logger.Error().Err(err).Msg("session retry failed")
		}
	}()

	response.Accepted(w, "Session retry started")
}

func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.Disconnect()
	response.Success(w, map[string]string{"message": "Session disconnected"})
}

// ResetIdentity tears the session down and wipes the persisted identity so
// the next registration runs as a brand new device.
func (h *SessionHandler) ResetIdentity(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.Disconnect()

	if err := h.identity.Clear(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("identity reset failed")
		response.InternalError(w, "Failed to reset device identity")
		return
	}

	response.Success(w, map[string]string{"message": "Device identity reset"})
}
