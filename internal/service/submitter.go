package service

import (
	"context"
	"strings"
	"time"

	"signpad-agent/internal/domain"

	"github.com/rs/zerolog"
)

// Submitter runs the signature submission flow: local validation, backend
// call with lenient success interpretation, terminal resolution through the
// tracker. Submission is never retried automatically.
type Submitter struct {
	backend  BackendClient
	tracker  *Tracker
	identity IdentityProvider
	logger   zerolog.Logger

	// closeDelay lets the success state render before the presentation
	// dialog is dismissed.
	closeDelay    time.Duration
	onDialogClose func()
}

func NewSubmitter(backend BackendClient, tracker *Tracker, identity IdentityProvider, closeDelay time.Duration, logger zerolog.Logger) *Submitter {
	if closeDelay <= 0 {
		closeDelay = 2 * time.Second
	}

	return &Submitter{
		backend:    backend,
		tracker:    tracker,
		identity:   identity,
		closeDelay: closeDelay,
		logger:     logger.With().Str("component", "submitter").Logger(),
	}
}

// SetDialogCloseHandler registers the callback fired after the post-success
// delay elapses.
func (s *Submitter) SetDialogCloseHandler(handler func()) {
	s.onDialogClose = handler
}

// Submit validates and submits a captured signature for the active request.
// Validation failures never reach the network. Backend failures surface the
// server message and leave the active request in place for a user-initiated
// retry.
func (s *Submitter) Submit(ctx context.Context, requestID, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return ErrEmptySignature
	}

	req, err := s.tracker.ActiveMatches(requestID)
	if err != nil {
		return err
	}

	staffDeviceID := req.StaffDeviceID
	if staffDeviceID == "" {
		if identity, idErr := s.identity.Get(ctx); idErr == nil {
			staffDeviceID = identity.StaffDeviceID
		}
	}

	_, err = s.backend.SubmitSignature(ctx, &domain.SubmitSignatureRequest{
		SessionID:     req.RequestID,
		PatronID:      req.PatronID,
		Signature:     signature,
		StaffDeviceID: staffDeviceID,
	})
	if err != nil {
		s.tracker.HandleError(err, requestID)
		return err
	}

	s.logger.Info().Str("request_id", requestID).Msg("signature submitted")

	s.tracker.HandleSubmitted(requestID)

	if s.onDialogClose != nil {
		time.AfterFunc(s.closeDelay, s.onDialogClose)
	}

	return nil
}
