package service

import (
	"context"
	"testing"
	"time"

	"signpad-agent/internal/api"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubmitter(backend *mockBackend) (*Submitter, *Tracker) {
	tracker := NewTracker(PolicyReplace, 5, nil, nil, zerolog.Nop())
	submitter := NewSubmitter(backend, tracker, newMockIdentity(), 10*time.Millisecond, zerolog.Nop())
	return submitter, tracker
}

func TestSubmitter_EmptySignatureNeverReachesBackend(t *testing.T) {
	backend := newMockBackend()
	submitter, tracker := newTestSubmitter(backend)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))

	err := submitter.Submit(context.Background(), "req-1", "   ")
	assert.ErrorIs(t, err, ErrEmptySignature)
	assert.Equal(t, 0, backend.submitCount())
}

func TestSubmitter_RejectsMismatchedRequest(t *testing.T) {
	backend := newMockBackend()
	submitter, tracker := newTestSubmitter(backend)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))

	err := submitter.Submit(context.Background(), "req-stale", "data:image/png;base64,aa==")
	assert.ErrorIs(t, err, ErrNoActiveRequest)
	assert.Equal(t, 0, backend.submitCount())
}

func TestSubmitter_SuccessResolvesAndClosesDialog(t *testing.T) {
	backend := newMockBackend()
	submitter, tracker := newTestSubmitter(backend)
	defer tracker.Stop()

	closed := make(chan struct{})
	submitter.SetDialogCloseHandler(func() { close(closed) })

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))
	require.NoError(t, submitter.Submit(context.Background(), "req-1", "data:image/png;base64,aa=="))

	assert.Equal(t, 1, backend.submitCount())

	active, _, _ := tracker.Active()
	assert.Nil(t, active)
	assert.Equal(t, int64(1), tracker.TotalRequests())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("dialog close handler never fired")
	}
}

func TestSubmitter_BackendFailureKeepsRequestForRetry(t *testing.T) {
	backend := newMockBackend()
	backend.submitErr = &api.APIError{Status: 422, Message: "Signature could not be processed"}

	submitter, tracker := newTestSubmitter(backend)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))

	err := submitter.Submit(context.Background(), "req-1", "data:image/png;base64,aa==")
	require.Error(t, err)
	assert.Equal(t, "Signature could not be processed", tracker.LastError())

	// The request stays active so the operator can retry.
	active, _, _ := tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, "req-1", active.RequestID)

	// A retry after the transient failure succeeds.
	backend.submitErr = nil
	require.NoError(t, submitter.Submit(context.Background(), "req-1", "data:image/png;base64,aa=="))
	assert.Equal(t, 2, backend.submitCount())
}

func TestSubmitter_ExpiredRequestBlocksSubmission(t *testing.T) {
	backend := newMockBackend()
	submitter, tracker := newTestSubmitter(backend)
	defer tracker.Stop()

	req := signatureRequest("req-1")
	req.ExpiryMinutes = 1
	require.NoError(t, tracker.HandleIncoming(req))

	tracker.mu.Lock()
	tracker.now = func() time.Time { return req.Timestamp.Add(2 * time.Minute) }
	tracker.mu.Unlock()

	err := submitter.Submit(context.Background(), "req-1", "data:image/png;base64,aa==")
	assert.ErrorIs(t, err, ErrRequestExpired)
	assert.Equal(t, 0, backend.submitCount())
}

func TestSubmitter_FillsStaffDeviceIDFromIdentity(t *testing.T) {
	backend := newMockBackend()
	submitter, tracker := newTestSubmitter(backend)
	defer tracker.Stop()

	req := signatureRequest("req-1")
	req.StaffDeviceID = ""
	require.NoError(t, tracker.HandleIncoming(req))
	require.NoError(t, submitter.Submit(context.Background(), "req-1", "data:image/png;base64,aa=="))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.submitReqs, 1)
	assert.Equal(t, "staff-1", backend.submitReqs[0].StaffDeviceID)
}
