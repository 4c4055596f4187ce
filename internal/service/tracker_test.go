package service

import (
	"errors"
	"testing"
	"time"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/notify"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(event, message string) {
	n.events = append(n.events, notify.Event{Event: event, Message: message})
}

func newTestTracker(policy Policy) (*Tracker, *recordingNotifier) {
	notifier := &recordingNotifier{}
	tracker := NewTracker(policy, 5, nil, notifier, zerolog.Nop())
	return tracker, notifier
}

func signatureRequest(id string) *domain.SignatureRequest {
	return &domain.SignatureRequest{
		RequestID:  id,
		PatronID:   "patron-1",
		PatronName: "Alex Reader",
		Timestamp:  time.Now(),
	}
}

func TestTracker_IncomingActivatesAndNotifies(t *testing.T) {
	tracker, notifier := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))

	active, remaining, expired := tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, "req-1", active.RequestID)
	assert.Equal(t, -1, remaining)
	assert.False(t, expired)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "signature_request", notifier.events[0].Event)
}

func TestTracker_RejectsInvalidRequest(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	err := tracker.HandleIncoming(&domain.SignatureRequest{PatronID: "patron-1"})
	assert.Error(t, err)

	active, _, _ := tracker.Active()
	assert.Nil(t, active)
}

func TestTracker_ReplacePolicySupersedesActive(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))
	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-2")))

	active, _, _ := tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, "req-2", active.RequestID)

	history := tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, "req-1", history[0].Request.RequestID)
	assert.False(t, history[0].Completed)
}

func TestTracker_RejectPolicyRefusesSecondRequest(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReject)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))

	err := tracker.HandleIncoming(signatureRequest("req-2"))
	assert.ErrorIs(t, err, ErrRequestInFlight)

	active, _, _ := tracker.Active()
	assert.Equal(t, "req-1", active.RequestID)
}

func TestTracker_QueuePolicyActivatesNextOnResolution(t *testing.T) {
	tracker, _ := newTestTracker(PolicyQueue)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))
	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-2")))

	active, _, _ := tracker.Active()
	assert.Equal(t, "req-1", active.RequestID)

	tracker.HandleSubmitted("req-1")

	active, _, _ = tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, "req-2", active.RequestID)
}

func TestTracker_SubmittedClearsSlotAndCounts(t *testing.T) {
	tracker, notifier := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))
	tracker.HandleSubmitted("req-1")

	active, _, _ := tracker.Active()
	assert.Nil(t, active)
	assert.Equal(t, int64(1), tracker.TotalRequests())

	history := tracker.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Completed)
	assert.False(t, history[0].CompletedAt.IsZero())

	require.Len(t, notifier.events, 2)
	assert.Equal(t, "signature_submitted", notifier.events[1].Event)
}

func TestTracker_ExpiredRequestBlocksSubmissionUntilDismissed(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	req := signatureRequest("req-1")
	req.ExpiryMinutes = 5
	require.NoError(t, tracker.HandleIncoming(req))

	// Jump the clock past the expiry.
	tracker.mu.Lock()
	tracker.now = func() time.Time { return req.Timestamp.Add(6 * time.Minute) }
	tracker.mu.Unlock()

	_, err := tracker.ActiveMatches("req-1")
	assert.ErrorIs(t, err, ErrRequestExpired)

	// The slot stays occupied until the operator dismisses it.
	active, remaining, _ := tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, 0, remaining)

	require.NoError(t, tracker.Dismiss("req-1"))
	active, _, _ = tracker.Active()
	assert.Nil(t, active)
}

func TestTracker_ActiveMatchesChecksRequestID(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	_, err := tracker.ActiveMatches("req-1")
	assert.ErrorIs(t, err, ErrNoActiveRequest)

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))

	_, err = tracker.ActiveMatches("req-other")
	assert.ErrorIs(t, err, ErrNoActiveRequest)

	matched, err := tracker.ActiveMatches("req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", matched.RequestID)
}

func TestTracker_ErrorLeavesActiveSlot(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-1")))
	tracker.HandleError(errors.New("backend said no"), "req-1")

	assert.Equal(t, "backend said no", tracker.LastError())

	active, _, _ := tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, "req-1", active.RequestID)

	// A fresh request clears the stale error.
	require.NoError(t, tracker.HandleIncoming(signatureRequest("req-2")))
	assert.Empty(t, tracker.LastError())
}

func TestTracker_DismissWithoutActiveFails(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	assert.ErrorIs(t, tracker.Dismiss("req-1"), ErrNoActiveRequest)
}

func TestTracker_HistoryIsCapped(t *testing.T) {
	tracker, _ := newTestTracker(PolicyReplace)
	defer tracker.Stop()

	for i := 0; i < 8; i++ {
		req := signatureRequest("req-" + string(rune('a'+i)))
		require.NoError(t, tracker.HandleIncoming(req))
		tracker.HandleSubmitted(req.RequestID)
	}

	history := tracker.History()
	assert.Len(t, history, 5)
	assert.Equal(t, "req-h", history[0].Request.RequestID)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyReplace, ParsePolicy(""))
	assert.Equal(t, PolicyReplace, ParsePolicy("anything"))
	assert.Equal(t, PolicyReject, ParsePolicy("REJECT"))
	assert.Equal(t, PolicyQueue, ParsePolicy("queue"))
}
