package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/notify"
	"signpad-agent/internal/store"
	"signpad-agent/internal/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Policy decides what happens when a push arrives while another request is
// still unresolved.
type Policy string

const (
	// PolicyReplace supersedes the active request; the prior one goes to
	// history marked incomplete. Matches the observed product behavior.
	PolicyReplace Policy = "replace"
	// PolicyReject refuses the new request while one is in flight.
	PolicyReject Policy = "reject"
	// PolicyQueue holds the new request until the active one resolves.
	PolicyQueue Policy = "queue"
)

func ParsePolicy(s string) Policy {
	switch Policy(strings.ToLower(s)) {
	case PolicyReject:
		return PolicyReject
	case PolicyQueue:
		return PolicyQueue
	default:
		return PolicyReplace
	}
}

// Tracker owns the lifecycle of the active signature request: arrival,
// countdown, terminal resolution, history and counters.
type Tracker struct {
	policy      Policy
	historySize int
	history     store.HistoryStore
	notifier    notify.Notifier
	validate    *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time

	mu        sync.Mutex
	active    *domain.SignatureRequest
	expired   bool
	queue     []*domain.SignatureRequest
	recent    []*domain.HistoryEntry
	total     int64
	lastError string
	countdown chan struct{}
}

func NewTracker(policy Policy, historySize int, history store.HistoryStore, notifier notify.Notifier, logger zerolog.Logger) *Tracker {
	if historySize <= 0 {
		historySize = 10
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}

	return &Tracker{
		policy:      policy,
		historySize: historySize,
		history:     history,
		notifier:    notifier,
		validate:    validator.New(),
		logger:      logger.With().Str("component", "tracker").Logger(),
		now:         time.Now,
	}
}

// BindChannel subscribes the tracker to inbound signature request events.
func (t *Tracker) BindChannel(channel RealtimeChannel) {
	channel.Subscribe(websocket.TypeSignatureRequest, func(msg *websocket.Message) {
		var req domain.SignatureRequest
		if err := msg.UnmarshalPayload(&req); err != nil {
			t.logger.Warn().Err(err).Msg("malformed signature request payload")
			return
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = msg.Timestamp
		}

		if err := t.HandleIncoming(&req); err != nil {
			t.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("signature request not accepted")
		}
	})
}

// LoadHistory warms the in-memory history from the persistent store.
func (t *Tracker) LoadHistory(ctx context.Context) error {
	if t.history == nil {
		return nil
	}

	entries, err := t.history.List(ctx, t.historySize)
	if err != nil {
		return fmt.Errorf("failed to load request history: %w", err)
	}

	t.mu.Lock()
	t.recent = entries
	t.mu.Unlock()

	return nil
}

// HandleIncoming applies the supersede policy and activates the request.
func (t *Tracker) HandleIncoming(req *domain.SignatureRequest) error {
	if err := t.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid signature request: %w", err)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = t.now()
	}

	t.mu.Lock()
	if t.active != nil {
		switch t.policy {
		case PolicyReject:
			t.mu.Unlock()
			return ErrRequestInFlight

		case PolicyQueue:
			t.queue = append(t.queue, req)
			t.mu.Unlock()
			t.logger.Info().Str("request_id", req.RequestID).Msg("signature request queued")
			return nil

		default: // PolicyReplace
			prior := t.active
			t.stopCountdownLocked()
			t.recordLocked(prior, false)
			t.logger.Warn().
				Str("replaced", prior.RequestID).
				Str("request_id", req.RequestID).
				Msg("active signature request superseded")
		}
	}

	t.activateLocked(req)
	t.mu.Unlock()

	t.notifier.Notify("signature_request", fmt.Sprintf("Signature requested for %s", req.PatronName))

	return nil
}

// Active returns the current request, its remaining seconds (-1 when the
// request has no expiry) and whether it expired.
func (t *Tracker) Active() (*domain.SignatureRequest, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return nil, 0, false
	}

	req := *t.active
	return &req, req.RemainingSeconds(t.now()), t.expired
}

// ActiveMatches reports whether the given id is the active request and
// whether it is still submittable.
func (t *Tracker) ActiveMatches(requestID string) (*domain.SignatureRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.active.RequestID != requestID {
		return nil, ErrNoActiveRequest
	}
	if t.expired || t.active.Expired(t.now()) {
		return nil, ErrRequestExpired
	}

	req := *t.active
	return &req, nil
}

// HandleSubmitted resolves the request: history entry completed, active slot
// cleared when it matches, lifetime counter incremented, next queued request
// activated.
func (t *Tracker) HandleSubmitted(requestID string) {
	t.mu.Lock()

	completedAt := t.now()
	var resolved *domain.SignatureRequest

	if t.active != nil && t.active.RequestID == requestID {
		resolved = t.active
		t.stopCountdownLocked()
		t.active = nil
		t.expired = false
	}

	if resolved != nil {
		t.recent = append([]*domain.HistoryEntry{{
			Request:     *resolved,
			Completed:   true,
			CompletedAt: completedAt,
		}}, t.recent...)
		if len(t.recent) > t.historySize {
			t.recent = t.recent[:t.historySize]
		}
	} else {
		for _, entry := range t.recent {
			if entry.Request.RequestID == requestID {
				entry.Completed = true
				entry.CompletedAt = completedAt
				break
			}
		}
	}

	t.total++
	t.activateNextLocked()
	t.mu.Unlock()

	if t.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if resolved != nil {
			entry := &domain.HistoryEntry{Request: *resolved, Completed: true, CompletedAt: completedAt}
			if err := t.history.Append(ctx, entry, t.historySize); err != nil {
				t.logger.Warn().Err(err).Msg("failed to persist completed request")
			}
		} else if err := t.history.MarkCompleted(ctx, requestID, completedAt); err != nil {
			t.logger.Warn().Err(err).Msg("failed to mark history entry completed")
		}
	}

	t.notifier.Notify("signature_submitted", fmt.Sprintf("Signature %s submitted", requestID))
}

// HandleError records a submission error for the UI. It deliberately leaves
// the active slot untouched so the operator can retry or cancel.
func (t *Tracker) HandleError(err error, requestID string) {
	t.mu.Lock()
	t.lastError = err.Error()
	t.mu.Unlock()

	t.logger.Error().Err(err).Str("request_id", requestID).Msg("signature submission error")
}

// Dismiss clears the active slot without completing it. Used by the operator
// to cancel or acknowledge an expired request.
func (t *Tracker) Dismiss(requestID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || (requestID != "" && t.active.RequestID != requestID) {
		return ErrNoActiveRequest
	}

	t.stopCountdownLocked()
	t.recordLocked(t.active, false)

	t.logger.Info().Str("request_id", t.active.RequestID).Msg("signature request dismissed")

	t.active = nil
	t.expired = false
	t.activateNextLocked()

	return nil
}

// History returns the recent entries, most recent first.
func (t *Tracker) History() []*domain.HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]*domain.HistoryEntry, len(t.recent))
	for i, entry := range t.recent {
		copied := *entry
		entries[i] = &copied
	}
	return entries
}

// TotalRequests returns the lifetime completed-request counter.
func (t *Tracker) TotalRequests() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// LastError returns the most recent submission error message.
func (t *Tracker) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

// Stop halts any running countdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCountdownLocked()
}

func (t *Tracker) activateLocked(req *domain.SignatureRequest) {
	t.active = req
	t.expired = req.Expired(t.now())
	t.lastError = ""

	if !t.expired && !req.ExpiresAt().IsZero() {
		t.startCountdownLocked()
	}

	t.logger.Info().
		Str("request_id", req.RequestID).
		Str("patron_id", req.PatronID).
		Int("expiry_minutes", req.ExpiryMinutes).
		Msg("signature request activated")
}

func (t *Tracker) activateNextLocked() {
	if t.policy != PolicyQueue || len(t.queue) == 0 || t.active != nil {
		return
	}

	next := t.queue[0]
	t.queue = t.queue[1:]
	t.activateLocked(next)
}

// startCountdownLocked runs the one-second tick that recomputes remaining
// time. Expiry marks the request but never auto-clears the slot; the
// operator must dismiss it.
func (t *Tracker) startCountdownLocked() {
	quit := make(chan struct{})
	t.countdown = quit

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				if t.countdown != quit || t.active == nil {
					t.mu.Unlock()
					return
				}
				if t.active.Expired(t.now()) {
					t.expired = true
					t.countdown = nil
					requestID := t.active.RequestID
					t.mu.Unlock()
					t.logger.Warn().Str("request_id", requestID).Msg("signature request expired")
					return
				}
				t.mu.Unlock()

			case <-quit:
				return
			}
		}
	}()
}

func (t *Tracker) stopCountdownLocked() {
	if t.countdown != nil {
		close(t.countdown)
		t.countdown = nil
	}
}

func (t *Tracker) recordLocked(req *domain.SignatureRequest, completed bool) {
	entry := &domain.HistoryEntry{Request: *req, Completed: completed}
	if completed {
		entry.CompletedAt = t.now()
	}

	t.recent = append([]*domain.HistoryEntry{entry}, t.recent...)
	if len(t.recent) > t.historySize {
		t.recent = t.recent[:t.historySize]
	}

	if t.history != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.history.Append(ctx, entry, t.historySize); err != nil {
				t.logger.Warn().Err(err).Msg("failed to persist history entry")
			}
		}()
	}
}
