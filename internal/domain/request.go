package domain

import "time"

// SignatureRequest is a pending signature task pushed from a staff system.
// RequestID doubles as the backend session id for submission.
type SignatureRequest struct {
	RequestID     string    `json:"request_id" validate:"required"`
	PatronID      string    `json:"patron_id" validate:"required"`
	PatronName    string    `json:"patron_name"`
	DocumentType  string    `json:"document_type"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	ExpiryMinutes int       `json:"expiry_minutes"`
	StaffDeviceID string    `json:"staff_device_id"`
}

// ExpiresAt returns the absolute expiry time, or the zero time when the
// request does not expire.
func (r *SignatureRequest) ExpiresAt() time.Time {
	if r.ExpiryMinutes <= 0 {
		return time.Time{}
	}
	return r.Timestamp.Add(time.Duration(r.ExpiryMinutes) * time.Minute)
}

// Expired reports whether the request's expiry has elapsed at the given time.
// A request without expiry never expires.
func (r *SignatureRequest) Expired(now time.Time) bool {
	at := r.ExpiresAt()
	return !at.IsZero() && !now.Before(at)
}

// RemainingSeconds returns the whole seconds until expiry, clamped at zero.
// Returns -1 for requests without expiry.
func (r *SignatureRequest) RemainingSeconds(now time.Time) int {
	at := r.ExpiresAt()
	if at.IsZero() {
		return -1
	}
	left := at.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// HistoryEntry is a past signature request annotated with its outcome.
type HistoryEntry struct {
	Request     SignatureRequest `json:"request"`
	Completed   bool             `json:"completed"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

type SubmitSignatureRequest struct {
	SessionID     string `json:"session_id" validate:"required"`
	PatronID      string `json:"patron_id" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
	StaffDeviceID string `json:"staff_device_id"`
}

type SubmitSignatureResponse struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
