package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignatureRequest_NoExpiry(t *testing.T) {
	req := &SignatureRequest{RequestID: "req-1", PatronID: "patron-1", Timestamp: time.Now()}

	assert.True(t, req.ExpiresAt().IsZero())
	assert.False(t, req.Expired(time.Now().Add(24*time.Hour)))
	assert.Equal(t, -1, req.RemainingSeconds(time.Now()))
}

func TestSignatureRequest_Expiry(t *testing.T) {
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	req := &SignatureRequest{
		RequestID:     "req-1",
		PatronID:      "patron-1",
		Timestamp:     base,
		ExpiryMinutes: 5,
	}

	assert.Equal(t, base.Add(5*time.Minute), req.ExpiresAt())

	assert.False(t, req.Expired(base.Add(4*time.Minute)))
	assert.True(t, req.Expired(base.Add(5*time.Minute)))

	assert.Equal(t, 60, req.RemainingSeconds(base.Add(4*time.Minute)))
	assert.Equal(t, 0, req.RemainingSeconds(base.Add(6*time.Minute)))
}
