package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// ValidationClient exposes the staff-side validation invocations carried
// over the realtime channel. Separate from the session core; used by the
// document review flow.
type ValidationClient struct {
	channel RealtimeChannel
	logger  zerolog.Logger
}

func NewValidationClient(channel RealtimeChannel, logger zerolog.Logger) *ValidationClient {
	return &ValidationClient{
		channel: channel,
		logger:  logger.With().Str("component", "validation").Logger(),
	}
}

type patronParams struct {
	PatronID string          `json:"patron_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (v *ValidationClient) ValidatePatronData(ctx context.Context, patronID string, data json.RawMessage) (json.RawMessage, error) {
	return v.invoke(ctx, "validate-patron-data", &patronParams{PatronID: patronID, Data: data})
}

func (v *ValidationClient) ValidateIncomeDocument(ctx context.Context, patronID string, document json.RawMessage) (json.RawMessage, error) {
	return v.invoke(ctx, "validate-income-document", &patronParams{PatronID: patronID, Data: document})
}

func (v *ValidationClient) GetPatronStatus(ctx context.Context, patronID string) (json.RawMessage, error) {
	return v.invoke(ctx, "get-patron-status", &patronParams{PatronID: patronID})
}

func (v *ValidationClient) invoke(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	result, err := v.channel.Invoke(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke %s: %w", method, err)
	}

	if !result.Success {
		if result.Error != "" {
			return nil, fmt.Errorf("%s rejected: %s", method, result.Error)
		}
		return nil, fmt.Errorf("%s rejected", method)
	}

	return result.Data, nil
}
