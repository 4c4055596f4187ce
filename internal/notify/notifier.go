package notify

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers best-effort operator-visible notifications. Calls never
// block the caller on failure and never return errors; delivery problems are
// logged and dropped.
type Notifier interface {
	Notify(event, message string)
}

// Event is the payload shape published to external sinks.
type Event struct {
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Event) encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// LogNotifier writes notifications to the agent log. Default sink.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(event, message string) {
	n.logger.Info().Str("event", event).Str("message", message).Msg("notification")
}

// NoopNotifier discards everything. Used in tests.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, string) {}
