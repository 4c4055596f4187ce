package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is an explicit backend failure: a non-2xx status or a response
// carrying success=false. Message holds the server-provided text verbatim
// when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend request failed with status %d", e.Status)
}

// envelope is the loosely-shaped wrapper some backend responses use. The
// success flag may be absent entirely; payloads arrive either under data or
// at the top level.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// normalize folds status code and body into a single success/failure
// outcome and returns the raw payload bytes to decode from. A missing
// success flag is treated as success; an explicit success=false or a
// non-2xx status is a failure with the server message surfaced verbatim.
func normalize(status int, body []byte) (json.RawMessage, error) {
	var env envelope
	// Non-JSON bodies are tolerated; the envelope stays zero-valued.
	_ = json.Unmarshal(body, &env)

	message := env.Message
	if message == "" {
		message = env.Error
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &APIError{Status: status, Message: message}
	}

	if env.Success != nil && !*env.Success {
		return nil, &APIError{Status: status, Message: message}
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, nil
	}

	return body, nil
}
