package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/service"
	"signpad-agent/pkg/response"
)

type RequestHandler struct {
	tracker *service.Tracker
}

func NewRequestHandler(tracker *service.Tracker) *RequestHandler {
	return &RequestHandler{tracker: tracker}
}

type activeRequestView struct {
	Active           *domain.SignatureRequest `json:"active"`
	RemainingSeconds int                      `json:"remaining_seconds"`
	Expired          bool                     `json:"expired"`
	TotalRequests    int64                    `json:"total_requests"`
	LastError        string                   `json:"last_error,omitempty"`
}

func (h *RequestHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	active, remaining, expired := h.tracker.Active()

	response.Success(w, &activeRequestView{
		Active:           active,
		RemainingSeconds: remaining,
		Expired:          expired,
		TotalRequests:    h.tracker.TotalRequests(),
		LastError:        h.tracker.LastError(),
	})
}

func (h *RequestHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	// An empty body dismisses whatever is active.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.tracker.Dismiss(req.RequestID); err != nil {
		if errors.Is(err, service.ErrNoActiveRequest) {
			response.NotFound(w, "No matching active request")
			return
		}
		response.InternalError(w, "Failed to dismiss request")
		return
	}

	response.Success(w, map[string]string{"message": "Request dismissed"})
}

func (h *RequestHandler) History(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.tracker.History())
}
