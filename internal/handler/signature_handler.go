package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"signpad-agent/internal/api"
	"signpad-agent/internal/service"
	"signpad-agent/pkg/response"

	"github.com/go-playground/validator/v10"
)

type SignatureHandler struct {
	submitter *service.Submitter
	validate  *validator.Validate
}

func NewSignatureHandler(submitter *service.Submitter) *SignatureHandler {
	return &SignatureHandler{
		submitter: submitter,
		validate:  validator.New(),
	}
}

type submitSignatureBody struct {
	RequestID string `json:"request_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

func (h *SignatureHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitSignatureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(body); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	err := h.submitter.Submit(r.Context(), body.RequestID, body.Signature)
	if err == nil {
		response.Success(w, map[string]string{"message": "Signature submitted"})
		return
	}

	switch {
	case errors.Is(err, service.ErrEmptySignature):
		response.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrNoActiveRequest):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrRequestExpired):
		response.Conflict(w, err.Error())
	default:
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			// Server-reported failure; surface its message verbatim.
			response.Error(w, http.StatusBadGateway, apiErr.Error())
			return
		}
		response.Error(w, http.StatusBadGateway, "Failed to submit signature: "+err.Error())
	}
}
