package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"signpad-agent/internal/service"
	"signpad-agent/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// ValidationHandler fronts the channel-carried validation invocations for
// the document review flow.
type ValidationHandler struct {
	validation *service.ValidationClient
	validate   *validator.Validate
}

func NewValidationHandler(validation *service.ValidationClient) *ValidationHandler {
	return &ValidationHandler{
		validation: validation,
		validate:   validator.New(),
	}
}

type validationBody struct {
	PatronID string          `json:"patron_id" validate:"required"`
	Data     json.RawMessage `json:"data"`
}

func (h *ValidationHandler) ValidatePatronData(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.validation.ValidatePatronData)
}

func (h *ValidationHandler) ValidateIncomeDocument(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.validation.ValidateIncomeDocument)
}

func (h *ValidationHandler) PatronStatus(w http.ResponseWriter, r *http.Request) {
	patronID := mux.Vars(r)["patronId"]
	if patronID == "" {
		response.BadRequest(w, "Patron ID is required")
		return
	}

	result, err := h.validation.GetPatronStatus(r.Context(), patronID)
	if err != nil {
		response.Error(w, http.StatusBadGateway, err.Error())
		return
	}

	response.Success(w, result)
}

func (h *ValidationHandler) run(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, patronID string, data json.RawMessage) (json.RawMessage, error)) {
	var body validationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(body); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := fn(r.Context(), body.PatronID, body.Data)
	if err != nil {
		response.Error(w, http.StatusBadGateway, err.Error())
		return
	}

	response.Success(w, result)
}
