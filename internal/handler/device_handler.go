package handler

import (
	"net/http"

	"signpad-agent/internal/api"
	"signpad-agent/pkg/response"

	"github.com/gorilla/mux"
)

// DeviceHandler passes backend device views through to the presentation
// layer.
type DeviceHandler struct {
	backend *api.Client
}

func NewDeviceHandler(backend *api.Client) *DeviceHandler {
	return &DeviceHandler{backend: backend}
}

func (h *DeviceHandler) OnlineDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.backend.OnlineDevices(r.Context())
	if err != nil {
		response.Error(w, http.StatusBadGateway, "Failed to list online devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) SignReview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	patronID := vars["patronId"]
	if patronID == "" {
		response.BadRequest(w, "Patron ID is required")
		return
	}

	html, err := h.backend.SignReview(r.Context(), patronID)
	if err != nil {
		response.Error(w, http.StatusBadGateway, "Failed to fetch sign review document")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}
