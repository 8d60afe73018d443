package handler

import (
	"net/http"

	"clinicdesk/internal/service"
)

// TreatmentHandler handles treatment catalogue endpoints
type TreatmentHandler struct {
	roomSvc *service.RoomService
}

// NewTreatmentHandler creates a new treatment handler
func NewTreatmentHandler(roomSvc *service.RoomService) *TreatmentHandler {
	return &TreatmentHandler{roomSvc: roomSvc}
}

// Catalogue handles GET /v1/treatments
func (h *TreatmentHandler) Catalogue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.roomSvc.Catalogue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"treatments": entries})
}

// Refresh handles POST /v1/treatments/refresh: drops the cached
// catalogue after the clinic edits its treatment configuration.
func (h *TreatmentHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	entries, err := h.roomSvc.RefreshCatalogue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"treatments": entries})
}
