package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"clinicdesk/internal/model"
	"clinicdesk/internal/service"
	"clinicdesk/internal/transport/rest/middleware"
)

// RoomHandler handles bay endpoints
type RoomHandler struct {
	roomSvc *service.RoomService
	logger  *zap.Logger
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomSvc *service.RoomService, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc, logger: logger}
}

// audit records who performed a session-level mutation and from which
// terminal.
func (h *RoomHandler) audit(r *http.Request, action, roomID string) {
	h.logger.Info(action,
		zap.String("room", roomID),
		zap.String("staff", middleware.GetStaffID(r.Context())),
		zap.String("station", middleware.GetStationID(r.Context())))
}

// List handles GET /v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": h.roomSvc.Rooms()})
}

// Get handles GET /v1/rooms/{roomId}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.roomSvc.Room(roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// AssignRequest is the request body for assigning a patient to a bay
type AssignRequest struct {
	Patient model.PatientRef `json:"patient"`
}

// Assign handles POST /v1/rooms/{roomId}/assign
func (h *RoomHandler) Assign(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Patient.ID == "" {
		writeError(w, http.StatusBadRequest, "patient id is required")
		return
	}

	room, err := h.roomSvc.AssignPatient(r.Context(), roomID, req.Patient)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.audit(r, "patient assigned", roomID)
	writeJSON(w, http.StatusOK, room)
}

// ReturnToWaiting handles POST /v1/rooms/{roomId}/return
func (h *RoomHandler) ReturnToWaiting(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.roomSvc.ReturnToWaiting(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.audit(r, "patient returned to waiting", roomID)
	writeJSON(w, http.StatusOK, room)
}

// Finish handles POST /v1/rooms/{roomId}/finish
func (h *RoomHandler) Finish(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.roomSvc.FinishSession(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.audit(r, "session finished", roomID)
	writeJSON(w, http.StatusOK, room)
}

// StartCleaning handles POST /v1/rooms/{roomId}/cleaning/start
func (h *RoomHandler) StartCleaning(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.roomSvc.StartCleaning(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// FinishCleaning handles POST /v1/rooms/{roomId}/cleaning/finish
func (h *RoomHandler) FinishCleaning(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.roomSvc.FinishCleaning(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
