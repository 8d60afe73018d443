package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"clinicdesk/internal/model"
	"clinicdesk/internal/service"
)

// StepHandler handles treatment step endpoints
type StepHandler struct {
	roomSvc *service.RoomService
}

// NewStepHandler creates a new step handler
func NewStepHandler(roomSvc *service.RoomService) *StepHandler {
	return &StepHandler{roomSvc: roomSvc}
}

// AddStepRequest is the request body for adding a step
type AddStepRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	Memo            string `json:"memo,omitempty"`
}

// Add handles POST /v1/rooms/{roomId}/steps
func (h *StepHandler) Add(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req AddStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	room, err := h.roomSvc.AddStep(r.Context(), roomID, req.Name, req.DurationMinutes, req.Memo)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Remove handles DELETE /v1/rooms/{roomId}/steps/{stepId}
func (h *StepHandler) Remove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	room, err := h.roomSvc.RemoveStep(r.Context(), vars["roomId"], vars["stepId"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Start handles POST /v1/rooms/{roomId}/steps/{stepId}/start
func (h *StepHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.roomSvc.StartStep)
}

// Pause handles POST /v1/rooms/{roomId}/steps/{stepId}/pause
func (h *StepHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.roomSvc.PauseStep)
}

// Complete handles POST /v1/rooms/{roomId}/steps/{stepId}/complete
func (h *StepHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.roomSvc.CompleteStep)
}

// Reset handles POST /v1/rooms/{roomId}/steps/{stepId}/reset
func (h *StepHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.roomSvc.ResetStep)
}

// DurationRequest carries either an increment or an absolute edit
type DurationRequest struct {
	DeltaMinutes *int `json:"deltaMinutes,omitempty"`
	Minutes      *int `json:"minutes,omitempty"`
}

// Duration handles PUT /v1/rooms/{roomId}/steps/{stepId}/duration
func (h *StepHandler) Duration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req DurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.DeltaMinutes != nil:
		room, err := h.roomSvc.AdjustStepDuration(r.Context(), vars["roomId"], vars["stepId"], *req.DeltaMinutes)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	case req.Minutes != nil:
		room, err := h.roomSvc.SetStepDuration(r.Context(), vars["roomId"], vars["stepId"], *req.Minutes)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	default:
		writeError(w, http.StatusBadRequest, "deltaMinutes or minutes is required")
	}
}

// MemoRequest is the request body for a memo edit
type MemoRequest struct {
	Memo string `json:"memo"`
}

// Memo handles PUT /v1/rooms/{roomId}/steps/{stepId}/memo
func (h *StepHandler) Memo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req MemoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.roomSvc.SetStepMemo(r.Context(), vars["roomId"], vars["stepId"], req.Memo)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// ReorderRequest moves a step to another step's position. Committed
// is false for mid-drag previews, true on drop.
type ReorderRequest struct {
	StepID    string `json:"stepId"`
	TargetID  string `json:"targetId"`
	Committed bool   `json:"committed"`
}

// Reorder handles PUT /v1/rooms/{roomId}/steps/order
func (h *StepHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StepID == "" || req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "stepId and targetId are required")
		return
	}

	room, err := h.roomSvc.ReorderStep(r.Context(), roomID, req.StepID, req.TargetID, req.Committed)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *StepHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, roomID, stepID string) (model.Room, error)) {
	vars := mux.Vars(r)

	room, err := fn(r.Context(), vars["roomId"], vars["stepId"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
