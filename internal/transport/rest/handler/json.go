package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinicdesk/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store errors onto HTTP statuses. Only the
// occupied-bay conflict is meaningful terminal feedback; everything
// else is a plain bad request or missing room.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, store.ErrRoomNotAvailable):
		writeError(w, http.StatusConflict, "room not available")
	case errors.Is(err, store.ErrIllegalTransition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
