package handler

import (
	"net/http"

	"clinicdesk/internal/cache"
)

// BillingHandler exposes the billing handoff backlog for the
// front-desk dashboard.
type BillingHandler struct {
	queue cache.BillingQueue
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(queue cache.BillingQueue) *BillingHandler {
	return &BillingHandler{queue: queue}
}

// Pending handles GET /v1/billing/pending
func (h *BillingHandler) Pending(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": n})
}
