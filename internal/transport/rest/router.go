package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"clinicdesk/internal/cache"
	"clinicdesk/internal/service"
	"clinicdesk/internal/transport/rest/handler"
	"clinicdesk/internal/transport/rest/middleware"
	"clinicdesk/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService  *service.AuthService
	RoomService  *service.RoomService
	BillingQueue cache.BillingQueue
	WSHub        *ws.Hub
	WSHandler    *ws.Handler
	Logger       *zap.Logger
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	roomHandler := handler.NewRoomHandler(c.RoomService, c.Logger)
	stepHandler := handler.NewStepHandler(c.RoomService)
	treatmentHandler := handler.NewTreatmentHandler(c.RoomService)
	billingHandler := handler.NewBillingHandler(c.BillingQueue)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// WebSocket route (public with token in query param)
	v1.HandleFunc("/ws/terminal", c.WSHandler.TerminalWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Staff routes (require staff auth)
	staffRoutes := v1.NewRoute().Subrouter()
	staffRoutes.Use(authMW.RequireStaff)

	staffRoutes.HandleFunc("/rooms", roomHandler.List).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}", roomHandler.Get).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/assign", roomHandler.Assign).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/return", roomHandler.ReturnToWaiting).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/finish", roomHandler.Finish).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/cleaning/start", roomHandler.StartCleaning).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/cleaning/finish", roomHandler.FinishCleaning).Methods("POST", "OPTIONS")

	staffRoutes.HandleFunc("/rooms/{roomId}/steps", stepHandler.Add).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/order", stepHandler.Reorder).Methods("PUT", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}", stepHandler.Remove).Methods("DELETE", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}/start", stepHandler.Start).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}/pause", stepHandler.Pause).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}/complete", stepHandler.Complete).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}/reset", stepHandler.Reset).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}/duration", stepHandler.Duration).Methods("PUT", "OPTIONS")
	staffRoutes.HandleFunc("/rooms/{roomId}/steps/{stepId}/memo", stepHandler.Memo).Methods("PUT", "OPTIONS")

	staffRoutes.HandleFunc("/treatments", treatmentHandler.Catalogue).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/treatments/refresh", treatmentHandler.Refresh).Methods("POST", "OPTIONS")

	staffRoutes.HandleFunc("/billing/pending", billingHandler.Pending).Methods("GET", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		allowedMethods := os.Getenv("CORS_ALLOWED_METHODS")
		if allowedMethods == "" {
			allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
		}

		allowedHeaders := os.Getenv("CORS_ALLOWED_HEADERS")
		if allowedHeaders == "" {
			allowedHeaders = "Content-Type, Authorization"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
