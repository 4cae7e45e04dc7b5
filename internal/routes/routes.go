package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/quantello/marketsync/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(auth *handlers.AuthHandler, job *handlers.JobHandler, notif *handlers.NotificationHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Authenticated API
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	api.HandleFunc("/jobs/{jobName}/run", job.RunJob).Methods(http.MethodPost)
	api.HandleFunc("/runs", job.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runID}", job.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/heartbeats", job.ListHeartbeats).Methods(http.MethodGet)

	api.HandleFunc("/notifications", notif.ListRecent).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notif.MarkRead).Methods(http.MethodPost)

	return router
}
