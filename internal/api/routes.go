package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func SetupRoutes(router *mux.Router, handler *Handler) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
	v1.HandleFunc("/scheduler", handler.SchedulerStatus).Methods(http.MethodGet)
	v1.HandleFunc("/schedules/validate", handler.ValidateSchedule).Methods(http.MethodPost)

	v1.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", handler.CreateJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}", handler.GetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", handler.UpdateJob).Methods(http.MethodPut)
	v1.HandleFunc("/jobs/{id}", handler.DeleteJob).Methods(http.MethodDelete)
	v1.HandleFunc("/jobs/{id}/run", handler.RunJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/stop", handler.StopJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/executions", handler.ListJobExecutions).Methods(http.MethodGet)

	v1.HandleFunc("/executions", handler.ListExecutions).Methods(http.MethodGet)
}
