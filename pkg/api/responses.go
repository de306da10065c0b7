package api

import "github.com/loglens/loglens/pkg/environment"

// StatusResponse acknowledges an alert mutation.
type StatusResponse struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	Feedback string `json:"feedback,omitempty"`
}

// EnvironmentList is returned by GET /environments.
type EnvironmentList struct {
	Items []environment.Summary `json:"items"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one dependency's health.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
