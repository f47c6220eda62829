// Package api exposes the orchestrator and the asynchronous task
// service over HTTP, with optional bearer-token authentication and
// Prometheus-style metrics.
package api
