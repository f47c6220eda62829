// Package task implements the asynchronous query pipeline: durable task
// records, a pluggable queue (memory, Redis, RabbitMQ), a submission
// service and a worker-pool processor that drives the orchestrator.
package task
