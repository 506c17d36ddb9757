// Package server implements the HTTP transport for the radio broadcast: the
// live chunked stream endpoint plus monitoring and management endpoints
// (status, health, stats, config, Prometheus metrics).
package server
