// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"lettings_backend/internal/events"
	"lettings_backend/platform/config"
	"lettings_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	config.WebhookConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatsProvider reports component state on the readiness endpoint.
type StatsProvider interface {
	Stats() any
}

// StatsFunc adapts a function to StatsProvider.
type StatsFunc func() any

func (f StatsFunc) Stats() any { return f() }

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration (HTTP, JWT and webhook settings).
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness/health checks (e.g., DB ping).
	Health HealthChecker
	// Stats are reported by /readyz, keyed by component name.
	Stats map[string]StatsProvider
	// EventBus is the domain event bus for cross-module communication.
	EventBus events.Bus
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
