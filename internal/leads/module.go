// Package leads provides the lead lifecycle bounded context module.
// This file defines the module that encapsulates leads setup and route registration.
package leads

import (
	"time"

	"lettings_backend/internal/events"
	apphttp "lettings_backend/internal/http"
	"lettings_backend/internal/leads/handler"
	"lettings_backend/internal/leads/ports"
	"lettings_backend/internal/leads/repository"
	"lettings_backend/platform/config"
	"lettings_backend/platform/logger"
	"lettings_backend/platform/validator"
)

// handoffGrace is added to the establish timeout so a fallback dial can
// finish before the media stream gives up waiting.
const handoffGrace = 5 * time.Second

// ModuleConfig is the configuration the leads module reads.
type ModuleConfig interface {
	config.LeadsConfig
	config.TelephonyConfig
	config.WebhookConfig
	config.SessionPoolConfig
}

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	orchestrator *Orchestrator
	handler      *handler.Handler
	webhooks     *handler.WebhookHandler
	telephony    *handler.TelephonyHandler
	voice        *handler.VoiceHandler
}

// NewModule creates the lifecycle orchestrator and its HTTP handlers.
// Optional adapters (telephony, scheduler, archive, analyzer) are set on the
// orchestrator by the composition root.
func NewModule(store repository.Store, pool ports.SessionPool, persona ports.SessionContextBuilder, eventBus events.Bus, val *validator.Validator, cfg ModuleConfig, log *logger.Logger) *Module {
	orchestrator := NewOrchestrator(store, pool, persona, eventBus, Settings{
		AutoCall:       cfg.GetAutoCallNewLeads(),
		AutoCallDelay:  cfg.GetAutoCallDelay(),
		HandoffTimeout: cfg.GetSessionEstablishTimeout() + handoffGrace,
	}, log)

	return &Module{
		orchestrator: orchestrator,
		handler:      handler.New(orchestrator, val),
		webhooks:     handler.NewWebhookHandler(orchestrator, val),
		telephony:    handler.NewTelephonyHandler(orchestrator, cfg, log),
		voice:        handler.NewVoiceHandler(orchestrator, val, cfg, log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Orchestrator returns the lifecycle orchestrator for wiring adapters and workers.
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Operator.Group("/leads"))

	m.webhooks.RegisterRoutes(ctx.Webhooks)
	m.voice.RegisterSecretRoutes(ctx.Webhooks)

	m.voice.RegisterSignedRoutes(ctx.Public)
	m.telephony.RegisterRoutes(ctx.Public.Group("/telephony"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
