package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lettings_backend/internal/leads/transport"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/config"
	"lettings_backend/platform/httpkit"
	"lettings_backend/platform/logger"
	"lettings_backend/platform/validator"
)

const maxPostCallBody = 5 << 20

// VoiceHandler serves the voice provider's webhooks.
type VoiceHandler struct {
	svc Lifecycle
	val *validator.Validator
	cfg config.WebhookConfig
	log *logger.Logger
	now func() time.Time
}

func NewVoiceHandler(svc Lifecycle, val *validator.Validator, cfg config.WebhookConfig, log *logger.Logger) *VoiceHandler {
	return &VoiceHandler{svc: svc, val: val, cfg: cfg, log: log, now: time.Now}
}

// RegisterSecretRoutes mounts endpoints guarded by the shared webhook secret.
func (h *VoiceHandler) RegisterSecretRoutes(rg *gin.RouterGroup) {
	rg.POST("/voice/personalization", h.Personalization)
}

// RegisterSignedRoutes mounts endpoints that verify the provider's HMAC.
func (h *VoiceHandler) RegisterSignedRoutes(rg *gin.RouterGroup) {
	rg.POST("/voice/post-call", h.PostCall)
}

// Personalization returns the conversation setup for a provider call.
func (h *VoiceHandler) Personalization(c *gin.Context) {
	var req transport.PersonalizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	sc, err := h.svc.SessionContextForProviderCall(c.Request.Context(), req.CallSID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.PersonalizationResponse{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: sc.DynamicVariables,
		ConversationConfigOverride: transport.ConversationConfigOverride{
			Agent: transport.AgentOverride{
				Prompt:       transport.PromptOverride{Prompt: sc.SystemPrompt},
				FirstMessage: sc.FirstMessage,
			},
		},
	})
}

// PostCall archives and applies a finished conversation.
func (h *VoiceHandler) PostCall(c *gin.Context) {
	secret := h.cfg.GetElevenLabsWebhookSecret()
	if secret == "" {
		httpkit.Error(c, http.StatusServiceUnavailable, "post-call webhook not configured", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPostCallBody))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := voice.VerifySignature(secret, c.GetHeader(voice.SignatureHeader), body, h.now()); err != nil {
		reason := "signature mismatch"
		if errors.Is(err, voice.ErrStaleSignature) {
			reason = "stale signature"
		}
		h.log.WebhookRejected("voice", c.Request.URL.Path, reason, c.ClientIP())
		httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var payload voice.PostCallPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	result, err := h.svc.HandlePostCall(c.Request.Context(), payload)
	if httpkit.HandleError(c, err) {
		return
	}
	if result == nil {
		httpkit.OK(c, gin.H{"status": "received"})
		return
	}
	httpkit.OK(c, gin.H{"status": "applied", "result": result})
}
