package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/leads/transport"
	"lettings_backend/platform/httpkit"
	"lettings_backend/platform/validator"
)

// WebhookHandler serves machine-to-machine endpoints authenticated by the
// shared webhook secret: lead intake and the agent's end-of-call report.
type WebhookHandler struct {
	svc Lifecycle
	val *validator.Validator
}

func NewWebhookHandler(svc Lifecycle, val *validator.Validator) *WebhookHandler {
	return &WebhookHandler{svc: svc, val: val}
}

func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/leads", h.CreateLead)
	rg.POST("/calls/:callId/end-of-call", h.EndOfCall)
}

func (h *WebhookHandler) CreateLead(c *gin.Context) {
	createLead(c, h.svc, h.val)
}

// EndOfCall applies the agent's batch update. Redeliveries with the same
// token answer 200 with the stored result.
func (h *WebhookHandler) EndOfCall(c *gin.Context) {
	callID, ok := parseUUIDParam(c, "callId", msgInvalidCallID)
	if !ok {
		return
	}

	var req transport.EndOfCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	if v, ok := req.Values[string(domain.FieldContractLength)]; ok {
		if err := h.val.Var(v, transport.ContractLengthTag); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "contract_length: "+err.Error())
			return
		}
	}

	call, err := h.svc.GetCall(c.Request.Context(), callID)
	if httpkit.HandleError(c, err) {
		return
	}
	if call.IdempotencyToken != req.IdempotencyToken {
		httpkit.Error(c, http.StatusNotFound, "unknown call token", nil)
		return
	}

	result, err := h.svc.ApplyEndOfCallUpdate(c.Request.Context(), req.IdempotencyToken, req.Update())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}
