package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/leads/transport"
	"lettings_backend/internal/sessions"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/httpkit"
	"lettings_backend/platform/phone"
	"lettings_backend/platform/validator"
)

// Lifecycle is the lead orchestrator as seen by the HTTP layer.
type Lifecycle interface {
	CreateLead(ctx context.Context, in domain.Intake) (domain.Lead, error)
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	DeleteLead(ctx context.Context, id uuid.UUID) error
	PhaseInfo(ctx context.Context, leadID uuid.UUID) (domain.PhaseInfo, error)
	GetViewing(ctx context.Context, leadID uuid.UUID) (domain.PropertyViewing, error)
	ListCalls(ctx context.Context, leadID uuid.UUID) ([]domain.CallAttempt, error)
	PlaceCall(ctx context.Context, leadID uuid.UUID) (domain.CallAttempt, error)
	CancelSession(ctx context.Context, leadID uuid.UUID) (bool, error)

	GetCall(ctx context.Context, callID uuid.UUID) (domain.CallAttempt, error)
	FindCallByProviderSID(ctx context.Context, sid string) (domain.CallAttempt, error)
	ApplyEndOfCallUpdate(ctx context.Context, token string, update domain.EndOfCallUpdate) (domain.UpdateResult, error)
	HandleCallStatus(ctx context.Context, callID uuid.UUID, event domain.CallEvent, rawStatus string, durationSeconds *int) (domain.CallAttempt, error)
	AttachCall(ctx context.Context, callID uuid.UUID) (*sessions.Session, error)
	FinishCall(ctx context.Context, callID uuid.UUID)
	SessionContextForProviderCall(ctx context.Context, callSID string) (voice.SessionContext, error)
	HandlePostCall(ctx context.Context, payload voice.PostCallPayload) (*domain.UpdateResult, error)
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidLeadID    = "invalid lead id"
	msgInvalidCallID    = "invalid call id"

	roleAdmin = "admin"
)

// Handler serves the operator lead API.
type Handler struct {
	svc Lifecycle
	val *validator.Validator
}

func New(svc Lifecycle, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.DELETE("/:id", httpkit.RequireRole(roleAdmin), h.Delete)
	rg.GET("/:id/phase", h.GetPhase)
	rg.GET("/:id/viewing", h.GetViewing)
	rg.GET("/:id/calls", h.ListCalls)
	rg.POST("/:id/calls", h.PlaceCall)
	rg.DELETE("/:id/session", h.CancelSession)
}

func (h *Handler) Create(c *gin.Context) {
	createLead(c, h.svc, h.val)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	lead, err := h.svc.GetLead(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	if httpkit.HandleError(c, h.svc.DeleteLead(c.Request.Context(), id)) {
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) GetPhase(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	info, err := h.svc.PhaseInfo(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, info)
}

func (h *Handler) GetViewing(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	viewing, err := h.svc.GetViewing(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToViewingResponse(viewing))
}

func (h *Handler) ListCalls(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	calls, err := h.svc.ListCalls(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.CallResponse, 0, len(calls))
	for _, call := range calls {
		items = append(items, transport.ToCallResponse(call))
	}
	httpkit.OK(c, transport.CallListResponse{Items: items})
}

func (h *Handler) PlaceCall(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	call, err := h.svc.PlaceCall(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusAccepted, transport.ToCallResponse(call))
}

func (h *Handler) CancelSession(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id", msgInvalidLeadID)
	if !ok {
		return
	}

	cancelled, err := h.svc.CancelSession(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.CancelSessionResponse{Cancelled: cancelled})
}

func parseUUIDParam(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, message, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

// createLead validates an intake request and creates the lead.
func createLead(c *gin.Context, svc Lifecycle, val *validator.Validator) {
	var req transport.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := svc.CreateLead(c.Request.Context(), domain.Intake{
		Phone:           phone.NormalizeE164(req.Phone),
		Email:           req.Email,
		Postcode:        req.Postcode,
		PropertyAddress: req.PropertyAddress,
		Fields:          req.TrackedFields(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, transport.ToLeadResponse(lead))
}
