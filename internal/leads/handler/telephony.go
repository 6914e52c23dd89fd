package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/telephony"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/apperr"
	"lettings_backend/platform/config"
	"lettings_backend/platform/httpkit"
	"lettings_backend/platform/logger"
)

const unavailableMessage = "Sorry, we cannot connect this call right now. Goodbye."

// providerEvents maps provider call statuses onto call events. Statuses not
// listed carry no progress.
var providerEvents = map[string]domain.CallEvent{
	"ringing":     domain.CallEventRinging,
	"in-progress": domain.CallEventAnswered,
	"answered":    domain.CallEventAnswered,
	"completed":   domain.CallEventCompleted,
	"busy":        domain.CallEventFailed,
	"failed":      domain.CallEventFailed,
	"no-answer":   domain.CallEventFailed,
	"canceled":    domain.CallEventFailed,
}

// CallEventFor maps a provider status to a call event.
func CallEventFor(status string) (domain.CallEvent, bool) {
	event, ok := providerEvents[strings.ToLower(strings.TrimSpace(status))]
	return event, ok
}

// TelephonyHandler serves the telephony provider's call webhooks and the
// media stream websocket.
type TelephonyHandler struct {
	svc      Lifecycle
	cfg      config.TelephonyConfig
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewTelephonyHandler(svc Lifecycle, cfg config.TelephonyConfig, log *logger.Logger) *TelephonyHandler {
	return &TelephonyHandler{
		svc: svc,
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the provider connects server to server without an Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *TelephonyHandler) RegisterRoutes(rg *gin.RouterGroup) {
	signed := rg.Group("", h.verifySignature())
	signed.POST("/answer", h.Answer)
	signed.POST("/status", h.Status)
	rg.GET("/media/:callId", h.Media)
}

// verifySignature rejects form posts not signed with the account auth token.
func (h *TelephonyHandler) verifySignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.cfg.GetTwilioValidateSignatures() {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			c.Abort()
			return
		}
		fullURL := h.cfg.GetPublicBaseURL() + c.Request.URL.RequestURI()
		signature := c.GetHeader(telephony.SignatureHeader)
		if !telephony.ValidSignature(h.cfg.GetTwilioAuthToken(), fullURL, c.Request.PostForm, signature) {
			h.log.WebhookRejected("telephony", c.Request.URL.Path, "signature mismatch", c.ClientIP())
			httpkit.Error(c, http.StatusForbidden, "invalid signature", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Answer returns TwiML connecting the answered call to the media stream.
func (h *TelephonyHandler) Answer(c *gin.Context) {
	callID, err := uuid.Parse(c.Query("call_id"))
	if err != nil {
		h.hangup(c, "missing call id")
		return
	}

	call, err := h.svc.GetCall(c.Request.Context(), callID)
	if err != nil {
		h.hangup(c, err.Error())
		return
	}
	if call.Status.IsFinal() {
		h.hangup(c, "call already ended")
		return
	}

	twiml, err := telephony.ConnectStream(
		telephony.MediaStreamURL(h.cfg.GetPublicBaseURL(), call.ID),
		map[string]string{"call_id": call.ID.String(), "lead_id": call.LeadID.String()},
		"call_id", "lead_id",
	)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to render answer", err))
		return
	}
	c.Data(http.StatusOK, "application/xml", twiml)
}

func (h *TelephonyHandler) hangup(c *gin.Context, reason string) {
	h.log.Warn("answer webhook hanging up", "reason", reason, "call_id", c.Query("call_id"))
	twiml, err := telephony.SayAndHangup(unavailableMessage)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml", twiml)
}

// Status applies a call progress callback.
func (h *TelephonyHandler) Status(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	cb := telephony.ParseStatusCallback(c.Request.PostForm)
	ctx := c.Request.Context()

	var (
		call domain.CallAttempt
		err  error
	)
	if callID, parseErr := uuid.Parse(c.Query("call_id")); parseErr == nil {
		call, err = h.svc.GetCall(ctx, callID)
	} else {
		call, err = h.svc.FindCallByProviderSID(ctx, cb.CallSID)
	}
	if httpkit.HandleError(c, err) {
		return
	}

	event, ok := CallEventFor(cb.CallStatus)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	raw := cb.CallStatus
	if event == domain.CallEventAnswered && cb.IsMachine() {
		// voicemail gets no agent
		event = domain.CallEventFailed
		raw = "machine:" + cb.AnsweredBy
	}

	_, err = h.svc.HandleCallStatus(ctx, call.ID, event, raw, cb.Duration)
	if apperr.Is(err, apperr.KindConflict) {
		h.log.Info("late call status ignored", "call_id", call.ID.String(), "status", cb.CallStatus)
		c.Status(http.StatusNoContent)
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// Media bridges the call's audio stream to its voice session until either
// side hangs up.
func (h *TelephonyHandler) Media(c *gin.Context) {
	callID, ok := parseUUIDParam(c, "callId", msgInvalidCallID)
	if !ok {
		return
	}

	session, err := h.svc.AttachCall(c.Request.Context(), callID)
	if httpkit.HandleError(c, err) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("media stream upgrade failed", "call_id", callID.String(), "error", err)
		h.svc.FinishCall(context.WithoutCancel(c.Request.Context()), callID)
		return
	}

	ctx := context.WithValue(c.Request.Context(), logger.CallIDKey, callID.String())
	log := h.log.WithContext(ctx)
	log.Info("media stream connected", "session_id", session.ID.String())

	_ = voice.Relay(ctx, conn, session.Conn(), log)
	h.svc.FinishCall(context.WithoutCancel(ctx), callID)
	log.Info("media stream closed")
}
