// Package telephony places outbound calls through Twilio and speaks its
// webhook dialects: TwiML answers, request signatures and status callbacks.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"lettings_backend/platform/config"
	"lettings_backend/platform/logger"
	"lettings_backend/platform/phone"
)

const defaultTwilioAPIBase = "https://api.twilio.com"

var ErrNotConfigured = errors.New("telephony provider not configured")

// statusCallbackEvents are the progress events Twilio reports back to us.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// Client is a minimal Twilio REST client for outbound voice calls.
type Client struct {
	baseURL       string
	accountSID    string
	authToken     string
	fromNumber    string
	publicBaseURL string
	http          *http.Client
	log           *logger.Logger
}

// NewClient returns nil when telephony is not configured.
func NewClient(cfg config.TelephonyConfig, log *logger.Logger) *Client {
	if !cfg.IsTelephonyEnabled() {
		return nil
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.GetTwilioAPIBaseURL()), "/")
	if base == "" {
		base = defaultTwilioAPIBase
	}
	return &Client{
		baseURL:       base,
		accountSID:    cfg.GetTwilioAccountSID(),
		authToken:     cfg.GetTwilioAuthToken(),
		fromNumber:    cfg.GetTwilioFromNumber(),
		publicBaseURL: strings.TrimRight(cfg.GetPublicBaseURL(), "/"),
		http:          &http.Client{Timeout: 10 * time.Second},
		log:           log,
	}
}

// PlacedCall is the provider's view of a newly created call.
type PlacedCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall dials to and points Twilio at our answer and status webhooks for callID.
func (c *Client) PlaceCall(ctx context.Context, callID uuid.UUID, to string) (PlacedCall, error) {
	if c == nil {
		return PlacedCall{}, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", phone.NormalizeE164(to))
	form.Set("From", c.fromNumber)
	form.Set("Url", AnswerURL(c.publicBaseURL, callID))
	form.Set("Method", http.MethodPost)
	form.Set("StatusCallback", StatusURL(c.publicBaseURL, callID))
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, event := range statusCallbackEvents {
		form.Add("StatusCallbackEvent", event)
	}
	form.Set("MachineDetection", "Enable")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(c.accountSID))
	var placed PlacedCall
	if err := c.post(ctx, endpoint, form, &placed); err != nil {
		return PlacedCall{}, fmt.Errorf("place call: %w", err)
	}
	return placed, nil
}

// Hangup ends an in-progress call.
func (c *Client) Hangup(ctx context.Context, callSID string) error {
	if c == nil {
		return ErrNotConfigured
	}
	form := url.Values{}
	form.Set("Status", "completed")
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))
	if err := c.post(ctx, endpoint, form, nil); err != nil {
		return fmt.Errorf("hangup call: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio status %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("twilio status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode twilio response: %w", err)
	}
	return nil
}

// AnswerURL is the webhook Twilio fetches TwiML from once the call connects.
func AnswerURL(publicBaseURL string, callID uuid.UUID) string {
	return publicBaseURL + "/api/v1/telephony/answer?call_id=" + callID.String()
}

// StatusURL receives call progress callbacks.
func StatusURL(publicBaseURL string, callID uuid.UUID) string {
	return publicBaseURL + "/api/v1/telephony/status?call_id=" + callID.String()
}

// MediaStreamURL is the websocket Twilio streams call audio to.
func MediaStreamURL(publicBaseURL string, callID uuid.UUID) string {
	base := publicBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/telephony/media/" + callID.String()
}
