package voice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the post-call webhook signature.
const SignatureHeader = "ElevenLabs-Signature"

const signatureTolerance = 30 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// VerifySignature checks a "t=<unix>,v0=<hex hmac>" header against body.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var timestamp, digest string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v0":
			digest = value
		}
	}
	if timestamp == "" || digest == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.Unix(unix, 0)
	if now.Sub(signedAt) > signatureTolerance || signedAt.Sub(now) > signatureTolerance {
		return ErrStaleSignature
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(digest)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex digest for timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// PostCallPayload is the subset of the post-call transcription webhook we use.
type PostCallPayload struct {
	Type string       `json:"type"`
	Data PostCallData `json:"data"`
}

type PostCallData struct {
	AgentID        string           `json:"agent_id"`
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Transcript     []TranscriptTurn `json:"transcript"`
	Metadata       struct {
		CallDurationSecs int `json:"call_duration_secs"`
	} `json:"metadata"`
	ConversationInitiationClientData struct {
		DynamicVariables map[string]any `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data"`
}

// TranscriptTurn is one utterance.
type TranscriptTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Variable returns a dynamic variable as a string.
func (d PostCallData) Variable(name string) string {
	v, ok := d.ConversationInitiationClientData.DynamicVariables[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// TranscriptText renders the transcript as "role: message" lines.
func (d PostCallData) TranscriptText() string {
	var b strings.Builder
	for _, turn := range d.Transcript {
		if strings.TrimSpace(turn.Message) == "" {
			continue
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(turn.Message))
		b.WriteString("\n")
	}
	return b.String()
}
