package telephony

import (
	"net/url"
	"strconv"
	"strings"
)

// StatusCallback is a parsed Twilio call status callback.
type StatusCallback struct {
	CallSID    string
	CallStatus string
	Duration   *int
	AnsweredBy string
}

// ParseStatusCallback reads the callback form fields we use.
func ParseStatusCallback(form url.Values) StatusCallback {
	cb := StatusCallback{
		CallSID:    strings.TrimSpace(form.Get("CallSid")),
		CallStatus: strings.ToLower(strings.TrimSpace(form.Get("CallStatus"))),
		AnsweredBy: strings.TrimSpace(form.Get("AnsweredBy")),
	}
	if raw := form.Get("CallDuration"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			cb.Duration = &d
		}
	}
	return cb
}

// IsMachine reports whether answering machine detection flagged the callee.
func (cb StatusCallback) IsMachine() bool {
	return strings.HasPrefix(cb.AnsweredBy, "machine")
}
