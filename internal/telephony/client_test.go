package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type telephonyConfig struct {
	base string
}

func (c telephonyConfig) GetTwilioAccountSID() string       { return "AC123" }
func (c telephonyConfig) GetTwilioAuthToken() string        { return "secret" }
func (c telephonyConfig) GetTwilioFromNumber() string       { return "+441234567890" }
func (c telephonyConfig) GetTwilioAPIBaseURL() string       { return c.base }
func (c telephonyConfig) GetTwilioValidateSignatures() bool { return true }
func (c telephonyConfig) GetPublicBaseURL() string          { return "https://calls.example.com" }
func (c telephonyConfig) IsTelephonyEnabled() bool          { return true }

type disabledConfig struct{ telephonyConfig }

func (disabledConfig) IsTelephonyEnabled() bool { return false }

func TestPlaceCall(t *testing.T) {
	callID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("unexpected basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("To") != "+447400123456" {
			t.Errorf("unexpected To %q", r.PostForm.Get("To"))
		}
		if r.PostForm.Get("Url") != "https://calls.example.com/api/v1/telephony/answer?call_id="+callID.String() {
			t.Errorf("unexpected Url %q", r.PostForm.Get("Url"))
		}
		if got := r.PostForm["StatusCallbackEvent"]; len(got) != 4 {
			t.Errorf("unexpected status callback events %v", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued"}`))
	}))
	defer srv.Close()

	client := NewClient(telephonyConfig{base: srv.URL}, nil)
	placed, err := client.PlaceCall(context.Background(), callID, "07400 123456")
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if placed.SID != "CA42" || placed.Status != "queued" {
		t.Fatalf("unexpected placed call: %+v", placed)
	}
}

func TestPlaceCallSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	client := NewClient(telephonyConfig{base: srv.URL}, nil)
	_, err := client.PlaceCall(context.Background(), uuid.New(), "+447400123456")
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestNewClientDisabled(t *testing.T) {
	client := NewClient(disabledConfig{}, nil)
	if client != nil {
		t.Fatalf("expected nil client when telephony is disabled")
	}
	if _, err := client.PlaceCall(context.Background(), uuid.New(), "+447400123456"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestMediaStreamURL(t *testing.T) {
	id := uuid.New()
	if got := MediaStreamURL("https://calls.example.com", id); got != "wss://calls.example.com/api/v1/telephony/media/"+id.String() {
		t.Fatalf("unexpected stream url %q", got)
	}
	if got := MediaStreamURL("http://localhost:8080", id); !strings.HasPrefix(got, "ws://localhost:8080/") {
		t.Fatalf("unexpected stream url %q", got)
	}
}
