package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type voiceConfig struct{ base string }

func (c voiceConfig) GetElevenLabsAPIKey() string     { return "xi-test" }
func (c voiceConfig) GetElevenLabsAgentID() string    { return "agent_1" }
func (c voiceConfig) GetElevenLabsAPIBaseURL() string { return c.base }
func (c voiceConfig) IsVoiceEnabled() bool            { return true }

func TestClientDialInitiatesConversation(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	initiation := make(chan map[string]any, 1)
	pong := make(chan map[string]any, 1)
	userAudio := make(chan map[string]any, 1)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/convai/conversation/get_signed_url":
			if r.Header.Get("xi-api-key") != "xi-test" || r.URL.Query().Get("agent_id") != "agent_1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"signed_url": "ws" + strings.TrimPrefix(srv.URL, "http") + "/convai",
			})
		case "/convai":
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			initiation <- msg

			_ = conn.WriteJSON(map[string]any{
				"type": "conversation_initiation_metadata",
				"conversation_initiation_metadata_event": map[string]any{"conversation_id": "conv_1"},
			})
			_ = conn.WriteJSON(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 7}})
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			pong <- msg
			_ = conn.WriteJSON(map[string]any{"type": "audio", "audio_event": map[string]any{"audio_base_64": "AAEC"}})
			_ = conn.WriteJSON(map[string]any{"type": "interruption"})
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			userAudio <- msg
			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
			_, _, _ = conn.ReadMessage()
		}
	}))
	defer srv.Close()

	client := NewClient(voiceConfig{base: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx, SessionContext{
		DynamicVariables: map[string]string{"customer_name": "Jane"},
		SystemPrompt:     "be nice",
		FirstMessage:     "hello",
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := <-initiation
	if msg["type"] != "conversation_initiation_client_data" {
		t.Fatalf("unexpected initiation: %v", msg)
	}
	vars := msg["dynamic_variables"].(map[string]any)
	if vars["customer_name"] != "Jane" {
		t.Fatalf("unexpected dynamic variables: %v", vars)
	}

	reply := <-pong
	if reply["type"] != "pong" || reply["event_id"].(float64) != 7 {
		t.Fatalf("unexpected pong: %v", reply)
	}

	audio := <-conn.Events()
	if audio.Type != EventAudio || audio.Audio != "AAEC" {
		t.Fatalf("unexpected audio event: %+v", audio)
	}
	if ev := <-conn.Events(); ev.Type != EventInterruption {
		t.Fatalf("expected interruption, got %+v", ev)
	}
	if conn.ConversationID() != "conv_1" {
		t.Fatalf("expected conversation id, got %q", conn.ConversationID())
	}

	if err := conn.SendUserAudio(ctx, "AQID"); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if got := <-userAudio; got["user_audio_chunk"] != "AQID" {
		t.Fatalf("unexpected user audio: %v", got)
	}
}

func TestClientSignedURLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	client := NewClient(voiceConfig{base: srv.URL})
	if _, err := client.SignedURL(context.Background()); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}
