package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lettings_backend/platform/config"
)

const defaultElevenLabsAPIBase = "https://api.elevenlabs.io"

var errVoiceNotConfigured = errors.New("voice provider not configured")

// Client dials ElevenLabs conversational agent sessions.
type Client struct {
	apiKey     string
	agentID    string
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

var _ Dialer = (*Client)(nil)

// NewClient returns nil when the provider is not configured.
func NewClient(cfg config.VoiceConfig) *Client {
	if !cfg.IsVoiceEnabled() {
		return nil
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.GetElevenLabsAPIBaseURL()), "/")
	if base == "" {
		base = defaultElevenLabsAPIBase
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.GetElevenLabsAPIKey()),
		agentID:    strings.TrimSpace(cfg.GetElevenLabsAgentID()),
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

// SignedURL requests a short lived conversation URL so the API key never
// leaves this process.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	if c == nil {
		return "", errVoiceNotConfigured
	}
	endpoint := c.baseURL + "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(c.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs signed url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("elevenlabs signed url: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("elevenlabs signed url: decode: %w", err)
	}
	if payload.SignedURL == "" {
		return "", errors.New("elevenlabs signed url: empty url in response")
	}
	return payload.SignedURL, nil
}

// Dial opens a conversation and sends the initiation data. The returned
// conversation is live: the agent starts speaking as soon as audio flows.
func (c *Client) Dial(ctx context.Context, sc SessionContext) (Conn, error) {
	signed, err := c.SignedURL(ctx)
	if err != nil {
		return nil, err
	}

	ws, _, err := c.dialer.DialContext(ctx, signed, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs dial: %w", err)
	}

	conn := newConversation(ws)
	if err := conn.writeJSON(ctx, initiationMessage(sc)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("elevenlabs initiate: %w", err)
	}

	go conn.readLoop()
	return conn, nil
}

func initiationMessage(sc SessionContext) map[string]any {
	vars := make(map[string]string, len(sc.DynamicVariables))
	for k, v := range sc.DynamicVariables {
		vars[k] = v
	}
	return map[string]any{
		"type":              "conversation_initiation_client_data",
		"dynamic_variables": vars,
		"conversation_config_override": map[string]any{
			"agent": map[string]any{
				"prompt":        map[string]any{"prompt": sc.SystemPrompt},
				"first_message": sc.FirstMessage,
			},
		},
	}
}

type conversation struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	idMu    sync.RWMutex
	id      string

	events    chan Event
	ended     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newConversation(ws *websocket.Conn) *conversation {
	return &conversation{
		ws:     ws,
		events: make(chan Event, 256),
		ended:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *conversation) ConversationID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

func (c *conversation) Events() <-chan Event {
	return c.events
}

func (c *conversation) Done() <-chan struct{} {
	return c.ended
}

func (c *conversation) SendUserAudio(ctx context.Context, audioB64 string) error {
	return c.writeJSON(ctx, map[string]any{"user_audio_chunk": audioB64})
}

func (c *conversation) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
	return nil
}

type inboundMessage struct {
	Type                           string `json:"type"`
	ConversationInitiationMetadata struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event"`
	AudioEvent struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`
	PingEvent struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`
}

func (c *conversation) readLoop() {
	defer close(c.ended)
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var event *Event
		switch msg.Type {
		case "conversation_initiation_metadata":
			c.idMu.Lock()
			c.id = msg.ConversationInitiationMetadata.ConversationID
			c.idMu.Unlock()
		case "ping":
			_ = c.writeJSON(context.Background(), map[string]any{"type": "pong", "event_id": msg.PingEvent.EventID})
		case "audio":
			if msg.AudioEvent.AudioBase64 != "" {
				event = &Event{Type: EventAudio, Audio: msg.AudioEvent.AudioBase64}
			}
		case "interruption":
			event = &Event{Type: EventInterruption}
		}

		if event == nil {
			continue
		}
		select {
		case c.events <- *event:
		case <-c.closed:
			return
		}
	}
}

func (c *conversation) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	return c.ws.WriteJSON(payload)
}
