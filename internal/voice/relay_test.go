package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	in     chan MediaFrame
	mu     sync.Mutex
	out    []map[string]any
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan MediaFrame, 8), closed: make(chan struct{})}
}

func (s *fakeStream) ReadJSON(v any) error {
	select {
	case frame, ok := <-s.in:
		if !ok {
			return io.EOF
		}
		*(v.(*MediaFrame)) = frame
		return nil
	case <-s.closed:
		return io.EOF
	}
}

func (s *fakeStream) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, v.(map[string]any))
	return nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) written() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.out...)
}

type fakeConn struct {
	events chan Event
	mu     sync.Mutex
	audio  []string
}

func (c *fakeConn) ConversationID() string { return "conv" }
func (c *fakeConn) Events() <-chan Event   { return c.events }
func (c *fakeConn) Done() <-chan struct{}  { return nil }
func (c *fakeConn) Close() error           { return nil }
func (c *fakeConn) SendUserAudio(_ context.Context, b64 string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, b64)
	return nil
}

func TestRelayPipesAudioBothWays(t *testing.T) {
	stream := newFakeStream()
	conn := &fakeConn{events: make(chan Event, 4)}

	stream.in <- MediaFrame{Event: "connected"}
	stream.in <- MediaFrame{Event: "start", Start: &StreamStart{StreamSID: "MZ1"}}
	stream.in <- MediaFrame{Event: "media", Media: &MediaChunk{Payload: "caller"}}
	conn.events <- Event{Type: EventAudio, Audio: "agent"}
	conn.events <- Event{Type: EventInterruption}

	done := make(chan error, 1)
	go func() { done <- Relay(context.Background(), stream, conn, nil) }()

	deadline := time.After(2 * time.Second)
	for len(stream.written()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for agent audio")
		case <-time.After(10 * time.Millisecond):
		}
	}
	stream.in <- MediaFrame{Event: "stop"}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}

	out := stream.written()
	if out[0]["event"] != "media" || out[0]["streamSid"] != "MZ1" {
		t.Fatalf("unexpected media frame: %v", out[0])
	}
	if out[1]["event"] != "clear" {
		t.Fatalf("expected clear frame, got %v", out[1])
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.audio) != 1 || conn.audio[0] != "caller" {
		t.Fatalf("unexpected caller audio: %v", conn.audio)
	}
}

func TestRelayStopsWhenAgentHangsUp(t *testing.T) {
	stream := newFakeStream()
	conn := &fakeConn{events: make(chan Event)}
	stream.in <- MediaFrame{Event: "start", StreamSID: "MZ2"}
	close(conn.events)

	err := Relay(context.Background(), stream, conn, nil)
	if err != nil && !errors.Is(err, errStreamStopped) {
		t.Fatalf("unexpected error: %v", err)
	}
}
