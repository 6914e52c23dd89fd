package voice

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"lettings_backend/platform/logger"
)

// MediaStream is the telephony side of a call's audio, a websocket carrying
// provider media frames.
type MediaStream interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// MediaFrame is a single telephony media stream message.
type MediaFrame struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *StreamStart `json:"start,omitempty"`
	Media     *MediaChunk  `json:"media,omitempty"`
}

// StreamStart carries the custom parameters set in the answer TwiML.
type StreamStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaChunk is base64 mu-law audio.
type MediaChunk struct {
	Payload string `json:"payload"`
}

var errStreamStopped = errors.New("media stream stopped")

// Relay pipes caller audio to the agent and agent audio back to the caller
// until either side ends. It closes the media stream but not conn.
func Relay(ctx context.Context, stream MediaStream, conn Conn, log *logger.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	streamSID := make(chan string, 1)

	g.Go(func() error {
		defer func() { _ = stream.Close() }()
		<-gctx.Done()
		return nil
	})

	// caller -> agent
	g.Go(func() error {
		for {
			var frame MediaFrame
			if err := stream.ReadJSON(&frame); err != nil {
				return errStreamStopped
			}
			switch frame.Event {
			case "start":
				sid := frame.StreamSID
				if sid == "" && frame.Start != nil {
					sid = frame.Start.StreamSID
				}
				select {
				case streamSID <- sid:
				default:
				}
			case "media":
				if frame.Media == nil || frame.Media.Payload == "" {
					continue
				}
				if err := conn.SendUserAudio(gctx, frame.Media.Payload); err != nil {
					return err
				}
			case "stop":
				return errStreamStopped
			}
		}
	})

	// agent -> caller
	g.Go(func() error {
		var sid string
		select {
		case sid = <-streamSID:
		case <-gctx.Done():
			return nil
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case event, ok := <-conn.Events():
				if !ok {
					return errStreamStopped
				}
				var out map[string]any
				switch event.Type {
				case EventAudio:
					out = map[string]any{"event": "media", "streamSid": sid, "media": map[string]string{"payload": event.Audio}}
				case EventInterruption:
					out = map[string]any{"event": "clear", "streamSid": sid}
				default:
					continue
				}
				if err := stream.WriteJSON(out); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, errStreamStopped) {
		return nil
	}
	if err != nil && log != nil {
		log.WithContext(ctx).Warn("media relay ended with error", "error", err)
	}
	return err
}
