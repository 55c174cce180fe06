package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSSource forwards every message published on a NATS subject. When a
// message carries a reply subject the source answers with the Response.
type NATSSource struct {
	nc      *nats.Conn
	subject string
	sink    Sink
	log     *slog.Logger
}

func NewNATSSource(nc *nats.Conn, subject string, sink Sink, log *slog.Logger) *NATSSource {
	return &NATSSource{
		nc:      nc,
		subject: subject,
		sink:    sink,
		log:     log.With("component", "ingress.nats", "subject", subject),
	}
}

// Run subscribes and serves messages until ctx is done.
func (s *NATSSource) Run(ctx context.Context) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		s.onMsg(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", s.subject, err)
	}
	s.log.Info("subscribed")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		s.log.Debug("unsubscribe", "error", err)
	}
	return nil
}

func (s *NATSSource) onMsg(ctx context.Context, msg *nats.Msg) {
	reply := s.handle(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.log.Warn("reply failed", "reply", msg.Reply, "error", err)
	}
}

// handle dispatches one message and returns the encoded Response.
func (s *NATSSource) handle(ctx context.Context, data []byte) []byte {
	resp, err := Dispatch(ctx, s.sink, data)
	if err != nil {
		s.log.Warn("message dropped", "room", resp.Room, "event", resp.Event, "error", err)
		resp = Response{Room: resp.Room, Event: resp.Event, Error: err.Error()}
	}
	out, _ := json.Marshal(resp)
	return out
}
