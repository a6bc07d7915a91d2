package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// Subscriber consumes lookup events from the JetStream stream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS with unlimited reconnects.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.Name("wayline-lookupstats"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// decodeLookup parses one message payload.
func decodeLookup(data []byte) (domain.LookupEvent, error) {
	var event domain.LookupEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("decode lookup event: %w", err)
	}
	if event.Kind == "" {
		return event, errors.New("decode lookup event: missing kind")
	}
	return event, nil
}

// SubscribeLookups delivers every lookup event to handler through a durable
// consumer. Undecodable payloads are terminated; handler errors are redelivered
// up to three times.
func (s *Subscriber) SubscribeLookups(ctx context.Context, durable string, handler func(ctx context.Context, event domain.LookupEvent) error) error {
	sub, err := s.js.Subscribe(lookupSubject+".>", func(msg *nats.Msg) {
		event, err := decodeLookup(msg.Data)
		if err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, event); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", lookupSubject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (s *Subscriber) IsConnected() bool {
	return s.conn.IsConnected()
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
