package natsadapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := EnsureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeProofRequests consumes the work queue. A request that cannot be
// decoded is terminated; a handler error is redelivered up to MaxDeliver.
func (s *Subscriber) SubscribeProofRequests(ctx context.Context, handler func(ctx context.Context, req *domain.ProofRequest) error) error {
	sub, err := s.js.QueueSubscribe(SubjectRequests+".>", "proof-workers", func(msg *nats.Msg) {
		var req domain.ProofRequest
		if err := DecodeInto(msg.Data, KindProofRequest, &req); err != nil {
			slog.Warn("dropping undecodable proof request", "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &req); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("proof-workers"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) SubscribeFenceDrift(ctx context.Context, handler func(ctx context.Context, drift *domain.FenceDrift) error) error {
	sub, err := s.js.Subscribe(SubjectAlerts, func(msg *nats.Msg) {
		var drift domain.FenceDrift
		if err := DecodeInto(msg.Data, KindFenceDrift, &drift); err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &drift); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("drift-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
