package natsadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// Subjects and streams.
const (
	SubjectEvents   = "geoproof.events"
	SubjectRequests = "geoproof.requests"
	SubjectAlerts   = "geoproof.alerts.drift"

	StreamEvents   = "PROOF_EVENTS"
	StreamRequests = "PROOF_REQUESTS"
	StreamAlerts   = "FENCE_ALERTS"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
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
	return &Publisher{conn: conn, js: js}, nil
}

// EnsureStreams creates or updates the geoproof streams.
func EnsureStreams(js nats.JetStreamManager) error {
	streams := []nats.StreamConfig{
		{
			Name:      StreamEvents,
			Subjects:  []string{SubjectEvents + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      StreamRequests,
			Subjects:  []string{SubjectRequests + ".>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      StreamAlerts,
			Subjects:  []string{"geoproof.alerts.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishProofEvent publishes on geoproof.events.<geofence>.<attempt>.
func (p *Publisher) PublishProofEvent(ctx context.Context, event *domain.ProofEvent) error {
	data, err := Encode(KindProofEvent, event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(EventSubject(event.GeofenceID, event.AttemptID), data, nats.Context(ctx))
	return err
}

// PublishProofRequest queues a request for the proving workers. The attempt
// id doubles as the message id so a retried enqueue is deduplicated.
func (p *Publisher) PublishProofRequest(ctx context.Context, req *domain.ProofRequest) error {
	data, err := Encode(KindProofRequest, req)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectRequests+"."+req.GeofenceID, data, nats.Context(ctx), nats.MsgId(req.AttemptID))
	return err
}

func (p *Publisher) PublishFenceDrift(ctx context.Context, drift *domain.FenceDrift) error {
	data, err := Encode(KindFenceDrift, drift)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectAlerts, data, nats.Context(ctx))
	return err
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// EventSubject is the subject proof events for one attempt are published on.
func EventSubject(geofenceID, attemptID string) string {
	if geofenceID == "" {
		geofenceID = "_"
	}
	if attemptID == "" {
		attemptID = "_"
	}
	return SubjectEvents + "." + geofenceID + "." + attemptID
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("geoproof"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
