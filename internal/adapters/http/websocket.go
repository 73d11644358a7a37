package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/geoproof/internal/adapters/nats"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/location"
	"github.com/samirrijal/geoproof/internal/pkg/metrics"
)

const (
	// readings older than this are not used for a proof; the handler waits
	// for a fresh fix instead
	readingMaxAge = 30 * time.Second
	fixTimeout    = 15 * time.Second
	proveTimeout  = 2 * time.Minute
)

// wsMessage is sent from the client.
type wsMessage struct {
	Action      string                  `json:"action"`      // subscribe | unsubscribe | reading | fault | prove
	Channel     string                  `json:"channel"`     // proofs | drift (default: proofs)
	GeofenceID  string                  `json:"geofence_id"` // proofs filter, or the fence to prove against
	Reading     *domain.LocationReading `json:"reading,omitempty"`
	Fault       string                  `json:"fault,omitempty"` // permission_denied | position_unavailable | timeout
	ClaimInside bool                    `json:"claim_inside"`
	Submit      bool                    `json:"submit"`
}

var sensorFaults = map[string]error{
	"permission_denied":    location.ErrPermissionDenied,
	"position_unavailable": location.ErrPositionUnavailable,
	"timeout":              location.ErrTimeout,
}

// WebSocketHandler returns a handler that upgrades to WebSocket. A client
// streams its GPS readings over the socket, asks for proofs against the
// latest fix and receives proof events relayed from NATS.
//
//	{"action":"subscribe","channel":"proofs","geofence_id":"..."}
//	{"action":"reading","reading":{"point":{"lat":30.3,"lon":60.06},"accuracy_m":8}}
//	{"action":"prove","geofence_id":"...","claim_inside":true,"submit":true}
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		remoteAddr := c.RemoteAddr().String()
		log := slog.With("remote", remoteAddr)
		log.Info("ws client connected")
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		writeRaw := func(data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			return writeRaw(data)
		}

		// sensor stream for this connection
		sensor, err := newSensorSession(ctx, func(err error) {
			_ = writeJSON(map[string]string{"type": "sensor_fault", "error": err.Error()})
		})
		if err != nil {
			log.Error("ws sensor subscribe", "error", err)
			return
		}
		defer sensor.Stop()

		subs := make(map[string]*nats.Subscription) // subject -> subscription
		relay := func(msg *nats.Msg) {
			data, err := natsadapter.RenderJSON(msg.Data)
			if err != nil {
				log.Warn("ws relay decode", "subject", msg.Subject, "error", err)
				return
			}
			_ = writeRaw(data)
		}
		subscribe := func(subject string) error {
			if deps.NATS == nil {
				return nats.ErrConnectionClosed
			}
			if _, exists := subs[subject]; exists {
				return nil
			}
			s, err := deps.NATS.Subscribe(subject, relay)
			if err != nil {
				return err
			}
			subs[subject] = s
			return nil
		}

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		var proving sync.WaitGroup
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}

			switch m.Action {
			case "subscribe", "unsubscribe":
				subject, ok := wsSubject(m.Channel, m.GeofenceID)
				if !ok {
					_ = writeJSON(map[string]string{"error": "unknown channel: " + m.Channel})
					continue
				}
				if m.Action == "subscribe" {
					if err := subscribe(subject); err != nil {
						_ = writeJSON(map[string]string{"error": "subscribe failed: " + err.Error()})
						continue
					}
					_ = writeJSON(map[string]string{"status": "subscribed", "subject": subject})
					continue
				}
				if s, exists := subs[subject]; exists {
					_ = s.Unsubscribe()
					delete(subs, subject)
					_ = writeJSON(map[string]string{"status": "unsubscribed", "subject": subject})
				} else {
					_ = writeJSON(map[string]string{"error": "not subscribed to " + subject})
				}

			case "reading":
				if m.Reading == nil {
					_ = writeJSON(map[string]string{"error": "reading is required"})
					continue
				}
				r := *m.Reading
				if r.Timestamp.IsZero() {
					r.Timestamp = time.Now().UTC()
				}
				sensor.Push(r)

			case "fault":
				fault, ok := sensorFaults[m.Fault]
				if !ok {
					_ = writeJSON(map[string]string{"error": "unknown fault: " + m.Fault})
					continue
				}
				if err := sensor.Fail(fault); err != nil {
					log.Error("ws sensor reset", "error", err)
					_ = writeJSON(map[string]string{"error": "sensor reset failed: " + err.Error()})
				}

			case "prove":
				if m.GeofenceID == "" {
					_ = writeJSON(map[string]string{"error": "geofence_id is required"})
					continue
				}
				if deps.Proofs == nil {
					_ = writeJSON(map[string]string{"error": "proving unavailable"})
					continue
				}
				// follow the attempt's events as they are published
				_ = subscribe(natsadapter.EventSubject(m.GeofenceID, "*"))

				cached := sensor.Fresh(readingMaxAge)
				feed := sensor.Feed()

				proving.Add(1)
				go func(m wsMessage) {
					defer proving.Done()
					pctx, pcancel := context.WithTimeout(ctx, proveTimeout)
					defer pcancel()

					var reading domain.LocationReading
					if cached != nil {
						reading = *cached
					} else {
						r, err := location.Next(pctx, feed, fixTimeout)
						if err != nil {
							_ = writeJSON(proofErrorMessage(err))
							return
						}
						reading = r
					}

					result, err := deps.Proofs.Prove(pctx, domain.ProofRequest{
						GeofenceID:  m.GeofenceID,
						Reading:     reading,
						ClaimInside: m.ClaimInside,
						Submit:      m.Submit,
					})
					if err != nil {
						_ = writeJSON(proofErrorMessage(err))
						return
					}
					_ = writeJSON(map[string]interface{}{"type": "proof_result", "result": result})
				}(m)

			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
			}
		}

		// Cleanup
		cancel()
		close(done)
		proving.Wait()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		log.Info("ws client disconnected")
	}
}

// wsSubject maps a client channel onto the NATS subject it relays.
func wsSubject(channel, geofenceID string) (string, bool) {
	switch channel {
	case "", "proofs":
		if geofenceID != "" {
			return natsadapter.SubjectEvents + "." + geofenceID + ".>", true
		}
		return natsadapter.SubjectEvents + ".>", true
	case "drift":
		return natsadapter.SubjectAlerts, true
	}
	return "", false
}

func proofErrorMessage(err error) map[string]string {
	return map[string]string{
		"type":     "proof_error",
		"stage":    string(domain.StageOf(err)),
		"category": string(domain.CategoryOf(err)),
		"error":    err.Error(),
	}
}
