package natsadapter_test

import (
	"encoding/json"
	"testing"
	"time"

	natsadapter "github.com/samirrijal/geoproof/internal/adapters/nats"
	"github.com/samirrijal/geoproof/internal/core/domain"
)

func TestEnvelope_FenceDriftKeepsIntegers(t *testing.T) {
	drift := &domain.FenceDrift{
		GeofenceID:      "fence-1",
		ContractAddress: "0x4ab",
		Registered:      domain.Polygon{{X: 60050000, Y: 30050000}, {X: -179999999, Y: -89999999}},
		OnChain:         domain.Polygon{{X: 1, Y: 2}},
		DetectedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := natsadapter.Encode(natsadapter.KindFenceDrift, drift)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got domain.FenceDrift
	if err := natsadapter.DecodeInto(data, natsadapter.KindFenceDrift, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Registered.Equal(drift.Registered) || !got.OnChain.Equal(drift.OnChain) {
		t.Errorf("polygons = %v / %v", got.Registered, got.OnChain)
	}
	if !got.DetectedAt.Equal(drift.DetectedAt) {
		t.Errorf("detected_at = %v", got.DetectedAt)
	}
}

func TestEnvelope_WrongKind(t *testing.T) {
	data, err := natsadapter.Encode(natsadapter.KindProofEvent, &domain.ProofEvent{Type: domain.EventAttemptStarted})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var req domain.ProofRequest
	if err := natsadapter.DecodeInto(data, natsadapter.KindProofRequest, &req); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestEnvelope_Garbage(t *testing.T) {
	if _, err := natsadapter.Decode([]byte{0xff, 0x01}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRenderJSON(t *testing.T) {
	data, err := natsadapter.Encode(natsadapter.KindProofEvent, &domain.ProofEvent{
		Type:       domain.EventProofVerified,
		AttemptID:  "a1",
		GeofenceID: "f1",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := natsadapter.RenderJSON(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var doc struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal %s: %v", out, err)
	}
	if doc.Kind != natsadapter.KindProofEvent || doc.Payload["type"] != "proof.verified" {
		t.Errorf("rendered = %s", out)
	}
}

func TestEventSubject(t *testing.T) {
	if got := natsadapter.EventSubject("f1", "a1"); got != "geoproof.events.f1.a1" {
		t.Errorf("subject = %s", got)
	}
	if got := natsadapter.EventSubject("", ""); got != "geoproof.events._._" {
		t.Errorf("subject = %s", got)
	}
}
