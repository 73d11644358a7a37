package natsadapter

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message kinds carried in the envelope.
const (
	KindProofEvent   = "proof_event"
	KindProofRequest = "proof_request"
	KindFenceDrift   = "fence_drift"
)

// Envelope is the decoded form of a message on any geoproof subject.
type Envelope struct {
	Kind    string
	SentAt  time.Time
	Payload *structpb.Struct
}

// Encode wraps v in a structpb envelope and serialises it as protobuf.
func Encode(kind string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":    structpb.NewStringValue(kind),
		"sent_at": structpb.NewStringValue(time.Now().UTC().Format(time.RFC3339Nano)),
		"payload": structpb.NewStructValue(payload),
	}}
	return proto.Marshal(env)
}

// Decode parses an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	out := &Envelope{Kind: env.Fields["kind"].GetStringValue()}
	if ts := env.Fields["sent_at"].GetStringValue(); ts != "" {
		out.SentAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	out.Payload = env.Fields["payload"].GetStructValue()
	if out.Kind == "" || out.Payload == nil {
		return nil, fmt.Errorf("decode envelope: missing kind or payload")
	}
	return out, nil
}

// DecodeInto parses an envelope of the given kind into v.
func DecodeInto(data []byte, kind string, v any) error {
	env, err := Decode(data)
	if err != nil {
		return err
	}
	if env.Kind != kind {
		return fmt.Errorf("decode envelope: got %s, want %s", env.Kind, kind)
	}
	// AsMap keeps integers printable without exponents when re-encoded.
	raw, err := json.Marshal(env.Payload.AsMap())
	if err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return json.Unmarshal(raw, v)
}

// RenderJSON turns an envelope into JSON for websocket clients.
func RenderJSON(data []byte) ([]byte, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("render envelope: %w", err)
	}
	return protojson.MarshalOptions{UseProtoNames: true}.Marshal(&env)
}
