package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// CircuitInput is the full witness request for one proof attempt.
type CircuitInput struct {
	Point         FixedPoint `json:"point"`
	Polygon       Polygon    `json:"polygon"`
	AccuracyBound int64      `json:"accuracy_bound"` // same scale as the coordinates
	ClaimedInside bool       `json:"claimed_inside"`
	Scale         int64      `json:"scale"`
}

// Witness is the opaque blob produced by a CircuitExecutor.
type Witness []byte

// FeltArray is the flattened, positional form of a proof for on-chain submission.
// Every element is a 0x-prefixed lowercase hex string.
type FeltArray []string

// ProofKind tags the closed set of proof shapes the formatter accepts.
type ProofKind int

const (
	ProofFieldElement ProofKind = iota + 1 // a single hex string
	ProofNamedFields                       // ordered name -> scalar | scalar list
	ProofArray                             // a list of scalars
)

func (k ProofKind) String() string {
	switch k {
	case ProofFieldElement:
		return "field_element"
	case ProofNamedFields:
		return "named_fields"
	case ProofArray:
		return "array"
	default:
		return "unknown"
	}
}

// ProofValue is the value of a named proof field: either one scalar or a list
// of scalars. Scalars are textual integers, hex ("0x...") or decimal.
type ProofValue struct {
	scalar string
	items  []string
	list   bool
}

// ScalarValue builds a single-scalar field value.
func ScalarValue(s string) ProofValue { return ProofValue{scalar: s} }

// ListValue builds a list-valued field value.
func ListValue(items ...string) ProofValue {
	return ProofValue{items: append([]string(nil), items...), list: true}
}

// IsList reports whether the value holds a list.
func (v ProofValue) IsList() bool { return v.list }

// Scalar returns the scalar text; empty for lists.
func (v ProofValue) Scalar() string { return v.scalar }

// Items returns the list elements; nil for scalars.
func (v ProofValue) Items() []string { return v.items }

// ProofField is one named field in declaration order.
type ProofField struct {
	Name  string
	Value ProofValue
}

// Proof is the artifact produced by a ProvingBackend. It is a closed variant:
// exactly one of the three shapes, chosen at construction.
type Proof struct {
	kind   ProofKind
	hex    string
	fields []ProofField
	items  []string
}

// FieldElementProof wraps a proof that is a single hex string.
func FieldElementProof(hex string) Proof {
	return Proof{kind: ProofFieldElement, hex: hex}
}

// NamedFieldsProof builds a proof from fields in declaration order.
func NamedFieldsProof(fields ...ProofField) Proof {
	return Proof{kind: ProofNamedFields, fields: append([]ProofField(nil), fields...)}
}

// ArrayProof builds a proof that is a flat list of scalars.
func ArrayProof(items ...string) Proof {
	return Proof{kind: ProofArray, items: append([]string(nil), items...)}
}

func (p Proof) Kind() ProofKind { return p.kind }
func (p Proof) Hex() string { return p.hex }
func (p Proof) Fields() []ProofField { return p.fields }
func (p Proof) Items() []string { return p.items }
func (p Proof) IsZero() bool { return p.kind == 0 }

// Field returns the named field's value.
func (p Proof) Field(name string) (ProofValue, bool) {
	for _, f := range p.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return ProofValue{}, false
}

// UnmarshalJSON decodes an externally produced proof. Object keys keep their
// document order; anything other than strings, numbers and flat arrays of
// those is rejected with ErrUnsupportedProofShape.
func (p *Proof) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedProofShape, err)
	}

	switch t := tok.(type) {
	case string:
		*p = FieldElementProof(t)
	case json.Delim:
		switch t {
		case '[':
			items, err := readScalarList(dec)
			if err != nil {
				return err
			}
			*p = ArrayProof(items...)
		case '{':
			fields, err := readFields(dec)
			if err != nil {
				return err
			}
			*p = NamedFieldsProof(fields...)
		default:
			return fmt.Errorf("%w: unexpected %v", ErrUnsupportedProofShape, t)
		}
	default:
		return fmt.Errorf("%w: top-level %T", ErrUnsupportedProofShape, tok)
	}

	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", ErrUnsupportedProofShape)
	}
	return nil
}

func readFields(dec *json.Decoder) ([]ProofField, error) {
	var fields []ProofField
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedProofShape, err)
		}
		key, _ := keyTok.(string)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrUnsupportedProofShape, key)
		}
		seen[key] = true

		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedProofShape, err)
		}
		switch v := tok.(type) {
		case string:
			fields = append(fields, ProofField{Name: key, Value: ScalarValue(v)})
		case json.Number:
			fields = append(fields, ProofField{Name: key, Value: ScalarValue(v.String())})
		case json.Delim:
			if v != '[' {
				return nil, fmt.Errorf("%w: field %q is an object", ErrUnsupportedProofShape, key)
			}
			items, err := readScalarList(dec)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			fields = append(fields, ProofField{Name: key, Value: ListValue(items...)})
		default:
			return nil, fmt.Errorf("%w: field %q has type %T", ErrUnsupportedProofShape, key, tok)
		}
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProofShape, err)
	}
	return fields, nil
}

// readScalarList consumes elements up to and including the closing ']'.
func readScalarList(dec *json.Decoder) ([]string, error) {
	items := []string{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedProofShape, err)
		}
		switch v := tok.(type) {
		case string:
			items = append(items, v)
		case json.Number:
			items = append(items, v.String())
		default:
			return nil, fmt.Errorf("%w: array element of type %T", ErrUnsupportedProofShape, tok)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProofShape, err)
	}
	return items, nil
}

// MarshalJSON writes the proof back out, keeping field order.
func (p Proof) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case ProofFieldElement:
		return json.Marshal(p.hex)
	case ProofArray:
		return json.Marshal(p.items)
	case ProofNamedFields:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range p.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(f.Name)
			buf.Write(key)
			buf.WriteByte(':')
			var val []byte
			if f.Value.IsList() {
				val, _ = json.Marshal(f.Value.Items())
			} else {
				val, _ = json.Marshal(f.Value.Scalar())
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// VerificationStatus is the tri-state outcome of an on-chain verification.
type VerificationStatus string

const (
	VerificationValid   VerificationStatus = "valid"
	VerificationInvalid VerificationStatus = "invalid"
	VerificationError   VerificationStatus = "error"
)

// VerificationResult is returned by the on-chain verifier. Err is set only
// for VerificationError.
type VerificationResult struct {
	Status  VerificationStatus `json:"status"`
	Reason  string             `json:"reason,omitempty"`
	Latency time.Duration      `json:"latency"`
	Err     error              `json:"-"`
}

// Valid reports whether the contract accepted the proof.
func (r VerificationResult) Valid() bool { return r.Status == VerificationValid }
