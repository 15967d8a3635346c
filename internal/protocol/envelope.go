// Package protocol defines the wire protocol for the agentmesh server:
// the JSON message envelope, the closed set of message types, and the
// typed payloads exchanged between agents and the server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the protocol version advertised during the handshake.
const Version = "1.0"

var (
	ErrMalformed = errors.New("malformed envelope")
)

// Envelope is the unit of wire exchange. ID is the caller-supplied
// correlation id; it is empty for fire-and-forget types. Envelopes are
// immutable once encoded.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Decode parses a raw frame into an envelope. A frame that is not a
// JSON object or has an empty type is malformed.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// Encode serializes an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// New builds an envelope of the given type with a marshaled payload.
// It panics only on payloads that cannot be marshaled, which for the
// server's own typed payloads is a programming error.
func New(msgType string, data any) *Envelope {
	return NewWithID(msgType, data, "")
}

// NewWithID builds an envelope carrying a correlation id echoed from a
// request.
func NewWithID(msgType string, data any, id string) *Envelope {
	env := &Envelope{Type: msgType, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic(fmt.Sprintf("protocol: marshal %s payload: %v", msgType, err))
		}
		env.Data = raw
	}
	return env
}

// NewError builds an error envelope correlated to the offending request
// when an id is available.
func NewError(code, message, id string) *Envelope {
	return NewWithID(TypeError, ErrorData{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}, id)
}

// DecodeData unmarshals the envelope payload into v. An absent payload
// is treated as an empty object so handlers can take all fields as
// optional.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
