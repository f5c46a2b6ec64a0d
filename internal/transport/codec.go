package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"yqhp/rowfarm/pkg/types"
)

// ErrUnknownKind is returned when decoding an envelope of an unknown type.
var ErrUnknownKind = errors.New("transport: unknown message kind")

// Envelope is the wire frame shared by every remote transport.
type Envelope struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes a protocol message.
func Encode(msg types.Message) ([]byte, error) {
	return EncodeFrom("", msg)
}

// EncodeFrom serializes a protocol message tagged with its sender.
func EncodeFrom(from string, msg types.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("transport: encode nil message")
	}

	env := Envelope{Type: string(msg.Kind()), From: from}
	switch m := msg.(type) {
	case *types.Assign:
		data, err := sonic.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, err)
		}
		env.Data = data
	case *types.Completion:
		data, err := sonic.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, err)
		}
		env.Data = data
	case *types.NoWork, *types.Stop:
	}

	return sonic.Marshal(&env)
}

// EncodeControl serializes a transport-level frame such as a registration.
func EncodeControl(frameType string, payload any) ([]byte, error) {
	env := Envelope{Type: frameType}
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", frameType, err)
		}
		env.Data = data
	}
	return sonic.Marshal(&env)
}

// DecodeEnvelope parses the outer frame only.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

// Decode parses a protocol message.
func Decode(raw []byte) (types.Message, error) {
	_, msg, err := DecodeFrom(raw)
	return msg, err
}

// DecodeFrom parses a protocol message and returns its sender tag.
func DecodeFrom(raw []byte) (string, types.Message, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return "", nil, err
	}
	msg, err := env.Message()
	if err != nil {
		return "", nil, err
	}
	return env.From, msg, nil
}

// Message converts the envelope payload into a protocol message.
func (e *Envelope) Message() (types.Message, error) {
	switch types.MessageKind(e.Type) {
	case types.KindAssign:
		var m types.Assign
		if err := e.unmarshal(&m); err != nil {
			return nil, err
		}
		if m.Unit.ID < 0 {
			return nil, fmt.Errorf("decode %s: negative unit id %d", e.Type, m.Unit.ID)
		}
		return &m, nil
	case types.KindResult:
		var m types.Completion
		if err := e.unmarshal(&m); err != nil {
			return nil, err
		}
		if m.Result.UnitID < 0 {
			return nil, fmt.Errorf("decode %s: negative unit id %d", e.Type, m.Result.UnitID)
		}
		return &m, nil
	case types.KindNoWork:
		return &types.NoWork{}, nil
	case types.KindStop:
		return &types.Stop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Type)
	}
}

// Decode parses the payload into v.
func (e *Envelope) Decode(v any) error {
	return e.unmarshal(v)
}

func (e *Envelope) unmarshal(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("decode %s: missing data", e.Type)
	}
	if err := sonic.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}
