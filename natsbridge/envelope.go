package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

// Envelope is the JSON form of a message on the wire. A request and its
// reply share the same id.
type Envelope struct {
	ID          string  `json:"id"`
	Destination string  `json:"destination"`
	Function    string  `json:"function"`
	Sender      string  `json:"sender,omitempty"`
	Mode        string  `json:"mode"`
	MaxWaitMS   int64   `json:"max_wait_ms,omitempty"`
	Payload     []Value `json:"payload,omitempty"`
	Reply       bool    `json:"reply,omitempty"`
	Error       string  `json:"error,omitempty"`
	Kind        string  `json:"kind,omitempty"`
}

// Value is one typed payload object. Scalars keep their Go type across the
// wire; anything else travels as plain JSON.
type Value struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Wire type names of payload values.
const (
	TypeBool    = "bool"
	TypeString  = "string"
	TypeInt     = "int"
	TypeInt32   = "int32"
	TypeInt64   = "int64"
	TypeUint32  = "uint32"
	TypeUint64  = "uint64"
	TypeFloat32 = "float32"
	TypeFloat64 = "float64"
	TypeJSON    = "json"
)

// EncodeValue converts a payload object to its wire form.
func EncodeValue(v any) (Value, error) {
	var typ string
	switch v.(type) {
	case bool:
		typ = TypeBool
	case string:
		typ = TypeString
	case int:
		typ = TypeInt
	case int32:
		typ = TypeInt32
	case int64:
		typ = TypeInt64
	case uint32:
		typ = TypeUint32
	case uint64:
		typ = TypeUint64
	case float32:
		typ = TypeFloat32
	case float64:
		typ = TypeFloat64
	default:
		typ = TypeJSON
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: payload %T: %v", errors.ErrParameters, v, err)
	}
	return Value{Type: typ, Data: data}, nil
}

// DecodeValue converts a wire value back to a payload object.
func DecodeValue(v Value) (any, error) {
	switch v.Type {
	case TypeBool:
		return decodeAs[bool](v)
	case TypeString:
		return decodeAs[string](v)
	case TypeInt:
		return decodeAs[int](v)
	case TypeInt32:
		return decodeAs[int32](v)
	case TypeInt64:
		return decodeAs[int64](v)
	case TypeUint32:
		return decodeAs[uint32](v)
	case TypeUint64:
		return decodeAs[uint64](v)
	case TypeFloat32:
		return decodeAs[float32](v)
	case TypeFloat64:
		return decodeAs[float64](v)
	case TypeJSON:
		return decodeAs[any](v)
	default:
		return nil, fmt.Errorf("%w: unknown payload type %q", errors.ErrParameters, v.Type)
	}
}

func decodeAs[T any](v Value) (any, error) {
	var out T
	if err := json.Unmarshal(v.Data, &out); err != nil {
		return nil, fmt.Errorf("%w: payload %s: %v", errors.ErrParameters, v.Type, err)
	}
	return out, nil
}

// NewEnvelope captures msg for the wire, addressed to destination on the
// remote side.
func NewEnvelope(msg *message.Message, destination string) (*Envelope, error) {
	payload, err := encodePayload(msg.Payload())
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		ID:          msg.ID(),
		Destination: destination,
		Function:    msg.Function(),
		Sender:      msg.Sender(),
		Mode:        msg.Mode().String(),
		MaxWaitMS:   msg.MaxWait().Milliseconds(),
		Payload:     payload,
		Reply:       msg.IsReply(),
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return env, nil
}

func encodePayload(values []any) ([]Value, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]Value, len(values))
	for i, v := range values {
		enc, err := EncodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// DecodePayload returns the payload objects of the envelope.
func (e *Envelope) DecodePayload() ([]any, error) {
	out := make([]any, len(e.Payload))
	for i, v := range e.Payload {
		obj, err := DecodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

// Message rebuilds a local request from the envelope.
func (e *Envelope) Message() (*message.Message, error) {
	mode, err := message.ParseMode(e.Mode)
	if err != nil {
		return nil, err
	}
	payload, err := e.DecodePayload()
	if err != nil {
		return nil, err
	}
	return message.New(e.Destination, e.Function,
		message.WithMode(mode),
		message.WithMaxWait(time.Duration(e.MaxWaitMS)*time.Millisecond),
		message.WithPayload(payload...)), nil
}

// SetError records a remote outcome on a reply envelope.
func (e *Envelope) SetError(err error) {
	if err == nil {
		e.Error, e.Kind = "", ""
		return
	}
	e.Error = err.Error()
	e.Kind = errors.KindOf(err).String()
}

// Err returns the remote outcome, classified under its original kind.
func (e *Envelope) Err() error {
	if e.Error == "" {
		return nil
	}
	if sentinel := errors.ParseKind(e.Kind).Sentinel(); sentinel != nil {
		return fmt.Errorf("remote: %s: %w", e.Error, sentinel)
	}
	return fmt.Errorf("remote: %s", e.Error)
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", errors.ErrParameters, err)
	}
	if env.Destination == "" || env.Function == "" {
		return nil, fmt.Errorf("%w: envelope without destination or function", errors.ErrParameters)
	}
	return &env, nil
}
