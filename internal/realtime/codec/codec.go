// Package codec defines the websocket wire envelope and turns raw frames
// into typed messages. Decode failures are split into malformed frames
// (dropped by the caller), unknown types (ignored for forward
// compatibility), and missing mandatory fields (answered with an inline
// error envelope).
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Envelope type tags.
const (
	TypeAuth           = "auth"
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeLocationUpdate = "location_update"
	TypeWelcome        = "welcome"
	TypeError          = "error"
)

// Location report status values as stored in the `location_updates` table.
const (
	StatusOnTime  = "on-time"
	StatusDelayed = "delayed"
	StatusIssue   = "issue"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown envelope type")
	ErrMissingFields  = errors.New("missing mandatory fields")
)

// Message is one decoded envelope variant, in either direction.
type Message interface {
	EnvelopeType() string
}

// Auth attaches an identity to the connection. Token is optional; when the
// server is configured with a verifier secret it must be present and valid.
type Auth struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required"`
	Token  string `json:"token,omitempty"`
}

// Subscribe adds a channel to the connection's subscription set.
type Subscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
}

// Unsubscribe removes a channel from the connection's subscription set.
type Unsubscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
}

// LocationReport is a driver's inbound position ping. Latitude and
// longitude are pointers so that a present zero value survives the
// required check.
type LocationReport struct {
	Type         string   `json:"type"`
	AssignmentID int64    `json:"assignmentId" validate:"required"`
	Latitude     *float64 `json:"latitude" validate:"required"`
	Longitude    *float64 `json:"longitude" validate:"required"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	Status       string   `json:"status,omitempty" validate:"omitempty,oneof=on-time delayed issue"`
}

func (Auth) EnvelopeType() string           { return TypeAuth }
func (Subscribe) EnvelopeType() string      { return TypeSubscribe }
func (Unsubscribe) EnvelopeType() string    { return TypeUnsubscribe }
func (LocationReport) EnvelopeType() string { return TypeLocationUpdate }

// ----- Server->client envelopes -----

// Notice carries `welcome` and `error` messages.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message" validate:"required"`
}

// LocationEvent is the broadcast form of an accepted location report.
// It shares the `location_update` type tag with the inbound report; the
// nested `data` object tells them apart on the wire.
type LocationEvent struct {
	Type string            `json:"type"`
	Data LocationEventData `json:"data"`
}

// EnvelopeType returns the notice's own tag (`welcome` or `error`).
func (n Notice) EnvelopeType() string      { return n.Type }
func (LocationEvent) EnvelopeType() string { return TypeLocationUpdate }

// LocationEventData is the persisted row plus its routing identifiers.
type LocationEventData struct {
	ID           int64     `json:"id"`
	AssignmentID int64     `json:"assignmentId"`
	RouteID      int64     `json:"routeId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Speed        *float64  `json:"speed,omitempty"`
	Heading      *float64  `json:"heading,omitempty"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// validate is shared; the validator is stateless after construction.
var validate = validator.New()

// Decode parses a raw text frame into a typed Message.
//
//   - undecodable bytes yield ErrMalformedFrame
//   - a well-formed frame with an unrecognized type yields ErrUnknownType
//   - a recognized type missing mandatory fields yields ErrMissingFields
func Decode(frame []byte) (Message, error) {
	var head struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch head.Type {
	case TypeAuth:
		var msg Auth
		return decodeInto(frame, &msg)
	case TypeSubscribe:
		var msg Subscribe
		return decodeInto(frame, &msg)
	case TypeUnsubscribe:
		var msg Unsubscribe
		return decodeInto(frame, &msg)
	case TypeLocationUpdate:
		// a nested data object marks the outbound broadcast form; flat
		// fields mark the inbound driver report
		if len(head.Data) > 0 {
			var msg LocationEvent
			return decodeInto(frame, &msg)
		}
		var msg LocationReport
		decoded, err := decodeInto(frame, &msg)
		if err != nil {
			return nil, err
		}
		report := decoded.(LocationReport)
		if report.Status == "" {
			report.Status = StatusOnTime
		}
		return report, nil
	case TypeWelcome, TypeError:
		var msg Notice
		return decodeInto(frame, &msg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

// decodeInto unmarshals the full frame and enforces mandatory fields.
func decodeInto[T Message](frame []byte, msg *T) (Message, error) {
	if err := json.Unmarshal(frame, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingFields, err)
	}
	return *msg, nil
}

// Encode serializes a message in either direction, stamping its type tag.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Auth:
		m.Type = TypeAuth
		return json.Marshal(m)
	case Subscribe:
		m.Type = TypeSubscribe
		return json.Marshal(m)
	case Unsubscribe:
		m.Type = TypeUnsubscribe
		return json.Marshal(m)
	case LocationReport:
		m.Type = TypeLocationUpdate
		return json.Marshal(m)
	case LocationEvent:
		m.Type = TypeLocationUpdate
		return json.Marshal(m)
	case Notice:
		if m.Type != TypeWelcome && m.Type != TypeError {
			return nil, fmt.Errorf("%w: notice %q", ErrUnknownType, m.Type)
		}
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
}

// EncodeWelcome builds the greeting sent immediately on connect.
func EncodeWelcome(message string) []byte {
	b, _ := json.Marshal(Notice{Type: TypeWelcome, Message: message})
	return b
}

// EncodeError builds a recoverable error envelope for the sender.
func EncodeError(message string) []byte {
	b, _ := json.Marshal(Notice{Type: TypeError, Message: message})
	return b
}

// EncodeLocationEvent builds the fan-out envelope for an accepted report.
func EncodeLocationEvent(data LocationEventData) ([]byte, error) {
	return json.Marshal(LocationEvent{Type: TypeLocationUpdate, Data: data})
}
