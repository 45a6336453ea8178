// Package message implements the message pipeline of spec §4.E: a
// size gate, JSON decode, envelope-shape check, and per-type payload
// schema validation. Schema validation is done with
// go-playground/validator/v10 (promoted here from an indirect
// dependency of the dveeden-tiflow example into a direct one), which
// lets each payload type declare its shape with struct tags instead
// of hand-rolled field-by-field checks.
package message

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lightningnetwork/wsrelayd/catalog"
)

// Type is the envelope's header.type discriminator (spec §4.E step 3).
type Type string

const (
	TypeData    Type = "data"
	TypeAck     Type = "ack"
	TypeControl Type = "control"
)

// Header is the envelope's header object (spec §6).
type Header struct {
	Type      Type   `json:"type" validate:"required,oneof=data ack control"`
	ID        string `json:"id" validate:"required,uuid"`
	Timestamp string `json:"timestamp" validate:"required"`
}

// Envelope is the top-level {header, payload} shape every frame must
// have (spec §4.E step 3). Payload is kept raw until the per-type
// schema is known.
type Envelope struct {
	Header  Header          `json:"header" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// DataPayload is the payload schema for type "data" (spec §4.E step
// 4, §6).
type DataPayload struct {
	ContentType string                 `json:"contentType" validate:"required,oneof=text binary"`
	Data        string                 `json:"data" validate:"required"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AckPayload is the payload schema for type "ack".
type AckPayload struct {
	MessageID string                 `json:"messageId" validate:"required,uuid"`
	Status    string                 `json:"status" validate:"required,oneof=success error"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ControlPayload is the payload schema for type "control".
type ControlPayload struct {
	Command  string                 `json:"command" validate:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

var validate = validator.New()

// Parse runs spec §4.E steps 1-3: the UTF-8 size gate, JSON decode,
// and envelope-shape validation. maxMessageSize is the configured
// MAX_MESSAGE_SIZE. The raw bytes are returned unchanged alongside the
// envelope so a relay can forward byte-identical (spec §8's
// round-trip property) without re-serializing.
func Parse(raw []byte, maxMessageSize int) (*Envelope, []byte, *catalog.Error) {
	if utf8.RuneCount(raw) > maxMessageSize || len(raw) > maxMessageSize {
		return nil, nil, catalog.New(catalog.MessageTooLarge, "")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, catalog.New(catalog.InvalidMessage, "malformed json")
	}

	if err := validate.Struct(env); err != nil {
		return nil, nil, catalog.New(catalog.InvalidMessage, "invalid envelope")
	}

	if _, err := time.Parse(time.RFC3339, env.Header.Timestamp); err != nil {
		return nil, nil, catalog.New(catalog.InvalidMessage, "invalid timestamp")
	}

	return &env, raw, nil
}

// ValidatePayload decodes and validates env.Payload against the
// schema for env.Header.Type (spec §4.E step 4). It returns the typed
// payload as one of *DataPayload, *AckPayload, or *ControlPayload.
func ValidatePayload(env *Envelope) (interface{}, *catalog.Error) {
	switch env.Header.Type {
	case TypeData:
		var p DataPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, catalog.New(catalog.InvalidMessage, "invalid data payload")
		}
		if err := validate.Struct(p); err != nil {
			return nil, catalog.New(catalog.InvalidMessage, fieldError(err))
		}
		if p.ContentType == "binary" && !isValidBase64(p.Data) {
			return nil, catalog.New(catalog.InvalidMessage, "binary data must be base64")
		}
		return &p, nil

	case TypeAck:
		var p AckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, catalog.New(catalog.InvalidMessage, "invalid ack payload")
		}
		if err := validate.Struct(p); err != nil {
			return nil, catalog.New(catalog.InvalidMessage, fieldError(err))
		}
		return &p, nil

	case TypeControl:
		var p ControlPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, catalog.New(catalog.InvalidMessage, "invalid control payload")
		}
		if err := validate.Struct(p); err != nil {
			return nil, catalog.New(catalog.InvalidMessage, fieldError(err))
		}
		return &p, nil

	default:
		// Unreachable: Header.Type is already constrained by the
		// envelope's oneof validation in Parse.
		return nil, catalog.New(catalog.InvalidMessage, "unknown type")
	}
}

func fieldError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field() + " failed " + verrs[0].Tag()
	}
	return "validation failed"
}

func isValidBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// NewID returns a fresh UUID for header.id on server-originated
// frames (spec §4.F).
func NewID() string {
	return uuid.NewString()
}

// NowISO8601 returns the current time formatted per spec §4.F
// ("fresh UUID header.id and current ISO-8601 header.timestamp").
func NowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
