package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-doener-saga/pkg/encoding"
)

const SchemaVersion = "1.0"

var ErrMalformedEnvelope = errors.New("malformed envelope")

// ErrorDetail describes why a *_FAILED message was produced
type ErrorDetail struct {
	Message string `json:"message"`
	Kind    string `json:"type"`
}

func NewErrorDetail(kind string, err error) *ErrorDetail {
	return &ErrorDetail{Message: err.Error(), Kind: kind}
}

// Envelope is the unit of broker traffic shared by every service
type Envelope struct {
	CorrelationID string       `json:"correlation_id"`
	OrderID       string       `json:"order_id"`
	Timestamp     Timestamp    `json:"timestamp"`
	MessageType   MessageType  `json:"message_type"`
	Payload       Payload      `json:"payload"`
	Version       string       `json:"version"`
	Error         *ErrorDetail `json:"error"`
}

func NewEnvelope(correlationID, orderID string, messageType MessageType, payload Payload) Envelope {
	if payload == nil {
		payload = Payload{}
	}
	return Envelope{
		CorrelationID: correlationID,
		OrderID:       orderID,
		Timestamp:     Now(),
		MessageType:   messageType,
		Payload:       payload,
		Version:       SchemaVersion,
	}
}

// Derive builds the next message of the saga. Identifiers are carried over untouched
func (e Envelope) Derive(messageType MessageType, payload Payload) Envelope {
	return NewEnvelope(e.CorrelationID, e.OrderID, messageType, payload)
}

// DeriveFailure builds a *_FAILED message carrying the error detail
func (e Envelope) DeriveFailure(messageType MessageType, detail *ErrorDetail) Envelope {
	next := e.Derive(messageType, Payload{"status": string(StatusFailed)})
	next.Error = detail
	return next
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload maps the payload onto a typed view
func (e Envelope) DecodePayload(out any) error {
	return e.Payload.Decode(out)
}

// DecodeEnvelope parses a broker body. Bodies that are not JSON objects or that lack
// the identifiers every saga step depends on are rejected with ErrMalformedEnvelope
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(encoding.ToUTF8(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch {
	case env.OrderID == "":
		return Envelope{}, fmt.Errorf("%w: missing order_id", ErrMalformedEnvelope)
	case env.CorrelationID == "":
		return Envelope{}, fmt.Errorf("%w: missing correlation_id", ErrMalformedEnvelope)
	case env.MessageType == "":
		return Envelope{}, fmt.Errorf("%w: missing message_type", ErrMalformedEnvelope)
	}

	if env.Version == "" {
		env.Version = SchemaVersion
	}
	if env.Payload == nil {
		env.Payload = Payload{}
	}
	return env, nil
}
