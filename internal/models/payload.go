package models

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// Payload is the type-dependent body of an envelope
type Payload map[string]any

func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Decode maps the payload onto out using the json tags of the target struct
func (p Payload) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(p))
}

// NewPayload flattens a typed payload struct into its wire map, with the same value
// types a consumer sees after decoding the message
func NewPayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := Payload{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MustPayload is NewPayload for payload structs known to be encodable
func MustPayload(v any) Payload {
	p, err := NewPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

type Shop struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type StatusPayload struct {
	Status OrderStatus `json:"status"`
}

type OrderCreatedPayload struct {
	CustomerID string         `json:"customer_id"`
	Status     OrderStatus    `json:"status"`
	Details    map[string]any `json:"details"`
}

type DoenerAssignedPayload struct {
	Shop   Shop        `json:"shop"`
	Price  float64     `json:"price"`
	Status OrderStatus `json:"status"`
}

type InvoiceRequestedPayload struct {
	Price float64 `json:"price"`
	Shop  Shop    `json:"shop"`
}

type InvoiceCreatedPayload struct {
	InvoiceID string      `json:"invoice_id"`
	Total     float64     `json:"total"`
	Status    OrderStatus `json:"status"`
}
