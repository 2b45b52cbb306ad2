package models

import "slices"

// MessageType is the closed set of envelope tags exchanged by the services
type MessageType string

const (
	OrderCreated           MessageType = "ORDER_CREATED"
	OrderAcknowledged      MessageType = "ORDER_ACKNOWLEDGED"
	OrderCreationFailed    MessageType = "ORDER_CREATION_FAILED"
	OrderUpdateFailed      MessageType = "ORDER_UPDATE_FAILED"
	DoenerAssigned         MessageType = "DOENER_ASSIGNED"
	DoenerAssignmentFailed MessageType = "DOENER_ASSIGNMENT_FAILED"
	InvoiceRequested       MessageType = "INVOICE_REQUESTED"
	InvoiceCreated         MessageType = "INVOICE_CREATED"
	InvoiceCreationFailed  MessageType = "INVOICE_CREATION_FAILED"
)

// MessageTypes lists every known tag
var MessageTypes = []MessageType{
	OrderCreated,
	OrderAcknowledged,
	OrderCreationFailed,
	OrderUpdateFailed,
	DoenerAssigned,
	DoenerAssignmentFailed,
	InvoiceRequested,
	InvoiceCreated,
	InvoiceCreationFailed,
}

func (t MessageType) Valid() bool {
	return slices.Contains(MessageTypes, t)
}

// IsFailure reports whether the tag is one of the *_FAILED variants
func (t MessageType) IsFailure() bool {
	switch t {
	case OrderCreationFailed, OrderUpdateFailed, DoenerAssignmentFailed, InvoiceCreationFailed:
		return true
	}
	return false
}

func (t MessageType) String() string {
	return string(t)
}

// OrderStatus is the saga state of an order
type OrderStatus string

const (
	StatusCreated          OrderStatus = "CREATED"
	StatusProcessing       OrderStatus = "PROCESSING"
	StatusDoenerAssigned   OrderStatus = "DOENER_ASSIGNED"
	StatusInvoiceRequested OrderStatus = "INVOICE_REQUESTED"
	StatusInvoiced         OrderStatus = "INVOICED"
	StatusFailed           OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed
func (s OrderStatus) Terminal() bool {
	return s == StatusInvoiced || s == StatusFailed
}

func (s OrderStatus) String() string {
	return string(s)
}
