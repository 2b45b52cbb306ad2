package models

import "maps"

// Update is one entry of the append-only history of an order
type Update struct {
	Timestamp Timestamp      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Order is the record the orchestrator keeps for every saga
type Order struct {
	OrderID       string         `json:"order_id"`
	CorrelationID string         `json:"correlation_id"`
	Status        OrderStatus    `json:"status"`
	CreatedAt     Timestamp      `json:"created_at"`
	Updates       []Update       `json:"updates"`
	CustomerID    string         `json:"customer_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Shop          *Shop          `json:"shop,omitempty"`
	Price         *float64       `json:"price,omitempty"`
	InvoiceID     string         `json:"invoice_id,omitempty"`
	Total         *float64       `json:"total,omitempty"`
	Error         *ErrorDetail   `json:"error,omitempty"`
}

func NewOrder(env Envelope, p OrderCreatedPayload) *Order {
	o := &Order{
		OrderID:       env.OrderID,
		CorrelationID: env.CorrelationID,
		Status:        StatusCreated,
		CreatedAt:     Now(),
		Updates:       []Update{},
		CustomerID:    p.CustomerID,
		Details:       p.Details,
	}
	return o
}

// Record appends a history entry describing what changed
func (o *Order) Record(data map[string]any) {
	o.Updates = append(o.Updates, Update{Timestamp: Now(), Data: data})
}

// Clone returns a copy that shares nothing mutable with o
func (o *Order) Clone() *Order {
	c := *o
	c.Updates = make([]Update, len(o.Updates))
	for i, u := range o.Updates {
		c.Updates[i] = Update{Timestamp: u.Timestamp, Data: maps.Clone(u.Data)}
	}
	c.Details = maps.Clone(o.Details)
	if o.Shop != nil {
		s := *o.Shop
		c.Shop = &s
	}
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.Total != nil {
		t := *o.Total
		c.Total = &t
	}
	if o.Error != nil {
		e := *o.Error
		c.Error = &e
	}
	return &c
}
