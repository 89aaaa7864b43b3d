package models

import "time"

// ContactKind is the delivery channel a contact string resolves to.
type ContactKind string

const (
	ContactPhone   ContactKind = "phone"
	ContactEmail   ContactKind = "email"
	ContactUnknown ContactKind = "unknown"
)

// Contact is a classified and normalised contact string.
type Contact struct {
	Kind       ContactKind `json:"kind"`
	Normalized string      `json:"normalized"`
}

// DeliveryReceipt acknowledges a message accepted by a transport.
type DeliveryReceipt struct {
	ID          string      `json:"id"`
	Channel     ContactKind `json:"channel"`
	Destination string      `json:"destination"`
	Status      string      `json:"status"`
	SentAt      time.Time   `json:"sentAt"`
}
