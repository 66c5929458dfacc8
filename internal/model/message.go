package model

import "time"

// A Message is a queued notification.
type Message struct {
	Base `json:",inline" storm:"inline"`

	Queue         string    `json:"queue"          storm:"index"`
	Body          string    `json:"body"`
	ReceiveCount  int       `json:"receive_count"`
	VisibleAt     time.Time `json:"visible_at"`
	ReceiptHandle string    `json:"receipt_handle" storm:"index"`
	SentAt        time.Time `json:"sent_at"`
	// Reason is filled when the message is dead-lettered.
	Reason string `json:"reason"`
}
