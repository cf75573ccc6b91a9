package domain

import "time"

// EmailSnapshot is the immutable view of an inbound email handed to the
// automation engine. It is captured once by the ingestion pipeline; the
// engine never reads the message store.
type EmailSnapshot struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"messageId,omitempty"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   string    `json:"toAddress"`
	Subject     string    `json:"subject"`
	TextBody    string    `json:"textBody"`
	HTMLBody    string    `json:"htmlBody,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

type Mailbox struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}
