package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryType selects how a notification should reach the user
type DeliveryType string

const (
	DeliveryTypeDirect DeliveryType = "direct"
	DeliveryTypeDaily  DeliveryType = "daily"
)

// NotificationRequest is the outbound message derived from a state
// transition. The saga produces these; it never consumes them.
type NotificationRequest struct {
	MessageID    string       `json:"message_id"`
	UserID       string       `json:"user_id"`
	DeliveryType DeliveryType `json:"delivery_type"`
	Text         string       `json:"text"`
	ScheduledFor *time.Time   `json:"scheduled_for,omitempty"`
}

// NewNotificationRequest builds a direct notification with a fresh message ID
func NewNotificationRequest(userID, text string) NotificationRequest {
	return NotificationRequest{
		MessageID:    uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		DeliveryType: DeliveryTypeDirect,
		Text:         text,
	}
}
