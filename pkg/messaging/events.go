package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeReadingCreated = "reading.created"

	EventTypeCreditMinted      = "credit.minted"
	EventTypeCreditListed      = "credit.listed"
	EventTypeCreditTransferred = "credit.transferred"

	EventTypeNotificationCreated = "notification.created"

	EventTypeDeviceLifecycleChanged = "device.lifecycle_changed"
	EventTypeOrderStatusChanged     = "order.status_changed"
)

// Queue groups for at-least-once consumers
const (
	QueueMinting = "minting-workers"
)

// Event is the base event structure
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  EventMetadata   `json:"metadata"`
}

// EventMetadata contains event metadata
type EventMetadata struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id,omitempty"`
	Source        string `json:"source"`
}

// ReadingEvent announces a new device reading. Delivery is
// at-least-once and unordered; consumers dedupe on
// (device_id, timestamp, enrollment_id).
type ReadingEvent struct {
	DeviceID  string             `json:"device_id"`
	Timestamp int64              `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
}

// CreditMintedEvent contains minted credit data
type CreditMintedEvent struct {
	CreditID     uuid.UUID `json:"credit_id"`
	EnrollmentID string    `json:"enrollment_id"`
	ProgramID    string    `json:"program_id"`
	DeviceID     string    `json:"device_id"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	Unit         string    `json:"unit"`
	SerialNumber string    `json:"serial_number,omitempty"`
}

// CreditListedEvent announces a listing change on the marketplace
type CreditListedEvent struct {
	CreditID uuid.UUID `json:"credit_id"`
	OwnerID  string    `json:"owner_id"`
	Listed   bool      `json:"listed"`
}

// CreditTransferredEvent contains settlement data
type CreditTransferredEvent struct {
	CreditID        uuid.UUID `json:"credit_id"`
	FromOwner       string    `json:"from_owner"`
	ToOwner         string    `json:"to_owner"`
	SourceBasin     string    `json:"source_basin"`
	DestBasin       string    `json:"dest_basin"`
	RawQuantity     string    `json:"raw_quantity"`
	SettledQuantity string    `json:"settled_quantity"`
}

// NotificationEvent contains a fire-and-forget user notification
type NotificationEvent struct {
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         string    `json:"user_id"`
	DeviceID       string    `json:"device_id,omitempty"`
	ProgramID      string    `json:"program_id,omitempty"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ActionURL      string    `json:"action_url,omitempty"`
}

// LifecycleEvent contains a device lifecycle transition
type LifecycleEvent struct {
	DeviceID string `json:"device_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Actor    string `json:"actor,omitempty"`
}

// OrderStatusEvent contains an order status transition and the CRM
// pipeline stage the order maps to after it.
type OrderStatusEvent struct {
	OrderID  string `json:"order_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	CRMStage string `json:"crm_stage"`
}

// NewEvent creates a new event
func NewEvent(eventType string, data interface{}, metadata EventMetadata) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      dataBytes,
		Metadata:  metadata,
	}, nil
}

// ParseEventData parses event data into the given type
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
