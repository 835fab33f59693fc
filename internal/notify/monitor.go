package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bluesignal/creditengine/pkg/messaging"
)

// Monitor suppresses per-reading notification spam. Readings arrive
// far more often than a user wants to hear about them, so a
// notification fires only when the lifetime counter crosses a whole
// credit unit.
type Monitor struct {
	db   *sql.DB
	nats *messaging.Client
}

// MintObservation describes one committed counter update.
type MintObservation struct {
	UserID        string
	DeviceID      string
	ProgramID     string
	ProgramName   string
	CreditType    string
	Amount        decimal.Decimal
	CounterBefore decimal.Decimal
}

// NewMonitor creates a threshold monitor.
func NewMonitor(db *sql.DB, nats *messaging.Client) *Monitor {
	return &Monitor{db: db, nats: nats}
}

// CrossedWholeUnit reports whether adding amount to before crosses an
// integer boundary.
func CrossedWholeUnit(before, amount decimal.Decimal) bool {
	return before.Add(amount).Floor().GreaterThan(before.Floor())
}

// CreditMinted emits at most one notification for a committed mint.
// Best effort: a failure here is logged and never rolls the mint back.
func (m *Monitor) CreditMinted(ctx context.Context, obs MintObservation) {
	if !CrossedWholeUnit(obs.CounterBefore, obs.Amount) {
		return
	}

	notification := messaging.NotificationEvent{
		NotificationID: uuid.New(),
		UserID:         obs.UserID,
		DeviceID:       obs.DeviceID,
		ProgramID:      obs.ProgramID,
		Type:           "credit-generated",
		Title:          "Credits Generated",
		Body: fmt.Sprintf("Your device %s generated %s %s credits from the %s program.",
			obs.DeviceID, obs.Amount.StringFixed(4), obs.CreditType, obs.ProgramName),
		ActionURL: "/credits",
	}

	if err := m.write(ctx, notification); err != nil {
		log.Printf("notify: failed to write notification for user %s: %v", obs.UserID, err)
		return
	}

	if err := m.nats.PublishEvent(ctx, messaging.EventTypeNotificationCreated, notification, messaging.EventMetadata{
		Source: "minting",
		UserID: obs.UserID,
	}); err != nil {
		log.Printf("notify: failed to publish notification %s: %v", notification.NotificationID, err)
	}
}

// write persists the fire-and-forget record. The engine never reads
// notifications back.
func (m *Monitor) write(ctx context.Context, n messaging.NotificationEvent) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, device_id, program_id, type, title, body, action_url, read, dismissed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, $9)`,
		n.NotificationID, n.UserID, n.DeviceID, n.ProgramID, n.Type, n.Title, n.Body, n.ActionURL, time.Now(),
	)
	return err
}
