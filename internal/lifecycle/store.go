package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/bluesignal/creditengine/pkg/messaging"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrUnknownState   = errors.New("unknown state")
	ErrPaymentPending = errors.New("order payment has not been received")
)

// Store applies lifecycle transitions against Postgres. Validation
// happens inside the same conditional write that stores the new state,
// so two concurrent requests cannot both succeed from a stale read.
type Store struct {
	db   *sql.DB
	nats *messaging.Client
}

// NewStore creates a lifecycle store.
func NewStore(db *sql.DB, nats *messaging.Client) *Store {
	return &Store{db: db, nats: nats}
}

// TransitionDevice moves a device to target if and only if its current
// persisted state has a declared edge to target. The milestone
// timestamp for the target state is stamped in the same write.
func (s *Store) TransitionDevice(ctx context.Context, deviceID, target, actor string) (string, error) {
	if !ValidDeviceState(target) {
		return "", fmt.Errorf("%w: %s", ErrUnknownState, target)
	}

	sources := DeviceSources(target)
	if len(sources) == 0 {
		return "", s.deviceIllegal(ctx, deviceID, target)
	}

	// The self-join reads the row's pre-update lifecycle so the event
	// can carry the state the device actually left.
	query := `UPDATE devices SET lifecycle = $1, updated_at = $2
	          FROM devices prev
	          WHERE devices.id = $3 AND prev.id = devices.id AND devices.lifecycle = ANY($4)
	          RETURNING prev.lifecycle`
	if column, ok := deviceMilestones[target]; ok {
		query = fmt.Sprintf(
			`UPDATE devices SET lifecycle = $1, updated_at = $2, %s = $2
			 FROM devices prev
			 WHERE devices.id = $3 AND prev.id = devices.id AND devices.lifecycle = ANY($4)
			 RETURNING prev.lifecycle`,
			column,
		)
	}

	var prior string
	err := s.db.QueryRowContext(ctx, query, target, time.Now(), deviceID, pq.Array(sources)).Scan(&prior)
	if err == sql.ErrNoRows {
		return "", s.deviceIllegal(ctx, deviceID, target)
	}
	if err != nil {
		return "", fmt.Errorf("failed to transition device: %w", err)
	}

	s.publishDeviceTransition(ctx, deviceID, prior, target, actor)
	return target, nil
}

// deviceIllegal distinguishes a missing device from an undeclared edge.
func (s *Store) deviceIllegal(ctx context.Context, deviceID, target string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT lifecycle FROM devices WHERE id = $1`, deviceID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read device state: %w", err)
	}
	return &IllegalTransitionError{Entity: "device", From: current, To: target}
}

// TransitionOrder moves an order to target under the same
// compare-and-swap discipline. The paid transition additionally
// requires payment to have been captured.
func (s *Store) TransitionOrder(ctx context.Context, orderID, target string) (string, string, error) {
	if !ValidOrderStatus(target) {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownState, target)
	}

	sources := OrderSources(target)
	if len(sources) == 0 {
		return "", "", s.orderIllegal(ctx, orderID, target)
	}

	query := `UPDATE orders SET status = $1, updated_at = $2
	          FROM orders prev
	          WHERE orders.id = $3 AND prev.id = orders.id AND orders.status = ANY($4)
	          RETURNING prev.status`
	args := []interface{}{target, time.Now(), orderID, pq.Array(sources)}
	if target == OrderPaid {
		query = `UPDATE orders SET status = $1, updated_at = $2, paid_at = $2
		         FROM orders prev
		         WHERE orders.id = $3 AND prev.id = orders.id AND orders.status = ANY($4) AND orders.payment_status = 'paid'
		         RETURNING prev.status`
	}

	var prior string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&prior)
	if err == sql.ErrNoRows {
		if target == OrderPaid {
			return "", "", s.orderPaidRejection(ctx, orderID)
		}
		return "", "", s.orderIllegal(ctx, orderID, target)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to transition order: %w", err)
	}

	stage := CRMStage(target)
	s.publishOrderTransition(ctx, orderID, prior, target, stage)
	return target, stage, nil
}

func (s *Store) orderIllegal(ctx context.Context, orderID, target string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read order status: %w", err)
	}
	return &IllegalTransitionError{Entity: "order", From: current, To: target}
}

func (s *Store) orderPaidRejection(ctx context.Context, orderID string) error {
	var current, payment string
	err := s.db.QueryRowContext(ctx, `SELECT status, payment_status FROM orders WHERE id = $1`, orderID).Scan(&current, &payment)
	if err == sql.ErrNoRows {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read order status: %w", err)
	}
	if CanTransitionOrder(current, OrderPaid) && payment != "paid" {
		return ErrPaymentPending
	}
	return &IllegalTransitionError{Entity: "order", From: current, To: OrderPaid}
}

func (s *Store) publishDeviceTransition(ctx context.Context, deviceID, from, target, actor string) {
	event := messaging.LifecycleEvent{
		DeviceID: deviceID,
		From:     from,
		To:       target,
		Actor:    actor,
	}
	if err := s.nats.PublishEvent(ctx, messaging.EventTypeDeviceLifecycleChanged, event, messaging.EventMetadata{Source: "lifecycle"}); err != nil {
		log.Printf("lifecycle: failed to publish device transition for %s: %v", deviceID, err)
	}
}

func (s *Store) publishOrderTransition(ctx context.Context, orderID, from, target, stage string) {
	event := messaging.OrderStatusEvent{
		OrderID:  orderID,
		From:     from,
		To:       target,
		CRMStage: stage,
	}
	if err := s.nats.PublishEvent(ctx, messaging.EventTypeOrderStatusChanged, event, messaging.EventMetadata{Source: "lifecycle"}); err != nil {
		log.Printf("lifecycle: failed to publish order transition for %s: %v", orderID, err)
	}
}
