package lifecycle

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluesignal/creditengine/pkg/messaging"
)

func lifecycleTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			lifecycle TEXT NOT NULL,
			allocated_at TIMESTAMPTZ,
			shipped_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			installed_at TIMESTAMPTZ,
			commissioned_at TIMESTAMPTZ,
			activated_at TIMESTAMPTZ,
			decommissioned_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL DEFAULT 'pending',
			paid_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestTransitionDeviceStore(t *testing.T) {
	db := lifecycleTestDB(t)
	store := NewStore(db, &messaging.Client{})
	ctx := context.Background()

	deviceID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO devices (id, lifecycle) VALUES ($1, $2)`, deviceID, DeviceInstalled)
	require.NoError(t, err)

	t.Run("should reject skipping commissioning", func(t *testing.T) {
		_, err := store.TransitionDevice(ctx, deviceID, DeviceActive, "ops-1")

		var illegal *IllegalTransitionError
		require.ErrorAs(t, err, &illegal)
		assert.Equal(t, DeviceInstalled, illegal.From)
		assert.Equal(t, DeviceActive, illegal.To)

		var current string
		require.NoError(t, db.QueryRow(`SELECT lifecycle FROM devices WHERE id = $1`, deviceID).Scan(&current))
		assert.Equal(t, DeviceInstalled, current)
	})

	t.Run("should commission then activate, stamping milestones", func(t *testing.T) {
		applied, err := store.TransitionDevice(ctx, deviceID, DeviceCommissioned, "ops-1")
		require.NoError(t, err)
		assert.Equal(t, DeviceCommissioned, applied)

		applied, err = store.TransitionDevice(ctx, deviceID, DeviceActive, "ops-1")
		require.NoError(t, err)
		assert.Equal(t, DeviceActive, applied)

		var commissionedAt, activatedAt sql.NullTime
		require.NoError(t, db.QueryRow(
			`SELECT commissioned_at, activated_at FROM devices WHERE id = $1`, deviceID,
		).Scan(&commissionedAt, &activatedAt))
		assert.True(t, commissionedAt.Valid)
		assert.True(t, activatedAt.Valid)
	})

	t.Run("should report missing devices", func(t *testing.T) {
		_, err := store.TransitionDevice(ctx, uuid.NewString(), DeviceAllocated, "ops-1")
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})
}

func TestTransitionOrderStore(t *testing.T) {
	db := lifecycleTestDB(t)
	store := NewStore(db, &messaging.Client{})
	ctx := context.Background()

	orderID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO orders (id, status, payment_status) VALUES ($1, $2, 'pending')`, orderID, OrderApproved)
	require.NoError(t, err)

	t.Run("should hold the paid transition until payment is captured", func(t *testing.T) {
		_, _, err := store.TransitionOrder(ctx, orderID, OrderPaid)
		assert.ErrorIs(t, err, ErrPaymentPending)
	})

	t.Run("should apply paid once payment lands", func(t *testing.T) {
		_, err := db.Exec(`UPDATE orders SET payment_status = 'paid' WHERE id = $1`, orderID)
		require.NoError(t, err)

		applied, stage, err := store.TransitionOrder(ctx, orderID, OrderPaid)
		require.NoError(t, err)
		assert.Equal(t, OrderPaid, applied)
		assert.Equal(t, "Closed Won", stage)

		var paidAt sql.NullTime
		require.NoError(t, db.QueryRow(`SELECT paid_at FROM orders WHERE id = $1`, orderID).Scan(&paidAt))
		assert.True(t, paidAt.Valid)
	})

	t.Run("should reject undeclared edges with the stored state", func(t *testing.T) {
		_, _, err := store.TransitionOrder(ctx, orderID, OrderQuoted)

		var illegal *IllegalTransitionError
		require.ErrorAs(t, err, &illegal)
		assert.Equal(t, OrderPaid, illegal.From)
	})
}
