package minting

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bluesignal/creditengine/internal/notify"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

func mintingTestDB(t *testing.T) *sql.DB {
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
		`CREATE TABLE IF NOT EXISTS enrollments (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			program_id TEXT NOT NULL,
			status TEXT NOT NULL,
			credits_generated NUMERIC NOT NULL DEFAULT 0,
			credits_available NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS trading_programs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			required_sensors TEXT[],
			rate_per_unit NUMERIC NOT NULL,
			unit TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			site_id TEXT,
			watershed TEXT,
			basin_code TEXT,
			lifecycle TEXT,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS credits (
			id UUID PRIMARY KEY,
			mint_key TEXT UNIQUE NOT NULL,
			type TEXT,
			amount NUMERIC,
			unit TEXT,
			site_id TEXT,
			device_id TEXT,
			watershed TEXT,
			basin_code TEXT,
			generated_from BIGINT,
			generated_to BIGINT,
			methodology TEXT,
			serial_number TEXT,
			status TEXT,
			current_owner TEXT,
			original_owner TEXT,
			listed BOOLEAN,
			enrollment_id TEXT,
			program_id TEXT,
			reading_timestamp BIGINT,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ,
			verified_at TIMESTAMPTZ,
			certificate_hash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS credit_serials (
			basin_code TEXT NOT NULL,
			year INT NOT NULL,
			nutrient TEXT NOT NULL,
			seq BIGINT NOT NULL,
			PRIMARY KEY (basin_code, year, nutrient)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id TEXT,
			device_id TEXT,
			program_id TEXT,
			type TEXT,
			title TEXT,
			body TEXT,
			action_url TEXT,
			read BOOLEAN,
			dismissed BOOLEAN,
			created_at TIMESTAMPTZ
		)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func seedMintFixture(t *testing.T, db *sql.DB, rate string) (enrollmentID, deviceID string) {
	t.Helper()

	enrollmentID = uuid.NewString()
	deviceID = uuid.NewString()
	programID := uuid.NewString()

	_, err := db.Exec(
		`INSERT INTO trading_programs (id, name, status, type, required_sensors, rate_per_unit, unit)
		 VALUES ($1, 'Chesapeake Nutrient Program', 'active', 'nutrient', NULL, $2, 'lbs')`,
		programID, rate,
	)
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO enrollments (id, device_id, user_id, program_id, status, credits_generated, credits_available)
		 VALUES ($1, $2, $3, $4, 'active', 0, 0)`,
		enrollmentID, deviceID, uuid.NewString(), programID,
	)
	require.NoError(t, err)

	return enrollmentID, deviceID
}

func mintCounters(t *testing.T, db *sql.DB, enrollmentID string) (generated, available decimal.Decimal) {
	t.Helper()

	var g, a string
	err := db.QueryRow(
		`SELECT credits_generated, credits_available FROM enrollments WHERE id = $1`,
		enrollmentID,
	).Scan(&g, &a)
	require.NoError(t, err)

	return decimal.RequireFromString(g), decimal.RequireFromString(a)
}

func qualifyingReading(deviceID string, ts int64) messaging.ReadingEvent {
	return messaging.ReadingEvent{
		DeviceID:  deviceID,
		Timestamp: ts,
		Sensors:   map[string]float64{"ph": 7.1, "tds_ppm": 410, "turbidity_ntu": 2.4},
	}
}

func TestProcessReadingIdempotency(t *testing.T) {
	db := mintingTestDB(t)
	enrollmentID, deviceID := seedMintFixture(t, db, "0.01")

	engine := NewEngine(db, nil, &messaging.Client{}, notify.NewMonitor(db, &messaging.Client{}))
	ctx := context.Background()
	ev := qualifyingReading(deviceID, time.Now().UnixMilli())

	t.Run("should mint exactly one credit under redelivery", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, engine.ProcessReading(ctx, ev))
		}

		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM credits WHERE mint_key = $1`,
			MintKey(deviceID, ev.Timestamp, enrollmentID)).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		generated, available := mintCounters(t, db, enrollmentID)
		assert.True(t, generated.Equal(decimal.RequireFromString("0.01")),
			"counter incremented once, got %s", generated)
		assert.True(t, available.Equal(generated))
	})

	t.Run("should no-op concurrent replays of the same event", func(t *testing.T) {
		replay := qualifyingReading(deviceID, ev.Timestamp+60000)

		var g errgroup.Group
		for i := 0; i < 4; i++ {
			g.Go(func() error { return engine.ProcessReading(ctx, replay) })
		}
		require.NoError(t, g.Wait())

		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM credits WHERE mint_key = $1`,
			MintKey(deviceID, replay.Timestamp, enrollmentID)).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		generated, available := mintCounters(t, db, enrollmentID)
		assert.True(t, generated.Equal(decimal.RequireFromString("0.02")),
			"two distinct readings, got %s", generated)
		assert.True(t, available.Equal(generated))
	})
}

func TestProcessReadingConcurrentCounters(t *testing.T) {
	db := mintingTestDB(t)
	enrollmentID, deviceID := seedMintFixture(t, db, "0.01")

	engine := NewEngine(db, nil, &messaging.Client{}, notify.NewMonitor(db, &messaging.Client{}))
	ctx := context.Background()
	base := time.Now().UnixMilli()

	const mints = 8
	var g errgroup.Group
	for i := 0; i < mints; i++ {
		ev := qualifyingReading(deviceID, base+int64(i)*60000)
		g.Go(func() error { return engine.ProcessReading(ctx, ev) })
	}
	require.NoError(t, g.Wait())

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM credits WHERE enrollment_id = $1`, enrollmentID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, mints, count)

	generated, available := mintCounters(t, db, enrollmentID)
	assert.True(t, generated.Equal(decimal.RequireFromString("0.08")),
		"no update lost, got %s", generated)
	assert.True(t, available.Equal(generated))
}
