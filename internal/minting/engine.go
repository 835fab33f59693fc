package minting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/bluesignal/creditengine/internal/eligibility"
	"github.com/bluesignal/creditengine/internal/notify"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

var ErrEnrollmentNotFound = errors.New("enrollment not found")
var ErrProgramNotFound = errors.New("trading program not found")

// dedupTTL bounds how long committed mint keys are remembered in the
// fast path. The SQL unique constraint is the real guarantee.
const dedupTTL = 7 * 24 * time.Hour

// Engine mints credit records from qualifying readings. One reading
// event is one unit of work; the credit insert and the enrollment
// counter update commit in a single transaction, keyed so that
// at-least-once redelivery is a no-op.
type Engine struct {
	db      *sql.DB
	redis   *redis.Client
	nats    *messaging.Client
	monitor *notify.Monitor
}

// origin carries the device metadata stamped onto a credit record.
type origin struct {
	SiteID    string
	Watershed string
	BasinCode string
}

// NewEngine creates a minting engine.
func NewEngine(db *sql.DB, rdb *redis.Client, nats *messaging.Client, monitor *notify.Monitor) *Engine {
	return &Engine{db: db, redis: rdb, nats: nats, monitor: monitor}
}

// MintKey derives the idempotency key for one (reading, enrollment)
// mint attempt.
func MintKey(deviceID string, timestamp int64, enrollmentID string) string {
	return fmt.Sprintf("%s:%d:%s", deviceID, timestamp, enrollmentID)
}

// ProcessReading evaluates one reading event against every enrollment
// referencing its device and mints a credit per eligible pair.
// Ineligible pairs are skipped silently; any persistence failure fails
// the whole event so the caller redelivers it.
func (e *Engine) ProcessReading(ctx context.Context, ev messaging.ReadingEvent) error {
	enrollments, err := e.enrollmentsForDevice(ctx, ev.DeviceID)
	if err != nil {
		return err
	}
	if len(enrollments) == 0 {
		return nil
	}

	programs, err := e.programsFor(ctx, enrollments)
	if err != nil {
		return err
	}

	candidates := eligibility.Evaluate(ev.Sensors, enrollments, func(id string) (eligibility.Program, bool) {
		p, ok := programs[id]
		return p, ok
	})
	if len(candidates) == 0 {
		log.Printf("minting: no eligible enrollments for device %s at %d", ev.DeviceID, ev.Timestamp)
		return nil
	}

	deviceOrigin, err := e.deviceOrigin(ctx, ev.DeviceID)
	if err != nil {
		return err
	}

	// Candidates are independent; aggregate outcome must not depend on
	// iteration order.
	for _, candidate := range candidates {
		if err := e.mintOne(ctx, ev, candidate, deviceOrigin); err != nil {
			return fmt.Errorf("minting for enrollment %s: %w", candidate.Enrollment.ID, err)
		}
	}
	return nil
}

func (e *Engine) mintOne(ctx context.Context, ev messaging.ReadingEvent, candidate eligibility.Candidate, dev origin) error {
	enrollment := candidate.Enrollment
	program := candidate.Program
	amount := program.RatePerUnit
	mintKey := MintKey(ev.DeviceID, ev.Timestamp, enrollment.ID)

	// Fast path: the marker is written only after a successful commit,
	// so a hit here is always a true duplicate.
	if e.redis != nil {
		if _, err := e.redis.Get(ctx, "mint:"+mintKey).Result(); err == nil {
			return nil
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	creditID := uuid.New()
	now := time.Now()
	methodology := fmt.Sprintf("auto-%s-%s", program.Type, enrollment.ID)

	serial := ""
	if dev.BasinCode != "" && program.Type == "nutrient" {
		serial, err = nextSerial(ctx, tx, dev.BasinCode, ev.Timestamp, program.Type)
		if err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO credits (id, mint_key, type, amount, unit, site_id, device_id, watershed, basin_code,
		                      generated_from, generated_to, methodology, serial_number, status,
		                      current_owner, original_owner, listed, enrollment_id, program_id,
		                      reading_timestamp, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11, $12, 'pending', $13, $13, false, $14, $15, $10, $16, $16)
		 ON CONFLICT (mint_key) DO NOTHING`,
		creditID, mintKey, program.Type, amount, program.Unit,
		dev.SiteID, ev.DeviceID, dev.Watershed, dev.BasinCode,
		ev.Timestamp, methodology, serial,
		enrollment.UserID, enrollment.ID, program.ID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Already minted under this key; remember that and move on.
		e.markMinted(ctx, mintKey)
		return nil
	}

	// Atomic read-modify-write on the counters; a plain read-then-write
	// here would race concurrent mints on the same enrollment.
	var generatedAfter string
	err = tx.QueryRowContext(ctx,
		`UPDATE enrollments
		 SET credits_generated = credits_generated + $1, credits_available = credits_available + $1
		 WHERE id = $2
		 RETURNING credits_generated`,
		amount, enrollment.ID,
	).Scan(&generatedAfter)
	if err == sql.ErrNoRows {
		return ErrEnrollmentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update enrollment counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mint: %w", err)
	}

	e.markMinted(ctx, mintKey)

	counterAfter, err := parseCounter(generatedAfter)
	if err != nil {
		log.Printf("minting: unreadable counter for enrollment %s: %v", enrollment.ID, err)
	} else {
		e.monitor.CreditMinted(ctx, notify.MintObservation{
			UserID:        enrollment.UserID,
			DeviceID:      ev.DeviceID,
			ProgramID:     program.ID,
			ProgramName:   program.Name,
			CreditType:    program.Type,
			Amount:        amount,
			CounterBefore: counterAfter.Sub(amount),
		})
	}

	minted := messaging.CreditMintedEvent{
		CreditID:     creditID,
		EnrollmentID: enrollment.ID,
		ProgramID:    program.ID,
		DeviceID:     ev.DeviceID,
		Type:         program.Type,
		Amount:       amount.String(),
		Unit:         program.Unit,
		SerialNumber: serial,
	}
	if err := e.nats.PublishEvent(ctx, messaging.EventTypeCreditMinted, minted, messaging.EventMetadata{
		Source: "minting",
		UserID: enrollment.UserID,
	}); err != nil {
		log.Printf("minting: failed to publish credit.minted for %s: %v", creditID, err)
	}

	return nil
}

func (e *Engine) markMinted(ctx context.Context, mintKey string) {
	if e.redis == nil {
		return
	}
	if err := e.redis.Set(ctx, "mint:"+mintKey, 1, dedupTTL).Err(); err != nil {
		log.Printf("minting: failed to set dedup marker %s: %v", mintKey, err)
	}
}

func (e *Engine) enrollmentsForDevice(ctx context.Context, deviceID string) ([]eligibility.Enrollment, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, device_id, user_id, program_id, status, credits_generated, credits_available
		 FROM enrollments WHERE device_id = $1`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []eligibility.Enrollment
	for rows.Next() {
		var en eligibility.Enrollment
		err := rows.Scan(&en.ID, &en.DeviceID, &en.UserID, &en.ProgramID, &en.Status,
			&en.CreditsGenerated, &en.CreditsAvailable)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, en)
	}
	return enrollments, rows.Err()
}

func (e *Engine) programsFor(ctx context.Context, enrollments []eligibility.Enrollment) (map[string]eligibility.Program, error) {
	ids := make([]string, 0, len(enrollments))
	seen := make(map[string]bool, len(enrollments))
	for _, en := range enrollments {
		if !seen[en.ProgramID] {
			seen[en.ProgramID] = true
			ids = append(ids, en.ProgramID)
		}
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT id, name, status, type, COALESCE(required_sensors, '{}'), rate_per_unit, unit
		 FROM trading_programs WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	programs := make(map[string]eligibility.Program, len(ids))
	for rows.Next() {
		var p eligibility.Program
		var sensors pq.StringArray
		err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Type, &sensors, &p.RatePerUnit, &p.Unit)
		if err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		p.RequiredSensors = sensors
		programs[p.ID] = p
	}
	return programs, rows.Err()
}

func (e *Engine) deviceOrigin(ctx context.Context, deviceID string) (origin, error) {
	var dev origin
	err := e.db.QueryRowContext(ctx,
		`SELECT COALESCE(site_id, ''), COALESCE(watershed, ''), COALESCE(basin_code, '')
		 FROM devices WHERE id = $1`,
		deviceID,
	).Scan(&dev.SiteID, &dev.Watershed, &dev.BasinCode)
	if err == sql.ErrNoRows {
		// A credit can still mint without device metadata; origin
		// fields stay empty, matching enrollment-first provisioning.
		return origin{}, nil
	}
	if err != nil {
		return origin{}, fmt.Errorf("failed to query device: %w", err)
	}
	return dev, nil
}
