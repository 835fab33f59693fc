package minting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReadingCounter counts stored readings for a device over a range.
// Backed by the readings time-series store in production.
type ReadingCounter interface {
	CountReadings(ctx context.Context, deviceID string, from, to time.Time) (int64, error)
}

// RecomputeRequest asks for a read-only credit aggregation over a
// time range. Timestamps are epoch milliseconds; zero means unbounded.
type RecomputeRequest struct {
	EnrollmentID  string `json:"enrollmentId" binding:"required"`
	FromTimestamp int64  `json:"fromTimestamp"`
	ToTimestamp   int64  `json:"toTimestamp"`
}

// RecomputeResult reports what the stored readings would mint. No
// state is mutated; it may run concurrently with live minting.
type RecomputeResult struct {
	EnrollmentID  string          `json:"enrollmentId"`
	DeviceID      string          `json:"deviceId"`
	ProgramID     string          `json:"programId"`
	ReadingsCount int64           `json:"readingsCount"`
	RatePerUnit   decimal.Decimal `json:"ratePerUnit"`
	TotalCredits  decimal.Decimal `json:"totalCredits"`
	Unit          string          `json:"unit"`
}

// Recompute counts the enrollment's device readings in the range and
// multiplies by the program rate.
func (e *Engine) Recompute(ctx context.Context, counter ReadingCounter, req RecomputeRequest) (*RecomputeResult, error) {
	var deviceID, programID string
	err := e.db.QueryRowContext(ctx,
		`SELECT device_id, program_id FROM enrollments WHERE id = $1`,
		req.EnrollmentID,
	).Scan(&deviceID, &programID)
	if err == sql.ErrNoRows {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment: %w", err)
	}

	var rate decimal.Decimal
	var unit string
	err = e.db.QueryRowContext(ctx,
		`SELECT rate_per_unit, unit FROM trading_programs WHERE id = $1`,
		programID,
	).Scan(&rate, &unit)
	if err == sql.ErrNoRows {
		return nil, ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query program: %w", err)
	}

	from := time.UnixMilli(0)
	if req.FromTimestamp > 0 {
		from = time.UnixMilli(req.FromTimestamp)
	}
	to := time.Now()
	if req.ToTimestamp > 0 {
		to = time.UnixMilli(req.ToTimestamp)
	}

	count, err := counter.CountReadings(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	return &RecomputeResult{
		EnrollmentID:  req.EnrollmentID,
		DeviceID:      deviceID,
		ProgramID:     programID,
		ReadingsCount: count,
		RatePerUnit:   rate,
		TotalCredits:  rate.Mul(decimal.NewFromInt(count)),
		Unit:          unit,
	}, nil
}
