package minting

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// nextSerial assigns the next registry serial for a nutrient credit,
// formatted VA-<basin>-<year>-<N|P>-<seq>. The per-(basin, year,
// nutrient) sequence row is incremented inside the mint transaction.
func nextSerial(ctx context.Context, tx *sql.Tx, basinCode string, readingTimestamp int64, programType string) (string, error) {
	year := time.UnixMilli(readingTimestamp).UTC().Year()
	nutrient := nutrientCode(programType)

	var seq int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO credit_serials (basin_code, year, nutrient, seq)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (basin_code, year, nutrient)
		 DO UPDATE SET seq = credit_serials.seq + 1
		 RETURNING seq`,
		basinCode, year, nutrient,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("failed to allocate credit serial: %w", err)
	}

	return formatSerial(basinCode, year, nutrient, seq), nil
}

func formatSerial(basinCode string, year int, nutrient string, seq int64) string {
	return fmt.Sprintf("VA-%s-%d-%s-%06d", strings.ToUpper(basinCode), year, nutrient, seq)
}

func nutrientCode(programType string) string {
	if strings.Contains(strings.ToLower(programType), "phosphorus") {
		return "P"
	}
	return "N"
}

func parseCounter(value string) (decimal.Decimal, error) {
	return decimal.NewFromString(value)
}
