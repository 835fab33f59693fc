package eligibility

import (
	"github.com/shopspring/decimal"

	"github.com/bluesignal/creditengine/internal/taxonomy"
)

// Enrollment binds one device to one trading program for one user.
// Counters are mutated only by minting and trade settlement.
type Enrollment struct {
	ID               string          `json:"id"`
	DeviceID         string          `json:"device_id"`
	UserID           string          `json:"user_id"`
	ProgramID        string          `json:"program_id"`
	Status           string          `json:"status"`
	CreditsGenerated decimal.Decimal `json:"credits_generated"`
	CreditsAvailable decimal.Decimal `json:"credits_available"`
}

// Program is read-only configuration from the program registry.
type Program struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Status          string          `json:"status"`
	Type            string          `json:"type"`
	RequiredSensors []string        `json:"required_sensors"`
	RatePerUnit     decimal.Decimal `json:"rate_per_unit"`
	Unit            string          `json:"unit"`
}

// Candidate is an (enrollment, program) pair cleared for minting.
type Candidate struct {
	Enrollment Enrollment
	Program    Program
}

// ProgramLookup resolves a program id against the registry. A false
// return means the program is absent and the enrollment is skipped.
type ProgramLookup func(programID string) (Program, bool)

// Evaluate filters the enrollments referencing a reading's device down
// to the pairs eligible for minting. Derived fresh per reading event;
// result order carries no meaning and callers must not rely on it.
func Evaluate(sensors map[string]float64, enrollments []Enrollment, lookup ProgramLookup) []Candidate {
	var candidates []Candidate

	for _, enrollment := range enrollments {
		if enrollment.Status != "active" && enrollment.Status != "enrolled" {
			continue
		}

		program, ok := lookup(enrollment.ProgramID)
		if !ok {
			continue
		}
		if program.Status != "active" {
			continue
		}
		if !program.RatePerUnit.IsPositive() {
			continue
		}

		if !taxonomy.Matches(sensors, program.RequiredSensors) {
			continue
		}

		candidates = append(candidates, Candidate{
			Enrollment: enrollment,
			Program:    program,
		})
	}

	return candidates
}
