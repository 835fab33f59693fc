package eligibility

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func fixtureSensors() map[string]float64 {
	return map[string]float64{"ph": 7.1, "tds_ppm": 410, "turbidity_ntu": 2.4}
}

func activeProgram(id string) Program {
	return Program{
		ID:          id,
		Name:        "Chesapeake Nutrient Program",
		Status:      "active",
		Type:        "nutrient",
		RatePerUnit: decimal.RequireFromString("0.01"),
		Unit:        "lbs",
	}
}

func TestEvaluate(t *testing.T) {
	lookup := func(programs map[string]Program) ProgramLookup {
		return func(id string) (Program, bool) {
			p, ok := programs[id]
			return p, ok
		}
	}

	t.Run("should pass active and enrolled enrollments", func(t *testing.T) {
		enrollments := []Enrollment{
			{ID: "e1", ProgramID: "p1", Status: "active"},
			{ID: "e2", ProgramID: "p1", Status: "enrolled"},
			{ID: "e3", ProgramID: "p1", Status: "pending"},
			{ID: "e4", ProgramID: "p1", Status: "suspended"},
			{ID: "e5", ProgramID: "p1", Status: "cancelled"},
		}

		candidates := Evaluate(fixtureSensors(), enrollments, lookup(map[string]Program{"p1": activeProgram("p1")}))

		assert.Len(t, candidates, 2)
	})

	t.Run("should skip missing programs without error", func(t *testing.T) {
		enrollments := []Enrollment{{ID: "e1", ProgramID: "ghost", Status: "active"}}

		candidates := Evaluate(fixtureSensors(), enrollments, lookup(map[string]Program{}))

		assert.Empty(t, candidates)
	})

	t.Run("should skip inactive programs", func(t *testing.T) {
		program := activeProgram("p1")
		program.Status = "inactive"
		enrollments := []Enrollment{{ID: "e1", ProgramID: "p1", Status: "active"}}

		candidates := Evaluate(fixtureSensors(), enrollments, lookup(map[string]Program{"p1": program}))

		assert.Empty(t, candidates)
	})

	t.Run("should skip programs with non-positive rates", func(t *testing.T) {
		program := activeProgram("p1")
		program.RatePerUnit = decimal.Zero
		enrollments := []Enrollment{{ID: "e1", ProgramID: "p1", Status: "active"}}

		candidates := Evaluate(fixtureSensors(), enrollments, lookup(map[string]Program{"p1": program}))

		assert.Empty(t, candidates)
	})

	t.Run("should skip readings missing required sensors", func(t *testing.T) {
		program := activeProgram("p1")
		program.RequiredSensors = []string{"pH", "dissolved_oxygen"}
		enrollments := []Enrollment{{ID: "e1", ProgramID: "p1", Status: "active"}}

		candidates := Evaluate(fixtureSensors(), enrollments, lookup(map[string]Program{"p1": program}))

		assert.Empty(t, candidates)
	})

	t.Run("should evaluate each enrollment independently", func(t *testing.T) {
		strict := activeProgram("strict")
		strict.RequiredSensors = []string{"chlorophyll"}

		enrollments := []Enrollment{
			{ID: "e1", ProgramID: "p1", Status: "active"},
			{ID: "e2", ProgramID: "strict", Status: "active"},
		}

		candidates := Evaluate(fixtureSensors(), enrollments, lookup(map[string]Program{
			"p1":     activeProgram("p1"),
			"strict": strict,
		}))

		assert.Len(t, candidates, 1)
		assert.Equal(t, "e1", candidates[0].Enrollment.ID)
	})
}
