// Package relation models discovered polynomial integer relations and the
// coverage check that decides whether a candidate combination is already
// explained by a known relation.
package relation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/quarrymath/quarry/internal/poly"
)

// AlgorithmPolyPSLQ tags relations found by the polynomial PSLQ kernel.
const AlgorithmPolyPSLQ = "POLYNOMIAL_PSLQ"

// Relation is one discovered polynomial integer relation. Relations are
// immutable once persisted; the engine appends and reads, never mutates.
// Coefficients are indexed by poly.Exponents(Degree, Order, len(ConstantIDs))
// and ConstantIDs preserves the variable ordering used to find the relation.
type Relation struct {
	ID           uuid.UUID
	Algorithm    string
	Precision    int
	Degree       int
	Order        int
	Coefficients []int64
	ConstantIDs  []uuid.UUID
}

// Validate checks the structural invariant tying the coefficient vector to
// the monomial enumeration for the relation's envelope.
func (r Relation) Validate() error {
	want := poly.Count(r.Degree, r.Order, len(r.ConstantIDs))
	if len(r.Coefficients) != want {
		return fmt.Errorf("relation %s: %d coefficients for degree=%d order=%d over %d constants, want %d",
			r.ID, len(r.Coefficients), r.Degree, r.Order, len(r.ConstantIDs), want)
	}
	return nil
}

// Covers reports whether r already explains a candidate combination: r's
// constant multiset is contained in the candidate's, and r's degree/order
// envelope fits inside the candidate's. Re-testing such a candidate at
// equal-or-looser bounds cannot reveal structure beyond composing r.
func (r Relation) Covers(candidate []uuid.UUID, degree, order int) bool {
	if r.Degree > degree || r.Order > order {
		return false
	}
	remaining := make(map[uuid.UUID]int, len(candidate))
	for _, id := range candidate {
		remaining[id]++
	}
	for _, id := range r.ConstantIDs {
		if remaining[id] == 0 {
			return false
		}
		remaining[id]--
	}
	return true
}

// IsNew reports whether testing the candidate combination at the given
// envelope could yield anything not already implied by the known relations.
// This gate is cheap metadata work and must run before any kernel call.
func IsNew(candidate []uuid.UUID, degree, order int, known []Relation) bool {
	for _, r := range known {
		if r.Covers(candidate, degree, order) {
			return false
		}
	}
	return true
}
