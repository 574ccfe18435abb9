// Package pslq defines the boundary to the numeric integer-relation kernel.
// The kernel itself is an external black box: given real numbers and a
// monomial structure, it reports integer coefficient vectors whose weighted
// sum is zero within the precision and ROI bounds. This package supplies the
// interface the engine consumes and an adapter that drives a kernel binary
// as a subprocess speaking JSON.
package pslq

import (
	"context"

	"github.com/google/uuid"
)

// Input is one constant handed to the kernel, in tuple order. Decimal is the
// full stored decimal rendering; the kernel parses it at its own working
// precision.
type Input struct {
	ID        uuid.UUID `json:"id"`
	Decimal   string    `json:"decimal"`
	Precision int       `json:"precision"`
}

// Found is one accepted relation reported by the kernel. Indices select the
// participating subset of the supplied inputs, preserving supplied order;
// Coefficients is indexed by the monomial enumeration over that subset.
type Found struct {
	Indices      []int   `json:"indices"`
	Coefficients []int64 `json:"coefficients"`
	Precision    int     `json:"precision"`
}

// Tester is the relation-test kernel as the engine consumes it. An empty
// result means no relation was found at the given thresholds; zero, one or
// more relations may come back from a single call.
type Tester interface {
	Test(ctx context.Context, consts []Input, degree, order, precision int, roi float64) ([]Found, error)
}
