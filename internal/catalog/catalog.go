// Package catalog models the constant catalog consumed by the relation
// discovery engine: constants, their extension annotations, and the
// predicates that select which constants are eligible for testing.
package catalog

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Kind identifies how a constant was derived. The numeric values order the
// kinds by ascending priority; refill eviction prefers to keep the
// highest-priority kinds in the working set.
type Kind int

const (
	KindPowerOf Kind = iota
	KindDerived
	KindPcfCanonical
	KindNamed
)

var kindNames = map[Kind]string{
	KindPowerOf:      "PowerOf",
	KindDerived:      "Derived",
	KindPcfCanonical: "PcfCanonical",
	KindNamed:        "Named",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps an extension-type name to its Kind. Unknown names are an
// error; callers decide whether that is fatal (see ParseFilters).
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown extension type %q", name)
}

// Convergence classifies how a canonical continued fraction behaves in the
// limit. Rational PCFs carry no relation information and are filtered out.
type Convergence int

const (
	ConvergenceIndeterminate Convergence = iota
	ConvergenceRational
	ConvergenceIrrational
	ConvergencePolynomial
	ConvergenceGeometric
	ConvergenceDivergent
)

// Extension is a typed annotation describing one derivation of a constant.
// Exactly one of the kind-specific fields is populated, per Kind.
type Extension struct {
	Kind Kind

	// KindPowerOf
	Base int64

	// KindDerived
	Family string

	// KindPcfCanonical
	P           []int64
	Q           []int64
	Convergence Convergence

	// KindNamed
	Name        string
	Description string
}

// Constant is a catalog entry. The catalog owns constants; the engine only
// reads them. Value may be nil when the stored numeric is null.
type Constant struct {
	ID        uuid.UUID
	Value     *big.Float
	Decimal   string // decimal rendering as stored, passed through to the kernel
	Precision int    // count of trustworthy digits
	TimeAdded time.Time
	Exts      []Extension
}

// Priority returns the highest-priority extension kind attached to the
// constant, and false if it has no extensions at all.
func (c *Constant) Priority() (Kind, bool) {
	ok := false
	best := KindPowerOf
	for _, e := range c.Exts {
		if !ok || e.Kind > best {
			best = e.Kind
			ok = true
		}
	}
	return best, ok
}

// HasRelationContent reports whether the constant carries at least one
// extension usable for relation discovery. Rational continued fractions are
// excluded unconditionally: a rational value yields only trivial kernel hits.
func (c *Constant) HasRelationContent() bool {
	for _, e := range c.Exts {
		if e.Kind == KindPcfCanonical && e.Convergence == ConvergenceRational {
			continue
		}
		return true
	}
	return false
}

// Ext returns the constant's extension of the given kind, if any.
func (c *Constant) Ext(kind Kind) (Extension, bool) {
	for _, e := range c.Exts {
		if e.Kind == kind {
			return e, true
		}
	}
	return Extension{}, false
}

// IsWorkable reports whether x is numerically meaningful at the requested
// test precision: nonzero, and not so close to zero or so large that
// roi*|log10(x)| reaches the precision. Checked before any combinatorial
// step so degenerate values never reach the kernel.
func IsWorkable(x *big.Float, precision int, roi float64) bool {
	if x == nil || x.Sign() == 0 {
		return false
	}
	return roi*math.Abs(log10(x)) < float64(precision)
}

// log10 approximates log10(|x|) using the binary mantissa/exponent split,
// which is exact enough for a magnitude screen.
func log10(x *big.Float) float64 {
	mant := new(big.Float)
	exp := x.MantExp(mant)
	m, _ := mant.Float64()
	return float64(exp)*math.Log10(2) + math.Log10(math.Abs(m))
}
