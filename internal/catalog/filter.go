package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
)

// ErrNoFilters is returned when the filter set is empty after removing the
// reserved global entry. The job proceeds with an empty result; this is a
// configuration error, not a crash.
var ErrNoFilters = errors.New("no per-type filters configured")

// GlobalFilter holds catalog-wide predicates, keyed "global" in job config.
// A positive Sample draws that many constants at random instead of the full
// catalog; discovery order is then nondeterministic across runs.
type GlobalFilter struct {
	MinPrecision int
	Sample       int
}

// PcfFilter selects canonical continued-fraction constants. Count is how many
// of them appear together in a candidate tuple. BalancedOnly additionally
// requires len(P) == len(Q).
type PcfFilter struct {
	Count        int
	BalancedOnly bool
}

// NamedFilter selects named constants. Addons optionally restricts to
// specific algebraic addon labels.
type NamedFilter struct {
	Count  int
	Addons []string
}

// Filters is the parsed per-type filter set of a job.
type Filters struct {
	Global GlobalFilter
	Pcf    *PcfFilter
	Named  *NamedFilter
}

// Kinds lists the extension kinds with an active per-type filter, in
// ascending priority order.
func (f Filters) Kinds() []Kind {
	var out []Kind
	if f.Pcf != nil {
		out = append(out, KindPcfCanonical)
	}
	if f.Named != nil {
		out = append(out, KindNamed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the required tuple contribution for the given kind.
func (f Filters) Count(kind Kind) int {
	switch kind {
	case KindPcfCanonical:
		if f.Pcf != nil {
			return f.Pcf.Count
		}
	case KindNamed:
		if f.Named != nil {
			return f.Named.Count
		}
	}
	return 0
}

// Empty reports whether no per-type filter survived parsing.
func (f Filters) Empty() bool {
	return f.Pcf == nil && f.Named == nil
}

// ParseFilters converts the raw config mapping into a Filters value. The
// reserved "global" key carries catalog-wide predicates. Unsupported filter
// type names are logged at warn level and dropped; a single unknown entry is
// non-fatal. Only the kinds that can anchor a candidate tuple (Named,
// PcfCanonical) accept per-type filters.
func ParseFilters(raw map[string]map[string]interface{}, logger *log.Logger) (Filters, error) {
	var f Filters
	for name, opts := range raw {
		switch name {
		case "global":
			f.Global.MinPrecision = intOpt(opts, "min_precision", 0)
			f.Global.Sample = intOpt(opts, "sample", 0)
		case "PcfCanonical":
			f.Pcf = &PcfFilter{
				Count:        intOpt(opts, "count", 1),
				BalancedOnly: boolOpt(opts, "balanced_only"),
			}
		case "Named":
			nf := &NamedFilter{Count: intOpt(opts, "count", 1)}
			if addons, ok := opts["addons"].([]interface{}); ok {
				for _, a := range addons {
					if s, ok := a.(string); ok {
						nf.Addons = append(nf.Addons, s)
					}
				}
			} else if addons, ok := opts["addons"].([]string); ok {
				nf.Addons = append(nf.Addons, addons...)
			}
			f.Named = nf
		default:
			if logger != nil {
				logger.Printf("warn: unsupported filter type %q dropped", name)
			}
		}
	}
	if f.Pcf != nil && f.Pcf.Count < 1 {
		return f, fmt.Errorf("PcfCanonical filter count must be >= 1, got %d", f.Pcf.Count)
	}
	if f.Named != nil && f.Named.Count < 1 {
		return f, fmt.Errorf("Named filter count must be >= 1, got %d", f.Named.Count)
	}
	return f, nil
}

func intOpt(opts map[string]interface{}, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func boolOpt(opts map[string]interface{}, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

// Source is the read side of the catalog as the engine consumes it.
type Source interface {
	// ConstantsByMinPrecision returns constants with at least minPrecision
	// trustworthy digits, extensions loaded, in catalog (const_id) order.
	// A positive sample returns that many constants drawn at random instead.
	ConstantsByMinPrecision(ctx context.Context, minPrecision, sample int) ([]Constant, error)
}

// Pools holds the eligible constants per anchoring kind, in catalog order.
type Pools map[Kind][]Constant

// Eligible applies the filter set against the catalog and returns the
// per-kind eligible pools. Every constant returned has at least one
// extension, satisfies the kind-specific predicates, and is workable at the
// given test precision and ROI threshold. The workability screen runs here,
// before any combinatorial step.
func Eligible(ctx context.Context, src Source, f Filters, testingPrecision int, roi float64, logger *log.Logger) (Pools, error) {
	if f.Empty() {
		return nil, ErrNoFilters
	}
	consts, err := src.ConstantsByMinPrecision(ctx, f.Global.MinPrecision, f.Global.Sample)
	if err != nil {
		return nil, fmt.Errorf("load constants: %w", err)
	}

	pools := make(Pools)
	for _, c := range consts {
		c := c
		if len(c.Exts) == 0 || !IsWorkable(c.Value, testingPrecision, roi) {
			continue
		}
		if f.Pcf != nil {
			if ext, ok := c.Ext(KindPcfCanonical); ok && admitPcf(ext, f.Pcf) {
				pools[KindPcfCanonical] = append(pools[KindPcfCanonical], c)
				// a constant anchors exactly one pool; otherwise the
				// cross-kind product could seat it in two slots of the
				// same candidate tuple
				continue
			}
		}
		if f.Named != nil {
			if ext, ok := c.Ext(KindNamed); ok && admitNamed(ext, f.Named) {
				pools[KindNamed] = append(pools[KindNamed], c)
			}
		}
	}

	for _, kind := range f.Kinds() {
		if logger != nil {
			logger.Printf("filter: %d eligible %s constants", len(pools[kind]), kind)
		}
	}
	return pools, nil
}

func admitPcf(ext Extension, f *PcfFilter) bool {
	if ext.Convergence == ConvergenceRational {
		return false
	}
	if f.BalancedOnly && len(ext.P) != len(ext.Q) {
		return false
	}
	return true
}

func admitNamed(ext Extension, f *NamedFilter) bool {
	if len(f.Addons) == 0 {
		return true
	}
	for _, a := range f.Addons {
		if ext.Name == a {
			return true
		}
	}
	return false
}
