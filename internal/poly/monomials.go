// Package poly enumerates the multivariate-monomial structures used as the
// polynomial ansatz for integer-relation testing.
package poly

import "fmt"

// Vector is one exponent assignment, one entry per variable slot. An entry of
// zero means the variable is absent from the monomial; the all-zero vector is
// the constant term.
type Vector []int

// Clamp bounds degree by the number of available variables. A degree wider
// than nvars*order cannot produce more simultaneously-nonzero exponents than
// nvars, so the effective degree is nvars. Returns the degree to use and
// whether an adjustment was made; callers are expected to log the adjustment.
func Clamp(degree, nvars, order int) (int, bool) {
	if order >= 1 && degree > nvars*order {
		return nvars, true
	}
	return degree, false
}

// Count returns the number of vectors Exponents produces for the given
// parameters: sum over k in [0, min(degree,nvars)] of C(nvars,k) * order^k.
func Count(degree, order, nvars int) int {
	if degree > nvars {
		degree = nvars
	}
	total := 0
	for k := 0; k <= degree; k++ {
		total += binomial(nvars, k) * pow(order, k)
	}
	return total
}

// Exponents enumerates every exponent vector for an nvars-variable polynomial
// of total degree at most degree, where no single exponent exceeds order. The
// ordering is deterministic: variable subsets by ascending size in combination
// order, then exponents over the chosen slots in odometer order. Relation
// coefficient vectors are indexed by this same ordering.
func Exponents(degree, order, nvars int) ([]Vector, error) {
	if degree < 0 {
		return nil, fmt.Errorf("degree must be >= 0, got %d", degree)
	}
	if order < 1 {
		return nil, fmt.Errorf("order must be >= 1, got %d", order)
	}
	if nvars < 0 {
		return nil, fmt.Errorf("nvars must be >= 0, got %d", nvars)
	}
	if degree > nvars {
		degree = nvars
	}

	out := make([]Vector, 0, Count(degree, order, nvars))
	for k := 0; k <= degree; k++ {
		subsets(nvars, k, func(slots []int) {
			assignments(order, slots, nvars, func(v Vector) {
				out = append(out, v)
			})
		})
	}
	return out, nil
}

// subsets calls fn with every size-k subset of [0,n) in combination order.
// The slice passed to fn is reused between calls.
func subsets(n, k int, fn func([]int)) {
	if k == 0 {
		fn(nil)
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)
		// advance the rightmost index that can still move
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// assignments emits one Vector per assignment of exponents {1..order} to the
// given slots, odometer order over the slots, zero everywhere else.
func assignments(order int, slots []int, nvars int, fn func(Vector)) {
	exps := make([]int, len(slots))
	for i := range exps {
		exps[i] = 1
	}
	for {
		v := make(Vector, nvars)
		for i, s := range slots {
			v[s] = exps[i]
		}
		fn(v)
		i := len(exps) - 1
		for i >= 0 && exps[i] == order {
			exps[i] = 1
			i--
		}
		if i < 0 {
			return
		}
		exps[i]++
	}
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	res := 1
	for i := 1; i <= k; i++ {
		res = res * (n - k + i) / i
	}
	return res
}

func pow(base, exp int) int {
	res := 1
	for i := 0; i < exp; i++ {
		res *= base
	}
	return res
}
