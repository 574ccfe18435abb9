package poly

import (
	"reflect"
	"testing"
)

func TestExponentsCountFormula(t *testing.T) {
	cases := []struct{ degree, order, nvars int }{
		{0, 1, 0},
		{0, 3, 4},
		{1, 1, 3},
		{2, 1, 3},
		{2, 2, 3},
		{3, 1, 4},
		{3, 2, 2},
		{5, 2, 3}, // degree exceeds nvars
	}
	for _, c := range cases {
		vecs, err := Exponents(c.degree, c.order, c.nvars)
		if err != nil {
			t.Fatalf("Exponents(%d,%d,%d): %v", c.degree, c.order, c.nvars, err)
		}
		if want := Count(c.degree, c.order, c.nvars); len(vecs) != want {
			t.Errorf("Exponents(%d,%d,%d) produced %d vectors, want %d", c.degree, c.order, c.nvars, len(vecs), want)
		}
	}
}

func TestExponentsBounds(t *testing.T) {
	vecs, err := Exponents(3, 2, 4)
	if err != nil {
		t.Fatalf("Exponents: %v", err)
	}
	for _, v := range vecs {
		nonzero := 0
		for _, e := range v {
			if e < 0 || e > 2 {
				t.Fatalf("entry %d out of [0,2] in %v", e, v)
			}
			if e != 0 {
				nonzero++
			}
		}
		if nonzero > 3 {
			t.Fatalf("vector %v has %d nonzero entries, degree is 3", v, nonzero)
		}
	}
}

func TestExponentsDegreeZero(t *testing.T) {
	vecs, err := Exponents(0, 5, 3)
	if err != nil {
		t.Fatalf("Exponents: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected exactly one vector, got %d", len(vecs))
	}
	if !reflect.DeepEqual(vecs[0], Vector{0, 0, 0}) {
		t.Fatalf("expected all-zero vector, got %v", vecs[0])
	}
}

func TestExponentsZeroVars(t *testing.T) {
	vecs, err := Exponents(2, 1, 0)
	if err != nil {
		t.Fatalf("Exponents: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 0 {
		t.Fatalf("expected single empty vector, got %v", vecs)
	}
}

func TestExponentsOrderingStable(t *testing.T) {
	a, _ := Exponents(2, 2, 2)
	b, _ := Exponents(2, 2, 2)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("enumeration not deterministic: %v vs %v", a, b)
	}
	want := []Vector{
		{0, 0},
		{1, 0}, {2, 0},
		{0, 1}, {0, 2},
		{1, 1}, {1, 2}, {2, 1}, {2, 2},
	}
	if !reflect.DeepEqual(a, want) {
		t.Fatalf("unexpected ordering:\n got %v\nwant %v", a, want)
	}
}

func TestExponentsRejectsBadInput(t *testing.T) {
	if _, err := Exponents(-1, 1, 2); err == nil {
		t.Fatal("expected error for negative degree")
	}
	if _, err := Exponents(1, 0, 2); err == nil {
		t.Fatal("expected error for order < 1")
	}
	if _, err := Exponents(1, 1, -2); err == nil {
		t.Fatal("expected error for negative nvars")
	}
}

func TestClamp(t *testing.T) {
	if d, adjusted := Clamp(10, 3, 1); !adjusted || d != 3 {
		t.Fatalf("Clamp(10,3,1) = (%d,%v), want (3,true)", d, adjusted)
	}
	if d, adjusted := Clamp(2, 3, 1); adjusted || d != 2 {
		t.Fatalf("Clamp(2,3,1) = (%d,%v), want (2,false)", d, adjusted)
	}
}
