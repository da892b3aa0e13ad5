package elo

import (
	"math"
	"testing"
)

func TestExpectedScore(t *testing.T) {
	cases := []struct {
		name string
		a, b int
		want float64
	}{
		{name: "equal ratings", a: 1000, b: 1000, want: 0.5},
		{name: "stronger player", a: 1400, b: 1000, want: 1 / (1 + math.Pow(10, -1))},
		{name: "weaker player", a: 1000, b: 1400, want: 1 / (1 + math.Pow(10, 1))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExpectedScore(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ExpectedScore(%d,%d) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestUpdateRating(t *testing.T) {
	cases := []struct {
		name     string
		rating   int
		expected float64
		actual   int
		k        int
		want     int
	}{
		{name: "even win", rating: 1000, expected: 0.5, actual: 1, k: 32, want: 1016},
		{name: "even loss", rating: 1000, expected: 0.5, actual: 0, k: 32, want: 984},
		{name: "upset win", rating: 1000, expected: 0.09090909090909091, actual: 1, k: 32, want: 1029},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := UpdateRating(tc.rating, tc.expected, tc.actual, tc.k)
			if got != tc.want {
				t.Fatalf("UpdateRating = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestOutcome_Symmetric(t *testing.T) {
	w, l := Outcome(1000, 1000, 32)
	if w != 1016 || l != 984 {
		t.Fatalf("Outcome(1000,1000,32) = %d,%d; want 1016,984", w, l)
	}

	// Points exchanged must mirror each other for equal ratings.
	if (w - 1000) != (1000 - l) {
		t.Fatalf("rating exchange not symmetric: +%d vs -%d", w-1000, 1000-l)
	}
}
