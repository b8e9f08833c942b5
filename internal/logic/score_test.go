package logic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	// Coefficients used throughout: α=1, β=1000, γ=100.
	const alpha, beta, gamma = 1.0, 1000.0, 100.0

	testCases := []struct {
		name     string
		price    float64
		elapsed  int64
		weight   float64
		expected float64
	}{
		{
			name:    "single bid at 500ms",
			price:   1000,
			elapsed: 500,
			weight:  2.0,
			// 1000 + 1000/501 + 200
			expected: 1000 + 1000.0/501 + 200,
		},
		{
			name:    "overbid at 3000ms",
			price:   1500,
			elapsed: 3000,
			weight:  2.0,
			// 1500 + 1000/3001 + 200
			expected: 1500 + 1000.0/3001 + 200,
		},
		{
			name:     "instant bid gets the full time bonus",
			price:    1000,
			elapsed:  0,
			weight:   1.0,
			expected: 1000 + 1000 + 100,
		},
		{
			name:     "negative elapsed clamps to zero",
			price:    1000,
			elapsed:  -50,
			weight:   1.0,
			expected: 1000 + 1000 + 100,
		},
		{
			name:     "late bid time bonus is negligible",
			price:    1000,
			elapsed:  3600000,
			weight:   1.0,
			expected: 1000 + 1000.0/3600001 + 100,
		},
		{
			name:     "vip weight dominates when price is small",
			price:    1,
			elapsed:  1000000000,
			weight:   5.0,
			expected: 1 + 1000.0/1000000001 + 500,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.price, tc.elapsed, tc.weight, alpha, beta, gamma)
			assert.InDelta(t, tc.expected, got, 1e-6)
		})
	}
}

func TestScoreLiteralScenarios(t *testing.T) {
	// The two concrete end-to-end values the scoring must reproduce.
	s1 := Score(1000, 500, 2.0, 1, 1000, 100)
	assert.InDelta(t, 1201.996, s1, 0.001)

	s2 := Score(1500, 3000, 2.0, 1, 1000, 100)
	assert.InDelta(t, 1700.333, s2, 0.001)

	// Two equal-weight users bidding the same price at T=0 must collide.
	u1 := Score(1000, 0, 1.0, 1, 1000, 100)
	u2 := Score(1000, 0, 1.0, 1, 1000, 100)
	assert.Equal(t, u1, u2)
	assert.Equal(t, 2100.0, u1)
}

func TestScoreBounded(t *testing.T) {
	// The +1 denominator keeps the time term finite at T=0 and bounded by β.
	for _, elapsed := range []int64{0, 1, 100, 1e6} {
		s := Score(0, elapsed, 0, 1, 1000, 100)
		assert.False(t, math.IsInf(s, 0))
		assert.LessOrEqual(t, s, 1000.0)
	}
}
