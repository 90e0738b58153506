package service

import (
	"reflect"
	"testing"
)

func TestComputeCashbackOptions_Boundaries(t *testing.T) {
	cases := []struct {
		amount  float64
		options []float64
	}{
		{999, nil},
		{1000, []float64{20}},
		{4999, []float64{20}},
		{5000, []float64{20, 40}},
		{14999, []float64{20, 40}},
		{15000, []float64{20, 40, 60}},
		{50000, []float64{20, 40, 60}},
		{50001, []float64{160}},
		{99999, []float64{160}},
		{100000, []float64{160, 180}},
		{199999, []float64{160, 180}},
		{200000, []float64{160, 180, 200}},
	}

	for _, tc := range cases {
		got := ComputeCashbackOptions(tc.amount)
		if !reflect.DeepEqual(got, tc.options) {
			t.Errorf("ComputeCashbackOptions(%.0f) = %v, want %v", tc.amount, got, tc.options)
		}
	}
}

func TestRecommendedCashback_IsMaxOption(t *testing.T) {
	for _, amount := range []float64{0, 999, 1000, 5000, 15000, 50001, 100000, 200000, 1000000} {
		options := ComputeCashbackOptions(amount)
		recommended := RecommendedCashback(options)

		if len(options) == 0 {
			if recommended != 0 {
				t.Errorf("amount %.0f: recommended = %.0f, want 0 for empty options", amount, recommended)
			}
			continue
		}
		max := options[0]
		for _, option := range options {
			if option > max {
				max = option
			}
		}
		if recommended != max {
			t.Errorf("amount %.0f: recommended = %.0f, want %.0f", amount, recommended, max)
		}
	}
}

func TestQuoteCashback(t *testing.T) {
	quote := QuoteCashback("KS-1042", 120000)
	if quote.ReferrerKsNumber != "KS-1042" {
		t.Fatalf("unexpected referrer: %s", quote.ReferrerKsNumber)
	}
	if !reflect.DeepEqual(quote.Options, []float64{160, 180}) {
		t.Fatalf("unexpected options: %v", quote.Options)
	}
	if quote.Recommended != 180 {
		t.Fatalf("unexpected recommended: %.0f", quote.Recommended)
	}
}
