package tax

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeLineTax_IntraState(t *testing.T) {
	got := ComputeLineTax(1000, 9, 9, 0)

	assert.Equal(t, LineTax{
		TaxableAmount: 1000,
		SGSTAmount:    90,
		CGSTAmount:    90,
		IGSTAmount:    0,
		GSTAmount:     180,
		TotalAmount:   1180,
	}, got)
}

func TestComputeLineTax_InterState(t *testing.T) {
	got := ComputeLineTax(250, 0, 0, 18)

	assert.Equal(t, 45.0, got.IGSTAmount)
	assert.Zero(t, got.SGSTAmount)
	assert.Zero(t, got.CGSTAmount)
	assert.Equal(t, 295.0, got.TotalAmount)
}

func TestComputeLineTax_IntraStateForcesIGSTToZero(t *testing.T) {
	got := ComputeLineTax(100, 6, 6, 12)

	assert.Zero(t, got.IGSTAmount)
	assert.Equal(t, 12.0, got.GSTAmount)
}

func TestComputeLineTax_RoundsEachComponentHalfUp(t *testing.T) {
	// 10.10 * 2.5% = 0.2525 -> 0.25 per component, 0.50 in total
	// (rounding the aggregate 0.505 would give 0.51).
	got := ComputeLineTax(10.10, 2.5, 2.5, 0)

	assert.Equal(t, 0.25, got.SGSTAmount)
	assert.Equal(t, 0.25, got.CGSTAmount)
	assert.Equal(t, 0.5, got.GSTAmount)

	// 0.125 rounds up, not to even.
	got = ComputeLineTax(12.5, 0, 0, 1)
	assert.Equal(t, 0.13, got.IGSTAmount)
}

func TestComputeLineTax_Properties(t *testing.T) {
	cases := []struct {
		taxable          float64
		sgst, cgst, igst float64
	}{
		{199.99, 9, 9, 0},
		{3 * 33.33, 2.5, 2.5, 0},
		{1234.56, 0, 0, 28},
		{0.01, 0, 0, 5},
		{59.97, 6, 6, 0},
	}
	for _, c := range cases {
		got := ComputeLineTax(c.taxable, c.sgst, c.cgst, c.igst)

		assert.InDelta(t, got.TaxableAmount+got.SGSTAmount+got.CGSTAmount+got.IGSTAmount, got.TotalAmount, 1e-9)
		intra := got.SGSTAmount + got.CGSTAmount
		assert.False(t, intra != 0 && got.IGSTAmount != 0, "regimes must be exclusive: %+v", got)
	}
}

func TestComputeLineTax_Deterministic(t *testing.T) {
	a := ComputeLineTax(777.77, 9, 9, 0)
	b := ComputeLineTax(777.77, 9, 9, 0)

	assert.Equal(t, math.Float64bits(a.GSTAmount), math.Float64bits(b.GSTAmount))
	assert.Equal(t, math.Float64bits(a.TotalAmount), math.Float64bits(b.TotalAmount))
}

func TestSummaryTotals(t *testing.T) {
	var s Summary
	s.Add(ComputeLineTax(1000, 9, 9, 0))
	s.Add(ComputeLineTax(200, 0, 0, 12))

	got := s.Totals(100)

	assert.Equal(t, 1200.0, got.TaxableSubtotal)
	assert.Equal(t, 90.0, got.TotalSGST)
	assert.Equal(t, 90.0, got.TotalCGST)
	assert.Equal(t, 24.0, got.TotalIGST)
	assert.Equal(t, 204.0, got.TotalGST)
	assert.Equal(t, 100.0, got.DiscountAmount)
	assert.InDelta(t, got.TaxableSubtotal-got.DiscountAmount+got.TotalGST, got.GrandTotal, 0.01)
	assert.Equal(t, 1304.0, got.GrandTotal)
}

func TestSummaryTotals_RoundsDiscountHalfUp(t *testing.T) {
	var s Summary
	s.Add(ComputeLineTax(33.33, 0, 0, 0))

	got := s.Totals(33.33 * 15 / 100)
	assert.Equal(t, 5.0, got.DiscountAmount)
	assert.Equal(t, 28.33, got.GrandTotal)
}
