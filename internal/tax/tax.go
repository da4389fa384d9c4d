// Package tax computes the GST breakdown of an order line.
//
// Two regimes exist: intra-state lines pay SGST and CGST, inter-state lines
// pay IGST. They never mix on a line. Every component is rounded half-up to
// two places on its own before the components are summed, so the same inputs
// always produce the same snapshot.
package tax

import "github.com/shopspring/decimal"

// LineTax is the tax breakdown of one line.
type LineTax struct {
	TaxableAmount float64 `json:"taxable_amount"`
	SGSTAmount    float64 `json:"sgst_amount"`
	CGSTAmount    float64 `json:"cgst_amount"`
	IGSTAmount    float64 `json:"igst_amount"`
	GSTAmount     float64 `json:"gst_amount"`
	TotalAmount   float64 `json:"total_amount"`
}

var hundred = decimal.NewFromInt(100)

// ComputeLineTax splits the tax on taxableAmount across the rate tuple.
// A positive SGST or CGST rate marks the line intra-state and IGST is ignored.
func ComputeLineTax(taxableAmount, sgstRate, cgstRate, igstRate float64) LineTax {
	if sgstRate > 0 || cgstRate > 0 {
		igstRate = 0
	}

	taxable := decimal.NewFromFloat(taxableAmount)
	sgst := component(taxable, sgstRate)
	cgst := component(taxable, cgstRate)
	igst := component(taxable, igstRate)
	gst := sgst.Add(cgst).Add(igst)

	return LineTax{
		TaxableAmount: taxableAmount,
		SGSTAmount:    sgst.InexactFloat64(),
		CGSTAmount:    cgst.InexactFloat64(),
		IGSTAmount:    igst.InexactFloat64(),
		GSTAmount:     gst.InexactFloat64(),
		TotalAmount:   taxable.Add(gst).InexactFloat64(),
	}
}

func component(taxable decimal.Decimal, rate float64) decimal.Decimal {
	if rate <= 0 {
		return decimal.Zero
	}
	return taxable.Mul(decimal.NewFromFloat(rate)).Div(hundred).Round(2)
}

// Summary accumulates order-level totals from line taxes. Sums are kept in
// decimal so the totals equal the sum of the snapshotted line values.
type Summary struct {
	taxable decimal.Decimal
	sgst    decimal.Decimal
	cgst    decimal.Decimal
	igst    decimal.Decimal
	gst     decimal.Decimal
}

// Add folds one line into the summary.
func (s *Summary) Add(line LineTax) {
	s.taxable = s.taxable.Add(decimal.NewFromFloat(line.TaxableAmount))
	s.sgst = s.sgst.Add(decimal.NewFromFloat(line.SGSTAmount))
	s.cgst = s.cgst.Add(decimal.NewFromFloat(line.CGSTAmount))
	s.igst = s.igst.Add(decimal.NewFromFloat(line.IGSTAmount))
	s.gst = s.gst.Add(decimal.NewFromFloat(line.GSTAmount))
}

// Totals is the order-level result of a Summary.
type Totals struct {
	TaxableSubtotal float64
	DiscountAmount  float64
	TotalSGST       float64
	TotalCGST       float64
	TotalIGST       float64
	TotalGST        float64
	GrandTotal      float64
}

// Totals applies an order-level discount: grand total is the taxable
// subtotal minus the discount plus all GST.
func (s *Summary) Totals(discount float64) Totals {
	d := decimal.NewFromFloat(discount).Round(2)
	return Totals{
		TaxableSubtotal: s.taxable.Round(2).InexactFloat64(),
		DiscountAmount:  d.InexactFloat64(),
		TotalSGST:       s.sgst.InexactFloat64(),
		TotalCGST:       s.cgst.InexactFloat64(),
		TotalIGST:       s.igst.InexactFloat64(),
		TotalGST:        s.gst.InexactFloat64(),
		GrandTotal:      s.taxable.Sub(d).Add(s.gst).Round(2).InexactFloat64(),
	}
}
