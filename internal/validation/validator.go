package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for SubmitOrderRequest to ensure
	// the claimed total matches the sum of (quantity * unit price) of the lines.
	v.RegisterStructValidation(submitOrderStructValidation, SubmitOrderRequest{})

	return v
}

// submitOrderStructValidation verifies the aggregated line totals equal
// TotalCents. Staff orders are comped: lines keep their real prices but
// the claimed total must be zero.
func submitOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SubmitOrderRequest)

	var sum int64
	for _, ln := range req.Lines {
		sum += ln.Quantity * ln.UnitPriceCents
	}

	want := sum
	if req.Staff {
		want = 0
	}
	if req.TotalCents != want {
		sl.ReportError(req.TotalCents, "total_cents", "TotalCents", "total_match_lines",
			fmt.Sprintf("lines sum %d != total %d", want, req.TotalCents))
	}
}
