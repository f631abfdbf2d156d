package validation

// Error is a business-rule rejection of caller input. Surfaced
// synchronously, fixed and resubmitted by the cashier, never queued.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "validation: " + e.Reason }

// SubmitLine is a single order line in the submission payload.
type SubmitLine struct {
	MenuItemID     string `json:"menu_item_id" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required,min=1,max=99"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"min=0"`
	Note           string `json:"note,omitempty" validate:"max=200"`
}

// SubmitOrderRequest is the payload for POST /orders.
type SubmitOrderRequest struct {
	Customer      string       `json:"customer" validate:"required,max=100"`
	Note          string       `json:"note,omitempty" validate:"max=500"`
	Staff         bool         `json:"staff"`
	Priority      bool         `json:"priority"`
	TotalCents    int64        `json:"total_cents" validate:"min=0"`
	Lines         []SubmitLine `json:"lines" validate:"required,min=1,dive"`
	CreatedBy     string       `json:"created_by" validate:"required"`
	CreatedByName string       `json:"created_by_name" validate:"required"`
}
