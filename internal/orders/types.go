package orders

import (
	"fmt"
	"time"
)

// Order statuses. An order is created WAITING and reaches a terminal state
// through the transitions in statusTransitions.
const (
	StatusWaiting   = "WAITING"
	StatusConfirmed = "CONFIRMED"
	StatusReady     = "READY"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Sync statuses.
const (
	SyncPending = "PENDING"
	SyncSynced  = "SYNCED"
)

// Order is the order header stored in the orders table. The order id IS the
// submission's idempotency key, so a retried submission collides on the
// primary key instead of creating a second order.
type Order struct {
	OrderID        string    `dynamodbav:"order_id" json:"order_id"` // PK, equals the idempotency key
	Sequence       int64     `dynamodbav:"sequence" json:"sequence"`
	ProvisionalSeq int64     `dynamodbav:"provisional_seq,omitempty" json:"provisional_seq,omitempty"`
	DeviceID       string    `dynamodbav:"device_id,omitempty" json:"device_id,omitempty"`
	OfflineCreated bool      `dynamodbav:"offline_created" json:"offline_created"`
	Customer       string    `dynamodbav:"customer" json:"customer"`
	Note           string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
	TotalCents     int64     `dynamodbav:"total_cents" json:"total_cents"`
	Status         string    `dynamodbav:"status" json:"status"`
	Staff          bool      `dynamodbav:"staff" json:"staff"`
	Priority       bool      `dynamodbav:"priority" json:"priority"`
	CreatedBy      string    `dynamodbav:"created_by" json:"created_by"`
	CreatedByName  string    `dynamodbav:"created_by_name" json:"created_by_name"`
	SyncStatus     string    `dynamodbav:"sync_status" json:"sync_status"`
	LineCount      int       `dynamodbav:"line_count" json:"line_count"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Line is one order line. Name, category and allergens are snapshots taken
// at submission time: later catalog edits must not rewrite old receipts.
type Line struct {
	LineID            string    `dynamodbav:"line_id" json:"line_id"` // PK, "<order_id>#<index>"
	OrderID           string    `dynamodbav:"order_id" json:"order_id"`
	MenuItemID        string    `dynamodbav:"menu_item_id" json:"menu_item_id"`
	NameSnapshot      string    `dynamodbav:"name_snapshot" json:"name_snapshot"`
	CategorySnapshot  string    `dynamodbav:"category_snapshot" json:"category_snapshot"`
	AllergensSnapshot []string  `dynamodbav:"allergens_snapshot,omitempty" json:"allergens_snapshot,omitempty"`
	Quantity          int64     `dynamodbav:"quantity" json:"quantity"`
	UnitPriceCents    int64     `dynamodbav:"unit_price_cents" json:"unit_price_cents"`
	LineTotalCents    int64     `dynamodbav:"line_total_cents" json:"line_total_cents"`
	Note              string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
	Staff             bool      `dynamodbav:"staff" json:"staff"`
	Priority          bool      `dynamodbav:"priority" json:"priority"`
	Status            string    `dynamodbav:"status" json:"status"`
	CreatedAt         time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// LineID formats the primary key of the n-th line of an order.
func LineID(orderID string, index int) string {
	return fmt.Sprintf("%s#%03d", orderID, index)
}

// Header carries the order-level fields of a submission.
type Header struct {
	Customer       string `json:"customer"`
	Note           string `json:"note,omitempty"`
	Staff          bool   `json:"staff"`
	Priority       bool   `json:"priority"`
	CreatedBy      string `json:"created_by"`
	CreatedByName  string `json:"created_by_name"`
	DeviceID       string `json:"device_id,omitempty"`
	OfflineCreated bool   `json:"offline_created"`
	ProvisionalSeq int64  `json:"provisional_seq,omitempty"`
}

// LineInput is one line of a submission, snapshots already captured.
type LineInput struct {
	MenuItemID        string   `json:"menu_item_id"`
	Quantity          int64    `json:"quantity"`
	UnitPriceCents    int64    `json:"unit_price_cents"`
	Note              string   `json:"note,omitempty"`
	NameSnapshot      string   `json:"name_snapshot"`
	CategorySnapshot  string   `json:"category_snapshot"`
	AllergensSnapshot []string `json:"allergens_snapshot,omitempty"`
}

// Submission is one order submission, identified by its idempotency key.
type Submission struct {
	Key    string      `json:"key"`
	Header Header      `json:"header"`
	Lines  []LineInput `json:"lines"`
}

// LineTotalCents is quantity times unit price for one line.
func (l LineInput) LineTotalCents() int64 {
	return l.Quantity * l.UnitPriceCents
}

// TotalCents sums the line totals. Staff orders are revenue-exempt: the
// total is zero no matter what the lines price at, while the lines keep
// their real prices for the receipt.
func (s *Submission) TotalCents() int64 {
	if s.Header.Staff {
		return 0
	}
	var total int64
	for _, l := range s.Lines {
		total += l.LineTotalCents()
	}
	return total
}
