package catalog

import "time"

// Component is a finite (or unlimited) kitchen resource tracked by the stock
// ledger. Stored in the menu_components table.
type Component struct {
	ComponentID  string    `dynamodbav:"component_id" json:"component_id"` // PK
	Name         string    `dynamodbav:"name" json:"name"`
	StockQty     int64     `dynamodbav:"stock_qty" json:"stock_qty"`
	MinThreshold int64     `dynamodbav:"min_threshold" json:"min_threshold"`
	Unlimited    bool      `dynamodbav:"unlimited" json:"unlimited"`
	Available    bool      `dynamodbav:"available" json:"available"` // derived: stock_qty > 0, ignored when unlimited
	UpdatedAt    time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// BOMEntry is one bill-of-materials row of a menu item: how much of one
// component a single unit of the item consumes.
type BOMEntry struct {
	ComponentID string `dynamodbav:"component_id" json:"component_id"`
	QtyPerUnit  int64  `dynamodbav:"qty_per_unit" json:"qty_per_unit"`
}

// MenuItem is a sellable dish. Prices are euro cents. Only the fields the
// engine needs are modeled; menu CRUD lives elsewhere.
type MenuItem struct {
	MenuItemID string     `dynamodbav:"menu_item_id" json:"menu_item_id"`
	Name       string     `dynamodbav:"name" json:"name"`
	CategoryID string     `dynamodbav:"category_id" json:"category_id"`
	Category   string     `dynamodbav:"category" json:"category"`
	PriceCents int64      `dynamodbav:"price_cents" json:"price_cents"`
	Allergens  []string   `dynamodbav:"allergens,omitempty" json:"allergens,omitempty"`
	Components []BOMEntry `dynamodbav:"components" json:"components"`
	Active     bool       `dynamodbav:"active" json:"active"`
}
