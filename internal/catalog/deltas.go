package catalog

import (
	"context"
	"fmt"
)

// Source resolves menu items for bill-of-materials lookups. The menu catalog
// itself is an external collaborator; the engine only consumes it.
type Source interface {
	Item(ctx context.Context, menuItemID string) (*MenuItem, error)
}

// LineRef is the slice of an order line the delta translation needs.
type LineRef struct {
	MenuItemID string
	Quantity   int64
}

// Delta is a pending change to one component's stock. Negative consumes.
type Delta struct {
	ComponentID string
	Change      int64
}

// StockDeltas translates order lines into aggregated stock decrements:
// component qty-per-unit times line quantity, summed per component,
// first-seen order preserved.
func StockDeltas(ctx context.Context, src Source, lines []LineRef) ([]Delta, error) {
	return translate(ctx, src, lines, -1)
}

// RestoreDeltas is the inverse of StockDeltas, used when cancelling an order.
func RestoreDeltas(ctx context.Context, src Source, lines []LineRef) ([]Delta, error) {
	return translate(ctx, src, lines, +1)
}

func translate(ctx context.Context, src Source, lines []LineRef, sign int64) ([]Delta, error) {
	byID := map[string]int{}
	var deltas []Delta

	for _, line := range lines {
		item, err := src.Item(ctx, line.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("resolve menu item %s: %w", line.MenuItemID, err)
		}
		if item == nil {
			return nil, fmt.Errorf("unknown menu item %s", line.MenuItemID)
		}
		for _, bom := range item.Components {
			change := sign * bom.QtyPerUnit * line.Quantity
			if i, ok := byID[bom.ComponentID]; ok {
				deltas[i].Change += change
				continue
			}
			byID[bom.ComponentID] = len(deltas)
			deltas = append(deltas, Delta{ComponentID: bom.ComponentID, Change: change})
		}
	}
	return deltas, nil
}

// StaticSource is a map-backed Source used by tests and by deployments that
// load the menu once at startup.
type StaticSource map[string]MenuItem

func (s StaticSource) Item(ctx context.Context, id string) (*MenuItem, error) {
	item, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}
