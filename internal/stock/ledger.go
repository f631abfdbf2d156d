package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/alexsiroli/sagra-orders/internal/catalog"
	"github.com/alexsiroli/sagra-orders/internal/store"
)

// InsufficientStockError reports a delta that would drive a component below
// zero. Carries the human-facing component name for the cashier UI.
type InsufficientStockError struct {
	ComponentID string
	Name        string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// Warning flags a component that fell to or below its minimum threshold.
type Warning struct {
	ComponentID string
	Name        string
	Remaining   int64
	Threshold   int64
}

// Ledger owns finite-resource bookkeeping against the menu_components table.
// Batch mutations are prepared here but committed by the transaction
// coordinator, inside the same TransactWriteItems as the order they belong to.
type Ledger struct {
	client  store.DynamoDBAPI
	table   string
	nowFunc func() time.Time
}

// NewLedger returns a Ledger bound to the components table.
func NewLedger(client store.DynamoDBAPI, table string) *Ledger {
	return &Ledger{
		client:  client,
		table:   table,
		nowFunc: time.Now,
	}
}

// Prepared is a validated all-or-nothing batch of stock writes. Items carry
// a stock_qty = :old condition per component, so any concurrent decrement
// cancels the whole enclosing transaction.
type Prepared struct {
	Items    []types.TransactWriteItem
	LowStock []Warning
}

// Prepare reads every component in the batch and validates the zero floor
// before emitting a single write. Unlimited components succeed without a
// write. If any delta would breach the floor, no item is emitted.
func (l *Ledger) Prepare(ctx context.Context, deltas []catalog.Delta) (*Prepared, error) {
	prep := &Prepared{}
	now := l.nowFunc().UTC()

	for _, d := range deltas {
		comp, err := l.Get(ctx, d.ComponentID)
		if err != nil {
			return nil, err
		}
		if comp == nil {
			return nil, fmt.Errorf("component %s not found", d.ComponentID)
		}
		if comp.Unlimited {
			continue
		}

		old := comp.StockQty
		next := old + d.Change
		if next < 0 {
			return nil, &InsufficientStockError{
				ComponentID: comp.ComponentID,
				Name:        comp.Name,
				Requested:   -d.Change,
				Available:   old,
			}
		}

		updated := *comp
		updated.StockQty = next
		updated.Available = next > 0
		updated.UpdatedAt = now

		item, err := attributevalue.MarshalMap(updated)
		if err != nil {
			return nil, fmt.Errorf("marshal component %s: %w", comp.ComponentID, err)
		}
		prep.Items = append(prep.Items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &l.table,
				Item:                item,
				ConditionExpression: awsString("stock_qty = :old"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":old": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", old)},
				},
			},
		})

		if next <= comp.MinThreshold {
			prep.LowStock = append(prep.LowStock, Warning{
				ComponentID: comp.ComponentID,
				Name:        comp.Name,
				Remaining:   next,
				Threshold:   comp.MinThreshold,
			})
		}
	}
	return prep, nil
}

// ApplyDelta adjusts a single component outside any order (restock, manual
// correction). Atomic read-modify-write with a bounded optimistic retry.
func (l *Ledger) ApplyDelta(ctx context.Context, componentID string, delta int64) (*catalog.Component, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		comp, err := l.Get(ctx, componentID)
		if err != nil {
			return nil, err
		}
		if comp == nil {
			return nil, fmt.Errorf("component %s not found", componentID)
		}
		if comp.Unlimited {
			return comp, nil
		}

		old := comp.StockQty
		next := old + delta
		if next < 0 {
			return nil, &InsufficientStockError{
				ComponentID: comp.ComponentID,
				Name:        comp.Name,
				Requested:   -delta,
				Available:   old,
			}
		}

		comp.StockQty = next
		comp.Available = next > 0
		comp.UpdatedAt = l.nowFunc().UTC()

		item, err := attributevalue.MarshalMap(comp)
		if err != nil {
			return nil, fmt.Errorf("marshal component %s: %w", componentID, err)
		}
		_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           &l.table,
			Item:                item,
			ConditionExpression: awsString("stock_qty = :old"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":old": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", old)},
			},
		})
		if err == nil {
			return comp, nil
		}
		if !store.IsConditionalCheckFailed(err) {
			return nil, fmt.Errorf("put component %s: %w", componentID, err)
		}
		lastErr = err // lost the race, re-read and retry
	}
	return nil, fmt.Errorf("apply delta to %s: too much contention: %w", componentID, lastErr)
}

// Get fetches a component by id. Returns (nil, nil) if not found.
func (l *Ledger) Get(ctx context.Context, componentID string) (*catalog.Component, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.table,
		Key: map[string]types.AttributeValue{
			"component_id": &types.AttributeValueMemberS{Value: componentID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get component %s: %w", componentID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var comp catalog.Component
	if err := attributevalue.UnmarshalMap(out.Item, &comp); err != nil {
		return nil, fmt.Errorf("unmarshal component %s: %w", componentID, err)
	}
	return &comp, nil
}

func awsString(s string) *string { return &s }
