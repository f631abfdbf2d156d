package orders

import (
	"context"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/alexsiroli/sagra-orders/internal/catalog"
	"github.com/alexsiroli/sagra-orders/internal/sequence"
	"github.com/alexsiroli/sagra-orders/internal/store"
)

// statusTransitions is the legal state machine for committed orders.
var statusTransitions = map[string][]string{
	StatusWaiting:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Confirm moves a freshly committed order into preparation.
func (c *Coordinator) Confirm(ctx context.Context, orderID string) error {
	return c.updateStatus(ctx, orderID, StatusWaiting, StatusConfirmed)
}

// updateStatus conditionally updates the order status from expected to next.
// Returns ErrInvalidTransition if the condition failed.
func (c *Coordinator) updateStatus(ctx context.Context, orderID, expected, next string) error {
	now := c.nowFunc().UTC()
	_, err := c.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &c.tables.Orders,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: next},
			":expected": &types.AttributeValueMemberS{Value: expected},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if store.IsConditionalCheckFailed(err) {
			return fmt.Errorf("%w: order %s is not %s", ErrInvalidTransition, orderID, expected)
		}
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// MarkReady moves a confirmed order to READY and advances the last-ready
// sequence counter in the same transaction, for the pickup display.
func (c *Coordinator) MarkReady(ctx context.Context, orderID string) error {
	return c.transition(ctx, orderID, StatusReady, func(order *Order, counters *sequence.Counters) {
		if order.Sequence > counters.LastReadySequence {
			counters.LastReadySequence = order.Sequence
		}
	}, nil)
}

// MarkCompleted closes a ready order and counts it in the daily totals.
func (c *Coordinator) MarkCompleted(ctx context.Context, orderID string) error {
	return c.transition(ctx, orderID, StatusCompleted, func(order *Order, counters *sequence.Counters) {
		counters.CompletedToday++
	}, nil)
}

// Cancel voids an order that has not been prepared yet: the status flips to
// CANCELLED, every consumed component is restored through the ledger, and
// the daily totals are adjusted, all in one transaction.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	return c.transition(ctx, orderID, StatusCancelled, func(order *Order, counters *sequence.Counters) {
		counters.CancelledToday++
		counters.RevenueTodayCents -= order.TotalCents
	}, c.restoreItems)
}

// restoreItems builds the stock restore writes for a cancelled order.
func (c *Coordinator) restoreItems(ctx context.Context, order *Order) ([]types.TransactWriteItem, error) {
	lines, err := c.GetLines(ctx, order)
	if err != nil {
		return nil, err
	}
	refs := make([]catalog.LineRef, 0, len(lines))
	for _, l := range lines {
		refs = append(refs, catalog.LineRef{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
	}
	deltas, err := catalog.RestoreDeltas(ctx, c.menu, refs)
	if err != nil {
		return nil, err
	}
	prep, err := c.ledger.Prepare(ctx, deltas)
	if err != nil {
		return nil, err
	}
	return prep.Items, nil
}

// transition runs the optimistic loop shared by the counter-touching status
// changes. extra, when set, contributes additional transact items (stock
// restores) recomputed on every attempt.
func (c *Coordinator) transition(
	ctx context.Context,
	orderID, next string,
	mutate func(order *Order, counters *sequence.Counters),
	extra func(ctx context.Context, order *Order) ([]types.TransactWriteItem, error),
) error {
	var lastErr error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		order, err := c.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, orderID)
		}
		if !CanTransition(order.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, next)
		}

		counters, err := c.alloc.Read(ctx)
		if err != nil {
			return &TransactionError{Unreachable: store.IsUnreachable(err), Err: err}
		}
		updated := *counters
		mutate(order, &updated)

		now := c.nowFunc().UTC()
		items := []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: &c.tables.Orders,
					Key: map[string]types.AttributeValue{
						"order_id": &types.AttributeValueMemberS{Value: orderID},
					},
					UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
					ConditionExpression:      awsString("#s = :expected"),
					ExpressionAttributeNames: map[string]string{"#s": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":new":      &types.AttributeValueMemberS{Value: next},
						":expected": &types.AttributeValueMemberS{Value: order.Status},
						":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
					},
				},
			},
		}
		if extra != nil {
			more, err := extra(ctx, order)
			if err != nil {
				return err
			}
			items = append(items, more...)
		}
		countersItem, err := c.alloc.WriteItem(updated, counters.Version)
		if err != nil {
			return &TransactionError{Err: err}
		}
		items = append(items, countersItem)

		_, err = c.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			return nil
		}
		if tce, ok := store.AsCanceled(err); ok {
			for _, idx := range store.FailedConditionIndexes(tce) {
				if idx == 0 {
					return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, orderID)
				}
			}
			lastErr = err // counters or stock race, retry with fresh reads
			continue
		}
		return &TransactionError{Unreachable: store.IsUnreachable(err), Err: fmt.Errorf("transact write: %w", err)}
	}
	return &TransactionError{Err: fmt.Errorf("transition contention after %d attempts: %w", maxCommitAttempts, lastErr)}
}
