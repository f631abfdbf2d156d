package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/alexsiroli/sagra-orders/internal/catalog"
	"github.com/alexsiroli/sagra-orders/internal/sequence"
	"github.com/alexsiroli/sagra-orders/internal/stock"
	"github.com/alexsiroli/sagra-orders/internal/store"
)

// maxCommitAttempts bounds the optimistic retry loop. Each retry re-reads
// the counters and components, so a retry only happens when another cashier
// committed between our read and our write.
const maxCommitAttempts = 5

// Coordinator is the sole entry point that commits an order. One
// TransactWriteItems carries the order header, every line, the stock
// decrements and the counters bump with the sequence assignment: all five
// effects commit together or none do. The coordinator never queues and
// never retries a rejected order; that policy belongs to the caller.
type Coordinator struct {
	client  store.DynamoDBAPI
	tables  store.Tables
	ledger  *stock.Ledger
	alloc   *sequence.Allocator
	menu    catalog.Source
	nowFunc func() time.Time
}

// NewCoordinator wires a Coordinator against the authoritative store.
func NewCoordinator(client store.DynamoDBAPI, tables store.Tables, ledger *stock.Ledger, alloc *sequence.Allocator, menu catalog.Source) *Coordinator {
	return &Coordinator{
		client:  client,
		tables:  tables,
		ledger:  ledger,
		alloc:   alloc,
		menu:    menu,
		nowFunc: time.Now,
	}
}

// CommitResult is a successful commit: the order id (= idempotency key) and
// the definitive sequence number printed on the ticket.
type CommitResult struct {
	OrderID  string
	Sequence int64
	LowStock []stock.Warning
}

// Commit validates and commits a submission as one atomic unit. The advisory
// pre-check the caller ran is not trusted: stock sufficiency is re-validated
// here against fresh reads, guarded by per-document conditions, and that
// re-check is the only authoritative one.
//
// Returns ErrDuplicate when the idempotency key already committed, a
// *TransactionError otherwise on failure. On failure nothing was written.
func (c *Coordinator) Commit(ctx context.Context, sub *Submission) (*CommitResult, error) {
	if sub.Key == "" {
		return nil, &TransactionError{Err: fmt.Errorf("submission has no idempotency key")}
	}
	if len(sub.Lines) == 0 {
		return nil, &TransactionError{Err: fmt.Errorf("submission has no lines")}
	}

	var lastErr error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		res, retry, err := c.tryCommit(ctx, sub)
		if err == nil {
			return res, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, &TransactionError{Err: fmt.Errorf("commit contention after %d attempts: %w", maxCommitAttempts, lastErr)}
}

// tryCommit runs one read-validate-write round. retry=true means the writes
// were cancelled by a concurrent commit and the round can be repeated.
func (c *Coordinator) tryCommit(ctx context.Context, sub *Submission) (*CommitResult, bool, error) {
	counters, err := c.alloc.Read(ctx)
	if err != nil {
		return nil, false, &TransactionError{Unreachable: store.IsUnreachable(err), Err: err}
	}
	seq := counters.LastSequence + 1

	deltas, err := catalog.StockDeltas(ctx, c.menu, lineRefs(sub.Lines))
	if err != nil {
		return nil, false, &TransactionError{Err: err}
	}
	prep, err := c.ledger.Prepare(ctx, deltas)
	if err != nil {
		if _, ok := err.(*stock.InsufficientStockError); ok {
			return nil, false, &TransactionError{Err: err}
		}
		return nil, false, &TransactionError{Unreachable: store.IsUnreachable(err), Err: err}
	}

	now := c.nowFunc().UTC()
	total := sub.TotalCents()

	order := Order{
		OrderID:        sub.Key,
		Sequence:       seq,
		ProvisionalSeq: sub.Header.ProvisionalSeq,
		DeviceID:       sub.Header.DeviceID,
		OfflineCreated: sub.Header.OfflineCreated,
		Customer:       sub.Header.Customer,
		Note:           sub.Header.Note,
		TotalCents:     total,
		Status:         StatusWaiting,
		Staff:          sub.Header.Staff,
		Priority:       sub.Header.Priority,
		CreatedBy:      sub.Header.CreatedBy,
		CreatedByName:  sub.Header.CreatedByName,
		SyncStatus:     SyncSynced,
		LineCount:      len(sub.Lines),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, false, &TransactionError{Err: fmt.Errorf("marshal order: %w", err)}
	}

	// Item 0 is always the order put; its failed condition is how a
	// duplicate idempotency key is recognized in the cancellation reasons.
	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &c.tables.Orders,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}

	for i, in := range sub.Lines {
		line := Line{
			LineID:            LineID(sub.Key, i),
			OrderID:           sub.Key,
			MenuItemID:        in.MenuItemID,
			NameSnapshot:      in.NameSnapshot,
			CategorySnapshot:  in.CategorySnapshot,
			AllergensSnapshot: in.AllergensSnapshot,
			Quantity:          in.Quantity,
			UnitPriceCents:    in.UnitPriceCents,
			LineTotalCents:    in.LineTotalCents(),
			Note:              in.Note,
			Staff:             sub.Header.Staff,
			Priority:          sub.Header.Priority,
			Status:            StatusWaiting,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		lineMap, err := attributevalue.MarshalMap(line)
		if err != nil {
			return nil, false, &TransactionError{Err: fmt.Errorf("marshal line %d: %w", i, err)}
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: &c.tables.OrderLines,
				Item:      lineMap,
			},
		})
	}

	items = append(items, prep.Items...)

	updated := *counters
	updated.LastSequence = seq
	updated.OrdersToday++
	updated.RevenueTodayCents += total // staff totals are already zero
	countersItem, err := c.alloc.WriteItem(updated, counters.Version)
	if err != nil {
		return nil, false, &TransactionError{Err: err}
	}
	items = append(items, countersItem)

	_, err = c.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return &CommitResult{OrderID: sub.Key, Sequence: seq, LowStock: prep.LowStock}, false, nil
	}

	if tce, ok := store.AsCanceled(err); ok {
		for _, idx := range store.FailedConditionIndexes(tce) {
			if idx == 0 {
				return nil, false, ErrDuplicate
			}
		}
		// A stock or counters condition lost a race; re-read and retry.
		return nil, true, &TransactionError{Err: err}
	}
	return nil, false, &TransactionError{Unreachable: store.IsUnreachable(err), Err: fmt.Errorf("transact write: %w", err)}
}

// Get fetches an order by id (= idempotency key). Returns (nil, nil) if not
// found; the sync worker uses that as its duplicate detection.
func (c *Coordinator) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := c.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &c.tables.Orders,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetLines fetches every line of an order by the line-id convention.
func (c *Coordinator) GetLines(ctx context.Context, order *Order) ([]Line, error) {
	lines := make([]Line, 0, order.LineCount)
	for i := 0; i < order.LineCount; i++ {
		out, err := c.client.GetItem(ctx, &dyn.GetItemInput{
			TableName: &c.tables.OrderLines,
			Key: map[string]types.AttributeValue{
				"line_id": &types.AttributeValueMemberS{Value: LineID(order.OrderID, i)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("get line %d: %w", i, err)
		}
		if len(out.Item) == 0 {
			return nil, fmt.Errorf("line %d of order %s missing", i, order.OrderID)
		}
		var l Line
		if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
			return nil, fmt.Errorf("unmarshal line %d: %w", i, err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func lineRefs(lines []LineInput) []catalog.LineRef {
	refs := make([]catalog.LineRef, 0, len(lines))
	for _, l := range lines {
		refs = append(refs, catalog.LineRef{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
	}
	return refs
}

func awsString(s string) *string { return &s }
