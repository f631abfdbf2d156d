package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/alexsiroli/sagra-orders/internal/store"
)

// Counters is the single shared counters document. Its only legal mutation
// path is a conditional put riding inside the transaction coordinator's
// TransactWriteItems, guarded on the field values that were read.
type Counters struct {
	CountersID        string    `dynamodbav:"counters_id"` // PK, fixed "system"
	Version           int64     `dynamodbav:"version"`     // optimistic lock, bumped on every write
	LastSequence      int64     `dynamodbav:"last_sequence"`
	LastReadySequence int64     `dynamodbav:"last_ready_sequence"`
	OrdersToday       int64     `dynamodbav:"orders_today"`
	CompletedToday    int64     `dynamodbav:"completed_today"`
	CancelledToday    int64     `dynamodbav:"cancelled_today"`
	RevenueTodayCents int64     `dynamodbav:"revenue_today_cents"`
	UpdatedAt         time.Time `dynamodbav:"updated_at"`
}

// LocalCache supplies the last sequence number this device has seen, for the
// offline fallback. Backed by the local durable stats record.
type LocalCache interface {
	LastKnownSequence() (int64, error)
}

// Allocator issues order sequence numbers. The online path reads the
// counters document; the authoritative bump is committed by the coordinator
// in the same transaction as the order. The offline path hands out a
// provisional number from the local cache.
type Allocator struct {
	client  store.DynamoDBAPI
	table   string
	cache   LocalCache
	nowFunc func() time.Time
}

// NewAllocator returns an Allocator bound to the counters table.
func NewAllocator(client store.DynamoDBAPI, table string, cache LocalCache) *Allocator {
	return &Allocator{
		client:  client,
		table:   table,
		cache:   cache,
		nowFunc: time.Now,
	}
}

// Ensure creates the counters document if it does not exist yet.
// Safe to call on every startup.
func (a *Allocator) Ensure(ctx context.Context) error {
	now := a.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(Counters{
		CountersID: store.CountersDocID,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = a.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &a.table,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(counters_id)"),
	})
	if err != nil {
		if store.IsConditionalCheckFailed(err) {
			return nil // already seeded
		}
		return fmt.Errorf("seed counters: %w", err)
	}
	return nil
}

// Read fetches the current counters document from the authoritative store.
func (a *Allocator) Read(ctx context.Context) (*Counters, error) {
	out, err := a.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &a.table,
		Key: map[string]types.AttributeValue{
			"counters_id": &types.AttributeValueMemberS{Value: store.CountersDocID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get counters: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("counters document %q missing", store.CountersDocID)
	}
	var c Counters
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	return &c, nil
}

// NextOffline returns a provisional sequence number from the local cache.
// Provisional numbers are per-device: two devices offline at the same time
// can hand out the same number, which is why the committed order gets a
// fresh authoritative sequence at sync time.
func (a *Allocator) NextOffline() (int64, error) {
	last, err := a.cache.LastKnownSequence()
	if err != nil {
		return 0, fmt.Errorf("read local sequence cache: %w", err)
	}
	return last + 1, nil
}

// WriteItem builds the conditional counters write for one transaction. The
// condition pins the version that was read, so two cashiers racing the same
// counters document cancel one transaction instead of losing an update; the
// sequence-uniqueness guarantee falls out of the same guard.
func (a *Allocator) WriteItem(updated Counters, readVersion int64) (types.TransactWriteItem, error) {
	updated.CountersID = store.CountersDocID
	updated.Version = readVersion + 1
	updated.UpdatedAt = a.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(updated)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal counters: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &a.table,
			Item:                item,
			ConditionExpression: awsString("version = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", readVersion)},
			},
		},
	}, nil
}

func awsString(s string) *string { return &s }
