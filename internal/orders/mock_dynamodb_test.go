package orders

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyPriority resolves the primary key attribute of an item. Order lines
// carry both line_id and order_id, so line_id must win.
var keyPriority = []string{"line_id", "counters_id", "component_id", "order_id"}

// tableMock is a small in-memory multi-table mock that implements exactly
// the condition expressions the engine writes. Not production-grade.
type tableMock struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	transactCalls int
	failAll       error // every call fails with this when set, simulating the store being down
}

func newTableMock() *tableMock {
	return &tableMock{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *tableMock) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

// seed stores an item without conditions, for test setup.
func (m *tableMock) seed(tableName string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, key := itemKey(item)
	m.table(tableName)[key] = item
}

func itemKey(attrs map[string]types.AttributeValue) (string, string) {
	for _, name := range keyPriority {
		if v, ok := attrs[name]; ok {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				return name, s.Value
			}
		}
	}
	return "", ""
}

func (m *tableMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	_, key := itemKey(params.Key)
	item, ok := m.table(*params.TableName)[key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *tableMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	t := m.table(*params.TableName)
	if !m.putConditionHolds(t, params.Item, params.ConditionExpression, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	_, key := itemKey(params.Item)
	t[key] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *tableMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	t := m.table(*params.TableName)
	_, key := itemKey(params.Key)
	item, ok := t[key]
	if !ok || !m.updateConditionHolds(item, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	applyStatusUpdate(item, params.ExpressionAttributeValues)
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *tableMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	if m.failAll != nil {
		return nil, m.failAll
	}

	// Evaluate every condition before applying anything.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		ok := true
		switch {
		case it.Put != nil:
			ok = m.putConditionHolds(m.table(*it.Put.TableName), it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeValues)
		case it.Update != nil:
			_, key := itemKey(it.Update.Key)
			item, exists := m.table(*it.Update.TableName)[key]
			ok = exists && m.updateConditionHolds(item, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues)
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: strPtr("None")}
		} else {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			_, key := itemKey(it.Put.Item)
			m.table(*it.Put.TableName)[key] = it.Put.Item
		case it.Update != nil:
			_, key := itemKey(it.Update.Key)
			applyStatusUpdate(m.table(*it.Update.TableName)[key], it.Update.ExpressionAttributeValues)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *tableMock) putConditionHolds(t map[string]map[string]types.AttributeValue, item map[string]types.AttributeValue, cond *string, vals map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	_, key := itemKey(item)
	existing, exists := t[key]
	switch *cond {
	case "attribute_not_exists(order_id)", "attribute_not_exists(counters_id)":
		return !exists
	case "stock_qty = :old":
		return exists && numEquals(existing["stock_qty"], vals[":old"])
	case "version = :v":
		return exists && numEquals(existing["version"], vals[":v"])
	}
	panic("unsupported condition: " + *cond)
}

func (m *tableMock) updateConditionHolds(item map[string]types.AttributeValue, cond *string, names map[string]string, vals map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	if *cond != "#s = :expected" || names["#s"] != "status" {
		panic("unsupported condition: " + *cond)
	}
	cur, ok := item["status"].(*types.AttributeValueMemberS)
	want, ok2 := vals[":expected"].(*types.AttributeValueMemberS)
	return ok && ok2 && cur.Value == want.Value
}

// applyStatusUpdate implements SET #s = :new, updated_at = :ua.
func applyStatusUpdate(item map[string]types.AttributeValue, vals map[string]types.AttributeValue) {
	if item == nil {
		return
	}
	if v, ok := vals[":new"]; ok {
		item["status"] = v
	}
	if v, ok := vals[":ua"]; ok {
		item["updated_at"] = v
	}
}

func numEquals(a, b types.AttributeValue) bool {
	an, ok := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	return ok && ok2 && an.Value == bn.Value
}

func strPtr(s string) *string { return &s }

var errStoreDown = errors.New("dial tcp: connection refused")
