package store

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// reasonConditionFailed is the cancellation reason code DynamoDB reports for
// a failed ConditionExpression inside TransactWriteItems.
const reasonConditionFailed = "ConditionalCheckFailed"

// AsCanceled unwraps a TransactionCanceledException if err is one.
func AsCanceled(err error) (*types.TransactionCanceledException, bool) {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return tce, true
	}
	return nil, false
}

// FailedConditionIndexes returns the transact-item indexes whose condition
// failed, in call order.
func FailedConditionIndexes(tce *types.TransactionCanceledException) []int {
	var idx []int
	for i, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == reasonConditionFailed {
			idx = append(idx, i)
		}
	}
	return idx
}

// IsConditionalCheckFailed reports whether err is a single-item conditional
// write failure (UpdateItem / PutItem with a ConditionExpression).
func IsConditionalCheckFailed(err error) bool {
	var cc *types.ConditionalCheckFailedException
	if errors.As(err, &cc) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

// IsUnreachable reports whether err looks like the store being unavailable
// rather than a rejected write: anything that is not a DynamoDB API error
// (network timeouts, DNS failures) or that is a server-side fault.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsCanceled(err); ok {
		return false
	}
	if IsConditionalCheckFailed(err) {
		return false
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorFault() == smithy.FaultServer
	}
	return true
}
