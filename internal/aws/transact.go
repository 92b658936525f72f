package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TransactEntry pairs one TransactWriteItems element with the error that
// should surface when that element's condition check fails. Callers compose
// entries from several stores (order flags, ledger balances, stock levels)
// and run them as a single atomic write.
type TransactEntry struct {
	Item          types.TransactWriteItem
	ConditionFail error
}

const conditionalCheckFailed = "ConditionalCheckFailed"

// ExecTransact runs the entries as one TransactWriteItems call. When the
// transaction is canceled because an entry's condition failed, the entry's
// ConditionFail error is returned so callers can tell which invariant lost.
func ExecTransact(ctx context.Context, client DynamoDBAPI, entries []TransactEntry) error {
	items := make([]types.TransactWriteItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Item)
	}

	_, err := client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, reason := range tce.CancellationReasons {
			if reason.Code == nil || *reason.Code != conditionalCheckFailed {
				continue
			}
			if i < len(entries) && entries[i].ConditionFail != nil {
				return entries[i].ConditionFail
			}
			return fmt.Errorf("transact entry %d: condition failed: %w", i, err)
		}
		return fmt.Errorf("transaction canceled: %w", err)
	}
	return fmt.Errorf("transact write: %w", err)
}
