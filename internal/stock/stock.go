// Package stock builds the race-safe stock mutations that ride inside order
// transition transactions. Decrements re-validate against the live stock
// value, never the quote-time catalog snapshot; bundling them with the
// compare-and-append on the order makes "decremented exactly once iff ToPay
// fired" hold by construction.
package stock

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

// Line is one product/quantity pair from an order.
type Line struct {
	ProductID string
	Quantity  int
}

// InsufficientError reports a transition-time stock re-validation failure.
type InsufficientError struct {
	ProductID string
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient live stock for product %s", e.ProductID)
}

// Coordinator owns stock mutations on the products table. Nothing else in
// the system writes stock.
type Coordinator struct {
	table string
}

func NewCoordinator(productsTable string) *Coordinator {
	return &Coordinator{table: productsTable}
}

// DecrementEntries builds one conditional decrement per line. Each entry
// verifies quantity <= live stock at write time; any failure aborts the
// whole transaction it is part of.
func (c *Coordinator) DecrementEntries(lines []Line) []awsx.TransactEntry {
	entries := make([]awsx.TransactEntry, 0, len(lines))
	for _, l := range lines {
		update := "SET #s = #s - :q"
		cond := "#s >= :q"
		entries = append(entries, awsx.TransactEntry{
			Item: types.TransactWriteItem{
				Update: &types.Update{
					TableName: &c.table,
					Key: map[string]types.AttributeValue{
						"product_id": &types.AttributeValueMemberS{Value: l.ProductID},
					},
					UpdateExpression:         &update,
					ConditionExpression:      &cond,
					ExpressionAttributeNames: map[string]string{"#s": "stock"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", l.Quantity)},
					},
				},
			},
			ConditionFail: &InsufficientError{ProductID: l.ProductID},
		})
	}
	return entries
}

// RestoreEntries builds one additive restore per line. Restores are
// unconditional: they only ever run inside a cancellation/rejection
// transaction whose order-document compare guarantees at-most-once.
func (c *Coordinator) RestoreEntries(lines []Line) []awsx.TransactEntry {
	entries := make([]awsx.TransactEntry, 0, len(lines))
	for _, l := range lines {
		update := "SET #s = #s + :q"
		entries = append(entries, awsx.TransactEntry{
			Item: types.TransactWriteItem{
				Update: &types.Update{
					TableName: &c.table,
					Key: map[string]types.AttributeValue{
						"product_id": &types.AttributeValueMemberS{Value: l.ProductID},
					},
					UpdateExpression:         &update,
					ExpressionAttributeNames: map[string]string{"#s": "stock"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", l.Quantity)},
					},
				},
			},
		})
	}
	return entries
}
