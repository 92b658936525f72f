package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

var (
	// ErrStateConflict means the order's current state no longer matched the
	// transition's precondition at write time: either a concurrent caller won
	// the race or the requested transition is not allowed from this state.
	ErrStateConflict = errors.New("order state conflict")

	// ErrGateClosed means an idempotency gate was already set; the guarded
	// side effect has run before and must not run again.
	ErrGateClosed = errors.New("idempotency gate already closed")

	// ErrDuplicateOrder means an order with this id already exists.
	ErrDuplicateOrder = errors.New("duplicate order id")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get fetches an order by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
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

// Create persists a freshly quoted order, guarding against id reuse.
func (s *Store) Create(ctx context.Context, o Order) error {
	item, err := s.marshalNew(&o)
	if err != nil {
		return err
	}
	cond := "attribute_not_exists(order_id)"
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: &cond,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// CreateWithIdempotency atomically creates the checkout idempotency record
// (conditioned on the key not existing) and the order, in one transaction.
// Returns ErrDuplicateOrder when the idempotency key was already claimed.
func (s *Store) CreateWithIdempotency(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, o Order) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	orderMap, err := s.marshalNew(&o)
	if err != nil {
		return err
	}

	entries := []awsx.TransactEntry{
		{
			Item: types.TransactWriteItem{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: strPtr("attribute_not_exists(idempotency_key)"),
				},
			},
			ConditionFail: ErrDuplicateOrder,
		},
		{
			Item: types.TransactWriteItem{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: strPtr("attribute_not_exists(order_id)"),
				},
			},
			ConditionFail: ErrDuplicateOrder,
		},
	}
	return awsx.ExecTransact(ctx, s.client, entries)
}

func (s *Store) marshalNew(o *Order) (map[string]types.AttributeValue, error) {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	return item, nil
}

// Transition is one atomic state change: a compare-and-append on the order
// document, optionally bundled with further conditional writes (stock
// levels, idempotency gates) that must commit or fail together with it.
type Transition struct {
	OrderID string
	From    []string // allowed current states
	To      string
	Event   StatusEvent
	// Sets are extra top-level attributes written alongside the transition,
	// keyed by attribute name.
	Sets map[string]types.AttributeValue
	// Flags are idempotency-gate document paths (e.g. "cashback.refunded")
	// set to true inside the transition's own update expression. A
	// transaction may touch each item only once, so gates on the order
	// document must travel here rather than as a second entry; the
	// current_status compare already makes them at-most-once.
	Flags []string
	// Extras are additional documents included in the same transaction.
	Extras []awsx.TransactEntry
}

// Transition executes the transition transactionally. The compare on
// current_status makes concurrent attempts a race with exactly one winner;
// losers get ErrStateConflict and the history is left untouched.
func (s *Store) Transition(ctx context.Context, t Transition) error {
	evtAV, err := attributevalue.MarshalMap(t.Event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	now := s.nowFunc()
	nowAV, err := attributevalue.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	names := map[string]string{
		"#cs": "current_status",
		"#h":  "status_history",
		"#ua": "updated_at",
	}
	values := map[string]types.AttributeValue{
		":to": &types.AttributeValueMemberS{Value: t.To},
		":evt": &types.AttributeValueMemberL{
			Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: evtAV}},
		},
		":ua": nowAV,
	}

	update := "SET #cs = :to, #h = list_append(#h, :evt), #ua = :ua"
	i := 0
	for attr, av := range t.Sets {
		name := fmt.Sprintf("#x%d", i)
		ref := fmt.Sprintf(":x%d", i)
		names[name] = attr
		values[ref] = av
		update += fmt.Sprintf(", %s = %s", name, ref)
		i++
	}
	for fi, path := range t.Flags {
		segments := strings.Split(path, ".")
		refs := make([]string, len(segments))
		for si, seg := range segments {
			name := fmt.Sprintf("#g%d_%d", fi, si)
			names[name] = seg
			refs[si] = name
		}
		update += ", " + strings.Join(refs, ".") + " = :gt"
	}
	if len(t.Flags) > 0 {
		values[":gt"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	var cond string
	if len(t.From) == 1 {
		values[":from0"] = &types.AttributeValueMemberS{Value: t.From[0]}
		cond = "#cs = :from0"
	} else {
		refs := make([]string, len(t.From))
		for j, from := range t.From {
			ref := fmt.Sprintf(":from%d", j)
			values[ref] = &types.AttributeValueMemberS{Value: from}
			refs[j] = ref
		}
		cond = "#cs IN (" + strings.Join(refs, ", ") + ")"
	}

	entries := make([]awsx.TransactEntry, 0, 1+len(t.Extras))
	entries = append(entries, awsx.TransactEntry{
		Item: types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.tableName,
				Key: map[string]types.AttributeValue{
					"order_id": &types.AttributeValueMemberS{Value: t.OrderID},
				},
				UpdateExpression:          &update,
				ConditionExpression:       &cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		},
		ConditionFail: ErrStateConflict,
	})
	entries = append(entries, t.Extras...)

	return awsx.ExecTransact(ctx, s.client, entries)
}

// AppendEvent appends an audit marker to the history without changing the
// current state, conditioned on the order being in requiredState. Used for
// the Viewed marker on delivered orders.
func (s *Store) AppendEvent(ctx context.Context, orderID, requiredState string, evt StatusEvent) error {
	evtAV, err := attributevalue.MarshalMap(evt)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	nowAV, err := attributevalue.Marshal(s.nowFunc())
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	update := "SET #h = list_append(#h, :evt), #ua = :ua"
	cond := "#cs = :req"
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    &update,
		ConditionExpression: &cond,
		ExpressionAttributeNames: map[string]string{
			"#h":  "status_history",
			"#cs": "current_status",
			"#ua": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":evt": &types.AttributeValueMemberL{
				Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: evtAV}},
			},
			":req": &types.AttributeValueMemberS{Value: requiredState},
			":ua":  nowAV,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStateConflict
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// FlagEntry builds the check-then-set write for an idempotency gate as a
// transaction entry. path is a document path like "cashback_awarded" or
// "cashback.debited". The condition requires the gate to still be open, so
// pairing this entry with the guarded effect (a ledger debit, a credit)
// makes the effect exactly-once.
func (s *Store) FlagEntry(orderID, path string, conditionFail error) awsx.TransactEntry {
	segments := strings.Split(path, ".")
	names := map[string]string{"#ua": "updated_at"}
	refs := make([]string, len(segments))
	for i, seg := range segments {
		name := fmt.Sprintf("#f%d", i)
		names[name] = seg
		refs[i] = name
	}
	flagPath := strings.Join(refs, ".")

	update := fmt.Sprintf("SET %s = :t, #ua = :ua", flagPath)
	cond := fmt.Sprintf("%s = :f", flagPath)
	nowAV, _ := attributevalue.Marshal(s.nowFunc())

	return awsx.TransactEntry{
		Item: types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.tableName,
				Key: map[string]types.AttributeValue{
					"order_id": &types.AttributeValueMemberS{Value: orderID},
				},
				UpdateExpression:         &update,
				ConditionExpression:      &cond,
				ExpressionAttributeNames: names,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t":  &types.AttributeValueMemberBOOL{Value: true},
					":f":  &types.AttributeValueMemberBOOL{Value: false},
					":ua": nowAV,
				},
			},
		},
		ConditionFail: conditionFail,
	}
}

// SetFlag closes an idempotency gate with no companion effect. Returns
// ErrGateClosed when it was already set.
func (s *Store) SetFlag(ctx context.Context, orderID, path string) error {
	return awsx.ExecTransact(ctx, s.client, []awsx.TransactEntry{
		s.FlagEntry(orderID, path, ErrGateClosed),
	})
}

// ReplaceLineItems persists the batch of line-item mutations the
// fulfillment coordinator produced, as a single write.
func (s *Store) ReplaceLineItems(ctx context.Context, orderID string, items []LineItem) error {
	itemsAV, err := attributevalue.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	nowAV, err := attributevalue.Marshal(s.nowFunc())
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	update := "SET #items = :items, #ua = :ua"
	cond := "attribute_exists(order_id)"
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    &update,
		ConditionExpression: &cond,
		ExpressionAttributeNames: map[string]string{
			"#items": "items",
			"#ua":    "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":items": itemsAV,
			":ua":    nowAV,
		},
	})
	if err != nil {
		return fmt.Errorf("replace line items: %w", err)
	}
	return nil
}

// Transact exposes the shared transaction runner for callers composing
// entries from several stores.
func (s *Store) Transact(ctx context.Context, entries []awsx.TransactEntry) error {
	return awsx.ExecTransact(ctx, s.client, entries)
}

func strPtr(v string) *string { return &v }
