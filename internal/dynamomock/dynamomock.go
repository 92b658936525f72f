// Package dynamomock is an in-memory stand-in for DynamoDB used by tests.
// It grew out of the per-package mocks this project started with: the
// transition logic leans on condition expressions and transactional writes,
// so the fake evaluates the expression subset the stores actually issue
// (attribute_not_exists, equality/comparison/IN conditions, SET with
// arithmetic, if_not_exists and list_append, document paths) instead of
// string-matching single expressions. Not production grade on purpose.
package dynamomock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item mirrors a stored DynamoDB item.
type Item = map[string]types.AttributeValue

type table struct {
	pk    string
	items map[string]Item
}

// DB is a thread-safe multi-table in-memory DynamoDB fake.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table
}

func New() *DB {
	return &DB{tables: map[string]*table{}}
}

// CreateTable registers a table with its (single) partition key attribute.
func (d *DB) CreateTable(name, pkAttr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{pk: pkAttr, items: map[string]Item{}}
}

func (d *DB) mustTable(name string) (*table, error) {
	t, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("dynamomock: unknown table %q", name)
	}
	return t, nil
}

// MustSeed marshals v and stores it, panicking on error. Test setup helper.
func (d *DB) MustSeed(tableName string, v interface{}) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		panic(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.mustTable(tableName)
	if err != nil {
		panic(err)
	}
	pk, err := keyString(item[t.pk])
	if err != nil {
		panic(err)
	}
	t.items[pk] = copyItem(item)
}

// Load unmarshals the item with the given key into out, reporting presence.
func (d *DB) Load(tableName, key string, out interface{}) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.mustTable(tableName)
	if err != nil {
		panic(err)
	}
	item, ok := t.items[key]
	if !ok {
		return false
	}
	if err := attributevalue.UnmarshalMap(copyItem(item), out); err != nil {
		panic(err)
	}
	return true
}

// RawItem returns a deep copy of the stored item, or nil.
func (d *DB) RawItem(tableName, key string) Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.mustTable(tableName)
	if err != nil {
		panic(err)
	}
	item, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// --- DynamoDBAPI ---

func (d *DB) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.mustTable(*params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := keyFromMap(params.Key, t.pk)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *DB) BatchGetItem(ctx context.Context, params *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := &dyn.BatchGetItemOutput{Responses: map[string][]Item{}}
	for tableName, req := range params.RequestItems {
		t, err := d.mustTable(tableName)
		if err != nil {
			return nil, err
		}
		for _, key := range req.Keys {
			pk, err := keyFromMap(key, t.pk)
			if err != nil {
				return nil, err
			}
			if item, ok := t.items[pk]; ok {
				out.Responses[tableName] = append(out.Responses[tableName], copyItem(item))
			}
		}
	}
	return out, nil
}

func (d *DB) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.applyPut(&types.Put{
		TableName:                 params.TableName,
		Item:                      params.Item,
		ConditionExpression:       params.ConditionExpression,
		ExpressionAttributeNames:  params.ExpressionAttributeNames,
		ExpressionAttributeValues: params.ExpressionAttributeValues,
	}, true); err != nil {
		return nil, err
	}
	return &dyn.PutItemOutput{}, nil
}

func (d *DB) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	upd := &types.Update{
		TableName:                 params.TableName,
		Key:                       params.Key,
		UpdateExpression:          params.UpdateExpression,
		ConditionExpression:       params.ConditionExpression,
		ExpressionAttributeNames:  params.ExpressionAttributeNames,
		ExpressionAttributeValues: params.ExpressionAttributeValues,
	}
	if err := d.checkUpdate(upd); err != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item, err := d.applyUpdate(upd)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (d *DB) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// DynamoDB rejects a transaction containing two actions on the same item.
	seen := map[string]struct{}{}
	for _, it := range params.TransactItems {
		ref, err := d.itemRef(it)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref]; dup {
			return nil, fmt.Errorf("dynamomock: transaction targets item %s more than once", ref)
		}
		seen[ref] = struct{}{}
	}

	// Phase one: evaluate every condition before mutating anything.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		code := "None"
		switch {
		case it.Put != nil:
			if err := d.checkPut(it.Put); err != nil {
				code = "ConditionalCheckFailed"
				failed = true
			}
		case it.Update != nil:
			if err := d.checkUpdate(it.Update); err != nil {
				code = "ConditionalCheckFailed"
				failed = true
			}
		default:
			return nil, errors.New("dynamomock: unsupported transact item")
		}
		c := code
		reasons[i] = types.CancellationReason{Code: &c}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// Phase two: apply all writes.
	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			if err := d.applyPut(it.Put, false); err != nil {
				return nil, err
			}
		case it.Update != nil:
			if _, err := d.applyUpdate(it.Update); err != nil {
				return nil, err
			}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *DB) itemRef(it types.TransactWriteItem) (string, error) {
	switch {
	case it.Put != nil:
		t, err := d.mustTable(*it.Put.TableName)
		if err != nil {
			return "", err
		}
		pk, err := keyString(it.Put.Item[t.pk])
		if err != nil {
			return "", err
		}
		return *it.Put.TableName + "/" + pk, nil
	case it.Update != nil:
		t, err := d.mustTable(*it.Update.TableName)
		if err != nil {
			return "", err
		}
		pk, err := keyFromMap(it.Update.Key, t.pk)
		if err != nil {
			return "", err
		}
		return *it.Update.TableName + "/" + pk, nil
	default:
		return "", errors.New("dynamomock: unsupported transact item")
	}
}

// --- write helpers ---

func (d *DB) checkPut(p *types.Put) error {
	t, err := d.mustTable(*p.TableName)
	if err != nil {
		return err
	}
	pk, err := keyString(p.Item[t.pk])
	if err != nil {
		return err
	}
	existing := t.items[pk]
	if p.ConditionExpression == nil {
		return nil
	}
	ok, err := evalCondition(existing, *p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ConditionalCheckFailedException{}
	}
	return nil
}

func (d *DB) applyPut(p *types.Put, checked bool) error {
	if checked {
		if err := d.checkPut(p); err != nil {
			return err
		}
	}
	t, err := d.mustTable(*p.TableName)
	if err != nil {
		return err
	}
	pk, err := keyString(p.Item[t.pk])
	if err != nil {
		return err
	}
	t.items[pk] = copyItem(p.Item)
	return nil
}

func (d *DB) checkUpdate(u *types.Update) error {
	t, err := d.mustTable(*u.TableName)
	if err != nil {
		return err
	}
	pk, err := keyFromMap(u.Key, t.pk)
	if err != nil {
		return err
	}
	existing := t.items[pk]
	if u.ConditionExpression == nil {
		return nil
	}
	ok, err := evalCondition(existing, *u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ConditionalCheckFailedException{}
	}
	return nil
}

func (d *DB) applyUpdate(u *types.Update) (Item, error) {
	t, err := d.mustTable(*u.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := keyFromMap(u.Key, t.pk)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[pk]
	if !ok {
		// UpdateItem upserts: start from the key attributes.
		item = copyItem(u.Key)
	}
	if u.UpdateExpression != nil {
		if err := applyUpdateExpression(item, *u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	t.items[pk] = item
	return item, nil
}

// --- keys & copies ---

func keyFromMap(key Item, pkAttr string) (string, error) {
	av, ok := key[pkAttr]
	if !ok {
		return "", fmt.Errorf("dynamomock: key attribute %q missing", pkAttr)
	}
	return keyString(av)
}

func keyString(av types.AttributeValue) (string, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	case nil:
		return "", errors.New("dynamomock: nil key attribute")
	default:
		return "", fmt.Errorf("dynamomock: unsupported key type %T", av)
	}
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(v.Value)}
	case *types.AttributeValueMemberL:
		list := make([]types.AttributeValue, len(v.Value))
		for i, el := range v.Value {
			list[i] = copyValue(el)
		}
		return &types.AttributeValueMemberL{Value: list}
	case *types.AttributeValueMemberB:
		b := make([]byte, len(v.Value))
		copy(b, v.Value)
		return &types.AttributeValueMemberB{Value: b}
	case *types.AttributeValueMemberSS:
		s := make([]string, len(v.Value))
		copy(s, v.Value)
		return &types.AttributeValueMemberSS{Value: s}
	default:
		return av
	}
}

// --- document paths ---

func resolvePath(raw string, names map[string]string) []string {
	parts := strings.Split(raw, ".")
	for i, p := range parts {
		if strings.HasPrefix(p, "#") {
			if real, ok := names[p]; ok {
				parts[i] = real
			}
		}
	}
	return parts
}

func pathGet(item Item, path []string) (types.AttributeValue, bool) {
	if item == nil {
		return nil, false
	}
	cur := item
	for i, seg := range path {
		av, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return av, true
		}
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur = m.Value
	}
	return nil, false
}

func pathSet(item Item, path []string, av types.AttributeValue) error {
	cur := item
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = av
			return nil
		}
		next, ok := cur[seg]
		if !ok {
			m := &types.AttributeValueMemberM{Value: Item{}}
			cur[seg] = m
			cur = m.Value
			continue
		}
		m, ok := next.(*types.AttributeValueMemberM)
		if !ok {
			return fmt.Errorf("dynamomock: path segment %q is not a map", seg)
		}
		cur = m.Value
	}
	return nil
}
