// Package ddbtest provides an in-memory DynamoDB table for tests. It
// understands the subset of expressions the store package generates.
package ddbtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mrtj/dynamodb-connection/item"
)

// Call records one request made against the table.
type Call struct {
	Op  string
	Key item.Key
}

type fault struct {
	op    string
	key   *item.Key
	err   error
	times int // remaining; <0 means forever
}

// Client is a single-table, hash-key-only fake of the DynamoDB API.
type Client struct {
	table   string
	keyAttr string
	keyType types.ScalarAttributeType

	mu     sync.Mutex
	items  map[item.Key]item.Item
	calls  []Call
	faults []*fault

	// Delay is applied to every write, outside the lock, so concurrent
	// requests overlap.
	Delay time.Duration

	// BeforeWrite runs before a write is applied, outside the lock.
	BeforeWrite func(op string, key item.Key)

	inflight    map[item.Key]int
	maxInflight int
	maxPerKey   int
	active      int
}

// NewClient returns an empty table with a string partition key.
func NewClient(table, keyAttr string) *Client {
	return &Client{
		table:    table,
		keyAttr:  keyAttr,
		keyType:  types.ScalarAttributeTypeS,
		items:    make(map[item.Key]item.Item),
		inflight: make(map[item.Key]int),
	}
}

// WithNumberKey declares the partition key as numeric.
func (c *Client) WithNumberKey() *Client {
	c.keyType = types.ScalarAttributeTypeN
	return c
}

// Seed stores items directly, bypassing faults and call recording.
func (c *Client) Seed(items ...item.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		k, err := item.KeyOf(it, c.keyAttr)
		if err != nil {
			panic(err)
		}
		c.items[k] = it.Clone()
	}
}

// Item returns the stored item with key k.
func (c *Client) Item(k item.Key) (item.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[k]
	return it.Clone(), ok
}

// Items returns all stored items ordered by key.
func (c *Client) Items() []item.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.sortedKeys()
	out := make([]item.Item, len(keys))
	for i, k := range keys {
		out[i] = c.items[k].Clone()
	}
	return out
}

// Calls returns the requests made so far.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsFor returns the requests made for key k.
func (c *Client) CallsFor(k item.Key) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ops []string
	for _, call := range c.calls {
		if call.Key == k {
			ops = append(ops, call.Op)
		}
	}
	return ops
}

// Fail makes the next times requests of op on key fail with err. A
// negative times fails forever.
func (c *Client) Fail(op string, k item.Key, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, &fault{op: op, key: &k, err: err, times: times})
}

// FailAll makes the next times requests of op fail regardless of key.
func (c *Client) FailAll(op string, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, &fault{op: op, err: err, times: times})
}

// MaxInflight returns the highest number of writes that ran at once.
func (c *Client) MaxInflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInflight
}

// MaxInflightPerKey returns the highest number of writes to one key that
// ran at once.
func (c *Client) MaxInflightPerKey() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxPerKey
}

// Throttled returns the error DynamoDB sends when throughput is exceeded.
func Throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: aws.String("throughput exceeded")}
}

// --- API ---

func (c *Client) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	k, err := c.begin(ctx, "GetItem", in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[k]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	it, err = project(it, in.ProjectionExpression, in.ExpressionAttributeNames)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: item.ToAttributeMap(it)}, nil
}

func (c *Client) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	newItem, err := item.FromAttributeMap(in.Item)
	if err != nil {
		return nil, validation(err.Error())
	}
	k, err := c.begin(ctx, "PutItem", in.TableName, map[string]types.AttributeValue{c.keyAttr: in.Item[c.keyAttr]})
	if err != nil {
		return nil, err
	}
	defer c.enterWrite("PutItem", k)()

	c.mu.Lock()
	defer c.mu.Unlock()
	old, exists := c.items[k]
	if err := checkCondition(old, exists, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, in.ReturnValuesOnConditionCheckFailure); err != nil {
		return nil, err
	}
	c.items[k] = newItem
	return &dynamodb.PutItemOutput{}, nil
}

func (c *Client) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	k, err := c.begin(ctx, "UpdateItem", in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	defer c.enterWrite("UpdateItem", k)()

	c.mu.Lock()
	defer c.mu.Unlock()
	old, exists := c.items[k]
	if err := checkCondition(old, exists, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, in.ReturnValuesOnConditionCheckFailure); err != nil {
		return nil, err
	}
	next := item.Item{c.keyAttr: k.Value()}
	if exists {
		next = old.Clone()
	}
	if err := applyUpdate(next, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if _, ok := next[c.keyAttr]; !ok || !next[c.keyAttr].Equal(k.Value()) {
		return nil, validation("cannot update attribute " + c.keyAttr + ": it is part of the key")
	}
	c.items[k] = next

	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = item.ToAttributeMap(next)
	}
	return out, nil
}

func (c *Client) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	k, err := c.begin(ctx, "DeleteItem", in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	defer c.enterWrite("DeleteItem", k)()

	c.mu.Lock()
	defer c.mu.Unlock()
	old, exists := c.items[k]
	if err := checkCondition(old, exists, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, in.ReturnValuesOnConditionCheckFailure); err != nil {
		return nil, err
	}
	delete(c.items, k)
	out := &dynamodb.DeleteItemOutput{}
	if exists && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = item.ToAttributeMap(old)
	}
	return out, nil
}

func (c *Client) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if _, err := c.begin(ctx, "Scan", in.TableName, nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.sortedKeys()
	start := 0
	if in.ExclusiveStartKey != nil {
		after, err := c.keyOf(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for start < len(keys) && !after.Less(keys[start]) {
			start++
		}
	}
	end := len(keys)
	if limit := int(aws.ToInt32(in.Limit)); limit > 0 && start+limit < end {
		end = start + limit
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		it, err := project(c.items[k], in.ProjectionExpression, in.ExpressionAttributeNames)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item.ToAttributeMap(it))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{c.keyAttr: keys[end-1].AttributeValue()}
	}
	return out, nil
}

func (c *Client) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if _, err := c.begin(ctx, "DescribeTable", in.TableName, nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   aws.String(c.table),
			TableStatus: types.TableStatusActive,
			ItemCount:   aws.Int64(int64(len(c.items))),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(c.keyAttr), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(c.keyAttr), AttributeType: c.keyType},
			},
		},
	}, nil
}

// --- internals ---

// begin records the call and returns an injected fault, if any.
func (c *Client) begin(ctx context.Context, op string, table *string, key map[string]types.AttributeValue) (item.Key, error) {
	if err := ctx.Err(); err != nil {
		return item.Key{}, err
	}
	if aws.ToString(table) != c.table {
		return item.Key{}, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(table))}
	}
	var k item.Key
	if key != nil {
		var err error
		if k, err = c.keyOf(key); err != nil {
			return item.Key{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Op: op, Key: k})
	for i, f := range c.faults {
		if f.op != op || (f.key != nil && *f.key != k) || f.times == 0 {
			continue
		}
		if f.times > 0 {
			f.times--
		}
		if f.times == 0 {
			c.faults = append(c.faults[:i], c.faults[i+1:]...)
		}
		return k, f.err
	}
	return k, nil
}

// enterWrite runs the write hooks and tracks concurrency. The returned
// func must be deferred before the table lock is taken.
func (c *Client) enterWrite(op string, k item.Key) func() {
	c.mu.Lock()
	c.active++
	c.inflight[k]++
	c.maxInflight = max(c.maxInflight, c.active)
	c.maxPerKey = max(c.maxPerKey, c.inflight[k])
	c.mu.Unlock()

	if c.BeforeWrite != nil {
		c.BeforeWrite(op, k)
	}
	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}
	return func() {
		c.mu.Lock()
		c.active--
		c.inflight[k]--
		c.mu.Unlock()
	}
}

func (c *Client) keyOf(key map[string]types.AttributeValue) (item.Key, error) {
	av, ok := key[c.keyAttr]
	if !ok || len(key) != 1 {
		return item.Key{}, validation("the provided key element does not match the schema")
	}
	v, err := item.FromAttributeValue(av)
	if err != nil {
		return item.Key{}, validation(err.Error())
	}
	k, err := item.KeyFromValue(v)
	if err != nil {
		return item.Key{}, validation(err.Error())
	}
	if (c.keyType == types.ScalarAttributeTypeN) != (k.Kind == item.KindNumber) {
		return item.Key{}, validation("the provided key element does not match the schema")
	}
	return k, nil
}

func (c *Client) sortedKeys() []item.Key {
	keys := make([]item.Key, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	item.SortKeys(keys)
	return keys
}

func validation(msg string) error {
	return &smithyError{code: "ValidationException", msg: msg}
}

// smithyError mimics a generic API error the SDK has no type for.
type smithyError struct {
	code, msg string
}

func (e *smithyError) Error() string     { return fmt.Sprintf("api error %s: %s", e.code, e.msg) }
func (e *smithyError) ErrorCode() string { return e.code }

// IsValidation reports whether err is a ValidationException from the fake.
func IsValidation(err error) bool {
	var se *smithyError
	return errors.As(err, &se) && se.code == "ValidationException"
}
