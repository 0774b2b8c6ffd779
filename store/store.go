package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mrtj/dynamodb-connection/item"
)

// Client is the subset of the DynamoDB API the store uses.
// *dynamodb.Client satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Store maps one DynamoDB table as a dictionary from key to item.
type Store struct {
	client  Client
	config  Config
	logger  *slog.Logger
	backoff *retry.ExponentialJitterBackoff
}

// New creates a new Store instance. config.KeyAttribute must be set; use
// Open to discover it from the table.
func New(client Client, config Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	config.validate()
	return &Store{
		client:  client,
		config:  config,
		logger:  logger,
		backoff: retry.NewExponentialJitterBackoff(config.MaxBackoff),
	}
}

// Open creates a Store, describing the table to find its key attribute
// when the config leaves it empty.
func Open(ctx context.Context, client Client, config Config, logger *slog.Logger) (*Store, error) {
	s := New(client, config, logger)
	if s.config.KeyAttribute != "" {
		return s, nil
	}
	keyAttr, err := s.describeKey(ctx)
	if err != nil {
		return nil, err
	}
	s.config.KeyAttribute = keyAttr
	s.config.validate()
	return s, nil
}

// TableName returns the name of the mapped table.
func (s *Store) TableName() string { return s.config.TableName }

// KeyAttribute returns the name of the partition key attribute.
func (s *Store) KeyAttribute() string { return s.config.KeyAttribute }

// VersionAttribute returns the optimistic concurrency attribute, or "".
func (s *Store) VersionAttribute() string { return s.config.VersionAttribute }

func (s *Store) describeKey(ctx context.Context) (string, error) {
	var out *dynamodb.DescribeTableOutput
	err := s.do(ctx, "describe", item.Key{}, func(ctx context.Context) error {
		var err error
		out, err = s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(s.config.TableName),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	var hash string
	for _, el := range out.Table.KeySchema {
		switch el.KeyType {
		case types.KeyTypeHash:
			hash = aws.ToString(el.AttributeName)
		case types.KeyTypeRange:
			return "", &OpError{Op: "describe", Err: ErrUnsupportedSchema}
		}
	}
	if hash == "" {
		return "", &OpError{Op: "describe", Err: ErrUnsupportedSchema}
	}
	return hash, nil
}

func (s *Store) key(k item.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{s.config.KeyAttribute: k.AttributeValue()}
}

// Get retrieves an item by key, returning ErrNotFound if it is missing.
func (s *Store) Get(ctx context.Context, k item.Key) (item.Item, error) {
	raw, err := s.getRaw(ctx, k, nil)
	if err != nil {
		return nil, err
	}
	it, err := item.FromAttributeMap(raw)
	if err != nil {
		return nil, &OpError{Op: "get", Key: k, Err: err}
	}
	return it, nil
}

func (s *Store) getRaw(ctx context.Context, k item.Key, project *exprBuilder) (map[string]types.AttributeValue, error) {
	in := &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            s.key(k),
		ConsistentRead: aws.Bool(s.config.ConsistentRead),
	}
	if project != nil {
		in.ProjectionExpression = aws.String(project.projection())
		in.ExpressionAttributeNames = project.names
	}
	var out *dynamodb.GetItemOutput
	err := s.do(ctx, "get", k, func(ctx context.Context) error {
		var err error
		out, err = s.client.GetItem(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, &OpError{Op: "get", Key: k, Attempts: 1, Err: ErrNotFound}
	}
	return out.Item, nil
}

// Contains reports whether an item with key k exists.
func (s *Store) Contains(ctx context.Context, k item.Key) (bool, error) {
	b := newExprBuilder()
	b.name(s.config.KeyAttribute)
	_, err := s.getRaw(ctx, k, b)
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Len returns the approximate number of items. DynamoDB refreshes the
// count about every six hours.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var out *dynamodb.DescribeTableOutput
	err := s.do(ctx, "describe", item.Key{}, func(ctx context.Context) error {
		var err error
		out, err = s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(s.config.TableName),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.Table.ItemCount), nil
}

// Put replaces the whole item stored under k. The key attribute is set
// from k; an item carrying a different key is rejected with
// ErrKeyMismatch. It returns the item as written.
func (s *Store) Put(ctx context.Context, k item.Key, it item.Item, conds ...Condition) (item.Item, error) {
	keyAttr := s.config.KeyAttribute
	written := it.Clone()
	if written == nil {
		written = item.Item{}
	}
	if v, ok := written[keyAttr]; ok {
		if got, err := item.KeyFromValue(v); err != nil || got != k {
			return nil, &OpError{Op: "put", Key: k, Err: fmt.Errorf("%w: item has %s = %v", ErrKeyMismatch, keyAttr, v)}
		}
	}
	written[keyAttr] = k.Value()

	if ver := s.config.VersionAttribute; ver != "" {
		written[ver] = item.Int(nextVersion(written[ver], conds) + 1)
	}

	b := newExprBuilder()
	in := &dynamodb.PutItemInput{
		TableName:                           aws.String(s.config.TableName),
		Item:                                item.ToAttributeMap(written),
		ConditionExpression:                 b.condition(s.config, conds),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	in.ExpressionAttributeNames, in.ExpressionAttributeValues = b.maps()

	err := s.do(ctx, "put", k, func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// Update applies attribute-level changes to the item stored under k and
// returns the item as stored afterwards. The item must exist unless
// Config.UpsertOnUpdate is set.
func (s *Store) Update(ctx context.Context, k item.Key, ch Changes, conds ...Condition) (item.Item, error) {
	keyAttr := s.config.KeyAttribute
	if v, ok := ch.Set[keyAttr]; ok && !v.Equal(k.Value()) {
		return nil, &OpError{Op: "update", Key: k, Err: fmt.Errorf("%w: cannot change %s", ErrKeyMismatch, keyAttr)}
	}
	for _, name := range ch.Remove {
		if name == keyAttr {
			return nil, &OpError{Op: "update", Key: k, Err: fmt.Errorf("%w: cannot remove %s", ErrKeyMismatch, keyAttr)}
		}
	}
	if !s.config.UpsertOnUpdate {
		conds = append(conds, IfExists())
	}

	b := newExprBuilder()
	update := b.update(s.config, ch)
	if update == "" {
		// Nothing to write.
		return s.Get(ctx, k)
	}
	in := &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.config.TableName),
		Key:                                 s.key(k),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 b.condition(s.config, conds),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	in.ExpressionAttributeNames, in.ExpressionAttributeValues = b.maps()

	var out *dynamodb.UpdateItemOutput
	err := s.do(ctx, "update", k, func(ctx context.Context) error {
		var err error
		out, err = s.client.UpdateItem(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	it, err := item.FromAttributeMap(out.Attributes)
	if err != nil {
		return nil, &OpError{Op: "update", Key: k, Err: err}
	}
	return it, nil
}

// Delete removes the item stored under k, returning ErrNotFound if there
// is none.
func (s *Store) Delete(ctx context.Context, k item.Key, conds ...Condition) error {
	conds = append(conds, IfExists())
	b := newExprBuilder()
	in := &dynamodb.DeleteItemInput{
		TableName:                           aws.String(s.config.TableName),
		Key:                                 s.key(k),
		ConditionExpression:                 b.condition(s.config, conds),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	in.ExpressionAttributeNames, in.ExpressionAttributeValues = b.maps()

	return s.do(ctx, "delete", k, func(ctx context.Context) error {
		_, err := s.client.DeleteItem(ctx, in)
		return err
	})
}
