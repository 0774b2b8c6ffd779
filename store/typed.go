package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/mrtj/dynamodb-connection/item"
)

// GetInto reads the item stored under k into out, a pointer to a struct
// or map, using attributevalue struct tags.
func (s *Store) GetInto(ctx context.Context, k item.Key, out any) error {
	raw, err := s.getRaw(ctx, k, nil)
	if err != nil {
		return err
	}
	if err := attributevalue.UnmarshalMap(raw, out); err != nil {
		return &OpError{Op: "get", Key: k, Err: fmt.Errorf("unmarshal item: %w", err)}
	}
	return nil
}

// PutFrom marshals v with attributevalue and writes it under the key it
// carries.
func (s *Store) PutFrom(ctx context.Context, v any, conds ...Condition) (item.Item, error) {
	raw, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, &OpError{Op: "put", Err: fmt.Errorf("marshal item: %w", err)}
	}
	it, err := item.FromAttributeMap(raw)
	if err != nil {
		return nil, &OpError{Op: "put", Err: err}
	}
	k, err := item.KeyOf(it, s.config.KeyAttribute)
	if err != nil {
		return nil, &OpError{Op: "put", Err: err}
	}
	return s.Put(ctx, k, it, conds...)
}
