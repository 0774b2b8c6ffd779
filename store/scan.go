package store

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mrtj/dynamodb-connection/item"
)

// Iterator walks the table page by page. Pages are fetched lazily; a page
// fetch that fails with ErrUnavailable is retried from the last page token.
//
//	it := s.All()
//	for it.Next(ctx) {
//	    use(it.Item())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	s     *Store
	pager *dynamodb.ScanPaginator
	page  []map[string]types.AttributeValue
	cur   item.Item
	err   error
}

// All returns an iterator over every item of the table.
func (s *Store) All() *Iterator {
	return s.scan(nil)
}

func (s *Store) scan(project *exprBuilder) *Iterator {
	in := &dynamodb.ScanInput{
		TableName:      aws.String(s.config.TableName),
		ConsistentRead: aws.Bool(s.config.ConsistentRead),
	}
	if s.config.ScanPageSize > 0 {
		in.Limit = aws.Int32(s.config.ScanPageSize)
	}
	if project != nil {
		in.ProjectionExpression = aws.String(project.projection())
		in.ExpressionAttributeNames = project.names
	}
	return &Iterator{s: s, pager: dynamodb.NewScanPaginator(s.client, in)}
}

// Next advances to the next item. It returns false at the end of the table
// or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	for len(it.page) == 0 {
		if it.err != nil || !it.pager.HasMorePages() {
			return false
		}
		var out *dynamodb.ScanOutput
		it.err = it.s.do(ctx, "scan", item.Key{}, func(ctx context.Context) error {
			var err error
			out, err = it.pager.NextPage(ctx)
			return err
		})
		if it.err != nil {
			return false
		}
		it.page = out.Items
	}
	raw := it.page[0]
	it.page = it.page[1:]
	cur, err := item.FromAttributeMap(raw)
	if err != nil {
		it.err = &OpError{Op: "scan", Attempts: 1, Err: err}
		return false
	}
	it.cur = cur
	return true
}

// Item returns the current item.
func (it *Iterator) Item() item.Item { return it.cur }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Keys returns the keys of all items, ordered by key.
func (s *Store) Keys(ctx context.Context) ([]item.Key, error) {
	b := newExprBuilder()
	b.name(s.config.KeyAttribute)
	it := s.scan(b)

	var keys []item.Key
	for it.Next(ctx) {
		k, err := item.KeyOf(it.Item(), s.config.KeyAttribute)
		if err != nil {
			return nil, &OpError{Op: "scan", Err: err}
		}
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	item.SortKeys(keys)
	return keys, nil
}

// Snapshot reads the whole table, ordered by key.
func (s *Store) Snapshot(ctx context.Context) (item.Snapshot, error) {
	type keyed struct {
		key item.Key
		it  item.Item
	}
	var rows []keyed
	it := s.All()
	for it.Next(ctx) {
		k, err := item.KeyOf(it.Item(), s.config.KeyAttribute)
		if err != nil {
			return item.Snapshot{}, &OpError{Op: "scan", Err: err}
		}
		rows = append(rows, keyed{key: k, it: it.Item()})
	}
	if err := it.Err(); err != nil {
		return item.Snapshot{}, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key.Less(rows[j].key) })

	items := make([]item.Item, len(rows))
	for i, r := range rows {
		items[i] = r.it
	}
	s.logger.Debug("scanned table", "table", s.config.TableName, "items", len(items))
	return item.NewSnapshot(s.config.KeyAttribute, items), nil
}
