//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// DDB_ENDPOINT points the tests at DynamoDB Local; AWS_PROFILE and
// AWS_REGION select the account otherwise.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mrtj/dynamodb-connection/codec"
	"github.com/mrtj/dynamodb-connection/diff"
	"github.com/mrtj/dynamodb-connection/editor"
	"github.com/mrtj/dynamodb-connection/item"
	"github.com/mrtj/dynamodb-connection/reconcile"
	"github.com/mrtj/dynamodb-connection/store"
)

// Table names - unique per test run to avoid conflicts
const tablePrefix = "ddbsync-e2e-test"

var (
	testID       string
	stringTable  string
	numberTable  string
	ddbClient    *dynamodb.Client
	createdTable []string
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	stringTable = fmt.Sprintf("%s-%s-items", tablePrefix, testID)
	numberTable = fmt.Sprintf("%s-%s-numbers", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)

	ctx := context.Background()
	var loaders []func(*config.LoadOptions) error
	if p := os.Getenv("AWS_PROFILE"); p != "" {
		loaders = append(loaders, config.WithSharedConfigProfile(p))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if ep := os.Getenv("DDB_ENDPOINT"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})

	if err := createTable(ctx, stringTable, "id", types.ScalarAttributeTypeS); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		deleteTables(ctx)
		os.Exit(1)
	}
	if err := createTable(ctx, numberTable, "n", types.ScalarAttributeTypeN); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		deleteTables(ctx)
		os.Exit(1)
	}

	code := m.Run()
	deleteTables(ctx)
	os.Exit(code)
}

func createTable(ctx context.Context, name, keyAttr string, keyType types.ScalarAttributeType) error {
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(keyAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(keyAttr), AttributeType: keyType},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	createdTable = append(createdTable, name)

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", name, err)
	}
	return nil
}

func deleteTables(ctx context.Context) {
	for _, name := range createdTable {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", name, err)
		}
	}
}

// openStore opens a store on table, discovering the key attribute.
func openStore(t *testing.T, table string, mutate func(*store.Config)) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig(table)
	cfg.ConsistentRead = true
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := store.Open(context.Background(), ddbClient, cfg, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

// fresh returns a key no other test uses.
func fresh(prefix string) item.Key {
	return item.StringKey(prefix + "-" + uuid.NewString())
}

// --- Store Tests ---

func TestStore_DiscoversKeyAttribute(t *testing.T) {
	s := openStore(t, stringTable, nil)
	if s.KeyAttribute() != "id" {
		t.Errorf("expected key attribute id, got %q", s.KeyAttribute())
	}
	n := openStore(t, numberTable, nil)
	if n.KeyAttribute() != "n" {
		t.Errorf("expected key attribute n, got %q", n.KeyAttribute())
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, stringTable, nil)
	k := fresh("crud")

	tags, _ := item.StringSet("red", "blue")
	it := item.Item{
		"name":  item.String("widget"),
		"price": item.Int(10),
		"tags":  tags,
		"meta":  item.Map(map[string]item.Value{"nested": item.List(item.Bool(true), item.Null())}),
		"blob":  item.Binary([]byte{0, 1, 2}),
		"empty": item.String(""),
	}
	if _, err := s.Put(ctx, k, it); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := it.Clone()
	want["id"] = k.Value()
	if !want.Equal(got) {
		t.Errorf("round trip mismatch:\nwant %v\ngot  %v", want, got)
	}

	updated, err := s.Update(ctx, k, store.Changes{
		Set:    map[string]item.Value{"price": item.Int(12)},
		Remove: []string{"blob"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := updated["blob"]; ok {
		t.Error("expected blob to be removed")
	}
	if !item.Int(12).Equal(updated["price"]) {
		t.Errorf("expected price 12, got %v", updated["price"])
	}

	if _, err := s.Put(ctx, k, it, store.IfNotExists()); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for existing item, got %v", err)
	}

	if err := s.Delete(ctx, k); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, k); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, k); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting missing item, got %v", err)
	}
	if _, err := s.Update(ctx, k, store.Changes{Set: map[string]item.Value{"x": item.Int(1)}}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating missing item, got %v", err)
	}
}

func TestStore_NumberKeysAreCanonical(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, numberTable, nil)

	one, _ := decimal.NewFromString("1.0")
	if _, err := s.Put(ctx, item.NumberKey(one), item.Item{"v": item.String("one")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, item.NumberKey(decimal.NewFromInt(1)))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !item.String("one").Equal(got["v"]) {
		t.Errorf("expected v = one, got %v", got["v"])
	}
	if err := s.Delete(ctx, item.NumberKey(decimal.NewFromInt(1))); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

type product struct {
	ID    string `dynamodbav:"id"`
	Name  string `dynamodbav:"name"`
	Price int    `dynamodbav:"price"`
}

func TestStore_TypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, stringTable, nil)
	in := product{ID: fresh("typed").Text, Name: "gadget", Price: 3}

	if _, err := s.PutFrom(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out product
	if err := s.GetInto(ctx, item.StringKey(in.ID), &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestStore_VersionedWrites(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, stringTable, func(c *store.Config) { c.VersionAttribute = "ver" })
	k := fresh("ver")

	first, err := s.Put(ctx, k, item.Item{"v": item.Int(1)}, store.IfNotExists())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	v := store.VersionOf(first["ver"])
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	if _, err := s.Update(ctx, k, store.Changes{Set: map[string]item.Value{"v": item.Int(2)}}, store.IfVersion(v)); err != nil {
		t.Fatalf("update at current version: %v", err)
	}
	if _, err := s.Update(ctx, k, store.Changes{Set: map[string]item.Value{"v": item.Int(3)}}, store.IfVersion(v)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for stale version, got %v", err)
	}
}

// --- Sync Tests ---

func newEditor(t *testing.T, s *store.Store) *editor.Editor {
	t.Helper()
	ed := editor.New(s, reconcile.New(s, reconcile.DefaultConfig(), nil), editor.Options{}, nil)
	if err := ed.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return ed
}

func rowsOf(g codec.Grid) []codec.EditedRow {
	rows := make([]codec.EditedRow, len(g.Rows))
	for i, r := range g.Rows {
		origin := g.Keys[i]
		cells := codec.Row{}
		for name, c := range r {
			cells[name] = c
		}
		rows[i] = codec.EditedRow{Origin: &origin, Cells: cells}
	}
	return rows
}

func find(rows []codec.EditedRow, k item.Key) int {
	for i, r := range rows {
		if r.Origin != nil && *r.Origin == k {
			return i
		}
	}
	return -1
}

func TestSync_EditCommitRescan(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, stringTable, nil)
	a, b, c := fresh("sync"), fresh("sync"), fresh("sync")
	for _, k := range []item.Key{a, b} {
		if _, err := s.Put(ctx, k, item.Item{"n": item.Int(1), "s": item.String("x"), "t": item.String("y")}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	ed := newEditor(t, s)
	g, err := ed.Grid()
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	rows := rowsOf(g)

	ia := find(rows, a)
	rows[ia].Cells["n"] = codec.NumberCell("2")
	rows[ia].Cells["s"] = codec.TextCell("")
	rows[ia].Cells["t"] = codec.Remove()
	ib := find(rows, b)
	rows = append(rows[:ib], rows[ib+1:]...)
	rows = append(rows, codec.EditedRow{Cells: codec.Row{
		"id": codec.TextCell(c.Text),
		"n":  codec.NumberCell("3"),
	}})

	res, err := ed.Commit(ctx, rows, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res.OK() || len(res.CellErrors) > 0 {
		t.Fatalf("expected clean commit, got %v / %v", res.Err(), res.CellErrors)
	}

	edited, err := ed.Baseline()
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	rescan, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	d, err := diff.Compute(rescan, edited)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !d.Empty() {
		t.Errorf("expected rescan to equal the committed baseline, diff:\n%s", d)
	}

	got, err := s.Get(ctx, a)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got["t"]; ok {
		t.Error("expected t to be removed")
	}
	if !item.String("").Equal(got["s"]) {
		t.Errorf("expected s to be the empty string, got %v", got["s"])
	}
	if _, err := s.Get(ctx, b); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected b to be deleted, got %v", err)
	}
}

func TestSync_ConcurrentWriterConflict(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, stringTable, func(c *store.Config) { c.VersionAttribute = "ver" })
	k := fresh("race")
	if _, err := s.Put(ctx, k, item.Item{"n": item.Int(1)}, store.IfNotExists()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ed := newEditor(t, s)
	g, err := ed.Grid()
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	rows := rowsOf(g)
	rows[find(rows, k)].Cells["n"] = codec.NumberCell("2")

	// Another writer gets there first.
	if _, err := s.Update(ctx, k, store.Changes{Set: map[string]item.Value{"n": item.Int(9)}}); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	res, err := ed.Commit(ctx, rows, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Kind != reconcile.KindConflict {
		t.Fatalf("expected one conflict, got %+v", res.Failed)
	}
	got, _ := s.Get(ctx, k)
	if !item.Int(9).Equal(got["n"]) {
		t.Errorf("expected the concurrent write to survive, got %v", got["n"])
	}
}
