package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mrtj/dynamodb-connection/internal/ddbtest"
	"github.com/mrtj/dynamodb-connection/item"
	"github.com/mrtj/dynamodb-connection/store"
)

const table = "items"

func newStore(t *testing.T, mutate func(*store.Config)) (*store.Store, *ddbtest.Client) {
	t.Helper()
	client := ddbtest.NewClient(table, "id")
	cfg := store.DefaultConfig(table)
	cfg.KeyAttribute = "id"
	cfg.MaxBackoff = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return store.New(client, cfg, nil), client
}

func key(s string) item.Key { return item.StringKey(s) }

// --- Open Tests ---

func TestOpen_DiscoversKeyAttribute(t *testing.T) {
	client := ddbtest.NewClient(table, "pk")
	s, err := store.Open(context.Background(), client, store.DefaultConfig(table), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.KeyAttribute() != "pk" {
		t.Errorf("expected key attribute 'pk', got %q", s.KeyAttribute())
	}
}

func TestOpen_UnknownTable(t *testing.T) {
	client := ddbtest.NewClient(table, "pk")
	_, err := store.Open(context.Background(), client, store.DefaultConfig("other"), nil)
	if err == nil {
		t.Fatal("expected error for unknown table")
	}
	var opErr *store.OpError
	if !errors.As(err, &opErr) || opErr.Op != "describe" {
		t.Errorf("expected describe OpError, got %v", err)
	}
}

// --- Get / Put Tests ---

func TestGet_NotFound(t *testing.T) {
	s, _ := newStore(t, nil)
	_, err := s.Get(context.Background(), key("missing"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_ThenGet(t *testing.T) {
	s, _ := newStore(t, nil)
	ctx := context.Background()

	written, err := s.Put(ctx, key("a"), item.Item{"name": item.String("Ann")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !written["id"].Equal(item.String("a")) {
		t.Errorf("expected key attribute set from key, got %v", written)
	}

	got, err := s.Get(ctx, key("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(written) {
		t.Errorf("expected %v, got %v", written, got)
	}
}

func TestPut_ReplacesWholeItem(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a"), "old": item.Int(1)})

	if _, err := s.Put(context.Background(), key("a"), item.Item{"new": item.Int(2)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := client.Item(key("a"))
	if _, ok := stored["old"]; ok {
		t.Errorf("expected old attribute gone, got %v", stored)
	}
}

func TestPut_KeyMismatch(t *testing.T) {
	s, client := newStore(t, nil)
	_, err := s.Put(context.Background(), key("a"), item.Item{"id": item.String("b")})
	if !errors.Is(err, store.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch, got %v", err)
	}
	if len(client.Calls()) != 0 {
		t.Errorf("expected no calls, got %v", client.Calls())
	}
}

func TestPut_IfNotExistsConflict(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a")})

	_, err := s.Put(context.Background(), key("a"), item.Item{}, store.IfNotExists())
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPut_NumberKey(t *testing.T) {
	client := ddbtest.NewClient(table, "n").WithNumberKey()
	cfg := store.DefaultConfig(table)
	cfg.KeyAttribute = "n"
	s := store.New(client, cfg, nil)
	ctx := context.Background()

	v, _ := item.ParseNumber("10.0")
	k, _ := item.KeyFromValue(v)
	if _, err := s.Put(ctx, k, item.Item{"x": item.Bool(true)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ten, _ := item.KeyFromValue(item.Int(10))
	if ok, err := s.Contains(ctx, ten); err != nil || !ok {
		t.Errorf("expected 10 and 10.0 to address the same item, got %v %v", ok, err)
	}
}

// --- Update Tests ---

func TestUpdate_SetAndRemove(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a"), "x": item.Int(1), "y": item.Int(2)})

	got, err := s.Update(context.Background(), key("a"), store.Changes{
		Set:    map[string]item.Value{"x": item.Int(5), "z": item.String("")},
		Remove: []string{"y"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := item.Item{"id": item.String("a"), "x": item.Int(5), "z": item.String("")}
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s, client := newStore(t, nil)
	_, err := s.Update(context.Background(), key("a"), store.Changes{
		Set: map[string]item.Value{"x": item.Int(1)},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, ok := client.Item(key("a")); ok {
		t.Error("expected no item to be created")
	}
}

func TestUpdate_Upsert(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.UpsertOnUpdate = true })
	_, err := s.Update(context.Background(), key("a"), store.Changes{
		Set: map[string]item.Value{"x": item.Int(1)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.Item(key("a")); !ok {
		t.Error("expected item to be created")
	}
}

func TestUpdate_KeyIsImmutable(t *testing.T) {
	s, _ := newStore(t, nil)
	ctx := context.Background()

	_, err := s.Update(ctx, key("a"), store.Changes{Set: map[string]item.Value{"id": item.String("b")}})
	if !errors.Is(err, store.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch on set, got %v", err)
	}
	_, err = s.Update(ctx, key("a"), store.Changes{Remove: []string{"id"}})
	if !errors.Is(err, store.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch on remove, got %v", err)
	}
}

func TestUpdate_NoChangesReadsItem(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a"), "x": item.Int(1)})

	got, err := s.Update(context.Background(), key("a"), store.Changes{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got["x"].Equal(item.Int(1)) {
		t.Errorf("expected current item, got %v", got)
	}
	for _, call := range client.Calls() {
		if call.Op == "UpdateItem" {
			t.Error("expected no UpdateItem call")
		}
	}
}

// --- Delete Tests ---

func TestDelete(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a")})
	ctx := context.Background()

	if err := s.Delete(ctx, key("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.Item(key("a")); ok {
		t.Error("expected item deleted")
	}
	if err := s.Delete(ctx, key("a")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

// --- Versioning Tests ---

func TestVersioning(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.VersionAttribute = "ver" })
	ctx := context.Background()

	written, err := s.Put(ctx, key("a"), item.Item{"x": item.Int(1)}, store.IfNotExists())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.VersionOf(written["ver"]) != 1 {
		t.Errorf("expected version 1, got %v", written["ver"])
	}

	updated, err := s.Update(ctx, key("a"), store.Changes{Set: map[string]item.Value{"x": item.Int(2)}}, store.IfVersion(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.VersionOf(updated["ver"]) != 2 {
		t.Errorf("expected version 2, got %v", updated["ver"])
	}

	_, err = s.Update(ctx, key("a"), store.Changes{Set: map[string]item.Value{"x": item.Int(3)}}, store.IfVersion(1))
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for stale version, got %v", err)
	}
	stored, _ := client.Item(key("a"))
	if !stored["x"].Equal(item.Int(2)) {
		t.Errorf("expected stale write rejected, got %v", stored)
	}
}

// --- Retry Tests ---

func TestRetry_RecoversFromThrottling(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a")})
	client.Fail("GetItem", key("a"), ddbtest.Throttled(), 2)

	if _, err := s.Get(context.Background(), key("a")); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if n := len(client.CallsFor(key("a"))); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.MaxAttempts = 3 })
	client.Fail("DeleteItem", key("a"), ddbtest.Throttled(), -1)

	err := s.Delete(context.Background(), key("a"))
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var opErr *store.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OpError, got %T", err)
	}
	if opErr.Attempts != 3 || opErr.Op != "delete" || opErr.Key != key("a") {
		t.Errorf("unexpected OpError %+v", opErr)
	}
}

func TestRetry_DoesNotRetryConflicts(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(item.Item{"id": item.String("a")})

	_, err := s.Put(context.Background(), key("a"), item.Item{}, store.IfNotExists())
	var opErr *store.OpError
	if !errors.As(err, &opErr) || opErr.Attempts != 1 {
		t.Errorf("expected a single attempt, got %v", err)
	}
	if n := len(client.CallsFor(key("a"))); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.MaxBackoff = time.Hour; c.MaxAttempts = 5 })
	client.Fail("GetItem", key("a"), ddbtest.Throttled(), -1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Get(ctx, key("a"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// --- Scan Tests ---

func seedN(client *ddbtest.Client, n int) {
	for i := 0; i < n; i++ {
		client.Seed(item.Item{"id": item.String(fmt.Sprintf("k%02d", i)), "i": item.Int(int64(i))})
	}
}

func TestAll_Paginates(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.ScanPageSize = 2 })
	seedN(client, 5)

	it := s.All()
	count := 0
	for it.Next(context.Background()) {
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 items, got %d", count)
	}

	scans := 0
	for _, call := range client.Calls() {
		if call.Op == "Scan" {
			scans++
		}
	}
	if scans != 3 {
		t.Errorf("expected 3 pages, got %d", scans)
	}
}

func TestAll_ResumesAfterFailedPage(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.ScanPageSize = 2 })
	seedN(client, 5)

	it := s.All()
	ctx := context.Background()
	seen := map[string]int{}
	for i := 0; it.Next(ctx); i++ {
		seen[it.Item()["id"].AsString()]++
		if i == 1 {
			client.FailAll("Scan", ddbtest.Throttled(), 1)
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct items, got %v", seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("expected %s once, got %d", id, n)
		}
	}
}

func TestAll_Error(t *testing.T) {
	s, client := newStore(t, func(c *store.Config) { c.MaxAttempts = 1 })
	seedN(client, 2)
	client.FailAll("Scan", ddbtest.Throttled(), 1)

	it := s.All()
	if it.Next(context.Background()) {
		t.Fatal("expected no items")
	}
	if !errors.Is(it.Err(), store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", it.Err())
	}
}

func TestSnapshot_OrderedByKey(t *testing.T) {
	s, client := newStore(t, nil)
	client.Seed(
		item.Item{"id": item.String("b"), "x": item.Int(1)},
		item.Item{"id": item.String("a"), "y": item.Bool(true)},
	)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", snap.Len())
	}
	if snap.Items[0]["id"].AsString() != "a" {
		t.Errorf("expected 'a' first, got %v", snap.Items[0])
	}
	expected := []string{"id", "x", "y"}
	if fmt.Sprint(snap.Columns) != fmt.Sprint(expected) {
		t.Errorf("expected columns %v, got %v", expected, snap.Columns)
	}
}

func TestKeys_Len_Contains(t *testing.T) {
	s, client := newStore(t, nil)
	seedN(client, 3)
	ctx := context.Background()

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 3 || keys[0] != key("k00") {
		t.Errorf("unexpected keys %v", keys)
	}

	n, err := s.Len(ctx)
	if err != nil || n != 3 {
		t.Errorf("expected 3, got %d (%v)", n, err)
	}

	if ok, err := s.Contains(ctx, key("k01")); err != nil || !ok {
		t.Errorf("expected k01 present, got %v %v", ok, err)
	}
	if ok, err := s.Contains(ctx, key("zz")); err != nil || ok {
		t.Errorf("expected zz absent, got %v %v", ok, err)
	}
}

// --- Typed access ---

type product struct {
	ID    string   `dynamodbav:"id"`
	Name  string   `dynamodbav:"name"`
	Price float64  `dynamodbav:"price"`
	Tags  []string `dynamodbav:"tags,stringset"`
}

func TestPutFromGetInto(t *testing.T) {
	s, client := newStore(t, nil)
	ctx := context.Background()

	in := product{ID: "p1", Name: "Lamp", Price: 12.5, Tags: []string{"home"}}
	if _, err := s.PutFrom(ctx, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, ok := client.Item(key("p1"))
	if !ok || stored["tags"].Kind() != item.KindSet {
		t.Fatalf("expected stored item with string set, got %v", stored)
	}

	var out product
	if err := s.GetInto(ctx, key("p1"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "Lamp" || out.Price != 12.5 || len(out.Tags) != 1 {
		t.Errorf("unexpected round trip %+v", out)
	}
}
