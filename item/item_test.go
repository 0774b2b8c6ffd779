package item_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrtj/dynamodb-connection/item"
)

func num(t *testing.T, s string) item.Value {
	t.Helper()
	v, err := item.ParseNumber(s)
	require.NoError(t, err)
	return v
}

func TestEqual_Numbers(t *testing.T) {
	assert.True(t, item.Equal(num(t, "1"), num(t, "1.0")))
	assert.True(t, item.Equal(num(t, "1e2"), num(t, "100")))
	assert.False(t, item.Equal(num(t, "1"), num(t, "1.0000000000000000000001")))
	assert.False(t, item.Equal(num(t, "1"), item.String("1")))
}

func TestEqual_MapsIgnoreKeyOrder(t *testing.T) {
	a := item.Map(map[string]item.Value{
		"source": item.String("x"),
		"tags":   item.List(item.String("a"), item.Int(2)),
	})
	b := item.Map(map[string]item.Value{
		"tags":   item.List(item.String("a"), num(t, "2.00")),
		"source": item.String("x"),
	})
	assert.True(t, a.Equal(b))

	c := item.Map(map[string]item.Value{"source": item.String("x")})
	assert.False(t, a.Equal(c))
}

func TestEqual_ListsAreOrdered(t *testing.T) {
	a := item.List(item.String("a"), item.String("b"))
	b := item.List(item.String("b"), item.String("a"))
	assert.False(t, a.Equal(b))
}

func TestSet(t *testing.T) {
	a, err := item.StringSet("x", "y")
	require.NoError(t, err)
	b, err := item.StringSet("y", "x")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, item.KindString, a.ElemKind())

	_, err = item.Set()
	assert.ErrorIs(t, err, item.ErrInvalidSet)

	_, err = item.Set(item.String("a"), item.Int(1))
	assert.ErrorIs(t, err, item.ErrInvalidSet)

	_, err = item.StringSet("a", "a")
	assert.ErrorIs(t, err, item.ErrInvalidSet)

	_, err = item.Set(item.Bool(true))
	assert.ErrorIs(t, err, item.ErrInvalidSet)

	_, err = item.Set(num(t, "1"), num(t, "1.0"))
	assert.ErrorIs(t, err, item.ErrInvalidSet)
}

func TestZeroValueIsNull(t *testing.T) {
	var v item.Value
	assert.True(t, v.IsNull())
	assert.True(t, v.Equal(item.Null()))
	assert.Equal(t, "NULL", v.String())
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		name    string
		it      item.Item
		want    item.Key
		wantErr error
	}{
		{"string key", item.Item{"id": item.String("a")}, item.StringKey("a"), nil},
		{"numeric key is canonical", item.Item{"id": num(t, "1.50")}, item.NumberKey(decimal.RequireFromString("1.5")), nil},
		{"missing key", item.Item{"other": item.String("a")}, item.Key{}, item.ErrMissingKey},
		{"null key", item.Item{"id": item.Null()}, item.Key{}, item.ErrInvalidKey},
		{"map key", item.Item{"id": item.Map(nil)}, item.Key{}, item.ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := item.KeyOf(tt.it, "id")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
		})
	}
}

func TestKey_ValueRoundTrip(t *testing.T) {
	k := item.NumberKey(decimal.RequireFromString("42.10"))
	assert.Equal(t, "42.1", k.Text)
	assert.True(t, k.Value().Equal(num(t, "42.1")))

	s := item.StringKey("a")
	assert.True(t, s.Value().Equal(item.String("a")))
}

func TestSortKeys(t *testing.T) {
	keys := []item.Key{
		item.StringKey("b"),
		item.NumberKey(decimal.NewFromInt(10)),
		item.StringKey("a"),
		item.NumberKey(decimal.NewFromInt(9)),
	}
	item.SortKeys(keys)
	assert.Equal(t, []item.Key{
		item.NumberKey(decimal.NewFromInt(9)),
		item.NumberKey(decimal.NewFromInt(10)),
		item.StringKey("a"),
		item.StringKey("b"),
	}, keys)
}

func TestSnapshot_ColumnsAndIndex(t *testing.T) {
	snap := item.NewSnapshot("id", []item.Item{
		{"id": item.String("a"), "text": item.String("hello")},
		{"id": item.String("b"), "metadata": item.Map(nil), "count": item.Int(3)},
	})
	assert.Equal(t, []string{"id", "count", "metadata", "text"}, snap.Columns)

	idx, err := snap.Index()
	require.NoError(t, err)
	assert.Len(t, idx, 2)
	assert.True(t, idx[item.StringKey("a")]["text"].Equal(item.String("hello")))

	got, ok := snap.Get(item.StringKey("b"))
	require.True(t, ok)
	assert.True(t, got["count"].Equal(item.Int(3)))
}

func TestSnapshot_IndexRejectsDuplicates(t *testing.T) {
	snap := item.NewSnapshot("id", []item.Item{
		{"id": num(t, "1")},
		{"id": num(t, "1.0")},
	})
	_, err := snap.Index()
	assert.ErrorIs(t, err, item.ErrDuplicateKey)
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	snap := item.NewSnapshot("id", []item.Item{{"id": item.String("a")}})
	cp := snap.Clone()
	cp.Items[0]["x"] = item.Int(1)
	_, ok := snap.Items[0]["x"]
	assert.False(t, ok)
}

func TestAttributeValueRoundTrip(t *testing.T) {
	ss, err := item.StringSet("a", "b")
	require.NoError(t, err)
	ns, err := item.Set(num(t, "1"), num(t, "2.5"))
	require.NoError(t, err)
	bs, err := item.Set(item.Binary([]byte{1}), item.Binary([]byte{2}))
	require.NoError(t, err)

	it := item.Item{
		"id":    item.String("a"),
		"n":     num(t, "123456789012345678901234567890.000000001"),
		"b":     item.Bool(true),
		"nil":   item.Null(),
		"bin":   item.Binary([]byte("raw")),
		"list":  item.List(item.Int(1), item.String("x"), item.Null()),
		"map":   item.Map(map[string]item.Value{"nested": item.Map(map[string]item.Value{"deep": item.Bool(false)})}),
		"ss":    ss,
		"ns":    ns,
		"bs":    bs,
		"empty": item.String(""),
	}

	raw := item.ToAttributeMap(it)
	n, ok := raw["n"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890.000000001", n.Value)

	back, err := item.FromAttributeMap(raw)
	require.NoError(t, err)
	assert.True(t, it.Equal(back), "round trip changed item: %v", back)
}

func TestFromAttributeValue_InvalidNumber(t *testing.T) {
	_, err := item.FromAttributeMap(map[string]types.AttributeValue{
		"n": &types.AttributeValueMemberN{Value: "not-a-number"},
	})
	assert.Error(t, err)
}
