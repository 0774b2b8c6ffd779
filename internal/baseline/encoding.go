package baseline

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mrtj/dynamodb-connection/item"
)

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(buf []byte, v any) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(buf))
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	return err
}

// wireValue is the stored form of item.Value. Numbers keep their decimal
// text.
type wireValue struct {
	Kind uint8                `msgpack:"k"`
	Bool bool                 `msgpack:"b,omitempty"`
	Text string               `msgpack:"s,omitempty"`
	Bin  []byte               `msgpack:"x,omitempty"`
	List []wireValue          `msgpack:"l,omitempty"`
	Map  map[string]wireValue `msgpack:"m,omitempty"`
}

type wireItem map[string]wireValue

func toWireItem(it item.Item) wireItem {
	w := make(wireItem, len(it))
	for name, v := range it {
		w[name] = toWire(v)
	}
	return w
}

func (w wireItem) item() (item.Item, error) {
	it := make(item.Item, len(w))
	for name, wv := range w {
		v, err := wv.value()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		it[name] = v
	}
	return it, nil
}

func toWire(v item.Value) wireValue {
	w := wireValue{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case item.KindBool:
		w.Bool = v.AsBool()
	case item.KindNumber:
		w.Text = v.AsNumber().String()
	case item.KindString:
		w.Text = v.AsString()
	case item.KindBinary:
		w.Bin = v.AsBinary()
	case item.KindList, item.KindSet:
		w.List = make([]wireValue, len(v.Elems()))
		for i, e := range v.Elems() {
			w.List[i] = toWire(e)
		}
	case item.KindMap:
		w.Map = make(map[string]wireValue, len(v.Fields()))
		for k, f := range v.Fields() {
			w.Map[k] = toWire(f)
		}
	}
	return w
}

func (w wireValue) value() (item.Value, error) {
	switch item.Kind(w.Kind) {
	case item.KindNull:
		return item.Null(), nil
	case item.KindBool:
		return item.Bool(w.Bool), nil
	case item.KindNumber:
		return item.ParseNumber(w.Text)
	case item.KindString:
		return item.String(w.Text), nil
	case item.KindBinary:
		return item.Binary(w.Bin), nil
	case item.KindList, item.KindSet:
		elems := make([]item.Value, len(w.List))
		for i, e := range w.List {
			v, err := e.value()
			if err != nil {
				return item.Value{}, err
			}
			elems[i] = v
		}
		if item.Kind(w.Kind) == item.KindSet {
			return item.Set(elems...)
		}
		return item.List(elems...), nil
	case item.KindMap:
		m := make(map[string]item.Value, len(w.Map))
		for k, f := range w.Map {
			v, err := f.value()
			if err != nil {
				return item.Value{}, err
			}
			m[k] = v
		}
		return item.Map(m), nil
	default:
		return item.Value{}, fmt.Errorf("unknown value kind %d", w.Kind)
	}
}
