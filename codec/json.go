package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mrtj/dynamodb-connection/item"
)

const (
	binaryTag = "$binary"
	setTag    = "$set"

	// mapTag wraps user maps whose single key starts with '$' so they are
	// never read back as a tagged value.
	mapTag = "$map"
)

// MarshalJSONValue renders v as canonical JSON: object keys sorted,
// numbers as exact decimal literals.
func MarshalJSONValue(v item.Value) string {
	var buf bytes.Buffer
	writeJSON(&buf, v)
	return buf.String()
}

func writeJSON(buf *bytes.Buffer, v item.Value) {
	switch v.Kind() {
	case item.KindNull:
		buf.WriteString("null")
	case item.KindBool:
		if v.AsBool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case item.KindNumber:
		buf.WriteString(v.AsNumber().String())
	case item.KindString:
		writeJSONString(buf, v.AsString())
	case item.KindBinary:
		buf.WriteString(`{"` + binaryTag + `":`)
		writeJSONString(buf, base64.StdEncoding.EncodeToString(v.AsBinary()))
		buf.WriteByte('}')
	case item.KindList:
		writeJSONArray(buf, v.Elems())
	case item.KindSet:
		buf.WriteString(`{"` + setTag + `":`)
		writeJSONArray(buf, sortedElems(v.Elems()))
		buf.WriteByte('}')
	case item.KindMap:
		fields := v.Fields()
		if !looksTagged(fields) {
			writeJSONObject(buf, fields)
			return
		}
		buf.WriteString(`{"` + mapTag + `":`)
		writeJSONObject(buf, fields)
		buf.WriteByte('}')
	}
}

// looksTagged reports whether a map would read back as a tagged value.
func looksTagged(fields map[string]item.Value) bool {
	if len(fields) != 1 {
		return false
	}
	for k := range fields {
		return strings.HasPrefix(k, "$")
	}
	return false
}

func writeJSONObject(buf *bytes.Buffer, fields map[string]item.Value) {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	buf.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, k)
		buf.WriteByte(':')
		writeJSON(buf, fields[k])
	}
	buf.WriteByte('}')
}

func writeJSONArray(buf *bytes.Buffer, elems []item.Value) {
	buf.WriteByte('[')
	for i, e := range elems {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(buf, e)
	}
	buf.WriteByte(']')
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
}

// sortedElems orders set elements by their rendered text so equal sets
// always serialize identically.
func sortedElems(elems []item.Value) []item.Value {
	out := append([]item.Value(nil), elems...)
	sort.Slice(out, func(i, j int) bool {
		return MarshalJSONValue(out[i]) < MarshalJSONValue(out[j])
	})
	return out
}

// UnmarshalJSONValue parses nested-value text produced by MarshalJSONValue
// or typed by a user.
func UnmarshalJSONValue(text string) (item.Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return item.Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return item.Value{}, fmt.Errorf("%w: trailing data after JSON value", ErrMalformed)
	}
	return fromJSON(raw)
}

func fromJSON(raw any) (item.Value, error) {
	switch tv := raw.(type) {
	case nil:
		return item.Null(), nil
	case bool:
		return item.Bool(tv), nil
	case json.Number:
		v, err := item.ParseNumber(tv.String())
		if err != nil {
			return item.Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return v, nil
	case string:
		return item.String(tv), nil
	case []any:
		elems, err := fromJSONArray(tv)
		if err != nil {
			return item.Value{}, err
		}
		return item.List(elems...), nil
	case map[string]any:
		if len(tv) == 1 {
			if b64, ok := tv[binaryTag].(string); ok {
				b, err := base64.StdEncoding.DecodeString(b64)
				if err != nil {
					return item.Value{}, fmt.Errorf("%w: %s: %v", ErrMalformed, binaryTag, err)
				}
				return item.Binary(b), nil
			}
			if arr, ok := tv[setTag].([]any); ok {
				elems, err := fromJSONArray(arr)
				if err != nil {
					return item.Value{}, err
				}
				return toSet(elems)
			}
			if inner, ok := tv[mapTag].(map[string]any); ok {
				return fromJSONObject(inner)
			}
		}
		return fromJSONObject(tv)
	default:
		return item.Value{}, fmt.Errorf("%w: unexpected JSON value %T", ErrMalformed, raw)
	}
}

func fromJSONObject(obj map[string]any) (item.Value, error) {
	fields := make(map[string]item.Value, len(obj))
	for k, e := range obj {
		v, err := fromJSON(e)
		if err != nil {
			return item.Value{}, err
		}
		fields[k] = v
	}
	return item.Map(fields), nil
}

func fromJSONArray(arr []any) ([]item.Value, error) {
	elems := make([]item.Value, len(arr))
	for i, e := range arr {
		v, err := fromJSON(e)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return elems, nil
}

func toSet(elems []item.Value) (item.Value, error) {
	v, err := item.Set(elems...)
	if err != nil {
		return item.Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
