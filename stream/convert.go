package stream

import (
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/mrtj/dynamodb-connection/item"
)

// ConvertValue converts a stream attribute value to an item.Value.
func ConvertValue(v events.DynamoDBAttributeValue) (item.Value, error) {
	switch v.DataType() {
	case events.DataTypeNull:
		return item.Null(), nil
	case events.DataTypeBoolean:
		return item.Bool(v.Boolean()), nil
	case events.DataTypeNumber:
		return item.ParseNumber(v.Number())
	case events.DataTypeString:
		return item.String(v.String()), nil
	case events.DataTypeBinary:
		return item.Binary(v.Binary()), nil
	case events.DataTypeList:
		elems, err := convertList(v.List())
		if err != nil {
			return item.Value{}, err
		}
		return item.List(elems...), nil
	case events.DataTypeMap:
		m, err := ConvertImage(v.Map())
		if err != nil {
			return item.Value{}, err
		}
		return item.Map(m), nil
	case events.DataTypeStringSet:
		return item.StringSet(v.StringSet()...)
	case events.DataTypeNumberSet:
		elems := make([]item.Value, len(v.NumberSet()))
		for i, n := range v.NumberSet() {
			e, err := item.ParseNumber(n)
			if err != nil {
				return item.Value{}, err
			}
			elems[i] = e
		}
		return item.Set(elems...)
	case events.DataTypeBinarySet:
		elems := make([]item.Value, len(v.BinarySet()))
		for i, b := range v.BinarySet() {
			elems[i] = item.Binary(b)
		}
		return item.Set(elems...)
	default:
		return item.Value{}, fmt.Errorf("stream: unsupported data type %v", v.DataType())
	}
}

func convertList(vs []events.DynamoDBAttributeValue) ([]item.Value, error) {
	out := make([]item.Value, len(vs))
	for i, v := range vs {
		e, err := ConvertValue(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// ConvertImage converts a stream image to an item. A nil image gives a
// nil item.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) (item.Item, error) {
	if image == nil {
		return nil, nil
	}
	it := make(item.Item, len(image))
	for name, v := range image {
		val, err := ConvertValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		it[name] = val
	}
	return it, nil
}

// ConvertStreamKey reads the partition key of a stream record.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue, keyAttr string) (item.Key, error) {
	v, ok := streamKey[keyAttr]
	if !ok {
		return item.Key{}, fmt.Errorf("stream: record key has no %q attribute", keyAttr)
	}
	val, err := ConvertValue(v)
	if err != nil {
		return item.Key{}, err
	}
	return item.KeyFromValue(val)
}
