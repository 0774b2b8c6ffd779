package item

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ToAttributeValue converts v into its DynamoDB wire representation.
func ToAttributeValue(v Value) types.AttributeValue {
	switch v.kind {
	case KindBool:
		return &types.AttributeValueMemberBOOL{Value: v.b}
	case KindNumber:
		return &types.AttributeValueMemberN{Value: v.n.String()}
	case KindString:
		return &types.AttributeValueMemberS{Value: v.s}
	case KindBinary:
		return &types.AttributeValueMemberB{Value: v.AsBinary()}
	case KindList:
		out := make([]types.AttributeValue, len(v.list))
		for i, e := range v.list {
			out[i] = ToAttributeValue(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case KindMap:
		return &types.AttributeValueMemberM{Value: ToAttributeMap(v.m)}
	case KindSet:
		switch v.ElemKind() {
		case KindString:
			ss := make([]string, len(v.list))
			for i, e := range v.list {
				ss[i] = e.s
			}
			return &types.AttributeValueMemberSS{Value: ss}
		case KindNumber:
			ns := make([]string, len(v.list))
			for i, e := range v.list {
				ns[i] = e.n.String()
			}
			return &types.AttributeValueMemberNS{Value: ns}
		default:
			bs := make([][]byte, len(v.list))
			for i, e := range v.list {
				bs[i] = e.AsBinary()
			}
			return &types.AttributeValueMemberBS{Value: bs}
		}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

// FromAttributeValue converts a DynamoDB attribute value into a Value.
func FromAttributeValue(av types.AttributeValue) (Value, error) {
	switch tv := av.(type) {
	case nil:
		return Null(), nil
	case *types.AttributeValueMemberNULL:
		return Null(), nil
	case *types.AttributeValueMemberBOOL:
		return Bool(tv.Value), nil
	case *types.AttributeValueMemberN:
		return ParseNumber(tv.Value)
	case *types.AttributeValueMemberS:
		return String(tv.Value), nil
	case *types.AttributeValueMemberB:
		return Binary(tv.Value), nil
	case *types.AttributeValueMemberL:
		out := make([]Value, len(tv.Value))
		for i, e := range tv.Value {
			v, err := FromAttributeValue(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return List(out...), nil
	case *types.AttributeValueMemberM:
		m, err := FromAttributeMap(tv.Value)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	case *types.AttributeValueMemberSS:
		return StringSet(tv.Value...)
	case *types.AttributeValueMemberNS:
		out := make([]Value, len(tv.Value))
		for i, s := range tv.Value {
			v, err := ParseNumber(s)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return Set(out...)
	case *types.AttributeValueMemberBS:
		out := make([]Value, len(tv.Value))
		for i, b := range tv.Value {
			out[i] = Binary(b)
		}
		return Set(out...)
	default:
		return Value{}, fmt.Errorf("unsupported attribute value %T", av)
	}
}

// ToAttributeMap converts an item into a DynamoDB item.
func ToAttributeMap(it map[string]Value) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(it))
	for k, v := range it {
		out[k] = ToAttributeValue(v)
	}
	return out
}

// FromAttributeMap converts a DynamoDB item into an Item.
func FromAttributeMap(raw map[string]types.AttributeValue) (Item, error) {
	out := make(Item, len(raw))
	for k, av := range raw {
		v, err := FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// AttributeValue returns k in DynamoDB wire form.
func (k Key) AttributeValue() types.AttributeValue {
	if k.Kind == KindNumber {
		return &types.AttributeValueMemberN{Value: k.Text}
	}
	return &types.AttributeValueMemberS{Value: k.Text}
}
