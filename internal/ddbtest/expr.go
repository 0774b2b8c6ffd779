package ddbtest

import (
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mrtj/dynamodb-connection/item"
)

var (
	existsRe    = regexp.MustCompile(`^attribute_exists\((#\w+)\)$`)
	notExistsRe = regexp.MustCompile(`^attribute_not_exists\((#\w+)\)$`)
	equalsRe    = regexp.MustCompile(`^(#\w+) = (:\w+)$`)
	clauseRe    = regexp.MustCompile(`\b(SET|REMOVE|ADD)\b`)
	setActionRe = regexp.MustCompile(`^(#\w+) = (:\w+)$`)
	addActionRe = regexp.MustCompile(`^(#\w+) (:\w+)$`)
)

func resolveName(ph string, names map[string]string) (string, error) {
	n, ok := names[ph]
	if !ok {
		return "", validation("undefined expression attribute name " + ph)
	}
	return n, nil
}

func resolveValue(ph string, values map[string]types.AttributeValue) (item.Value, error) {
	av, ok := values[ph]
	if !ok {
		return item.Value{}, validation("undefined expression attribute value " + ph)
	}
	v, err := item.FromAttributeValue(av)
	if err != nil {
		return item.Value{}, validation(err.Error())
	}
	return v, nil
}

// checkCondition evaluates an AND-joined condition of attribute_exists,
// attribute_not_exists and equality terms.
func checkCondition(old item.Item, exists bool, expr *string, names map[string]string, values map[string]types.AttributeValue, onFail types.ReturnValuesOnConditionCheckFailure) error {
	if expr == nil || *expr == "" {
		return nil
	}
	if !exists {
		old = nil
	}
	for _, term := range strings.Split(*expr, " AND ") {
		term = strings.TrimSpace(term)
		var ok bool
		switch {
		case existsRe.MatchString(term):
			name, err := resolveName(existsRe.FindStringSubmatch(term)[1], names)
			if err != nil {
				return err
			}
			_, ok = old[name]
		case notExistsRe.MatchString(term):
			name, err := resolveName(notExistsRe.FindStringSubmatch(term)[1], names)
			if err != nil {
				return err
			}
			_, present := old[name]
			ok = !present
		case equalsRe.MatchString(term):
			m := equalsRe.FindStringSubmatch(term)
			name, err := resolveName(m[1], names)
			if err != nil {
				return err
			}
			want, err := resolveValue(m[2], values)
			if err != nil {
				return err
			}
			got, present := old[name]
			ok = present && got.Equal(want)
		default:
			return validation("unsupported condition term: " + term)
		}
		if !ok {
			ccf := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
			if exists && onFail == types.ReturnValuesOnConditionCheckFailureAllOld {
				ccf.Item = item.ToAttributeMap(old)
			}
			return ccf
		}
	}
	return nil
}

// applyUpdate applies SET, REMOVE and numeric ADD clauses to it in place.
func applyUpdate(it item.Item, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	locs := clauseRe.FindAllStringIndex(expr, -1)
	if len(locs) == 0 || locs[0][0] != 0 {
		return validation("invalid update expression: " + expr)
	}
	for i, loc := range locs {
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		keyword := expr[loc[0]:loc[1]]
		for _, action := range strings.Split(expr[loc[1]:end], ",") {
			action = strings.TrimSpace(action)
			if err := applyAction(it, keyword, action, names, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyAction(it item.Item, keyword, action string, names map[string]string, values map[string]types.AttributeValue) error {
	switch keyword {
	case "SET":
		m := setActionRe.FindStringSubmatch(action)
		if m == nil {
			return validation("unsupported SET action: " + action)
		}
		name, err := resolveName(m[1], names)
		if err != nil {
			return err
		}
		v, err := resolveValue(m[2], values)
		if err != nil {
			return err
		}
		it[name] = v
	case "REMOVE":
		name, err := resolveName(action, names)
		if err != nil {
			return err
		}
		delete(it, name)
	case "ADD":
		m := addActionRe.FindStringSubmatch(action)
		if m == nil {
			return validation("unsupported ADD action: " + action)
		}
		name, err := resolveName(m[1], names)
		if err != nil {
			return err
		}
		delta, err := resolveValue(m[2], values)
		if err != nil {
			return err
		}
		if delta.Kind() != item.KindNumber {
			return validation("ADD supports numbers only")
		}
		cur, ok := it[name]
		switch {
		case !ok:
			it[name] = delta
		case cur.Kind() == item.KindNumber:
			it[name] = item.Number(cur.AsNumber().Add(delta.AsNumber()))
		default:
			return validation("an operand in the update expression has an incorrect data type")
		}
	}
	return nil
}

// project keeps only the attributes named by a comma-separated projection
// of name placeholders.
func project(it item.Item, expr *string, names map[string]string) (item.Item, error) {
	if expr == nil || *expr == "" {
		return it.Clone(), nil
	}
	out := make(item.Item)
	for _, ph := range strings.Split(*expr, ",") {
		name, err := resolveName(strings.TrimSpace(ph), names)
		if err != nil {
			return nil, err
		}
		if v, ok := it[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
