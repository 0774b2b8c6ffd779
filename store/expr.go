package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mrtj/dynamodb-connection/item"
)

// Changes is an attribute-level edit of one item.
type Changes struct {
	// Set adds or replaces attributes.
	Set map[string]item.Value

	// Remove deletes attributes. Names also present in Set are ignored.
	Remove []string
}

// IsEmpty reports whether ch changes nothing.
func (ch Changes) IsEmpty() bool {
	return len(ch.Set) == 0 && len(ch.Remove) == 0
}

type condKind uint8

const (
	condExists condKind = iota + 1
	condNotExists
	condVersion
)

// Condition guards a write.
type Condition struct {
	kind    condKind
	version int64
}

// IfExists requires the item to exist.
func IfExists() Condition { return Condition{kind: condExists} }

// IfNotExists requires the item to be absent.
func IfNotExists() Condition { return Condition{kind: condNotExists} }

// IfVersion requires the item's version attribute to equal n; 0 matches
// items that were never versioned. It has no effect unless
// Config.VersionAttribute is set.
func IfVersion(n int64) Condition { return Condition{kind: condVersion, version: n} }

// nextVersion returns the version a write starts from: the one a
// condition expects, else the item's own.
func nextVersion(cur item.Value, conds []Condition) int64 {
	for _, c := range conds {
		if c.kind == condVersion {
			return c.version
		}
	}
	return VersionOf(cur)
}

// VersionOf reads a version attribute value; anything but an integer
// counts as 0.
func VersionOf(v item.Value) int64 {
	if v.Kind() != item.KindNumber || !v.AsNumber().IsInteger() {
		return 0
	}
	return v.AsNumber().IntPart()
}

// exprBuilder allocates expression attribute placeholders.
type exprBuilder struct {
	names  map[string]string
	byName map[string]string
	order  []string
	values map[string]types.AttributeValue
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  make(map[string]string),
		byName: make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (b *exprBuilder) name(attr string) string {
	if ph, ok := b.byName[attr]; ok {
		return ph
	}
	ph := fmt.Sprintf("#n%d", len(b.names))
	b.names[ph] = attr
	b.byName[attr] = ph
	b.order = append(b.order, ph)
	return ph
}

func (b *exprBuilder) value(v item.Value) string {
	ph := fmt.Sprintf(":v%d", len(b.values))
	b.values[ph] = item.ToAttributeValue(v)
	return ph
}

// projection lists every name allocated so far.
func (b *exprBuilder) projection() string {
	return joinStrings(b.order, ", ")
}

// maps returns the placeholder maps, nil when empty since DynamoDB rejects
// empty maps.
func (b *exprBuilder) maps() (map[string]string, map[string]types.AttributeValue) {
	var (
		names  map[string]string
		values map[string]types.AttributeValue
	)
	if len(b.names) > 0 {
		names = b.names
	}
	if len(b.values) > 0 {
		values = b.values
	}
	return names, values
}

// condition renders conds as an AND-joined condition expression, or nil.
func (b *exprBuilder) condition(cfg Config, conds []Condition) *string {
	var terms []string
	seen := make(map[string]bool)
	add := func(term string) {
		if !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}
	for _, c := range conds {
		switch c.kind {
		case condExists:
			add("attribute_exists(" + b.name(cfg.KeyAttribute) + ")")
		case condNotExists:
			add("attribute_not_exists(" + b.name(cfg.KeyAttribute) + ")")
		case condVersion:
			if cfg.VersionAttribute == "" {
				continue
			}
			if c.version == 0 {
				add("attribute_not_exists(" + b.name(cfg.VersionAttribute) + ")")
				continue
			}
			add(b.name(cfg.VersionAttribute) + " = " + b.value(item.Int(c.version)))
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return aws.String(joinStrings(terms, " AND "))
}

// update renders ch as a SET/REMOVE update expression. With versioning on
// it also increments the version attribute, which ch cannot touch.
func (b *exprBuilder) update(cfg Config, ch Changes) string {
	skip := func(name string) bool {
		return name == cfg.KeyAttribute || (cfg.VersionAttribute != "" && name == cfg.VersionAttribute)
	}

	setNames := make([]string, 0, len(ch.Set))
	for name := range ch.Set {
		if !skip(name) {
			setNames = append(setNames, name)
		}
	}
	sort.Strings(setNames)

	removeSeen := make(map[string]bool, len(ch.Remove))
	var removeNames []string
	for _, name := range ch.Remove {
		if _, set := ch.Set[name]; set || skip(name) || removeSeen[name] {
			continue
		}
		removeSeen[name] = true
		removeNames = append(removeNames, name)
	}
	sort.Strings(removeNames)

	var clauses []string
	if len(setNames) > 0 {
		actions := make([]string, len(setNames))
		for i, name := range setNames {
			actions[i] = b.name(name) + " = " + b.value(ch.Set[name])
		}
		clauses = append(clauses, "SET "+joinStrings(actions, ", "))
	}
	if len(removeNames) > 0 {
		actions := make([]string, len(removeNames))
		for i, name := range removeNames {
			actions[i] = b.name(name)
		}
		clauses = append(clauses, "REMOVE "+joinStrings(actions, ", "))
	}
	if len(clauses) == 0 {
		return ""
	}
	if cfg.VersionAttribute != "" {
		clauses = append(clauses, "ADD "+b.name(cfg.VersionAttribute)+" "+b.value(item.Int(1)))
	}
	return joinStrings(clauses, " ")
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// joinStrings joins strings with a separator.
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for _, s := range strs[1:] {
		result += sep + s
	}
	return result
}
