package engine

import (
	"strings"
)

// OuterFieldPrefix marks a join expression that references a field of the
// outer record, e.g. "$data.id".
const OuterFieldPrefix = "$data."

// FieldExpr is the parsed form of a join equals-expression: either a literal
// value or a reference to a field of the outer record. Expressions are
// evaluated symbolically per outer record during join resolution, never by
// string substitution.
type FieldExpr struct {
	outerField string
	literal    interface{}
	isRef      bool
}

// ParseFieldExpr parses the raw expression of a join specification.
func ParseFieldExpr(raw string) FieldExpr {
	if strings.HasPrefix(raw, OuterFieldPrefix) {
		return FieldExpr{
			outerField: strings.TrimPrefix(raw, OuterFieldPrefix),
			isRef:      true,
		}
	}
	return FieldExpr{literal: raw}
}

// IsOuterRef reports whether the expression references the outer record.
func (e FieldExpr) IsOuterRef() bool {
	return e.isRef
}

// OuterField returns the referenced outer field name, or "".
func (e FieldExpr) OuterField() string {
	return e.outerField
}

// Resolve evaluates the expression against an outer record. The second
// return value is false when the expression references a field the outer
// record does not carry; joins then resolve empty rather than erroring,
// since absent fields are common for optional relations.
func (e FieldExpr) Resolve(outer Record) (interface{}, bool) {
	if !e.isRef {
		return e.literal, true
	}
	value, ok := outer[e.outerField]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}
