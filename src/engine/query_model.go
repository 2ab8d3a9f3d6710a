package engine

import (
	"fmt"
)

// PredicateOp is the comparison a field predicate applies.
type PredicateOp string

const (
	// OpEquals matches records whose field equals the predicate value.
	OpEquals PredicateOp = "equals"
	// OpIsNull matches records where the field is absent or explicitly null.
	OpIsNull PredicateOp = "is_null"
)

// FieldPredicate is a single condition on a collection field. Multiple
// predicates on a query specification are conjunctive (AND). There is no
// OR/NOT support; that is a limitation of the query model, not a bug.
type FieldPredicate struct {
	Field string      `json:"field" bson:"field"`
	Op    PredicateOp `json:"op" bson:"op"`
	Value interface{} `json:"value,omitempty" bson:"value,omitempty"`
}

// Cardinality says whether a join resolves to at most one related record or
// to an ordered sequence of many.
type Cardinality string

const (
	OneToOne  Cardinality = "one_to_one"
	OneToMany Cardinality = "one_to_many"
)

// JoinSpec describes how related records are fetched and attached for one
// alias of the current record set. Equals holds the raw correlated
// expression ("$data.<field>" for an outer field reference); it is parsed
// into a FieldExpr at execution time.
//
// For OneToOne joins against data that is not actually unique, the first
// match in storage order wins.
type JoinSpec struct {
	Alias       string      `json:"alias" bson:"alias"`
	Collection  string      `json:"collection" bson:"collection"`
	OnField     string      `json:"on_field" bson:"on_field"`
	Equals      string      `json:"equals" bson:"equals"`
	Cardinality Cardinality `json:"cardinality" bson:"cardinality"`

	// Projection lists the fields retained on joined records; nil means all.
	Projection []string `json:"projection,omitempty" bson:"projection,omitempty"`

	// Nested joins are resolved relative to each record this join produces,
	// to unbounded depth.
	Nested []JoinSpec `json:"nested,omitempty" bson:"nested,omitempty"`
}

// QuerySpec is a complete, immutable description of a read: a collection,
// AND-combined predicates, joins, a projection, and pagination.
type QuerySpec struct {
	Collection string           `json:"collection"`
	Predicates []FieldPredicate `json:"predicates,omitempty"`
	Joins      []JoinSpec       `json:"joins,omitempty"`

	// Projection lists the fields retained on base records; nil means all.
	// Joined aliases are always retained regardless of projection.
	Projection []string `json:"projection,omitempty"`

	// Limit truncates the matched set; 0 means unlimited.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ResultSet is the executor's reply: matching records with all joins
// resolved, in storage order. Absence of matches is an empty set, never an
// error.
type ResultSet struct {
	Records []Record `json:"records"`
}

// Validate checks the structural invariants of the specification: a
// collection is named, predicates carry fields, aliases at each nesting
// level are unique, and pagination is sane.
func (s *QuerySpec) Validate() error {
	if s.Collection == "" {
		return NewQueryError(ErrMalformedSpec, "query has no collection")
	}
	if s.Limit < 0 {
		return NewQueryError(ErrMalformedSpec, "limit must be a positive integer, got %d", s.Limit)
	}
	if s.Offset < 0 {
		return NewQueryError(ErrMalformedSpec, "offset must not be negative, got %d", s.Offset)
	}
	for _, pred := range s.Predicates {
		if pred.Field == "" {
			return NewQueryError(ErrMalformedSpec, "predicate on collection '%s' has an empty field name", s.Collection)
		}
		switch pred.Op {
		case OpEquals, OpIsNull:
		default:
			return NewQueryError(ErrMalformedSpec, "unknown predicate op '%s'", pred.Op)
		}
	}
	return validateJoins(s.Joins)
}

// validateJoins checks one nesting level of joins and recurses. Reusing an
// alias at a different depth is legal; sibling collisions are not.
func validateJoins(joins []JoinSpec) error {
	seen := make(map[string]string, len(joins))
	for _, join := range joins {
		if join.Alias == "" {
			return NewQueryError(ErrMalformedSpec, "join on collection '%s' has no alias", join.Collection)
		}
		if join.Collection == "" {
			return NewQueryError(ErrMalformedSpec, "join '%s' has no target collection", join.Alias)
		}
		if join.OnField == "" {
			return NewQueryError(ErrMalformedSpec, "join '%s' has no on-field", join.Alias)
		}
		if join.Equals == "" {
			return NewQueryError(ErrMalformedSpec, "join '%s' has no equals expression", join.Alias)
		}
		switch join.Cardinality {
		case OneToOne, OneToMany:
		default:
			return NewQueryError(ErrMalformedSpec, "join '%s' has unknown cardinality '%s'", join.Alias, join.Cardinality)
		}
		if target, dup := seen[join.Alias]; dup {
			return NewQueryError(ErrMalformedSpec,
				"sibling joins share alias '%s' (targets '%s' and '%s')", join.Alias, target, join.Collection)
		}
		seen[join.Alias] = join.Collection

		if err := validateJoins(join.Nested); err != nil {
			return err
		}
	}
	return nil
}

// String renders a compact description for logs.
func (s *QuerySpec) String() string {
	return fmt.Sprintf("query{collection=%s predicates=%d joins=%d limit=%d offset=%d}",
		s.Collection, len(s.Predicates), len(s.Joins), s.Limit, s.Offset)
}
