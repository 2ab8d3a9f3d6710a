package engine

import (
	"fmt"
)

// QueryBuilder accumulates a QuerySpec through successive fluent calls and
// produces an immutable specification via Spec(). Join scopes are tracked on
// an explicit stack: JoinOne/JoinMany push an in-progress join, Build pops
// it back onto its parent. Call sites close one to three scopes with stacked
// Build() calls, so balance is validated when the spec is finalized.
//
// The builder is not safe for concurrent use.
type QueryBuilder struct {
	spec          QuerySpec
	collectionSet bool
	stack         []*joinFrame
	err           error
}

// joinFrame is an in-progress join specification on the builder stack.
type joinFrame struct {
	spec JoinSpec
}

// NewQuery creates an empty query builder.
func NewQuery() *QueryBuilder {
	return &QueryBuilder{}
}

// fail records the first builder error; later calls keep chaining but are
// ignored so the error surfaces once at Spec().
func (b *QueryBuilder) fail(format string, args ...interface{}) *QueryBuilder {
	if b.err == nil {
		b.err = NewQueryError(ErrMalformedSpec, format, args...)
	}
	return b
}

// Collection sets the target collection. It is required before execution and
// calling it twice is an error.
func (b *QueryBuilder) Collection(name string) *QueryBuilder {
	if b.err != nil {
		return b
	}
	if name == "" {
		return b.fail("collection name must not be empty")
	}
	if b.collectionSet {
		return b.fail("collection already set to '%s', cannot set '%s'", b.spec.Collection, name)
	}
	b.spec.Collection = name
	b.collectionSet = true
	return b
}

// WhereField opens a predicate on the named top-level field. Predicates
// combine by AND.
func (b *QueryBuilder) WhereField(name string) *PredicateClause {
	if b.err == nil {
		if name == "" {
			b.fail("predicate field name must not be empty")
		} else if len(b.stack) > 0 {
			b.fail("WhereField inside join scope '%s'; predicates apply to the base collection only", b.current().spec.Alias)
		}
	}
	return &PredicateClause{builder: b, field: name}
}

// PredicateClause completes a WhereField call with a comparison.
type PredicateClause struct {
	builder *QueryBuilder
	field   string
}

// Equals appends an equality predicate.
func (c *PredicateClause) Equals(value interface{}) *QueryBuilder {
	if c.builder.err == nil {
		c.builder.spec.Predicates = append(c.builder.spec.Predicates, FieldPredicate{
			Field: c.field,
			Op:    OpEquals,
			Value: value,
		})
	}
	return c.builder
}

// IsNull appends a predicate matching records where the field is absent or
// explicitly null.
func (c *PredicateClause) IsNull() *QueryBuilder {
	if c.builder.err == nil {
		c.builder.spec.Predicates = append(c.builder.spec.Predicates, FieldPredicate{
			Field: c.field,
			Op:    OpIsNull,
		})
	}
	return c.builder
}

// JoinOne opens a one-to-one join scope against targetCollection.
func (b *QueryBuilder) JoinOne(alias, targetCollection string) *QueryBuilder {
	return b.pushJoin(alias, targetCollection, OneToOne)
}

// JoinMany opens a one-to-many join scope against targetCollection.
func (b *QueryBuilder) JoinMany(alias, targetCollection string) *QueryBuilder {
	return b.pushJoin(alias, targetCollection, OneToMany)
}

func (b *QueryBuilder) pushJoin(alias, targetCollection string, cardinality Cardinality) *QueryBuilder {
	if b.err != nil {
		return b
	}
	if alias == "" || targetCollection == "" {
		return b.fail("join requires an alias and a target collection")
	}
	b.stack = append(b.stack, &joinFrame{spec: JoinSpec{
		Alias:       alias,
		Collection:  targetCollection,
		Cardinality: cardinality,
	}})
	return b
}

// current returns the innermost open join scope.
func (b *QueryBuilder) current() *joinFrame {
	return b.stack[len(b.stack)-1]
}

// OnField names the target-collection field the open join matches on.
func (b *QueryBuilder) OnField(name string) *JoinOnClause {
	if b.err == nil {
		if len(b.stack) == 0 {
			b.fail("OnField called outside a join scope")
		} else if name == "" {
			b.fail("join on-field name must not be empty")
		} else {
			b.current().spec.OnField = name
		}
	}
	return &JoinOnClause{builder: b}
}

// JoinOnClause completes an OnField call with the correlated expression.
type JoinOnClause struct {
	builder *QueryBuilder
}

// Equals supplies the join predicate expression. "$data.<field>" references
// a field of the outer record; anything else is a literal.
func (c *JoinOnClause) Equals(expression string) *QueryBuilder {
	b := c.builder
	if b.err == nil {
		if len(b.stack) == 0 {
			return b.fail("join equals expression outside a join scope")
		}
		if expression == "" {
			return b.fail("join equals expression must not be empty")
		}
		b.current().spec.Equals = expression
	}
	return b
}

// SelectFields sets the projection of the innermost open join scope, or of
// the top-level query when no scope is open.
func (b *QueryBuilder) SelectFields(fields ...string) *QueryBuilder {
	if b.err != nil {
		return b
	}
	if len(fields) == 0 {
		return b.fail("SelectFields requires at least one field")
	}
	projection := make([]string, len(fields))
	copy(projection, fields)
	if len(b.stack) > 0 {
		b.current().spec.Projection = projection
	} else {
		b.spec.Projection = projection
	}
	return b
}

// SelectAll clears the projection: every field is retained.
func (b *QueryBuilder) SelectAll() *QueryBuilder {
	if b.err != nil {
		return b
	}
	if len(b.stack) > 0 {
		b.current().spec.Projection = nil
	} else {
		b.spec.Projection = nil
	}
	return b
}

// Build closes the innermost join scope, attaching the finished join to its
// parent scope or, at depth one, to the query itself.
func (b *QueryBuilder) Build() *QueryBuilder {
	if b.err != nil {
		return b
	}
	if len(b.stack) == 0 {
		return b.fail("Build called with no open join scope")
	}
	frame := b.current()
	b.stack = b.stack[:len(b.stack)-1]

	if frame.spec.OnField == "" || frame.spec.Equals == "" {
		return b.fail("join '%s' closed without an on-field/equals predicate", frame.spec.Alias)
	}

	if len(b.stack) > 0 {
		parent := b.current()
		parent.spec.Nested = append(parent.spec.Nested, frame.spec)
	} else {
		b.spec.Joins = append(b.spec.Joins, frame.spec)
	}
	return b
}

// Offset sets the pagination offset. The default is 0.
func (b *QueryBuilder) Offset(n int) *QueryBuilder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		return b.fail("offset must not be negative, got %d", n)
	}
	b.spec.Offset = n
	return b
}

// Limit truncates the result set. It must be a positive integer; results
// exceeding the limit are truncated, not erred.
func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	if b.err != nil {
		return b
	}
	if n <= 0 {
		return b.fail("limit must be a positive integer, got %d", n)
	}
	b.spec.Limit = n
	return b
}

// Spec finalizes the builder and returns the immutable specification. It
// fails fast on unbalanced join scopes and on every structural invariant
// QuerySpec.Validate checks.
func (b *QueryBuilder) Spec() (QuerySpec, error) {
	if b.err != nil {
		return QuerySpec{}, b.err
	}
	if len(b.stack) > 0 {
		open := make([]string, 0, len(b.stack))
		for _, frame := range b.stack {
			open = append(open, frame.spec.Alias)
		}
		return QuerySpec{}, NewQueryError(ErrMalformedSpec,
			"%d join scope(s) left open: %v; add matching Build() calls", len(b.stack), open)
	}
	if !b.collectionSet {
		return QuerySpec{}, NewQueryError(ErrMalformedSpec, "query has no collection")
	}
	if err := b.spec.Validate(); err != nil {
		return QuerySpec{}, err
	}
	return b.spec, nil
}

// MustSpec is Spec for statically known-good queries; it panics on error.
func (b *QueryBuilder) MustSpec() QuerySpec {
	spec, err := b.Spec()
	if err != nil {
		panic(fmt.Sprintf("invalid query: %v", err))
	}
	return spec
}
