package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// QueryEngine resolves query specifications against the collection store:
// it filters base records, paginates, resolves joins recursively and applies
// projections. Execution is read-only; the backing store is the sole
// arbiter of consistency between concurrent writes.
type QueryEngine struct {
	store  CollectionStore
	pool   *ants.Pool
	logger *zap.SugaredLogger
}

// NewQueryEngine creates a query engine. joinWorkers sizes the shared pool
// used to resolve sibling joins concurrently; zero or negative disables
// concurrent resolution.
func NewQueryEngine(store CollectionStore, joinWorkers int, logger *zap.SugaredLogger) (*QueryEngine, error) {
	engine := &QueryEngine{
		store:  store,
		logger: logger,
	}

	if joinWorkers > 0 {
		// Nonblocking is required: nested sibling joins submit from inside
		// worker tasks, and a blocking Submit from a worker can wedge the
		// whole pool once every worker is waiting for a free worker. With
		// Nonblocking the saturated Submit fails fast and resolution
		// proceeds inline on the submitter.
		pool, err := ants.NewPool(joinWorkers, ants.WithNonblocking(true))
		if err != nil {
			return nil, fmt.Errorf("failed to create join worker pool: %w", err)
		}
		engine.pool = pool
	}

	return engine, nil
}

// Close releases the join worker pool.
func (e *QueryEngine) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// Store passes a write through to the collection store. Writes are single
// record appends; the engine adds no coordination of its own.
func (e *QueryEngine) Store(ctx context.Context, collection string, record Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransportError("store", err)
	}
	return e.store.Store(collection, record)
}

// Execute resolves a query specification and returns the matching records
// with all joins attached. Absence of matches yields an empty result set,
// never an error. A cancelled or timed-out context fails the whole request;
// no partial join results are returned.
func (e *QueryEngine) Execute(ctx context.Context, spec QuerySpec) (*ResultSet, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	records, err := e.store.GetCollection(spec.Collection)
	if err != nil {
		return nil, err
	}

	// 1. Filter the base collection, preserving natural storage order.
	matched := make([]Record, 0, len(records))
	for _, record := range records {
		if matchesAllPredicates(record, spec.Predicates) {
			matched = append(matched, record)
		}
	}

	// 2. Apply offset then limit. An offset past the end is an empty
	// result, not an error.
	if spec.Offset >= len(matched) {
		return &ResultSet{Records: []Record{}}, nil
	}
	matched = matched[spec.Offset:]
	if spec.Limit > 0 && spec.Limit < len(matched) {
		matched = matched[:spec.Limit]
	}

	// 3. Resolve joins per record and apply the top-level projection last;
	// joined aliases always survive projection.
	results := make([]Record, 0, len(matched))
	for _, record := range matched {
		if err := ctx.Err(); err != nil {
			return nil, NewTransportError("execute", err)
		}

		resolved, err := e.resolveRecord(ctx, record, spec.Joins, spec.Projection)
		if err != nil {
			return nil, err
		}
		results = append(results, resolved)
	}

	return &ResultSet{Records: results}, nil
}

// resolveRecord attaches every join of one record and projects it.
func (e *QueryEngine) resolveRecord(ctx context.Context, record Record, joins []JoinSpec, projection []string) (Record, error) {
	attachments, err := e.resolveJoins(ctx, record, joins)
	if err != nil {
		return nil, err
	}

	aliases := make(map[string]bool, len(joins))
	for _, join := range joins {
		aliases[join.Alias] = true
	}

	resolved := projectRecord(record, projection, aliases)
	for _, join := range joins {
		resolved[join.Alias] = attachments[join.Alias]
	}
	return resolved, nil
}

// resolveJoins resolves every sibling join of one outer record. Sibling
// branches have no ordering dependency, so they run on the worker pool when
// one is available; results merge deterministically by alias afterwards.
func (e *QueryEngine) resolveJoins(ctx context.Context, outer Record, joins []JoinSpec) (map[string]interface{}, error) {
	attachments := make(map[string]interface{}, len(joins))
	if len(joins) == 0 {
		return attachments, nil
	}

	if e.pool == nil || len(joins) == 1 {
		for _, join := range joins {
			value, err := e.resolveJoin(ctx, outer, join)
			if err != nil {
				return nil, err
			}
			attachments[join.Alias] = value
		}
		return attachments, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	values := make([]interface{}, len(joins))

	for i := range joins {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			value, err := e.resolveJoin(ctx, outer, joins[i])
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			values[i] = value
		}
		if err := e.pool.Submit(task); err != nil {
			// Pool saturated or released; resolve inline instead.
			task()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	for i, join := range joins {
		attachments[join.Alias] = values[i]
	}
	return attachments, nil
}

// resolveJoin resolves one join branch for one outer record.
func (e *QueryEngine) resolveJoin(ctx context.Context, outer Record, join JoinSpec) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransportError("execute", err)
	}

	expr := ParseFieldExpr(join.Equals)
	outerValue, ok := expr.Resolve(outer)
	if !ok {
		// The outer record lacks the referenced field. Optional relations
		// (quote_tweet_id and friends) make this common, so the join
		// resolves empty rather than erroring.
		return emptyJoinValue(join.Cardinality), nil
	}

	target, err := e.store.GetCollection(join.Collection)
	if err != nil {
		return nil, err
	}

	if join.Cardinality == OneToOne {
		for _, candidate := range target {
			if valueEquals(candidate[join.OnField], outerValue) {
				return e.shapeJoined(ctx, candidate, join)
			}
		}
		return nil, nil
	}

	matches := make([]Record, 0)
	for _, candidate := range target {
		if !valueEquals(candidate[join.OnField], outerValue) {
			continue
		}
		shaped, err := e.shapeJoined(ctx, candidate, join)
		if err != nil {
			return nil, err
		}
		matches = append(matches, shaped)
	}
	return matches, nil
}

// shapeJoined applies the join's projection to one matched record, then
// resolves the join's nested joins against it and attaches them.
func (e *QueryEngine) shapeJoined(ctx context.Context, match Record, join JoinSpec) (Record, error) {
	shaped := projectRecord(match, join.Projection, nil)

	if len(join.Nested) > 0 {
		attachments, err := e.resolveJoins(ctx, shaped, join.Nested)
		if err != nil {
			return nil, err
		}
		for _, nested := range join.Nested {
			shaped[nested.Alias] = attachments[nested.Alias]
		}
	}

	return shaped, nil
}

func emptyJoinValue(cardinality Cardinality) interface{} {
	if cardinality == OneToMany {
		return []Record{}
	}
	return nil
}

// projectRecord copies a record keeping only the projected fields. A nil
// projection keeps everything. Fields named in keepAliases survive
// regardless of the projection.
func projectRecord(record Record, projection []string, keepAliases map[string]bool) Record {
	if projection == nil {
		return record.Clone()
	}

	projected := make(Record, len(projection)+len(keepAliases))
	for _, field := range projection {
		if value, ok := record[field]; ok {
			projected[field] = value
		}
	}
	for alias := range keepAliases {
		if value, ok := record[alias]; ok {
			projected[alias] = value
		}
	}
	return projected
}

func matchesAllPredicates(record Record, predicates []FieldPredicate) bool {
	for _, predicate := range predicates {
		if !matchesPredicate(record, predicate) {
			return false
		}
	}
	return true
}

func matchesPredicate(record Record, predicate FieldPredicate) bool {
	value, exists := record[predicate.Field]

	switch predicate.Op {
	case OpIsNull:
		return !exists || value == nil
	case OpEquals:
		if !exists || value == nil {
			return false
		}
		return valueEquals(value, predicate.Value)
	default:
		return false
	}
}

// valueEquals compares a stored field value with a query value. Strings and
// bools compare directly; numbers are coerced to float64 since values
// arrive variously as int32/int64 from bson and float64 from JSON.
func valueEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	aStr, aIsString := a.(string)
	bStr, bIsString := b.(string)
	if aIsString && bIsString {
		return aStr == bStr
	}

	aBool, aIsBool := a.(bool)
	bBool, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		return aBool == bBool
	}

	aVal, aOk := toFloat(a)
	bVal, bOk := toFloat(b)
	if aOk && bOk {
		return aVal == bVal
	}

	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
