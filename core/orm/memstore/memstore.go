// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package memstore is an in-memory row store. It implements the full store
// contract including filters, relation paths, ordering and aggregation, and
// buffers transaction writes until commit. Tests and examples run against
// it without a database.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/modelbind/core/orm"
)

// Store is an in-memory store. Safe for concurrent use.
type Store struct {
	mutex sync.RWMutex
	rows  map[*orm.Model]map[uuid.UUID]map[string]interface{}

	// SaveHook, when set, runs before every save inside a transaction. A
	// returned error aborts the save. Tests use it to inject failures.
	SaveHook func(*orm.Instance) error
}

// New creates an empty store
func New() *Store {
	return &Store{rows: make(map[*orm.Model]map[uuid.UUID]map[string]interface{})}
}

func cloneValues(values map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(values))
	for k, v := range values {
		clone[k] = v
	}
	return clone
}

func (s *Store) snapshot() map[*orm.Model]map[uuid.UUID]map[string]interface{} {
	snap := make(map[*orm.Model]map[uuid.UUID]map[string]interface{}, len(s.rows))
	for m, rows := range s.rows {
		table := make(map[uuid.UUID]map[string]interface{}, len(rows))
		for id, values := range rows {
			table[id] = cloneValues(values)
		}
		snap[m] = table
	}
	return snap
}

// Begin starts a transaction. The transaction works on a copy of the store
// state; commit publishes the copy atomically.
func (s *Store) Begin(ctx context.Context) (orm.Tx, error) {
	s.mutex.RLock()
	snap := s.snapshot()
	s.mutex.RUnlock()
	return &tx{store: s, rows: snap}, nil
}

// Get implements orm.Reader
func (s *Store) Get(ctx context.Context, m *orm.Model, id uuid.UUID) (*orm.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.get(m, id)
}

// First implements orm.Reader
func (s *Store) First(ctx context.Context, m *orm.Model, conds []orm.Cond) (*orm.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.first(m, conds)
}

// List implements orm.Reader
func (s *Store) List(ctx context.Context, m *orm.Model, q orm.Query) ([]*orm.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.list(m, q)
}

// Count implements orm.Reader
func (s *Store) Count(ctx context.Context, m *orm.Model, conds []orm.Cond) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.count(m, conds)
}

// ListRelated implements orm.Reader
func (s *Store) ListRelated(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID, conds []orm.Cond) ([]*orm.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.listRelated(rel, ownerID, conds)
}

// ListAssociations implements orm.Reader
func (s *Store) ListAssociations(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID) ([]*orm.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.listAssociations(rel, ownerID)
}

// Aggregate implements orm.Reader
func (s *Store) Aggregate(ctx context.Context, m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return view{s.rows}.aggregate(m, conds, spec)
}

type tx struct {
	store *Store
	rows  map[*orm.Model]map[uuid.UUID]map[string]interface{}
	done  bool
}

func (t *tx) Save(ctx context.Context, i *orm.Instance) error {
	if t.store.SaveHook != nil {
		if err := t.store.SaveHook(i); err != nil {
			return err
		}
	}
	m := i.Model()
	table, ok := t.rows[m]
	if !ok {
		table = make(map[uuid.UUID]map[string]interface{})
		t.rows[m] = table
	}
	table[i.ID()] = cloneValues(i.Values())
	i.MarkExists()
	return nil
}

func (t *tx) Delete(ctx context.Context, m *orm.Model, id uuid.UUID) error {
	table, ok := t.rows[m]
	if !ok {
		return orm.ErrNotFound
	}
	if _, ok := table[id]; !ok {
		return orm.ErrNotFound
	}
	delete(table, id)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mutex.Lock()
	t.store.rows = t.rows
	t.store.mutex.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	return nil
}

func (t *tx) Get(ctx context.Context, m *orm.Model, id uuid.UUID) (*orm.Instance, error) {
	return view{t.rows}.get(m, id)
}

func (t *tx) First(ctx context.Context, m *orm.Model, conds []orm.Cond) (*orm.Instance, error) {
	return view{t.rows}.first(m, conds)
}

func (t *tx) List(ctx context.Context, m *orm.Model, q orm.Query) ([]*orm.Instance, error) {
	return view{t.rows}.list(m, q)
}

func (t *tx) Count(ctx context.Context, m *orm.Model, conds []orm.Cond) (int, error) {
	return view{t.rows}.count(m, conds)
}

func (t *tx) ListRelated(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID, conds []orm.Cond) ([]*orm.Instance, error) {
	return view{t.rows}.listRelated(rel, ownerID, conds)
}

func (t *tx) ListAssociations(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID) ([]*orm.Instance, error) {
	return view{t.rows}.listAssociations(rel, ownerID)
}

func (t *tx) Aggregate(ctx context.Context, m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	return view{t.rows}.aggregate(m, conds, spec)
}

// view evaluates queries over a row set. Transactions evaluate over their
// working copy, the store over its committed state.
type view struct {
	rows map[*orm.Model]map[uuid.UUID]map[string]interface{}
}

func (v view) get(m *orm.Model, id uuid.UUID) (*orm.Instance, error) {
	if values, ok := v.rows[m][id]; ok {
		return orm.Existing(m, cloneValues(values)), nil
	}
	return nil, orm.ErrNotFound
}

func (v view) first(m *orm.Model, conds []orm.Cond) (*orm.Instance, error) {
	instances, err := v.list(m, orm.Query{Conds: conds})
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, orm.ErrNotFound
	}
	return instances[0], nil
}

func (v view) count(m *orm.Model, conds []orm.Cond) (int, error) {
	instances, err := v.list(m, orm.Query{Conds: conds})
	if err != nil {
		return 0, err
	}
	return len(instances), nil
}

func (v view) list(m *orm.Model, q orm.Query) ([]*orm.Instance, error) {
	var matching []*orm.Instance
	for _, values := range v.rows[m] {
		i := orm.Existing(m, cloneValues(values))
		match, err := v.matches(i, q.Conds)
		if err != nil {
			return nil, err
		}
		if match {
			matching = append(matching, i)
		}
	}

	order := q.Order
	if len(order) == 0 {
		order = []orm.OrderField{{Column: m.PrimaryKey().Name}}
	}
	sort.SliceStable(matching, func(a, b int) bool {
		for _, o := range order {
			va, vb := v.orderValue(matching[a], o), v.orderValue(matching[b], o)
			c, ok := compare(va, vb)
			if !ok {
				continue
			}
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if q.Distinct {
		seen := make(map[uuid.UUID]bool)
		distinct := matching[:0]
		for _, i := range matching {
			if !seen[i.ID()] {
				seen[i.ID()] = true
				distinct = append(distinct, i)
			}
		}
		matching = distinct
	}

	if q.Offset > 0 {
		if q.Offset >= len(matching) {
			return nil, nil
		}
		matching = matching[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matching) {
		matching = matching[:q.Limit]
	}
	return matching, nil
}

func (v view) orderValue(i *orm.Instance, o orm.OrderField) interface{} {
	if o.CountRelation != "" {
		rel := i.Model().Relation(o.CountRelation)
		if rel == nil {
			return nil
		}
		related, _ := v.listAssociations(rel, i.ID())
		return int64(len(related))
	}
	return v.resolve(i, o.Column)
}

// resolve reads a column value, following "relation__column" hops through
// foreign keys
func (v view) resolve(i *orm.Instance, column string) interface{} {
	if idx := strings.Index(column, "__"); idx > 0 {
		fk := column[:idx]
		rest := column[idx+2:]
		c := i.Model().Column(fk)
		if c == nil || c.References == nil {
			return nil
		}
		id, ok := i.Get(fk).(uuid.UUID)
		if !ok {
			return nil
		}
		related, err := v.get(c.References, id)
		if err != nil {
			return nil
		}
		return v.resolve(related, rest)
	}
	return i.Get(column)
}

func (v view) matches(i *orm.Instance, conds []orm.Cond) (bool, error) {
	for _, cond := range conds {
		match, err := v.matchCond(i, cond)
		if err != nil {
			return false, err
		}
		if cond.Not {
			match = !match
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func (v view) matchCond(i *orm.Instance, cond orm.Cond) (bool, error) {
	var value interface{}
	if cond.Relation != "" {
		rel := i.Model().Relation(cond.Relation)
		if rel == nil {
			return false, nil
		}
		related, err := v.listAssociations(rel, i.ID())
		if err != nil {
			return false, err
		}
		value = int64(len(related))
	} else {
		value = v.resolve(i, cond.Column)
	}

	if cond.Op == orm.OpIsNull {
		wantNull, _ := cond.Value.(bool)
		return (value == nil) == wantNull, nil
	}
	if value == nil {
		return false, nil
	}
	if cond.DatePart != "" {
		t, ok := value.(time.Time)
		if !ok {
			return false, nil
		}
		value = datePart(t, cond.DatePart)
	}

	switch cond.Op {
	case orm.OpEq:
		return equal(value, cond.Value), nil
	case orm.OpIContains:
		s, ok1 := value.(string)
		sub, ok2 := cond.Value.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
	case orm.OpIn:
		list, ok := cond.Value.([]interface{})
		if !ok {
			return false, nil
		}
		for _, candidate := range list {
			if equal(value, candidate) {
				return true, nil
			}
		}
		return false, nil
	case orm.OpGte:
		c, ok := compare(value, cond.Value)
		return ok && c >= 0, nil
	case orm.OpLte:
		c, ok := compare(value, cond.Value)
		return ok && c <= 0, nil
	}
	return false, nil
}

func (v view) listRelated(rel *orm.Relation, ownerID uuid.UUID, conds []orm.Cond) ([]*orm.Instance, error) {
	if rel.Kind == orm.ReverseOneToMany {
		all := append([]orm.Cond{{Column: rel.SourceColumn, Op: orm.OpEq, Value: ownerID}}, conds...)
		return v.list(rel.Model, orm.Query{Conds: all})
	}
	associations, err := v.listAssociations(rel, ownerID)
	if err != nil {
		return nil, err
	}
	target := rel.Model.Column(rel.TargetColumn)
	if target == nil || target.References == nil {
		return nil, nil
	}
	var related []*orm.Instance
	for _, a := range associations {
		id, ok := a.Get(rel.TargetColumn).(uuid.UUID)
		if !ok {
			continue
		}
		row, err := v.get(target.References, id)
		if err != nil {
			continue
		}
		match, err := v.matches(row, conds)
		if err != nil {
			return nil, err
		}
		if match {
			related = append(related, row)
		}
	}
	return related, nil
}

func (v view) listAssociations(rel *orm.Relation, ownerID uuid.UUID) ([]*orm.Instance, error) {
	return v.list(rel.Model, orm.Query{
		Conds: []orm.Cond{{Column: rel.SourceColumn, Op: orm.OpEq, Value: ownerID}},
	})
}

func (v view) aggregate(m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	instances, err := v.list(m, orm.Query{Conds: conds})
	if err != nil {
		return nil, err
	}

	fieldValue := func(i *orm.Instance) (interface{}, error) {
		if spec.Field == "*" {
			return int64(1), nil
		}
		if strings.HasSuffix(spec.Field, "__count") {
			name := strings.TrimSuffix(spec.Field, "__count")
			if rel := m.Relation(name); rel != nil {
				related, err := v.listAssociations(rel, i.ID())
				if err != nil {
					return nil, err
				}
				return int64(len(related)), nil
			}
		}
		return v.resolve(i, spec.Field), nil
	}

	groups := make(map[string][]*orm.Instance)
	var groupOrder []string
	for _, i := range instances {
		key := ""
		for _, g := range spec.GroupBy {
			key += stringify(v.resolve(i, g)) + "\x00"
		}
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], i)
	}
	sort.Strings(groupOrder)

	var result []orm.AggregateRow
	for _, key := range groupOrder {
		members := groups[key]
		var values []interface{}
		seen := make(map[string]bool)
		for _, i := range members {
			value, err := fieldValue(i)
			if err != nil {
				return nil, err
			}
			if value == nil {
				continue
			}
			if spec.Distinct {
				s := stringify(value)
				if seen[s] {
					continue
				}
				seen[s] = true
			}
			values = append(values, value)
		}
		aggregated, err := aggregateValues(spec.Function, values)
		if err != nil {
			return nil, err
		}
		row := orm.AggregateRow{"value": aggregated}
		if len(members) > 0 {
			for _, g := range spec.GroupBy {
				row[g] = v.resolve(members[0], g)
			}
		}
		result = append(result, row)
	}
	if len(result) == 0 && len(spec.GroupBy) == 0 {
		aggregated, err := aggregateValues(spec.Function, nil)
		if err != nil {
			return nil, err
		}
		result = append(result, orm.AggregateRow{"value": aggregated})
	}
	return result, nil
}

func aggregateValues(fn orm.Function, values []interface{}) (interface{}, error) {
	if fn == orm.FunctionCount {
		return int64(len(values)), nil
	}
	var numbers []float64
	for _, value := range values {
		n, ok := toFloat(value)
		if !ok {
			if fn == orm.FunctionMin || fn == orm.FunctionMax {
				return minMax(fn, values)
			}
			return nil, orm.ErrUndefinedFunction
		}
		numbers = append(numbers, n)
	}
	if len(numbers) == 0 {
		return nil, nil
	}
	switch fn {
	case orm.FunctionSum:
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		return sum, nil
	case orm.FunctionAvg:
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		return sum / float64(len(numbers)), nil
	case orm.FunctionMin:
		min := numbers[0]
		for _, n := range numbers[1:] {
			if n < min {
				min = n
			}
		}
		return min, nil
	case orm.FunctionMax:
		max := numbers[0]
		for _, n := range numbers[1:] {
			if n > max {
				max = n
			}
		}
		return max, nil
	}
	return nil, orm.ErrUndefinedFunction
}

// minMax handles min/max over non-numeric but ordered values, postgres
// defines them for text and timestamps
func minMax(fn orm.Function, values []interface{}) (interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	best := values[0]
	for _, value := range values[1:] {
		c, ok := compare(value, best)
		if !ok {
			return nil, orm.ErrUndefinedFunction
		}
		if (fn == orm.FunctionMin && c < 0) || (fn == orm.FunctionMax && c > 0) {
			best = value
		}
	}
	return best, nil
}

func datePart(t time.Time, part string) interface{} {
	switch part {
	case "date":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "year":
		return int64(t.Year())
	case "quarter":
		return int64((int(t.Month())-1)/3 + 1)
	case "month":
		return int64(t.Month())
	case "day":
		return int64(t.Day())
	case "week":
		_, week := t.ISOWeek()
		return int64(week)
	case "weekday":
		return int64(t.Weekday())
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func stringify(value interface{}) string {
	switch s := value.(type) {
	case nil:
		return ""
	case string:
		return s
	case uuid.UUID:
		return s.String()
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	}
	if n, ok := toFloat(value); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if b, ok := value.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	return ""
}

func equal(a, b interface{}) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
	}
	return stringify(a) == stringify(b)
}

func compare(a, b interface{}) (int, bool) {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			switch {
			case na < nb:
				return -1, true
			case na > nb:
				return 1, true
			}
			return 0, true
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			switch {
			case ta.Before(tb):
				return -1, true
			case ta.After(tb):
				return 1, true
			}
			return 0, true
		}
	}
	sa, sb := stringify(a), stringify(b)
	if sa == "" && sb == "" {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}
