// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package sqlstore implements the store contract on postgres. SQL is built
// from the model descriptors; all identifiers are quoted, all values are
// passed as parameters.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/modelbind/core/csql"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/schema"
)

// Store is a postgres row store
type Store struct {
	db *csql.DB
}

// New creates a store on the given database
func New(db *csql.DB) *Store {
	return &Store{db: db}
}

// EnsureTables creates the tables for the given models if they do not exist
// yet. Called once at startup.
func (s *Store) EnsureTables(ctx context.Context, models ...*orm.Model) error {
	for _, m := range models {
		var defs []string
		for i := range m.Columns {
			c := &m.Columns[i]
			def := fmt.Sprintf("\"%s\" %s", c.Name, sqlType(c.Type))
			if c.PrimaryKey {
				def += " PRIMARY KEY"
			} else if !c.Nullable {
				def += " NOT NULL"
			}
			if c.References != nil {
				def += fmt.Sprintf(" REFERENCES %s(\"%s\")",
					s.table(c.References), c.References.PrimaryKey().Name)
			}
			defs = append(defs, def)
		}
		query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
			s.table(m), strings.Join(defs, ", "))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func sqlType(t schema.FieldType) string {
	switch t {
	case schema.TypeString:
		return "text"
	case schema.TypeInt:
		return "bigint"
	case schema.TypeFloat:
		return "double precision"
	case schema.TypeBool:
		return "boolean"
	case schema.TypeTime:
		return "timestamp with time zone"
	case schema.TypeDate:
		return "date"
	case schema.TypeUUID:
		return "uuid"
	case schema.TypeJSON:
		return "jsonb"
	}
	return "text"
}

func (s *Store) table(m *orm.Model) string {
	return fmt.Sprintf("%s.\"%s\"", s.db.Schema, m.Table)
}

// runner is satisfied by *sql.DB and *sql.Tx
type runner interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Begin starts a database transaction
func (s *Store) Begin(ctx context.Context) (orm.Tx, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{store: s, txn: txn}, nil
}

// Get implements orm.Reader
func (s *Store) Get(ctx context.Context, m *orm.Model, id uuid.UUID) (*orm.Instance, error) {
	return s.get(ctx, s.db, m, id)
}

// First implements orm.Reader
func (s *Store) First(ctx context.Context, m *orm.Model, conds []orm.Cond) (*orm.Instance, error) {
	return s.first(ctx, s.db, m, conds)
}

// List implements orm.Reader
func (s *Store) List(ctx context.Context, m *orm.Model, q orm.Query) ([]*orm.Instance, error) {
	return s.list(ctx, s.db, m, q)
}

// Count implements orm.Reader
func (s *Store) Count(ctx context.Context, m *orm.Model, conds []orm.Cond) (int, error) {
	return s.count(ctx, s.db, m, conds)
}

// ListRelated implements orm.Reader
func (s *Store) ListRelated(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID, conds []orm.Cond) ([]*orm.Instance, error) {
	return s.listRelated(ctx, s.db, rel, ownerID, conds)
}

// ListAssociations implements orm.Reader
func (s *Store) ListAssociations(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID) ([]*orm.Instance, error) {
	return s.listAssociations(ctx, s.db, rel, ownerID)
}

// Aggregate implements orm.Reader
func (s *Store) Aggregate(ctx context.Context, m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	return s.aggregate(ctx, s.db, m, conds, spec)
}

type tx struct {
	store *Store
	txn   *sql.Tx
}

func (t *tx) Commit() error   { return t.txn.Commit() }
func (t *tx) Rollback() error { return t.txn.Rollback() }

func (t *tx) Get(ctx context.Context, m *orm.Model, id uuid.UUID) (*orm.Instance, error) {
	return t.store.get(ctx, t.txn, m, id)
}

func (t *tx) First(ctx context.Context, m *orm.Model, conds []orm.Cond) (*orm.Instance, error) {
	return t.store.first(ctx, t.txn, m, conds)
}

func (t *tx) List(ctx context.Context, m *orm.Model, q orm.Query) ([]*orm.Instance, error) {
	return t.store.list(ctx, t.txn, m, q)
}

func (t *tx) Count(ctx context.Context, m *orm.Model, conds []orm.Cond) (int, error) {
	return t.store.count(ctx, t.txn, m, conds)
}

func (t *tx) ListRelated(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID, conds []orm.Cond) ([]*orm.Instance, error) {
	return t.store.listRelated(ctx, t.txn, rel, ownerID, conds)
}

func (t *tx) ListAssociations(ctx context.Context, rel *orm.Relation, ownerID uuid.UUID) ([]*orm.Instance, error) {
	return t.store.listAssociations(ctx, t.txn, rel, ownerID)
}

func (t *tx) Aggregate(ctx context.Context, m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	return t.store.aggregate(ctx, t.txn, m, conds, spec)
}

func (t *tx) Save(ctx context.Context, i *orm.Instance) error {
	m := i.Model()
	var columns, placeholders, updates []string
	var args []interface{}
	for idx := range m.Columns {
		c := &m.Columns[idx]
		value, err := toSQL(c, i.Get(c.Name))
		if err != nil {
			return err
		}
		columns = append(columns, fmt.Sprintf("\"%s\"", c.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		if !c.PrimaryKey {
			updates = append(updates, fmt.Sprintf("\"%s\" = EXCLUDED.\"%s\"", c.Name, c.Name))
		}
		args = append(args, value)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (\"%s\") DO UPDATE SET %s;",
		t.store.table(m),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		m.PrimaryKey().Name,
		strings.Join(updates, ", "))
	if _, err := t.txn.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	i.MarkExists()
	return nil
}

func (t *tx) Delete(ctx context.Context, m *orm.Model, id uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE \"%s\" = $1;", t.store.table(m), m.PrimaryKey().Name)
	result, err := t.txn.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if count, _ := result.RowsAffected(); count == 0 {
		return orm.ErrNotFound
	}
	return nil
}

func toSQL(c *orm.Column, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if c.Type == schema.TypeJSON {
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
	return value, nil
}

func (s *Store) columnList(m *orm.Model, alias string) string {
	names := make([]string, len(m.Columns))
	for i := range m.Columns {
		names[i] = fmt.Sprintf("%s.\"%s\"", alias, m.Columns[i].Name)
	}
	return strings.Join(names, ", ")
}

func (s *Store) get(ctx context.Context, r runner, m *orm.Model, id uuid.UUID) (*orm.Instance, error) {
	return s.first(ctx, r, m, []orm.Cond{{Column: m.PrimaryKey().Name, Op: orm.OpEq, Value: id}})
}

func (s *Store) first(ctx context.Context, r runner, m *orm.Model, conds []orm.Cond) (*orm.Instance, error) {
	instances, err := s.list(ctx, r, m, orm.Query{Conds: conds, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, orm.ErrNotFound
	}
	return instances[0], nil
}

func (s *Store) list(ctx context.Context, r runner, m *orm.Model, q orm.Query) ([]*orm.Instance, error) {
	var args []interface{}
	where := s.buildWhere(m, "t", q.Conds, &args)

	distinct := ""
	if q.Distinct {
		distinct = "DISTINCT "
	}
	query := fmt.Sprintf("SELECT %s%s FROM %s t%s", distinct, s.columnList(m, "t"), s.table(m), where)

	order := q.Order
	if len(order) == 0 {
		order = []orm.OrderField{{Column: m.PrimaryKey().Name}}
	}
	var orderExprs []string
	for _, o := range order {
		expr := s.orderExpr(m, "t", o)
		if o.Desc {
			expr += " DESC"
		}
		orderExprs = append(orderExprs, expr)
	}
	query += " ORDER BY " + strings.Join(orderExprs, ", ")

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}
	query += ";"

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstances(m, rows)
}

func (s *Store) count(ctx context.Context, r runner, m *orm.Model, conds []orm.Cond) (int, error) {
	var args []interface{}
	where := s.buildWhere(m, "t", conds, &args)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s t%s;", s.table(m), where)
	var count int
	err := r.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

func (s *Store) listRelated(ctx context.Context, r runner, rel *orm.Relation, ownerID uuid.UUID, conds []orm.Cond) ([]*orm.Instance, error) {
	if rel.Kind == orm.ReverseOneToMany {
		all := append([]orm.Cond{{Column: rel.SourceColumn, Op: orm.OpEq, Value: ownerID}}, conds...)
		return s.list(ctx, r, rel.Model, orm.Query{Conds: all})
	}

	targetColumn := rel.Model.Column(rel.TargetColumn)
	if targetColumn == nil || targetColumn.References == nil {
		return nil, fmt.Errorf("relation %s has no target model", rel.Name)
	}
	target := targetColumn.References
	args := []interface{}{ownerID}
	where := s.buildWhere(target, "t", conds, &args)
	condClause := strings.TrimPrefix(where, " WHERE ")
	if condClause != "" {
		condClause = " AND " + condClause
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s t JOIN %s a ON a.\"%s\" = t.\"%s\" WHERE a.\"%s\" = $1%s ORDER BY t.\"%s\";",
		s.columnList(target, "t"), s.table(target), s.table(rel.Model),
		rel.TargetColumn, target.PrimaryKey().Name,
		rel.SourceColumn, condClause, target.PrimaryKey().Name)
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstances(target, rows)
}

func (s *Store) listAssociations(ctx context.Context, r runner, rel *orm.Relation, ownerID uuid.UUID) ([]*orm.Instance, error) {
	return s.list(ctx, r, rel.Model, orm.Query{
		Conds: []orm.Cond{{Column: rel.SourceColumn, Op: orm.OpEq, Value: ownerID}},
	})
}

func (s *Store) aggregate(ctx context.Context, r runner, m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	var args []interface{}
	where := s.buildWhere(m, "t", conds, &args)

	var selects []string
	for _, g := range spec.GroupBy {
		selects = append(selects, s.columnExpr(m, "t", g))
	}

	fieldExpr := "*"
	if spec.Field != "*" {
		fieldExpr = s.columnExpr(m, "t", spec.Field)
	}
	if spec.Distinct {
		fieldExpr = "DISTINCT " + fieldExpr
	}
	selects = append(selects, fmt.Sprintf("%s(%s)", strings.ToUpper(string(spec.Function)), fieldExpr))

	query := fmt.Sprintf("SELECT %s FROM %s t%s", strings.Join(selects, ", "), s.table(m), where)
	if len(spec.GroupBy) > 0 {
		var groups []string
		for _, g := range spec.GroupBy {
			groups = append(groups, s.columnExpr(m, "t", g))
		}
		query += " GROUP BY " + strings.Join(groups, ", ") + " ORDER BY " + strings.Join(groups, ", ")
	}
	query += ";"

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "42883" {
			return nil, orm.ErrUndefinedFunction
		}
		return nil, err
	}
	defer rows.Close()

	var result []orm.AggregateRow
	for rows.Next() {
		holders := make([]interface{}, len(spec.GroupBy)+1)
		for i := range holders {
			holders[i] = new(interface{})
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		row := orm.AggregateRow{}
		for i, g := range spec.GroupBy {
			row[g] = normalize(*holders[i].(*interface{}))
		}
		row["value"] = normalize(*holders[len(spec.GroupBy)].(*interface{}))
		result = append(result, row)
	}
	return result, rows.Err()
}

// columnExpr resolves a column reference, following "relation__column" hops
// as correlated subqueries and "relation__count" as a count subquery. Each
// hop level extends the row alias to keep it unambiguous.
func (s *Store) columnExpr(m *orm.Model, alias, column string) string {
	if strings.HasSuffix(column, "__count") {
		name := strings.TrimSuffix(column, "__count")
		if rel := m.Relation(name); rel != nil {
			return fmt.Sprintf("(SELECT COUNT(*) FROM %s a WHERE a.\"%s\" = %s.\"%s\")",
				s.table(rel.Model), rel.SourceColumn, alias, m.PrimaryKey().Name)
		}
	}
	if idx := strings.Index(column, "__"); idx > 0 {
		fk := column[:idx]
		rest := column[idx+2:]
		if c := m.Column(fk); c != nil && c.References != nil {
			inner := alias + "r"
			return fmt.Sprintf("(SELECT %s FROM %s %s WHERE %s.\"%s\" = %s.\"%s\")",
				s.columnExpr(c.References, inner, rest), s.table(c.References), inner,
				inner, c.References.PrimaryKey().Name, alias, fk)
		}
	}
	return fmt.Sprintf("%s.\"%s\"", alias, column)
}

func (s *Store) orderExpr(m *orm.Model, alias string, o orm.OrderField) string {
	if o.CountRelation != "" {
		if rel := m.Relation(o.CountRelation); rel != nil {
			return fmt.Sprintf("(SELECT COUNT(*) FROM %s a WHERE a.\"%s\" = %s.\"%s\")",
				s.table(rel.Model), rel.SourceColumn, alias, m.PrimaryKey().Name)
		}
	}
	return s.columnExpr(m, alias, o.Column)
}

func (s *Store) buildWhere(m *orm.Model, alias string, conds []orm.Cond, args *[]interface{}) string {
	var exprs []string
	for _, cond := range conds {
		expr := s.condExpr(m, alias, cond, args)
		if cond.Not {
			// null-safe negation, a NULL comparison must count as no match
			expr = "NOT COALESCE(" + expr + ", FALSE)"
		}
		exprs = append(exprs, expr)
	}
	if len(exprs) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(exprs, " AND ")
}

func (s *Store) condExpr(m *orm.Model, alias string, cond orm.Cond, args *[]interface{}) string {
	var left string
	if cond.Relation != "" {
		rel := m.Relation(cond.Relation)
		left = fmt.Sprintf("(SELECT COUNT(*) FROM %s a WHERE a.\"%s\" = %s.\"%s\")",
			s.table(rel.Model), rel.SourceColumn, alias, m.PrimaryKey().Name)
	} else {
		left = s.columnExpr(m, alias, cond.Column)
	}

	switch cond.DatePart {
	case "":
	case "date":
		left = fmt.Sprintf("(%s)::date", left)
	case "weekday":
		left = fmt.Sprintf("EXTRACT(DOW FROM %s)", left)
	default:
		left = fmt.Sprintf("EXTRACT(%s FROM %s)", strings.ToUpper(cond.DatePart), left)
	}

	switch cond.Op {
	case orm.OpEq:
		*args = append(*args, cond.Value)
		return fmt.Sprintf("%s = $%d", left, len(*args))
	case orm.OpIContains:
		*args = append(*args, cond.Value)
		return fmt.Sprintf("%s ILIKE '%%' || $%d || '%%'", left, len(*args))
	case orm.OpIn:
		list, _ := cond.Value.([]interface{})
		*args = append(*args, pq.Array(list))
		return fmt.Sprintf("%s = ANY($%d)", left, len(*args))
	case orm.OpIsNull:
		if wantNull, _ := cond.Value.(bool); wantNull {
			return fmt.Sprintf("%s IS NULL", left)
		}
		return fmt.Sprintf("%s IS NOT NULL", left)
	case orm.OpGte:
		*args = append(*args, cond.Value)
		return fmt.Sprintf("%s >= $%d", left, len(*args))
	case orm.OpLte:
		*args = append(*args, cond.Value)
		return fmt.Sprintf("%s <= $%d", left, len(*args))
	}
	return "TRUE"
}

func scanInstances(m *orm.Model, rows *sql.Rows) ([]*orm.Instance, error) {
	var instances []*orm.Instance
	for rows.Next() {
		holders := make([]interface{}, len(m.Columns))
		for i := range holders {
			holders[i] = new(interface{})
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		values := make(map[string]interface{}, len(m.Columns))
		for i := range m.Columns {
			c := &m.Columns[i]
			value, err := fromSQL(c, *holders[i].(*interface{}))
			if err != nil {
				return nil, err
			}
			values[c.Name] = value
		}
		instances = append(instances, orm.Existing(m, values))
	}
	return instances, rows.Err()
}

func fromSQL(c *orm.Column, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch c.Type {
	case schema.TypeUUID:
		switch v := value.(type) {
		case []byte:
			return uuid.ParseBytes(v)
		case string:
			return uuid.Parse(v)
		}
	case schema.TypeJSON:
		var parsed interface{}
		switch v := value.(type) {
		case []byte:
			if err := json.Unmarshal(v, &parsed); err != nil {
				return nil, err
			}
			return parsed, nil
		case string:
			if err := json.Unmarshal([]byte(v), &parsed); err != nil {
				return nil, err
			}
			return parsed, nil
		}
	case schema.TypeString:
		if v, ok := value.([]byte); ok {
			return string(v), nil
		}
	}
	return normalize(value), nil
}

func normalize(value interface{}) interface{} {
	if v, ok := value.([]byte); ok {
		return string(v)
	}
	return value
}
