// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package orm

// Op is a filter comparison operator
type Op int

// All supported filter operators
const (
	OpEq Op = iota
	OpIContains
	OpIn
	OpIsNull
	OpGte
	OpLte
)

// Cond is one filter condition. Column may be a plain column name or a
// "relation__column" path one foreign-key level deep. A condition with
// Relation set compares the row count of a to-many relation instead of a
// column.
type Cond struct {
	Column   string
	Op       Op
	Value    interface{}
	Not      bool
	DatePart string // "", "date", "year", "quarter", "month", "day", "week", "weekday"
	Relation string
}

// OrderField is one order-by entry. CountRelation orders by the row count of
// a to-many relation.
type OrderField struct {
	Column        string
	Desc          bool
	CountRelation string
}

// Query is the filter/order/window specification for a list
type Query struct {
	Conds  []Cond
	Order  []OrderField
	Limit  int
	Offset int

	// Distinct deduplicates by primary key plus ordering columns. Set when
	// join-based filters can produce duplicate rows.
	Distinct bool
}

// Function is an aggregation function
type Function string

// All supported aggregation functions
const (
	FunctionAvg   Function = "avg"
	FunctionCount Function = "count"
	FunctionMax   Function = "max"
	FunctionMin   Function = "min"
	FunctionSum   Function = "sum"
)

// AggregateSpec describes one aggregation request. Field "*" counts all
// rows. A "relation__count" field aggregates over per-row relation counts.
type AggregateSpec struct {
	Function Function
	Field    string
	GroupBy  []string
	Distinct bool
}

// AggregateRow is one result row of an aggregation: the group field values
// by name plus the aggregate under "value"
type AggregateRow map[string]interface{}
