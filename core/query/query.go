// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package query validates and applies pagination and aggregation requests.
// The router compiler feeds it the field enumerations it derives from the
// model; this package rejects anything outside those enumerations before a
// store is touched.
package query

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/orm"
)

// Pagination is a validated limit/offset/order window
type Pagination struct {
	Limit  int
	Offset int
	Order  []orm.OrderField
}

// ParsePagination validates limit, offset and order_by query parameters.
// Limit defaults to maxLimit and is clamped to 1..maxLimit; offset defaults
// to 0. order_by entries must be keys of sortable, the enumeration the
// router derived from the model.
func ParsePagination(values url.Values, maxLimit int, sortable map[string]orm.OrderField) (Pagination, error) {
	p := Pagination{Limit: maxLimit}

	if s := values.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return p, apierror.Validation("limit_invalid", "query", "limit")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		p.Limit = limit
	}

	if s := values.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return p, apierror.Validation("offset_invalid", "query", "offset")
		}
		p.Offset = offset
	}

	for _, raw := range values["order_by"] {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			field, ok := sortable[name]
			if !ok {
				return p, apierror.Validation("order_field_invalid", "query", "order_by")
			}
			p.Order = append(p.Order, field)
		}
	}
	return p, nil
}

// Apply puts the window into a query
func (p Pagination) Apply(q *orm.Query) {
	q.Limit = p.Limit
	q.Offset = p.Offset
	q.Order = p.Order
}

// ParseFunction parses an aggregation function name
func ParseFunction(s string) (orm.Function, error) {
	switch orm.Function(s) {
	case orm.FunctionAvg, orm.FunctionCount, orm.FunctionMax, orm.FunctionMin, orm.FunctionSum:
		return orm.Function(s), nil
	}
	return "", apierror.Validation("aggregation_function_invalid", "path", "function")
}

// Aggregate validates and runs an aggregation. Distinct combined with the
// count-all field is rejected, and a function the engine does not define for
// the field's type surfaces as a request validation failure, not a server
// error.
func Aggregate(ctx context.Context, r orm.Reader, m *orm.Model, conds []orm.Cond, spec orm.AggregateSpec) ([]orm.AggregateRow, error) {
	if spec.Distinct && spec.Field == "*" {
		return nil, apierror.Validation("aggregation_distinct_invalid", "query", "distinct")
	}
	rows, err := r.Aggregate(ctx, m, conds, spec)
	if err != nil {
		if errors.Is(err, orm.ErrUndefinedFunction) {
			return nil, apierror.Validation("aggregation_field_invalid", "path", "field")
		}
		return nil, err
	}
	return rows, nil
}
