// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package router

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/schema"
)

// filterParam is one derived query parameter. Every parameter also accepts
// a not__ prefixed negation.
type filterParam struct {
	column   string
	op       orm.Op
	datePart string
	relation string
	typ      schema.FieldType
}

var dateParts = []string{"date", "year", "quarter", "month", "day", "week", "weekday"}

// enumerateFields derives the sortable, filterable, aggregatable and
// groupable field sets from the model, including one level of related-model
// fields. A foreign key back to the immediate parent resource and
// self-referential cycles are excluded.
func (s *Schema) enumerateFields(cc *compiled) {
	cc.sortable = make(map[string]orm.OrderField)
	cc.filters = make(map[string]filterParam)
	cc.aggregate = map[string]string{"_count": "*"}
	cc.groupBy = make(map[string]bool)

	m := s.Model
	for i := range m.Columns {
		c := &m.Columns[i]
		s.enumerateColumn(cc, c, "")

		if c.References == nil || c.References == m {
			continue
		}
		if s.parent != nil && c.References == s.parent.Model {
			continue
		}
		for j := range c.References.Columns {
			related := &c.References.Columns[j]
			s.enumerateColumn(cc, related, c.Name+"__")
		}
	}

	for i := range m.Relations {
		name := m.Relations[i].Name + "__count"
		cc.sortable[name] = orm.OrderField{CountRelation: m.Relations[i].Name}
		cc.sortable["-"+name] = orm.OrderField{CountRelation: m.Relations[i].Name, Desc: true}
		cc.aggregate[name] = name
		cc.filters[name] = filterParam{relation: m.Relations[i].Name, op: orm.OpEq, typ: schema.TypeInt}
		cc.filters[name+"__gte"] = filterParam{relation: m.Relations[i].Name, op: orm.OpGte, typ: schema.TypeInt}
		cc.filters[name+"__lte"] = filterParam{relation: m.Relations[i].Name, op: orm.OpLte, typ: schema.TypeInt}
	}
}

func (s *Schema) enumerateColumn(cc *compiled, c *orm.Column, prefix string) {
	name := prefix + c.Name
	cc.sortable[name] = orm.OrderField{Column: name}
	cc.sortable["-"+name] = orm.OrderField{Column: name, Desc: true}

	cc.filters[name] = filterParam{column: name, op: orm.OpEq, typ: c.Type}

	if c.Type == schema.TypeString && len(c.Choices) == 0 {
		cc.filters[name+"__icontains"] = filterParam{column: name, op: orm.OpIContains, typ: c.Type}
	}
	if len(c.Choices) > 0 || c.References != nil {
		cc.filters[name+"__in"] = filterParam{column: name, op: orm.OpIn, typ: c.Type}
	}
	if c.Nullable {
		cc.filters[name+"__isnull"] = filterParam{column: name, op: orm.OpIsNull, typ: schema.TypeBool}
	}

	switch c.Type {
	case schema.TypeInt, schema.TypeFloat, schema.TypeTime, schema.TypeDate:
		cc.filters[name+"__gte"] = filterParam{column: name, op: orm.OpGte, typ: c.Type}
		cc.filters[name+"__lte"] = filterParam{column: name, op: orm.OpLte, typ: c.Type}
	}
	if c.Type == schema.TypeTime || c.Type == schema.TypeDate {
		for _, part := range dateParts {
			partType := schema.TypeInt
			if part == "date" {
				partType = schema.TypeDate
			}
			cc.filters[name+"__"+part] = filterParam{column: name, op: orm.OpEq, datePart: part, typ: partType}
			cc.filters[name+"__"+part+"__gte"] = filterParam{column: name, op: orm.OpGte, datePart: part, typ: partType}
			cc.filters[name+"__"+part+"__lte"] = filterParam{column: name, op: orm.OpLte, datePart: part, typ: partType}
		}
	}

	if c.Type == schema.TypeInt || c.Type == schema.TypeFloat {
		cc.aggregate[name] = name
	}
	if (len(c.Choices) > 0 && c.Type == schema.TypeString) || c.References != nil {
		cc.groupBy[name] = true
	}
}

// reserved query parameters that are not filters
var reservedParams = map[string]bool{
	"limit":    true,
	"offset":   true,
	"order_by": true,
	"group_by": true,
	"distinct": true,
}

// parseFilters turns the request's query parameters into conditions.
// Unknown parameters are rejected; relation-valued filters compare by
// identifier.
func (cc *compiled) parseFilters(values url.Values) ([]orm.Cond, error) {
	var conds []orm.Cond
	for key, raws := range values {
		if reservedParams[key] {
			continue
		}
		name := key
		not := false
		if strings.HasPrefix(name, "not__") {
			not = true
			name = strings.TrimPrefix(name, "not__")
		}
		p, ok := cc.filters[name]
		if !ok {
			return nil, apierror.Validation("filter_invalid", "query", key)
		}
		for _, raw := range raws {
			cond := orm.Cond{
				Column:   p.column,
				Op:       p.op,
				Not:      not,
				DatePart: p.datePart,
				Relation: p.relation,
			}
			var err error
			if p.op == orm.OpIn {
				var list []interface{}
				for _, element := range strings.Split(raw, ",") {
					value, err := parseFilterValue(p.typ, strings.TrimSpace(element))
					if err != nil {
						return nil, apierror.Validation("filter_value_invalid", "query", key)
					}
					list = append(list, value)
				}
				cond.Value = list
			} else {
				cond.Value, err = parseFilterValue(p.typ, raw)
				if err != nil {
					return nil, apierror.Validation("filter_value_invalid", "query", key)
				}
			}
			conds = append(conds, cond)
		}
	}
	return conds, nil
}

func parseFilterValue(typ schema.FieldType, raw string) (interface{}, error) {
	switch typ {
	case schema.TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		return n, err
	case schema.TypeFloat:
		n, err := strconv.ParseFloat(raw, 64)
		return n, err
	case schema.TypeBool:
		b, err := strconv.ParseBool(raw)
		return b, err
	case schema.TypeUUID:
		id, err := uuid.Parse(raw)
		return id, err
	case schema.TypeTime:
		t, err := time.Parse(time.RFC3339, raw)
		return t, err
	case schema.TypeDate:
		t, err := time.Parse("2006-01-02", raw)
		return t, err
	}
	return raw, nil
}

// needsDistinct reports whether the conditions can produce duplicate rows
func needsDistinct(conds []orm.Cond) bool {
	for _, cond := range conds {
		if strings.Contains(cond.Column, "__") || cond.Relation != "" {
			return true
		}
	}
	return false
}
