// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package transfer

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/schema"
)

// FromModel builds a payload value from a model instance. Model data is
// already shaped, so the value is constructed directly without request
// validation. Fields the caller lacks a read scope for are redacted to null
// rather than failing; the payload shape never changes with the caller's
// permissions.
func FromModel(ctx context.Context, r orm.Reader, desc *schema.Descriptor, i *orm.Instance, opts Options) (*schema.Value, error) {
	v, _, err := fromModel(ctx, r, desc, i, opts, false)
	return v, err
}

// fromModel reports absent = true when a required field resolved to null and
// the enclosing field allows the whole branch to collapse to null. Collapse
// is only allowed under a nullable parent field and for list elements; at the
// top level and under a non-nullable parent the value is built with the
// required field set to null instead.
func fromModel(ctx context.Context, r orm.Reader, desc *schema.Descriptor, i *orm.Instance, opts Options, collapsible bool) (*schema.Value, bool, error) {
	v := schema.NewValue(desc)
	m := i.Model()
	for idx := range desc.Fields {
		f := &desc.Fields[idx]
		if f.Binding.Kind == schema.BindExcluded || f.Binding.Kind == schema.BindNone {
			continue
		}

		if redacted(f, i, opts.Access) {
			v.Set(f.Name, nil)
			continue
		}

		switch f.Binding.Kind {
		case schema.BindColumn:
			value := i.Get(f.Binding.Column)
			if f.Type == schema.TypeJSON {
				if s, ok := value.(string); ok {
					var parsed interface{}
					if err := json.Unmarshal([]byte(s), &parsed); err == nil {
						value = parsed
					}
				}
			}
			if value == nil && f.Required && collapsible {
				return nil, true, nil
			}
			v.Set(f.Name, value)

		case schema.BindMethod:
			getter := m.Getters[f.Binding.Method]
			if getter == nil {
				continue
			}
			value, err := getter(i)
			if err != nil {
				return nil, false, err
			}
			if related, ok := value.(*orm.Instance); ok && f.Nested != nil {
				nested, absent, err := fromModel(ctx, r, f.Nested, related, opts, f.Nullable)
				if err != nil {
					return nil, false, err
				}
				if absent {
					value = nil
				} else {
					value = nested
				}
			}
			if value == nil && f.Required && collapsible {
				return nil, true, nil
			}
			v.Set(f.Name, value)

		case schema.BindSameRow:
			nested, absent, err := fromModel(ctx, r, f.Nested, i, opts, f.Nullable)
			if err != nil {
				return nil, false, err
			}
			if absent {
				v.Set(f.Name, nil)
				continue
			}
			v.Set(f.Name, nested)

		case schema.BindManyToMany, schema.BindReverse:
			rel := m.Relation(f.Binding.Relation)
			if rel == nil {
				continue
			}
			if f.ByReference {
				ids, err := relatedIDs(ctx, r, rel, i.ID())
				if err != nil {
					return nil, false, err
				}
				v.Set(f.Name, ids)
				continue
			}
			related, err := r.ListRelated(ctx, rel, i.ID(), opts.RelationFilters[f.Binding.Relation])
			if err != nil {
				return nil, false, err
			}
			elements := make([]*schema.Value, 0, len(related))
			for _, row := range related {
				element, absent, err := fromModel(ctx, r, f.Nested, row, opts, true)
				if err != nil {
					return nil, false, err
				}
				if absent {
					continue
				}
				elements = append(elements, element)
			}
			v.Set(f.Name, elements)
		}
	}
	return v, false, nil
}

// redacted decides whether a field value is hidden from the caller. Read
// scope enforcement is silent redaction, not an error; a selector-aware row
// check on the model redacts the same way.
func redacted(f *schema.Field, i *orm.Instance, acc *access.Access) bool {
	scopes := readScopes(f)
	if len(scopes) == 0 || acc == nil {
		return false
	}
	if acc.Token == nil {
		return true
	}
	matched := acc.Token.HasAudiences(scopes)
	if len(matched) == 0 {
		return true
	}
	if check := i.Model().AccessCheck; check != nil {
		for _, s := range matched {
			scope, err := access.ParseScope(s)
			if err != nil {
				continue
			}
			if check(i, acc, scope.Selector) == nil {
				return false
			}
		}
		return true
	}
	return false
}

func relatedIDs(ctx context.Context, r orm.Reader, rel *orm.Relation, ownerID uuid.UUID) ([]interface{}, error) {
	var ids []interface{}
	if rel.Kind == orm.ManyToMany {
		associations, err := r.ListAssociations(ctx, rel, ownerID)
		if err != nil {
			return nil, err
		}
		for _, a := range associations {
			ids = append(ids, a.Get(rel.TargetColumn))
		}
		return ids, nil
	}
	children, err := r.ListAssociations(ctx, rel, ownerID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
