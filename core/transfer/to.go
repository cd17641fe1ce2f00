// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/schema"
)

// displacedRow is a related row no longer confirmed by the incoming payload
type displacedRow struct {
	model *orm.Model
	id    uuid.UUID
}

// ToModel writes a payload value into a model instance and persists the
// whole object graph in one transaction: the root first, then every created
// or kept subobject, then the displaced deletions. Nothing is persisted when
// any step fails.
//
// When opts.Access is set, the field access check runs before any mutation.
func ToModel(ctx context.Context, store orm.Store, v *schema.Value, i *orm.Instance, action Action, opts Options) error {
	if opts.Access != nil {
		if err := CheckFieldAccess(v, opts.Access); err != nil {
			return err
		}
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}

	created, displaced, err := apply(ctx, tx, v, i, action, opts)
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Save(ctx, i); err != nil {
		tx.Rollback()
		return err
	}
	for _, sub := range created {
		if err := tx.Save(ctx, sub); err != nil {
			tx.Rollback()
			return err
		}
	}
	// deletes after saves, so a reassigned relation never breaks a
	// referential constraint mid-transaction
	for _, d := range displaced {
		if err := tx.Delete(ctx, d.model, d.id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// apply writes the payload into the instance in memory and reconciles
// to-many relations against their persisted state. It never saves; created
// and displaced rows travel up to the top-level call.
func apply(ctx context.Context, tx orm.Tx, v *schema.Value, i *orm.Instance, action Action, opts Options) ([]*orm.Instance, []displacedRow, error) {
	var created []*orm.Instance
	var displaced []displacedRow
	desc := v.Descriptor()
	m := i.Model()

	for idx := range desc.Fields {
		f := &desc.Fields[idx]
		if f.Binding.Kind == schema.BindExcluded || f.Binding.Kind == schema.BindNone {
			continue
		}
		if opts.ExcludeUnset && !v.IsSet(f.Name) {
			continue
		}

		switch f.Binding.Kind {
		case schema.BindColumn:
			if !v.IsSet(f.Name) {
				if f.HasDefault {
					i.Set(f.Binding.Column, f.Default)
				}
				continue
			}
			i.Set(f.Binding.Column, columnValue(v.Get(f.Name)))

		case schema.BindMethod:
			if !v.IsSet(f.Name) {
				continue
			}
			setter := m.Setters[f.Binding.Method]
			if setter == nil {
				continue
			}
			value := v.Get(f.Name)
			if secret, ok := value.(schema.Secret); ok {
				value = string(secret)
			}
			if err := setter(i, value); err != nil {
				return nil, nil, err
			}

		case schema.BindSameRow:
			if !v.IsSet(f.Name) || v.Get(f.Name) == nil {
				// an absent nested object resets its bound fields to their
				// declared defaults, stale values from an earlier transfer
				// must not survive
				applyDefaults(f.Nested, i)
				continue
			}
			nested, ok := v.Get(f.Name).(*schema.Value)
			if !ok {
				return nil, nil, fmt.Errorf("field %s is not an object", f.Name)
			}
			subCreated, subDisplaced, err := apply(ctx, tx, nested, i, action, opts)
			if err != nil {
				return nil, nil, err
			}
			created = append(created, subCreated...)
			displaced = append(displaced, subDisplaced...)

		case schema.BindManyToMany:
			if action == ActionNoSubobjects || !v.IsSet(f.Name) {
				continue
			}
			elements, _ := v.Get(f.Name).([]*schema.Value)
			if len(elements) > 0 && action == ActionNone {
				return nil, nil, ErrMissingAction
			}
			subCreated, subDisplaced, err := reconcileManyToMany(ctx, tx, m.Relation(f.Binding.Relation), i, elements, action)
			if err != nil {
				return nil, nil, err
			}
			created = append(created, subCreated...)
			displaced = append(displaced, subDisplaced...)

		case schema.BindReverse:
			if action == ActionNoSubobjects || !v.IsSet(f.Name) {
				continue
			}
			elements, _ := v.Get(f.Name).([]*schema.Value)
			if len(elements) > 0 && action == ActionNone {
				return nil, nil, ErrMissingAction
			}
			subCreated, subDisplaced, err := reconcileReverse(ctx, tx, m.Relation(f.Binding.Relation), f, i, elements, action, opts)
			if err != nil {
				return nil, nil, err
			}
			created = append(created, subCreated...)
			displaced = append(displaced, subDisplaced...)
		}
	}
	return created, displaced, nil
}

// columnValue resolves instance references to their identifier. Structured
// values for json columns pass through, the store serializes them.
func columnValue(value interface{}) interface{} {
	if related, ok := value.(*orm.Instance); ok {
		return related.ID()
	}
	return value
}

func applyDefaults(desc *schema.Descriptor, i *orm.Instance) {
	if desc == nil {
		return
	}
	for idx := range desc.Fields {
		f := &desc.Fields[idx]
		switch f.Binding.Kind {
		case schema.BindColumn:
			i.Set(f.Binding.Column, f.Default)
		case schema.BindSameRow:
			applyDefaults(f.Nested, i)
		}
	}
}

// reconcileManyToMany diffs the incoming target ids against the persisted
// association rows. Incoming elements confirm an existing association under
// sync; whatever is not confirmed afterwards is displaced.
func reconcileManyToMany(ctx context.Context, tx orm.Tx, rel *orm.Relation, owner *orm.Instance, elements []*schema.Value, action Action) ([]*orm.Instance, []displacedRow, error) {
	existing := make(map[uuid.UUID]uuid.UUID) // target id -> association row id
	if action == ActionSync {
		associations, err := tx.ListAssociations(ctx, rel, owner.ID())
		if err != nil {
			return nil, nil, err
		}
		for _, a := range associations {
			if targetID, ok := a.Get(rel.TargetColumn).(uuid.UUID); ok {
				existing[targetID] = a.ID()
			}
		}
	}

	var created []*orm.Instance
	for _, element := range elements {
		targetID, ok := element.Get("id").(uuid.UUID)
		if !ok {
			return nil, nil, fmt.Errorf("relation %s: element has no id", rel.Name)
		}
		if action == ActionSync {
			if _, ok := existing[targetID]; ok {
				delete(existing, targetID) // confirmed, keep
				continue
			}
		}
		association := orm.New(rel.Model)
		association.Set(rel.SourceColumn, owner.ID())
		association.Set(rel.TargetColumn, targetID)
		created = append(created, association)
	}

	var displaced []displacedRow
	for _, associationID := range existing {
		displaced = append(displaced, displacedRow{model: rel.Model, id: associationID})
	}
	return created, displaced, nil
}

// reconcileReverse diffs incoming child payloads against the persisted child
// rows. Matching is by identifier, or by the field's declared natural-key
// rules when an element carries none.
func reconcileReverse(ctx context.Context, tx orm.Tx, rel *orm.Relation, f *schema.Field, owner *orm.Instance, elements []*schema.Value, action Action, opts Options) ([]*orm.Instance, []displacedRow, error) {
	existing := make(map[uuid.UUID]*orm.Instance)
	if action == ActionSync {
		children, err := tx.ListAssociations(ctx, rel, owner.ID())
		if err != nil {
			return nil, nil, err
		}
		for _, c := range children {
			existing[c.ID()] = c
		}
	}

	var created []*orm.Instance
	var displaced []displacedRow
	for _, element := range elements {
		var child *orm.Instance
		if action == ActionSync {
			child = matchChild(element, f, existing)
		}
		if child == nil {
			child = orm.New(rel.Model)
		} else {
			delete(existing, child.ID())
		}
		subCreated, subDisplaced, err := apply(ctx, tx, element, child, action, opts)
		if err != nil {
			return nil, nil, err
		}
		child.Set(rel.SourceColumn, owner.ID())
		// the child saves before its own subobjects, they reference it
		created = append(created, child)
		created = append(created, subCreated...)
		displaced = append(displaced, subDisplaced...)
	}

	for _, child := range existing {
		displaced = append(displaced, displacedRow{model: rel.Model, id: child.ID()})
	}
	return created, displaced, nil
}

// matchChild finds the existing child an incoming element refers to, by id
// when given, otherwise by the declared natural-key match rules
func matchChild(element *schema.Value, f *schema.Field, existing map[uuid.UUID]*orm.Instance) *orm.Instance {
	if id, ok := element.Get("id").(uuid.UUID); ok {
		return existing[id]
	}
	if len(f.SyncMatch) == 0 {
		return nil
	}
	for _, child := range existing {
		matched := true
		for _, rule := range f.SyncMatch {
			if !element.IsSet(rule.Path) || !equalValues(element.Get(rule.Path), child.Get(rule.Column)) {
				matched = false
				break
			}
		}
		if matched {
			return child
		}
	}
	return nil
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
