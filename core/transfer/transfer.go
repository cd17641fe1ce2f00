// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package transfer moves data between payload values and model instances,
// in both directions. The write direction reconciles to-many relations
// against their persisted state and defers all persistence to one
// transaction at the top-level call; the read direction builds response
// payloads including silent redaction of fields the caller may not see.
package transfer

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/schema"
)

// Action governs how to-many relations are reconciled on write
type Action int

const (
	// ActionNone means no policy was chosen. Writing subobjects without a
	// policy fails with ErrMissingAction.
	ActionNone Action = iota
	// ActionCreate always inserts subobjects
	ActionCreate
	// ActionSync reconciles: update matching, insert missing, delete removed
	ActionSync
	// ActionNoSubobjects mutates only scalar and same-row fields, to-many
	// relations are left untouched
	ActionNoSubobjects
)

// ErrMissingAction is returned when a write carries subobjects but no
// reconciliation action was specified. This guards against silent data loss
// from an undefined diff policy.
var ErrMissingAction = errors.New("transfer: subobjects present but no action specified")

// ErrMissingBinding is wrapped by Validate for fields without any declared
// binding. Detected when the router compiles, never per request.
var ErrMissingBinding = errors.New("transfer: field has no binding")

// Options carries the optional parameters of a transfer
type Options struct {
	// Access is the caller's access. On write it triggers the field access
	// check before any mutation; on read it drives scope redaction. Nil
	// means an internal call with full access.
	Access *access.Access
	// ExcludeUnset restricts the write to fields the caller explicitly set
	ExcludeUnset bool
	// RelationFilters filters the rows read for a to-many relation, keyed
	// by relation name. Passed down recursively.
	RelationFilters map[string][]orm.Cond
}

// Validate checks that every field of the descriptor has a usable binding on
// the model. Called once when the router compiles a resource, so a
// misconfigured descriptor fails startup instead of the first request.
func Validate(desc *schema.Descriptor, m *orm.Model) error {
	for i := range desc.Fields {
		f := &desc.Fields[i]
		switch f.Binding.Kind {
		case schema.BindNone:
			return fmt.Errorf("%w: %s.%s", ErrMissingBinding, desc.Name, f.Name)
		case schema.BindExcluded:
		case schema.BindColumn:
			if m.Column(f.Binding.Column) == nil {
				return fmt.Errorf("descriptor %s: field %s bound to unknown column %s of %s",
					desc.Name, f.Name, f.Binding.Column, m.Name)
			}
		case schema.BindMethod:
			if m.Getters[f.Binding.Method] == nil && m.Setters[f.Binding.Method] == nil {
				return fmt.Errorf("descriptor %s: field %s bound to unknown method %s of %s",
					desc.Name, f.Name, f.Binding.Method, m.Name)
			}
		case schema.BindSameRow:
			if f.Nested == nil {
				return fmt.Errorf("descriptor %s: same-row field %s has no nested descriptor", desc.Name, f.Name)
			}
			if err := Validate(f.Nested, m); err != nil {
				return err
			}
		case schema.BindManyToMany, schema.BindReverse:
			rel := m.Relation(f.Binding.Relation)
			if rel == nil {
				return fmt.Errorf("descriptor %s: field %s bound to unknown relation %s of %s",
					desc.Name, f.Name, f.Binding.Relation, m.Name)
			}
			if f.Nested == nil {
				return fmt.Errorf("descriptor %s: relation field %s has no nested descriptor", desc.Name, f.Name)
			}
			related, err := relatedModel(rel)
			if err != nil {
				return fmt.Errorf("descriptor %s: field %s: %v", desc.Name, f.Name, err)
			}
			if err := Validate(f.Nested, related); err != nil {
				return err
			}
		}
	}
	return nil
}

// relatedModel resolves the model whose rows a relation field carries: the
// child model for a reverse relation, the target model for many-to-many
func relatedModel(rel *orm.Relation) (*orm.Model, error) {
	if rel.Kind == orm.ReverseOneToMany {
		return rel.Model, nil
	}
	c := rel.Model.Column(rel.TargetColumn)
	if c == nil || c.References == nil {
		return nil, fmt.Errorf("relation %s has no resolvable target", rel.Name)
	}
	return c.References, nil
}
