// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema provides the descriptor representation for request and
// response payloads. A Descriptor declares the fields of a payload, how each
// field binds to the persistence model, and which scopes a caller needs to
// read or write it. Descriptors are built once at startup and never modified
// afterwards; derived variants are produced by the builder functions in this
// package.
package schema

import "fmt"

// FieldType is the declared type of a schema field
type FieldType string

// All supported field types
const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "integer"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "boolean"
	TypeTime   FieldType = "timestamp"
	TypeDate   FieldType = "date"
	TypeUUID   FieldType = "uuid"
	TypeJSON   FieldType = "json"
)

// BindingKind says how a schema field maps to the persistence model
type BindingKind int

// All supported binding kinds. BindNone is the zero value and means the
// binding was never declared; descriptors with BindNone fields are rejected
// when the router compiles.
const (
	BindNone BindingKind = iota
	// BindColumn maps the field to a model column
	BindColumn
	// BindMethod maps the field to a getter/setter pair on the model
	BindMethod
	// BindSameRow maps a nested singleton onto columns of the same row
	BindSameRow
	// BindManyToMany maps a list field to a many-to-many relation
	BindManyToMany
	// BindReverse maps a list field to a reverse one-to-many relation
	BindReverse
	// BindExcluded marks the field as deliberately unbound, it is skipped
	// in both transfer directions
	BindExcluded
)

// Binding is the model binding of a single schema field
type Binding struct {
	Kind     BindingKind
	Column   string // BindColumn
	Method   string // BindMethod, key into the model's getter/setter maps
	Relation string // BindManyToMany and BindReverse, relation name on the model
}

// MatchRule matches an incoming list element to an existing related row by a
// natural key instead of its identifier. Path addresses a field of the
// element, Column the model column it must equal.
type MatchRule struct {
	Path   string
	Column string
}

// Field is one declared field of a payload descriptor
type Field struct {
	Name     string
	Type     FieldType
	List     bool
	Nullable bool
	Required bool

	// Default is the declared default value. HasDefault distinguishes an
	// explicit nil default from no default at all.
	Default    interface{}
	HasDefault bool

	// Choices restricts a string field to a fixed value set
	Choices []string

	// Nested is the element descriptor for nested objects and object lists
	Nested *Descriptor

	Binding Binding

	// Scopes are the dotted scope strings required to touch this field. The
	// scope's action decides whether it guards reading or writing.
	Scopes []string
	// Critical requires the caller's token to carry the critical flag
	Critical bool
	// Secret values are unwrapped to plaintext before the setter is called
	Secret bool

	// SyncMatch declares natural-key matching rules for reverse relations
	SyncMatch []MatchRule

	// SchemaID names a registered JSON schema that validates the payload of
	// a json field on write
	SchemaID string

	// ByReference emits only the identifiers of a related collection instead
	// of the full objects. Set by the Referenced variant builder.
	ByReference bool
}

// IsRelation is true for fields bound to a to-many relation
func (f *Field) IsRelation() bool {
	return f.Binding.Kind == BindManyToMany || f.Binding.Kind == BindReverse
}

// Descriptor declares the shape of a payload
type Descriptor struct {
	Name   string
	Fields []Field
}

// Field returns the named field, or nil
func (d *Descriptor) Field(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// MustField returns the named field and panics if it does not exist. For
// static wiring at startup.
func (d *Descriptor) MustField(name string) *Field {
	f := d.Field(name)
	if f == nil {
		panic(fmt.Sprintf("descriptor %s has no field %s", d.Name, name))
	}
	return f
}
