// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package orm declares the persistence contracts the transfer engine and the
// router work against. A Model describes a table with its columns and
// relations; an Instance is one row of a model; Store and Tx give access to
// rows. Concrete stores live in the sqlstore and memstore subpackages.
package orm

import (
	"fmt"

	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/schema"
)

// Column describes one column of a model
type Column struct {
	Name     string
	Type     schema.FieldType
	Nullable bool
	Choices  []string

	// PrimaryKey marks the identifier column. Every model has exactly one,
	// of type uuid.
	PrimaryKey bool

	// References points to the model a foreign key column refers to
	References *Model

	// SchemaID names the JSON schema validating this json column's payload
	SchemaID string
}

// RelationKind distinguishes the two to-many relation shapes
type RelationKind int

const (
	// ManyToMany relates rows through an association model
	ManyToMany RelationKind = iota
	// ReverseOneToMany relates child rows that reference this model by
	// foreign key
	ReverseOneToMany
)

// Relation describes a to-many relation of a model.
//
// For ManyToMany, Model is the association model, SourceColumn its foreign
// key to the owning row and TargetColumn its foreign key to the target row.
// For ReverseOneToMany, Model is the child model and SourceColumn its
// foreign key to the owning row.
type Relation struct {
	Name         string
	Kind         RelationKind
	Model        *Model
	SourceColumn string
	TargetColumn string
}

// Model describes a table
type Model struct {
	Name    string
	Table   string
	Columns []Column

	Relations []Relation

	// Getters and Setters back method-bound schema fields
	Getters map[string]func(*Instance) (interface{}, error)
	Setters map[string]func(*Instance, interface{}) error

	// AccessCheck is an optional selector-aware row check. A non-nil error
	// denies the caller access to the row for the given selector.
	AccessCheck func(*Instance, *access.Access, string) error
}

// Column returns the named column, or nil
func (m *Model) Column(name string) *Column {
	for i := range m.Columns {
		if m.Columns[i].Name == name {
			return &m.Columns[i]
		}
	}
	return nil
}

// PrimaryKey returns the primary key column
func (m *Model) PrimaryKey() *Column {
	for i := range m.Columns {
		if m.Columns[i].PrimaryKey {
			return &m.Columns[i]
		}
	}
	panic(fmt.Sprintf("model %s has no primary key", m.Name))
}

// Relation returns the named relation, or nil
func (m *Model) Relation(name string) *Relation {
	for i := range m.Relations {
		if m.Relations[i].Name == name {
			return &m.Relations[i]
		}
	}
	return nil
}

// HasTenant reports whether the model carries a tenant_id column. Such
// models are automatically filtered by the caller's tenant.
func (m *Model) HasTenant() bool {
	return m.Column("tenant_id") != nil
}
