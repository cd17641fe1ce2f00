// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package orm

import "github.com/google/uuid"

// Instance is one row of a model. New instances get their identifier
// assigned on the client, so the transfer engine can wire foreign keys of an
// object graph before anything is persisted.
type Instance struct {
	model  *Model
	values map[string]interface{}
	exists bool
}

// New creates a fresh instance with a generated identifier
func New(m *Model) *Instance {
	i := &Instance{model: m, values: make(map[string]interface{})}
	i.values[m.PrimaryKey().Name] = uuid.New()
	return i
}

// Existing wraps persisted row values into an instance. Stores use this when
// loading rows.
func Existing(m *Model, values map[string]interface{}) *Instance {
	return &Instance{model: m, values: values, exists: true}
}

// Model returns the model this instance belongs to
func (i *Instance) Model() *Model {
	return i.model
}

// ID returns the primary key value
func (i *Instance) ID() uuid.UUID {
	id, _ := i.values[i.model.PrimaryKey().Name].(uuid.UUID)
	return id
}

// Get returns a column value
func (i *Instance) Get(column string) interface{} {
	return i.values[column]
}

// Set sets a column value
func (i *Instance) Set(column string, value interface{}) {
	i.values[column] = value
}

// Exists reports whether the instance was loaded from or saved to a store
func (i *Instance) Exists() bool {
	return i.exists
}

// MarkExists flags the instance as persisted. Stores call this after a save.
func (i *Instance) MarkExists() {
	i.exists = true
}

// Values returns the column values. The map is shared, callers must not
// modify it.
func (i *Instance) Values() map[string]interface{} {
	return i.values
}
