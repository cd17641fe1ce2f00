// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package orm

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no row matches an identifier or filter
var ErrNotFound = errors.New("not found")

// ErrUndefinedFunction is returned when the backing engine does not define
// the requested aggregation function for the field's type. The query layer
// surfaces it as a request validation failure.
var ErrUndefinedFunction = errors.New("aggregation function undefined for field")

// Reader is the read access to a store
type Reader interface {
	// Get loads one row by primary key
	Get(ctx context.Context, m *Model, id uuid.UUID) (*Instance, error)
	// First returns the first row matching the conditions, or ErrNotFound
	First(ctx context.Context, m *Model, conds []Cond) (*Instance, error)
	// List returns the rows matching the query, filter then order then
	// distinct then window
	List(ctx context.Context, m *Model, q Query) ([]*Instance, error)
	// Count returns the number of rows matching the conditions
	Count(ctx context.Context, m *Model, conds []Cond) (int, error)
	// ListRelated returns the related rows of a to-many relation. For a
	// many-to-many relation these are the target rows, joined through the
	// association model.
	ListRelated(ctx context.Context, rel *Relation, ownerID uuid.UUID, conds []Cond) ([]*Instance, error)
	// ListAssociations returns the association rows of a many-to-many
	// relation, or the child rows of a reverse relation. The diffing in the
	// transfer engine reconciles against these.
	ListAssociations(ctx context.Context, rel *Relation, ownerID uuid.UUID) ([]*Instance, error)
	// Aggregate computes an aggregation over the rows matching the
	// conditions
	Aggregate(ctx context.Context, m *Model, conds []Cond, spec AggregateSpec) ([]AggregateRow, error)
}

// Tx is a transaction. All mutations go through transactions; a transaction
// either commits entirely or leaves no trace.
type Tx interface {
	Reader
	// Save inserts the instance if it does not exist yet, otherwise updates
	Save(ctx context.Context, i *Instance) error
	// Delete removes one row by primary key
	Delete(ctx context.Context, m *Model, id uuid.UUID) error
	Commit() error
	Rollback() error
}

// Store is a row store
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
}
