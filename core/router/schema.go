// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package router compiles resource declarations into HTTP routes. One
// Schema node declares one resource: its model, its payload descriptors and
// its security requirements. Compilation derives the full field
// enumerations, the filter parameter set and the route handlers; it runs at
// most once per node and a configuration mistake surfaces at startup, never
// on a request.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/relabs-tech/modelbind/core"
	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/notify"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/schema"
	"github.com/relabs-tech/modelbind/core/transfer"
)

// ErrNotSupported is returned when a schema requests multi-create, which is
// deliberately unimplemented
var ErrNotSupported = errors.New("router: create_multi is not supported")

// MethodKind is the scope category of a route
type MethodKind string

// All scope categories
const (
	MethodList      MethodKind = "list"
	MethodGet       MethodKind = "get"
	MethodAggregate MethodKind = "aggregate"
	MethodCreate    MethodKind = "create"
	MethodUpdate    MethodKind = "update"
	MethodReplace   MethodKind = "replace"
	MethodDelete    MethodKind = "delete"
)

func mutating(k MethodKind) bool {
	return k == MethodCreate || k == MethodUpdate || k == MethodReplace || k == MethodDelete
}

// Security resolves the caller's access for a route, given the route's
// resolved scope requirement. The returned access carries the scopes that
// satisfied the requirement.
type Security func(r *http.Request, scopes []string) (*access.Access, error)

// DefaultSecurity reads the access the token middleware stored in the
// request context and checks the scope requirement against the token's
// audiences
func DefaultSecurity(r *http.Request, scopes []string) (*access.Access, error) {
	acc := access.FromContext(r.Context())
	if len(scopes) == 0 {
		return acc, nil
	}
	if acc == nil || acc.Token == nil {
		return nil, apierror.AuthInvalid("token_missing", "authorization required")
	}
	matched := acc.Token.HasAudiences(scopes)
	if len(matched) == 0 {
		return nil, apierror.AuthInvalid("scope_missing", "none of the required scopes granted")
	}
	parsed := make([]access.AccessScope, 0, len(matched))
	for _, s := range matched {
		scope, err := access.ParseScope(s)
		if err != nil {
			continue
		}
		parsed = append(parsed, scope)
	}
	return acc.WithMatchedScopes(parsed), nil
}

// Schema declares one resource node. Nodes form a tree; children are
// mounted under their parent's item path. All declaration fields must be
// filled before the node is mounted, they are read-only afterwards.
type Schema struct {
	// Name is the plural resource name, it becomes the path segment
	Name string
	// Model is the backing model
	Model *orm.Model
	// Read is the response descriptor
	Read *schema.Descriptor
	// Create is the request descriptor for create and full update. Defaults
	// to Read.
	Create *schema.Descriptor
	// Update is the request descriptor for partial updates. Defaults to the
	// optional variant of Create.
	Update *schema.Descriptor
	// CreateMulti requests bulk create, which is not supported and fails
	// the mount
	CreateMulti bool
	// Delete enables the delete route
	Delete bool
	// DeleteStatus, when non-empty, turns delete into a soft delete that
	// writes this value into DeleteColumn. Lists exclude soft-deleted rows
	// unless the request filters on the column explicitly.
	DeleteStatus string
	// DeleteColumn is the column DeleteStatus is written to, default "status"
	DeleteColumn string

	Children []*Schema

	// Security resolves access for this node's routes. Inherited from the
	// nearest ancestor when nil; the default checks token audiences.
	Security Security
	// Scopes are the per-category scope requirements. Categories a node
	// does not declare inherit from the nearest declaring ancestor, where
	// mutating categories also fall back to the ancestor's update scopes.
	Scopes map[MethodKind][]string

	// CacheControl is set as Cache-Control header on read responses
	CacheControl string
	// MaxLimit bounds the list page size, default 100
	MaxLimit int
	// DefaultOrderBy orders lists without an order_by parameter
	DefaultOrderBy []orm.OrderField

	// Validator validates json column payloads that declare a schema id
	Validator *schema.Validator
	// Notifier, when set, receives a notification per successful mutation
	Notifier notify.Notifier

	parent      *Schema
	compileOnce sync.Once
	compileErr  error
	cc          *compiled
}

// compiled is the derived state of a schema node
type compiled struct {
	read   *schema.Descriptor
	create *schema.Descriptor
	update *schema.Descriptor

	maxLimit  int
	sortable  map[string]orm.OrderField
	filters   map[string]filterParam
	aggregate map[string]string
	groupBy   map[string]bool

	scopes   map[MethodKind][]string
	security Security

	ancestors []ancestorRef
}

// ancestorRef wires one ancestor path segment to the column referencing it
type ancestorRef struct {
	param  string
	column string
}

// compile derives the node's state, at most once. Children are linked to
// their parent here; mounting triggers compilation for the whole tree.
func (s *Schema) compile() (*compiled, error) {
	s.compileOnce.Do(func() {
		s.cc, s.compileErr = s.build()
	})
	return s.cc, s.compileErr
}

func (s *Schema) build() (*compiled, error) {
	if s.CreateMulti {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, s.Name)
	}
	if s.Name == "" || s.Model == nil || s.Read == nil {
		return nil, fmt.Errorf("schema node needs name, model and read descriptor")
	}

	cc := &compiled{
		read:     schema.Referenced(s.Read),
		maxLimit: s.MaxLimit,
		scopes:   make(map[MethodKind][]string),
	}
	if cc.maxLimit <= 0 {
		cc.maxLimit = 100
	}
	cc.create = s.Create
	if cc.create == nil {
		cc.create = s.Read
	}
	cc.update = s.Update
	if cc.update == nil {
		cc.update = schema.ToOptional(cc.create)
	}

	// a binding mistake in any descriptor fails the mount
	for _, desc := range []*schema.Descriptor{s.Read, cc.create, cc.update} {
		if err := transfer.Validate(desc, s.Model); err != nil {
			return nil, err
		}
	}

	s.enumerateFields(cc)

	for _, k := range []MethodKind{MethodList, MethodGet, MethodAggregate, MethodCreate, MethodUpdate, MethodReplace, MethodDelete} {
		cc.scopes[k] = s.resolveScopes(k)
	}
	cc.security = s.resolveSecurity()

	// every ancestor level is constrained, the grandparent levels through
	// the relation path of the reference chain
	chain := ""
	for node := s; node.parent != nil; node = node.parent {
		column := referenceColumn(node.Model, node.parent.Model)
		if column == "" {
			return nil, fmt.Errorf("schema %s: model %s has no column referencing parent %s",
				s.Name, node.Model.Name, node.parent.Model.Name)
		}
		if chain == "" {
			chain = column
		} else {
			chain = chain + "__" + column
		}
		cc.ancestors = append(cc.ancestors, ancestorRef{param: core.Singular(node.parent.Name) + "_id", column: chain})
	}

	for _, child := range s.Children {
		child.parent = s
		if _, err := child.compile(); err != nil {
			return nil, err
		}
	}
	return cc, nil
}

// referenceColumn finds the foreign key column of m pointing at parent
func referenceColumn(m *orm.Model, parent *orm.Model) string {
	for i := range m.Columns {
		if m.Columns[i].References == parent {
			return m.Columns[i].Name
		}
	}
	return ""
}

func (s *Schema) resolveScopes(k MethodKind) []string {
	for node := s; node != nil; node = node.parent {
		if scopes := node.Scopes[k]; len(scopes) > 0 {
			return scopes
		}
		if node != s && mutating(k) {
			if scopes := node.Scopes[MethodUpdate]; len(scopes) > 0 {
				return scopes
			}
		}
	}
	return nil
}

func (s *Schema) resolveSecurity() Security {
	for node := s; node != nil; node = node.parent {
		if node.Security != nil {
			return node.Security
		}
	}
	return DefaultSecurity
}

// deleteColumn returns the soft delete column, default "status"
func (s *Schema) deleteColumn() string {
	if s.DeleteColumn != "" {
		return s.DeleteColumn
	}
	return "status"
}

// path returns the collection path of the node including all ancestor
// segments
func (s *Schema) path() string {
	if s.parent == nil {
		return "/" + s.Name
	}
	return s.parent.itemPath() + "/" + s.Name
}

// itemPath returns the single item path of the node
func (s *Schema) itemPath() string {
	return s.path() + "/{" + core.Singular(s.Name) + "_id}"
}
