// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package router

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/modelbind/core"
	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/logger"
	"github.com/relabs-tech/modelbind/core/notify"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/query"
	"github.com/relabs-tech/modelbind/core/schema"
	"github.com/relabs-tech/modelbind/core/transfer"
)

// mount registers the node's routes and those of its children
func (s *Schema) mount(r *mux.Router, store orm.Store) error {
	cc, err := s.compile()
	if err != nil {
		return err
	}

	collection := s.path()
	item := s.itemPath()

	r.HandleFunc(collection+"/aggregate/{function}/{field}", s.aggregateHandler(store, cc)).Methods(http.MethodGet)
	r.HandleFunc(collection, s.listHandler(store, cc)).Methods(http.MethodGet)
	r.HandleFunc(collection, s.createHandler(store, cc)).Methods(http.MethodPost)
	r.HandleFunc(item, s.getHandler(store, cc)).Methods(http.MethodGet)
	r.HandleFunc(item, s.updateHandler(store, cc)).Methods(http.MethodPatch)
	r.HandleFunc(item, s.replaceHandler(store, cc)).Methods(http.MethodPut)
	if s.Delete {
		r.HandleFunc(item, s.deleteHandler(store, cc)).Methods(http.MethodDelete)
	}

	for _, child := range s.Children {
		if err := child.mount(r, store); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, orm.ErrNotFound) {
		apierror.Write(w, apierror.NotFound(core.Singular(s.Name)))
		return
	}
	apiErr := apierror.FromError(err)
	if apiErr.Status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 4711: %s %s failed", r.Method, r.URL.Path)
	}
	apierror.Write(w, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// baseConds builds the conditions every request of this node carries: the
// parent path id and, for tenant models, the caller's tenant
func (s *Schema) baseConds(r *http.Request, cc *compiled, acc *access.Access) ([]orm.Cond, error) {
	var conds []orm.Cond
	vars := mux.Vars(r)
	for _, ancestor := range cc.ancestors {
		id, err := uuid.Parse(vars[ancestor.param])
		if err != nil {
			return nil, apierror.Validation("id_invalid", "path", ancestor.param)
		}
		conds = append(conds, orm.Cond{Column: ancestor.column, Op: orm.OpEq, Value: id})
	}
	if s.Model.HasTenant() && acc != nil && acc.TenantID() != uuid.Nil {
		conds = append(conds, orm.Cond{Column: "tenant_id", Op: orm.OpEq, Value: acc.TenantID()})
	}
	return conds, nil
}

// checkBodyID rejects a body-supplied primary key that differs from the
// addressed row. The body must not redirect the write onto a row the path
// conditions never checked.
func (s *Schema) checkBodyID(desc *schema.Descriptor, v *schema.Value, id uuid.UUID) error {
	pk := s.Model.PrimaryKey().Name
	for idx := range desc.Fields {
		f := &desc.Fields[idx]
		if f.Binding.Kind != schema.BindColumn || f.Binding.Column != pk || !v.IsSet(f.Name) {
			continue
		}
		raw := v.Get(f.Name)
		if raw == nil {
			continue
		}
		bodyID, ok := raw.(uuid.UUID)
		if !ok || bodyID != id {
			return apierror.Validation("id_mismatch", "body", f.Name)
		}
	}
	return nil
}

// itemID parses the node's own path id
func (s *Schema) itemID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[core.Singular(s.Name)+"_id"])
	if err != nil {
		return uuid.Nil, apierror.Validation("id_invalid", "path", core.Singular(s.Name)+"_id")
	}
	return id, nil
}

// loadItem loads the addressed row, honoring ancestor and tenant conditions
func (s *Schema) loadItem(r *http.Request, cc *compiled, store orm.Store, acc *access.Access) (*orm.Instance, error) {
	id, err := s.itemID(r)
	if err != nil {
		return nil, err
	}
	conds, err := s.baseConds(r, cc, acc)
	if err != nil {
		return nil, err
	}
	conds = append(conds, orm.Cond{Column: s.Model.PrimaryKey().Name, Op: orm.OpEq, Value: id})
	return store.First(r.Context(), s.Model, conds)
}

func (s *Schema) setCacheControl(w http.ResponseWriter) {
	if s.CacheControl != "" {
		w.Header().Set("Cache-Control", s.CacheControl)
	}
}

func (s *Schema) emit(r *http.Request, op core.Operation, id uuid.UUID, payload interface{}) {
	if s.Notifier == nil {
		return
	}
	// delivery failure is logged by the notifier, the request outcome does
	// not depend on it
	s.Notifier.Notify(r.Context(), notify.Notification{
		Resource:  s.Name,
		Operation: op,
		ID:        id.String(),
		Payload:   payload,
	})
}

func (s *Schema) listHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodList])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		conds, err := s.baseConds(r, cc, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filters, err := cc.parseFilters(r.URL.Query())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		conds = append(conds, filters...)

		// soft-deleted rows stay invisible unless the request asks for the
		// delete column explicitly
		if s.DeleteStatus != "" && !filtersColumn(filters, s.deleteColumn()) {
			conds = append(conds, orm.Cond{Column: s.deleteColumn(), Op: orm.OpEq, Value: s.DeleteStatus, Not: true})
		}

		p, err := query.ParsePagination(r.URL.Query(), cc.maxLimit, cc.sortable)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(p.Order) == 0 {
			p.Order = s.DefaultOrderBy
		}

		q := orm.Query{Conds: conds, Distinct: needsDistinct(conds)}
		p.Apply(&q)

		instances, err := store.List(r.Context(), s.Model, q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		total, err := store.Count(r.Context(), s.Model, conds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		items := make([]*schema.Value, 0, len(instances))
		for _, i := range instances {
			item, err := transfer.FromModel(r.Context(), store, cc.read, i, transfer.Options{Access: acc})
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			items = append(items, item)
		}

		response := schema.NewValue(schema.ListOf(cc.read))
		response.Set("items", items)
		response.Set("count", int64(total))
		s.setCacheControl(w)
		writeJSON(w, http.StatusOK, response)
	}
}

func (s *Schema) getHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodGet])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		i, err := s.loadItem(r, cc, store, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		response, err := transfer.FromModel(r.Context(), store, cc.read, i, transfer.Options{Access: acc})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.setCacheControl(w)
		writeJSON(w, http.StatusOK, response)
	}
}

func (s *Schema) createHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodCreate])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		v, err := schema.ParseValue(cc.create, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := v.ValidateRequired(); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.validateJSONColumns(cc.create, v, []string{"body"}); err != nil {
			s.writeError(w, r, err)
			return
		}

		// the parent row must be reachable under its own ancestor and tenant
		// conditions before anything is created beneath it
		if s.parent != nil {
			pcc, err := s.parent.compile()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if _, err := s.parent.loadItem(r, pcc, store, acc); err != nil {
				s.parent.writeError(w, r, err)
				return
			}
		}

		i := orm.New(s.Model)
		conds, err := s.baseConds(r, cc, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		// only direct columns are seeded, grandparent conditions travel a
		// relation path and are enforced by the parent's own foreign key
		for _, cond := range conds {
			if s.Model.Column(cond.Column) != nil {
				i.Set(cond.Column, cond.Value)
			}
		}

		err = transfer.ToModel(r.Context(), store, v, i, transfer.ActionCreate, transfer.Options{Access: acc})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		response, err := transfer.FromModel(r.Context(), store, cc.read, i, transfer.Options{Access: acc})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.emit(r, core.OperationCreate, i.ID(), response)
		writeJSON(w, http.StatusCreated, response)
	}
}

func (s *Schema) updateHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodUpdate])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		v, err := schema.ParseValue(cc.update, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.validateJSONColumns(cc.update, v, []string{"body"}); err != nil {
			s.writeError(w, r, err)
			return
		}
		i, err := s.loadItem(r, cc, store, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.checkBodyID(cc.update, v, i.ID()); err != nil {
			s.writeError(w, r, err)
			return
		}

		// partial updates touch scalar and same-row fields only
		err = transfer.ToModel(r.Context(), store, v, i, transfer.ActionNoSubobjects,
			transfer.Options{Access: acc, ExcludeUnset: true})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		response, err := transfer.FromModel(r.Context(), store, cc.read, i, transfer.Options{Access: acc})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.emit(r, core.OperationUpdate, i.ID(), response)
		writeJSON(w, http.StatusOK, response)
	}
}

func (s *Schema) replaceHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodReplace])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		v, err := schema.ParseValue(cc.create, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := v.ValidateRequired(); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.validateJSONColumns(cc.create, v, []string{"body"}); err != nil {
			s.writeError(w, r, err)
			return
		}
		i, err := s.loadItem(r, cc, store, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.checkBodyID(cc.create, v, i.ID()); err != nil {
			s.writeError(w, r, err)
			return
		}

		err = transfer.ToModel(r.Context(), store, v, i, transfer.ActionSync, transfer.Options{Access: acc})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		response, err := transfer.FromModel(r.Context(), store, cc.read, i, transfer.Options{Access: acc})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.emit(r, core.OperationUpdate, i.ID(), response)
		writeJSON(w, http.StatusOK, response)
	}
}

func (s *Schema) deleteHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodDelete])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		i, err := s.loadItem(r, cc, store, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		tx, err := store.Begin(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if s.DeleteStatus != "" {
			i.Set(s.deleteColumn(), s.DeleteStatus)
			err = tx.Save(r.Context(), i)
		} else {
			err = tx.Delete(r.Context(), s.Model, i.ID())
		}
		if err != nil {
			tx.Rollback()
			s.writeError(w, r, err)
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeError(w, r, err)
			return
		}

		s.emit(r, core.OperationDelete, i.ID(), nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Schema) aggregateHandler(store orm.Store, cc *compiled) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := cc.security(r, cc.scopes[MethodAggregate])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		vars := mux.Vars(r)
		function, err := query.ParseFunction(vars["function"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		field, ok := cc.aggregate[vars["field"]]
		if !ok {
			s.writeError(w, r, apierror.Validation("aggregation_field_invalid", "path", "field"))
			return
		}

		var groupBy []string
		for _, raw := range r.URL.Query()["group_by"] {
			for _, name := range strings.Split(raw, ",") {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				if !cc.groupBy[name] {
					s.writeError(w, r, apierror.Validation("group_by_invalid", "query", "group_by"))
					return
				}
				groupBy = append(groupBy, name)
			}
		}
		distinct := false
		if raw := r.URL.Query().Get("distinct"); raw != "" {
			distinct, err = strconv.ParseBool(raw)
			if err != nil {
				s.writeError(w, r, apierror.Validation("distinct_invalid", "query", "distinct"))
				return
			}
		}

		conds, err := s.baseConds(r, cc, acc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filters, err := cc.parseFilters(r.URL.Query())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		conds = append(conds, filters...)

		rows, err := query.Aggregate(r.Context(), store, s.Model, conds, orm.AggregateSpec{
			Function: function,
			Field:    field,
			GroupBy:  groupBy,
			Distinct: distinct,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.setCacheControl(w)
		writeJSON(w, http.StatusOK, rows)
	}
}

// validateJSONColumns checks json fields that declare a schema id against
// the registered JSON schemas
func (s *Schema) validateJSONColumns(desc *schema.Descriptor, v *schema.Value, loc []string) error {
	if s.Validator == nil {
		return nil
	}
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if !v.IsSet(f.Name) || v.Get(f.Name) == nil {
			continue
		}
		fieldLoc := append(append([]string{}, loc...), f.Name)
		if f.SchemaID != "" && f.Type == schema.TypeJSON {
			if err := s.Validator.ValidateStruct(v.Get(f.Name), f.SchemaID); err != nil {
				return apierror.Validation("json_schema_invalid", fieldLoc...)
			}
			continue
		}
		switch nested := v.Get(f.Name).(type) {
		case *schema.Value:
			if err := s.validateJSONColumns(nested.Descriptor(), nested, fieldLoc); err != nil {
				return err
			}
		case []*schema.Value:
			for j, element := range nested {
				elementLoc := append(append([]string{}, fieldLoc...), strconv.Itoa(j))
				if err := s.validateJSONColumns(element.Descriptor(), element, elementLoc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func filtersColumn(conds []orm.Cond, column string) bool {
	for _, cond := range conds {
		if cond.Column == column {
			return true
		}
	}
	return false
}
