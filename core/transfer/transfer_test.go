// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/orm"
	"github.com/relabs-tech/modelbind/core/orm/memstore"
	"github.com/relabs-tech/modelbind/core/schema"
)

var orderModel = &orm.Model{
	Name:  "order",
	Table: "order_",
	Columns: []orm.Column{
		{Name: "id", Type: schema.TypeUUID, PrimaryKey: true},
		{Name: "status", Type: schema.TypeString},
		{Name: "total", Type: schema.TypeFloat, Nullable: true},
		{Name: "sealed", Type: schema.TypeBool, Nullable: true},
		{Name: "carrier", Type: schema.TypeString, Nullable: true},
	},
}

var lineModel = &orm.Model{
	Name:  "line",
	Table: "line_",
	Columns: []orm.Column{
		{Name: "id", Type: schema.TypeUUID, PrimaryKey: true},
		{Name: "order_id", Type: schema.TypeUUID, References: orderModel},
		{Name: "sku", Type: schema.TypeString},
		{Name: "qty", Type: schema.TypeInt},
	},
}

var tagModel = &orm.Model{
	Name:  "tag",
	Table: "tag_",
	Columns: []orm.Column{
		{Name: "id", Type: schema.TypeUUID, PrimaryKey: true},
		{Name: "name", Type: schema.TypeString},
	},
}

var orderTagModel = &orm.Model{
	Name:  "order_tag",
	Table: "order_tag_",
	Columns: []orm.Column{
		{Name: "id", Type: schema.TypeUUID, PrimaryKey: true},
		{Name: "order_id", Type: schema.TypeUUID, References: orderModel},
		{Name: "tag_id", Type: schema.TypeUUID, References: tagModel},
	},
}

func init() {
	orderModel.Relations = []orm.Relation{
		{Name: "lines", Kind: orm.ReverseOneToMany, Model: lineModel, SourceColumn: "order_id"},
		{Name: "tags", Kind: orm.ManyToMany, Model: orderTagModel, SourceColumn: "order_id", TargetColumn: "tag_id"},
	}
}

var lineDesc = &schema.Descriptor{
	Name: "line",
	Fields: []schema.Field{
		{Name: "id", Type: schema.TypeUUID, Binding: schema.Binding{Kind: schema.BindColumn, Column: "id"}},
		{Name: "sku", Type: schema.TypeString, Required: true, Binding: schema.Binding{Kind: schema.BindColumn, Column: "sku"}},
		{Name: "qty", Type: schema.TypeInt, Binding: schema.Binding{Kind: schema.BindColumn, Column: "qty"}},
	},
}

var tagRefDesc = &schema.Descriptor{
	Name: "tag",
	Fields: []schema.Field{
		{Name: "id", Type: schema.TypeUUID, Required: true, Binding: schema.Binding{Kind: schema.BindColumn, Column: "id"}},
	},
}

var shippingDesc = &schema.Descriptor{
	Name: "shipping",
	Fields: []schema.Field{
		{Name: "carrier", Type: schema.TypeString, Default: "NONE", HasDefault: true, Binding: schema.Binding{Kind: schema.BindColumn, Column: "carrier"}},
	},
}

var orderDesc = &schema.Descriptor{
	Name: "order",
	Fields: []schema.Field{
		{Name: "id", Type: schema.TypeUUID, Binding: schema.Binding{Kind: schema.BindColumn, Column: "id"}},
		{Name: "status", Type: schema.TypeString,
			Scopes:  []string{"orders.status.update"},
			Binding: schema.Binding{Kind: schema.BindColumn, Column: "status"}},
		{Name: "total", Type: schema.TypeFloat, Nullable: true,
			Scopes:  []string{"orders.total.read"},
			Binding: schema.Binding{Kind: schema.BindColumn, Column: "total"}},
		{Name: "sealed", Type: schema.TypeBool, Nullable: true, Critical: true,
			Binding: schema.Binding{Kind: schema.BindColumn, Column: "sealed"}},
		{Name: "shipping", Nullable: true, Nested: shippingDesc,
			Binding: schema.Binding{Kind: schema.BindSameRow}},
		{Name: "lines", List: true, Nested: lineDesc,
			SyncMatch: []schema.MatchRule{{Path: "sku", Column: "sku"}},
			Binding:   schema.Binding{Kind: schema.BindReverse, Relation: "lines"}},
		{Name: "tags", List: true, Nested: tagRefDesc,
			Binding: schema.Binding{Kind: schema.BindManyToMany, Relation: "tags"}},
	},
}

func accessWith(critical bool, audiences ...string) *access.Access {
	return &access.Access{Token: &access.Token{
		UserID:    "somebody",
		Audiences: audiences,
		Critical:  critical,
	}}
}

func orderValue(status string) *schema.Value {
	v := schema.NewValue(orderDesc)
	v.Set("status", status)
	return v
}

func lineValue(sku string, qty int64) *schema.Value {
	v := schema.NewValue(lineDesc)
	v.Set("sku", sku)
	v.Set("qty", qty)
	return v
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(orderDesc, orderModel))

	unbound := &schema.Descriptor{
		Name:   "broken",
		Fields: []schema.Field{{Name: "oops", Type: schema.TypeString}},
	}
	require.ErrorIs(t, Validate(unbound, orderModel), ErrMissingBinding)

	wrongColumn := &schema.Descriptor{
		Name: "broken",
		Fields: []schema.Field{
			{Name: "oops", Type: schema.TypeString, Binding: schema.Binding{Kind: schema.BindColumn, Column: "no_such_column"}},
		},
	}
	require.Error(t, Validate(wrongColumn, orderModel))

	wrongRelation := &schema.Descriptor{
		Name: "broken",
		Fields: []schema.Field{
			{Name: "oops", List: true, Nested: lineDesc, Binding: schema.Binding{Kind: schema.BindReverse, Relation: "no_such_relation"}},
		},
	}
	require.Error(t, Validate(wrongRelation, orderModel))

	// nested descriptors of many-to-many fields are validated against the
	// target model too
	unboundTag := &schema.Descriptor{
		Name:   "tag",
		Fields: []schema.Field{{Name: "label", Type: schema.TypeString}},
	}
	unboundManyToMany := &schema.Descriptor{
		Name: "broken",
		Fields: []schema.Field{
			{Name: "tags", List: true, Nested: unboundTag, Binding: schema.Binding{Kind: schema.BindManyToMany, Relation: "tags"}},
		},
	}
	require.ErrorIs(t, Validate(unboundManyToMany, orderModel), ErrMissingBinding)
}

func TestCheckFieldAccessSkipsUnsetFields(t *testing.T) {
	v := schema.NewValue(orderDesc)
	v.Set("total", 12.5)
	// status carries a write scope and sealed is critical, but neither is
	// set, so an access without any privilege passes
	require.NoError(t, CheckFieldAccess(v, accessWith(false)))
}

func TestCheckFieldAccessScopedField(t *testing.T) {
	v := orderValue("SHIPPED")

	err := CheckFieldAccess(v, accessWith(false))
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "access_error.field", apiErr.Code)
	location, ok := apiErr.Detail.(apierror.Location)
	require.True(t, ok)
	assert.Equal(t, []string{"body", "status"}, location.Loc)

	require.NoError(t, CheckFieldAccess(v, accessWith(false, "orders.status.update")))
}

func TestCheckFieldAccessCriticalField(t *testing.T) {
	v := schema.NewValue(orderDesc)
	v.Set("sealed", true)

	err := CheckFieldAccess(v, accessWith(false))
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "access_error.field_is_critical", apiErr.Code)

	require.NoError(t, CheckFieldAccess(v, accessWith(true)))
}

func TestCheckFieldAccessNestedElements(t *testing.T) {
	nested := &schema.Descriptor{
		Name: "line",
		Fields: []schema.Field{
			{Name: "qty", Type: schema.TypeInt,
				Scopes:  []string{"orders.qty.update"},
				Binding: schema.Binding{Kind: schema.BindColumn, Column: "qty"}},
		},
	}
	desc := &schema.Descriptor{
		Name: "order",
		Fields: []schema.Field{
			{Name: "lines", List: true, Nested: nested, Binding: schema.Binding{Kind: schema.BindReverse, Relation: "lines"}},
		},
	}
	element := schema.NewValue(nested)
	element.Set("qty", int64(3))
	v := schema.NewValue(desc)
	v.Set("lines", []*schema.Value{element})

	err := CheckFieldAccess(v, accessWith(false))
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	location, ok := apiErr.Detail.(apierror.Location)
	require.True(t, ok)
	assert.Equal(t, []string{"body", "lines", "0", "qty"}, location.Loc)
}

func TestToModelCreateWithSubobjects(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1), lineValue("B", 2)})

	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	assert.Equal(t, "PENDING", stored.Get("status"))

	lines, err := store.ListRelated(ctx, orderModel.Relation("lines"), order.ID(), nil)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, order.ID(), line.Get("order_id"))
	}
}

func TestToModelMissingAction(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1)})

	err := ToModel(ctx, store, v, orm.New(orderModel), ActionNone, Options{})
	require.ErrorIs(t, err, ErrMissingAction)

	count, err := store.Count(ctx, orderModel, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestToModelNoSubobjectsLeavesRelationsAlone(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1)})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	update := schema.NewValue(orderDesc)
	update.Set("status", "SHIPPED")
	update.Set("lines", []*schema.Value{})
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	require.NoError(t, ToModel(ctx, store, update, stored, ActionNoSubobjects, Options{}))

	lines, err := store.ListRelated(ctx, orderModel.Relation("lines"), order.ID(), nil)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	stored, err = store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	assert.Equal(t, "SHIPPED", stored.Get("status"))
}

func TestToModelSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rel := orderModel.Relation("lines")

	payload := func() *schema.Value {
		v := orderValue("PENDING")
		v.Set("lines", []*schema.Value{lineValue("A", 1), lineValue("B", 2)})
		return v
	}

	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, payload(), order, ActionSync, Options{}))

	before, err := store.ListRelated(ctx, rel, order.ID(), nil)
	require.NoError(t, err)
	require.Len(t, before, 2)
	beforeIDs := make(map[string]uuid.UUID)
	for _, line := range before {
		beforeIDs[line.Get("sku").(string)] = line.ID()
	}

	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	require.NoError(t, ToModel(ctx, store, payload(), stored, ActionSync, Options{}))

	after, err := store.ListRelated(ctx, rel, order.ID(), nil)
	require.NoError(t, err)
	require.Len(t, after, 2)
	for _, line := range after {
		// matched by natural key, so the rows survive with their identity
		assert.Equal(t, beforeIDs[line.Get("sku").(string)], line.ID())
	}
}

func TestToModelSyncReconcilesChildren(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rel := orderModel.Relation("lines")

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1), lineValue("B", 2)})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionSync, Options{}))

	before, err := store.ListRelated(ctx, rel, order.ID(), nil)
	require.NoError(t, err)
	var keptID uuid.UUID
	for _, line := range before {
		if line.Get("sku") == "B" {
			keptID = line.ID()
		}
	}

	update := schema.NewValue(orderDesc)
	update.Set("lines", []*schema.Value{lineValue("B", 5), lineValue("C", 3)})
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	require.NoError(t, ToModel(ctx, store, update, stored, ActionSync, Options{}))

	after, err := store.ListRelated(ctx, rel, order.ID(), nil)
	require.NoError(t, err)
	require.Len(t, after, 2)
	skus := make(map[string]*orm.Instance)
	for _, line := range after {
		skus[line.Get("sku").(string)] = line
	}
	require.Contains(t, skus, "B")
	require.Contains(t, skus, "C")
	assert.Equal(t, keptID, skus["B"].ID())
	assert.Equal(t, int64(5), skus["B"].Get("qty"))
}

func TestToModelSyncManyToManyDiff(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rel := orderModel.Relation("tags")

	t1, t2, t3, t4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	tagElement := func(id uuid.UUID) *schema.Value {
		v := schema.NewValue(tagRefDesc)
		v.Set("id", id)
		return v
	}

	v := orderValue("PENDING")
	v.Set("tags", []*schema.Value{tagElement(t1), tagElement(t2), tagElement(t3)})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	before, err := store.ListAssociations(ctx, rel, order.ID())
	require.NoError(t, err)
	require.Len(t, before, 3)
	beforeIDs := make(map[uuid.UUID]uuid.UUID) // tag id -> association row id
	for _, a := range before {
		beforeIDs[a.Get("tag_id").(uuid.UUID)] = a.ID()
	}

	update := schema.NewValue(orderDesc)
	update.Set("tags", []*schema.Value{tagElement(t2), tagElement(t3), tagElement(t4)})
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	require.NoError(t, ToModel(ctx, store, update, stored, ActionSync, Options{}))

	after, err := store.ListAssociations(ctx, rel, order.ID())
	require.NoError(t, err)
	require.Len(t, after, 3)
	afterIDs := make(map[uuid.UUID]uuid.UUID)
	for _, a := range after {
		afterIDs[a.Get("tag_id").(uuid.UUID)] = a.ID()
	}
	assert.NotContains(t, afterIDs, t1)
	assert.Contains(t, afterIDs, t4)
	// confirmed associations keep their row identity
	assert.Equal(t, beforeIDs[t2], afterIDs[t2])
	assert.Equal(t, beforeIDs[t3], afterIDs[t3])
}

func TestToModelRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.SaveHook = func(i *orm.Instance) error {
		if i.Model() == lineModel {
			return fmt.Errorf("disk full")
		}
		return nil
	}

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1)})
	order := orm.New(orderModel)
	err := ToModel(ctx, store, v, order, ActionCreate, Options{})
	require.Error(t, err)

	// the root was saved inside the transaction, nothing may be visible
	_, err = store.Get(ctx, orderModel, order.ID())
	require.ErrorIs(t, err, orm.ErrNotFound)
	count, err := store.Count(ctx, lineModel, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestToModelSameRowNullResetsDefaults(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	shipping := schema.NewValue(shippingDesc)
	shipping.Set("carrier", "UPS")
	v.Set("shipping", shipping)
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	assert.Equal(t, "UPS", stored.Get("carrier"))

	update := schema.NewValue(orderDesc)
	update.Set("shipping", nil)
	require.NoError(t, ToModel(ctx, store, update, stored, ActionNoSubobjects, Options{}))

	stored, err = store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	assert.Equal(t, "NONE", stored.Get("carrier"))
}

func TestToModelExcludeUnset(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("total", 10.0)
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	update := schema.NewValue(orderDesc)
	update.Set("status", "SHIPPED")
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	require.NoError(t, ToModel(ctx, store, update, stored, ActionNoSubobjects, Options{ExcludeUnset: true}))

	stored, err = store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	assert.Equal(t, "SHIPPED", stored.Get("status"))
	assert.Equal(t, 10.0, stored.Get("total"))
}

func TestFromModelRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("total", 12.5)
	v.Set("lines", []*schema.Value{lineValue("A", 1)})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	out, err := FromModel(ctx, store, orderDesc, stored, Options{})
	require.NoError(t, err)

	assert.Equal(t, order.ID(), out.Get("id"))
	assert.Equal(t, "PENDING", out.Get("status"))
	assert.Equal(t, 12.5, out.Get("total"))
	lines, ok := out.Get("lines").([]*schema.Value)
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, "A", lines[0].Get("sku"))
}

func TestFromModelByReference(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	tagID := uuid.New()
	tagElement := schema.NewValue(tagRefDesc)
	tagElement.Set("id", tagID)

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1)})
	v.Set("tags", []*schema.Value{tagElement})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	out, err := FromModel(ctx, store, schema.Referenced(orderDesc), stored, Options{})
	require.NoError(t, err)

	tagIDs, ok := out.Get("tags").([]interface{})
	require.True(t, ok)
	require.Len(t, tagIDs, 1)
	assert.Equal(t, tagID, tagIDs[0])
	lineIDs, ok := out.Get("lines").([]interface{})
	require.True(t, ok)
	assert.Len(t, lineIDs, 1)
}

func TestFromModelRedactsScopedFields(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("total", 12.5)
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)

	// without the read scope the field stays in the payload, as null
	out, err := FromModel(ctx, store, orderDesc, stored, Options{Access: accessWith(false)})
	require.NoError(t, err)
	assert.True(t, out.IsSet("total"))
	assert.Nil(t, out.Get("total"))
	assert.Equal(t, "PENDING", out.Get("status"))

	out, err = FromModel(ctx, store, orderDesc, stored, Options{Access: accessWith(false, "orders.total.read")})
	require.NoError(t, err)
	assert.Equal(t, 12.5, out.Get("total"))
}

func TestFromModelRedactionConsultsRowCheck(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	defer func() { orderModel.AccessCheck = nil }()
	orderModel.AccessCheck = func(i *orm.Instance, acc *access.Access, selector string) error {
		if selector == "all" {
			return nil
		}
		return errors.New("denied")
	}

	v := orderValue("PENDING")
	v.Set("total", 12.5)
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)

	out, err := FromModel(ctx, store, orderDesc, stored, Options{Access: accessWith(false, "orders.total.read")})
	require.NoError(t, err)
	assert.Nil(t, out.Get("total"))

	// matching scope with a selector the row check accepts
	acc := accessWith(false, "orders.total.read.all")
	descAll := &schema.Descriptor{
		Name: "order",
		Fields: []schema.Field{
			{Name: "total", Type: schema.TypeFloat, Nullable: true,
				Scopes:  []string{"orders.total.read.all"},
				Binding: schema.Binding{Kind: schema.BindColumn, Column: "total"}},
		},
	}
	out, err = FromModel(ctx, store, descAll, stored, Options{Access: acc})
	require.NoError(t, err)
	assert.Equal(t, 12.5, out.Get("total"))
}

func TestFromModelRelationFilters(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{lineValue("A", 1), lineValue("B", 2)})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))
	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)

	out, err := FromModel(ctx, store, orderDesc, stored, Options{
		RelationFilters: map[string][]orm.Cond{
			"lines": {{Column: "sku", Op: orm.OpEq, Value: "B"}},
		},
	})
	require.NoError(t, err)
	lines, ok := out.Get("lines").([]*schema.Value)
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, "B", lines[0].Get("sku"))
}

func TestFromModelRequiredNullAtTopLevel(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	line := orm.New(lineModel)
	line.Set("qty", int64(2))

	// a required column resolving to null never collapses the top-level
	// object, the field is emitted as null instead
	out, err := FromModel(ctx, store, lineDesc, line, Options{})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsSet("sku"))
	assert.Nil(t, out.Get("sku"))
	assert.Equal(t, int64(2), out.Get("qty"))
}

func TestFromModelRequiredNullNestedParents(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	carrierDesc := &schema.Descriptor{
		Name: "carrier_info",
		Fields: []schema.Field{
			{Name: "carrier", Type: schema.TypeString, Required: true,
				Binding: schema.Binding{Kind: schema.BindColumn, Column: "carrier"}},
		},
	}
	nullableParent := &schema.Descriptor{
		Name: "order",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeUUID, Binding: schema.Binding{Kind: schema.BindColumn, Column: "id"}},
			{Name: "shipping", Nullable: true, Nested: carrierDesc,
				Binding: schema.Binding{Kind: schema.BindSameRow}},
		},
	}
	strictParent := &schema.Descriptor{
		Name: "order",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeUUID, Binding: schema.Binding{Kind: schema.BindColumn, Column: "id"}},
			{Name: "shipping", Nested: carrierDesc,
				Binding: schema.Binding{Kind: schema.BindSameRow}},
		},
	}

	order := orm.New(orderModel) // carrier stays null

	// under a nullable parent field the branch collapses to null
	out, err := FromModel(ctx, store, nullableParent, order, Options{})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsSet("shipping"))
	assert.Nil(t, out.Get("shipping"))

	// under a non-nullable parent the object is built with the field null
	out, err = FromModel(ctx, store, strictParent, order, Options{})
	require.NoError(t, err)
	require.NotNil(t, out)
	nested, ok := out.Get("shipping").(*schema.Value)
	require.True(t, ok)
	assert.True(t, nested.IsSet("carrier"))
	assert.Nil(t, nested.Get("carrier"))
}

func TestFromModelRequiredNullSkipsListElement(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	noSku := schema.NewValue(lineDesc)
	noSku.Set("qty", int64(1))
	v := orderValue("PENDING")
	v.Set("lines", []*schema.Value{noSku, lineValue("B", 2)})
	order := orm.New(orderModel)
	require.NoError(t, ToModel(ctx, store, v, order, ActionCreate, Options{}))

	stored, err := store.Get(ctx, orderModel, order.ID())
	require.NoError(t, err)
	out, err := FromModel(ctx, store, orderDesc, stored, Options{})
	require.NoError(t, err)

	lines, ok := out.Get("lines").([]*schema.Value)
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, "B", lines[0].Get("sku"))
}
