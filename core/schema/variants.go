// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import "sync"

// Derived descriptor variants are ordinary data transformations over the
// descriptor, memoized by identity of the source so repeated derivation
// returns the same variant instance.

var (
	variantMutex sync.Mutex
	optionals    = make(map[*Descriptor]*Descriptor)
	referenced   = make(map[*Descriptor]*Descriptor)
	lists        = make(map[*Descriptor]*Descriptor)
)

// ToOptional derives the partial-update variant of a descriptor: every field
// becomes optional except identifiers, nested descriptors are derived
// recursively. Deriving an already optional variant returns it unchanged.
func ToOptional(desc *Descriptor) *Descriptor {
	variantMutex.Lock()
	defer variantMutex.Unlock()
	return toOptional(desc)
}

func toOptional(desc *Descriptor) *Descriptor {
	if variant, ok := optionals[desc]; ok {
		return variant
	}
	variant := &Descriptor{Name: desc.Name, Fields: make([]Field, len(desc.Fields))}
	optionals[desc] = variant
	optionals[variant] = variant
	for i := range desc.Fields {
		f := desc.Fields[i]
		if f.Name != "id" {
			f.Required = false
		}
		if f.Nested != nil {
			f.Nested = toOptional(f.Nested)
		}
		variant.Fields[i] = f
	}
	return variant
}

// Referenced derives the read variant where related collections are emitted
// as identifier lists instead of full objects. Scalar and same-row fields
// are unchanged.
func Referenced(desc *Descriptor) *Descriptor {
	variantMutex.Lock()
	defer variantMutex.Unlock()
	if variant, ok := referenced[desc]; ok {
		return variant
	}
	variant := &Descriptor{Name: desc.Name, Fields: make([]Field, len(desc.Fields))}
	referenced[desc] = variant
	referenced[variant] = variant
	for i := range desc.Fields {
		f := desc.Fields[i]
		if f.IsRelation() {
			f.ByReference = true
		}
		variant.Fields[i] = f
	}
	return variant
}

// ListOf derives the list-response wrapper descriptor for a read descriptor
func ListOf(desc *Descriptor) *Descriptor {
	variantMutex.Lock()
	defer variantMutex.Unlock()
	if variant, ok := lists[desc]; ok {
		return variant
	}
	variant := &Descriptor{
		Name: desc.Name + "_list",
		Fields: []Field{
			{Name: "items", List: true, Nested: desc, Binding: Binding{Kind: BindExcluded}},
			{Name: "count", Type: TypeInt, Binding: Binding{Kind: BindExcluded}},
		},
	}
	lists[desc] = variant
	return variant
}
