// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/modelbind/core/apierror"
)

// Secret wraps a sensitive string value. Secrets are unwrapped to their
// plaintext right before the model setter is called and are never logged.
type Secret string

// Value is a payload instance for a descriptor. It tracks which fields were
// explicitly set, so partial updates only touch the fields the caller
// actually provided. Values marshal only their set fields, in declaration
// order.
type Value struct {
	desc   *Descriptor
	values map[string]interface{}
	set    map[string]bool
}

// NewValue creates an empty value for the descriptor
func NewValue(desc *Descriptor) *Value {
	return &Value{
		desc:   desc,
		values: make(map[string]interface{}),
		set:    make(map[string]bool),
	}
}

// Descriptor returns the descriptor this value belongs to
func (v *Value) Descriptor() *Descriptor {
	return v.desc
}

// Set sets a field. Nested objects are *Value, object lists are []*Value.
func (v *Value) Set(name string, value interface{}) {
	v.values[name] = value
	v.set[name] = true
}

// Get returns the field value, nil when unset
func (v *Value) Get(name string) interface{} {
	return v.values[name]
}

// IsSet reports whether the field was explicitly set
func (v *Value) IsSet(name string) bool {
	return v.set[name]
}

// Clear removes a field, it counts as unset afterwards
func (v *Value) Clear(name string) {
	delete(v.values, name)
	delete(v.set, name)
}

// SetFields returns the names of all set fields in declaration order
func (v *Value) SetFields() []string {
	names := make([]string, 0, len(v.set))
	for i := range v.desc.Fields {
		if v.set[v.desc.Fields[i].Name] {
			names = append(names, v.desc.Fields[i].Name)
		}
	}
	return names
}

// MarshalJSON emits all set fields in declaration order
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for i := range v.desc.Fields {
		name := v.desc.Fields[i].Name
		if !v.set[name] {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(v.marshalField(&v.desc.Fields[i]))
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v *Value) marshalField(f *Field) interface{} {
	value := v.values[f.Name]
	if value == nil {
		return nil
	}
	switch f.Type {
	case TypeDate:
		if t, ok := value.(time.Time); ok {
			return t.Format("2006-01-02")
		}
	case TypeTime:
		if t, ok := value.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return value
}

// ParseValue parses a JSON document into a value for the descriptor. Only
// fields present in the document are set; unknown fields are ignored. Type
// errors carry the field's location path so clients can pinpoint them.
func ParseValue(desc *Descriptor, body []byte) (*Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var raw map[string]interface{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, apierror.Validation("body_invalid", "body")
	}
	return valueFromRaw(desc, raw, []string{"body"})
}

func valueFromRaw(desc *Descriptor, raw map[string]interface{}, loc []string) (*Value, error) {
	v := NewValue(desc)
	for i := range desc.Fields {
		f := &desc.Fields[i]
		rawValue, ok := raw[f.Name]
		if !ok {
			continue
		}
		fieldLoc := append(append([]string{}, loc...), f.Name)
		if rawValue == nil {
			if !f.Nullable && f.Nested == nil {
				return nil, apierror.Validation("field_not_nullable", fieldLoc...)
			}
			v.Set(f.Name, nil)
			continue
		}
		value, err := coerceField(f, rawValue, fieldLoc)
		if err != nil {
			return nil, err
		}
		v.Set(f.Name, value)
	}
	return v, nil
}

func coerceField(f *Field, rawValue interface{}, loc []string) (interface{}, error) {
	if f.List {
		rawList, ok := rawValue.([]interface{})
		if !ok {
			return nil, apierror.Validation("field_not_a_list", loc...)
		}
		if f.Nested != nil {
			list := make([]*Value, 0, len(rawList))
			for j, rawElement := range rawList {
				elementLoc := append(append([]string{}, loc...), strconv.Itoa(j))
				rawObject, ok := rawElement.(map[string]interface{})
				if !ok {
					return nil, apierror.Validation("field_not_an_object", elementLoc...)
				}
				element, err := valueFromRaw(f.Nested, rawObject, elementLoc)
				if err != nil {
					return nil, err
				}
				list = append(list, element)
			}
			return list, nil
		}
		list := make([]interface{}, 0, len(rawList))
		for j, rawElement := range rawList {
			elementLoc := append(append([]string{}, loc...), strconv.Itoa(j))
			element, err := coerceScalar(f, rawElement, elementLoc)
			if err != nil {
				return nil, err
			}
			list = append(list, element)
		}
		return list, nil
	}
	if f.Nested != nil && f.Type != TypeJSON {
		rawObject, ok := rawValue.(map[string]interface{})
		if !ok {
			return nil, apierror.Validation("field_not_an_object", loc...)
		}
		return valueFromRaw(f.Nested, rawObject, loc)
	}
	return coerceScalar(f, rawValue, loc)
}

func coerceScalar(f *Field, rawValue interface{}, loc []string) (interface{}, error) {
	switch f.Type {
	case TypeString:
		s, ok := rawValue.(string)
		if !ok {
			return nil, apierror.Validation("field_not_a_string", loc...)
		}
		if len(f.Choices) > 0 {
			valid := false
			for _, c := range f.Choices {
				if c == s {
					valid = true
					break
				}
			}
			if !valid {
				return nil, apierror.Validation("field_not_a_valid_choice", loc...)
			}
		}
		if f.Secret {
			return Secret(s), nil
		}
		return s, nil
	case TypeInt:
		number, ok := rawValue.(json.Number)
		if !ok {
			return nil, apierror.Validation("field_not_an_integer", loc...)
		}
		n, err := number.Int64()
		if err != nil {
			return nil, apierror.Validation("field_not_an_integer", loc...)
		}
		return n, nil
	case TypeFloat:
		number, ok := rawValue.(json.Number)
		if !ok {
			return nil, apierror.Validation("field_not_a_number", loc...)
		}
		n, err := number.Float64()
		if err != nil {
			return nil, apierror.Validation("field_not_a_number", loc...)
		}
		return n, nil
	case TypeBool:
		b, ok := rawValue.(bool)
		if !ok {
			return nil, apierror.Validation("field_not_a_boolean", loc...)
		}
		return b, nil
	case TypeTime:
		s, ok := rawValue.(string)
		if !ok {
			return nil, apierror.Validation("field_not_a_timestamp", loc...)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, apierror.Validation("field_not_a_timestamp", loc...)
		}
		return t, nil
	case TypeDate:
		s, ok := rawValue.(string)
		if !ok {
			return nil, apierror.Validation("field_not_a_date", loc...)
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, apierror.Validation("field_not_a_date", loc...)
		}
		return t, nil
	case TypeUUID:
		s, ok := rawValue.(string)
		if !ok {
			return nil, apierror.Validation("field_not_a_uuid", loc...)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, apierror.Validation("field_not_a_uuid", loc...)
		}
		return id, nil
	case TypeJSON:
		return rawValue, nil
	}
	return nil, fmt.Errorf("unknown field type %s", f.Type)
}

// ValidateRequired checks that every required field of the descriptor is set
// and non-null. Used for full writes, partial updates skip it.
func (v *Value) ValidateRequired() error {
	return v.validateRequired([]string{"body"})
}

func (v *Value) validateRequired(loc []string) error {
	for i := range v.desc.Fields {
		f := &v.desc.Fields[i]
		if !f.Required {
			continue
		}
		fieldLoc := append(append([]string{}, loc...), f.Name)
		if !v.set[f.Name] || v.values[f.Name] == nil {
			if f.HasDefault {
				continue
			}
			return apierror.Validation("field_required", fieldLoc...)
		}
		if nested, ok := v.values[f.Name].(*Value); ok {
			if err := nested.validateRequired(fieldLoc); err != nil {
				return err
			}
		}
	}
	return nil
}
