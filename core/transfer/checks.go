// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package transfer

import (
	"strconv"

	"github.com/relabs-tech/modelbind/core/access"
	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/schema"
)

// CheckFieldAccess verifies that the caller may write every explicitly set
// field of the value. Unset fields are never evaluated, so a partial update
// cannot trip over scopes of fields it does not touch. The first violation
// aborts the check; the returned error points at the offending field.
//
// Fields guarded by read scopes only are not write-restricted; redaction of
// those happens on the read path.
func CheckFieldAccess(v *schema.Value, acc *access.Access) error {
	return checkFieldAccess(v, acc, []string{"body"})
}

func checkFieldAccess(v *schema.Value, acc *access.Access, loc []string) error {
	desc := v.Descriptor()
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if !v.IsSet(f.Name) {
			continue
		}
		fieldLoc := append(append([]string{}, loc...), f.Name)

		if scopes := writeScopes(f); len(scopes) > 0 {
			if acc == nil || acc.Token == nil || len(acc.Token.HasAudiences(scopes)) == 0 {
				return apierror.FieldAccess("access_error.field", fieldLoc)
			}
		}
		if f.Critical && (acc == nil || acc.Token == nil || !acc.Token.Critical) {
			return apierror.FieldAccess("access_error.field_is_critical", fieldLoc)
		}

		switch value := v.Get(f.Name).(type) {
		case *schema.Value:
			if value == nil {
				continue
			}
			if err := checkFieldAccess(value, acc, fieldLoc); err != nil {
				return err
			}
		case []*schema.Value:
			for j, element := range value {
				elementLoc := append(append([]string{}, fieldLoc...), strconv.Itoa(j))
				if err := checkFieldAccess(element, acc, elementLoc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeScopes returns the scopes guarding writes to a field. Scopes with a
// read action guard the read path only.
func writeScopes(f *schema.Field) []string {
	var scopes []string
	for _, s := range f.Scopes {
		scope, err := access.ParseScope(s)
		if err != nil {
			continue
		}
		if scope.Action != "read" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// readScopes returns the scopes guarding reads of a field
func readScopes(f *schema.Field) []string {
	var scopes []string
	for _, s := range f.Scopes {
		scope, err := access.ParseScope(s)
		if err != nil {
			continue
		}
		if scope.Action == "read" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
