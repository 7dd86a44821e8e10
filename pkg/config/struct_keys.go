package config

import (
	"reflect"
	"strings"
)

const keySep = "."

// structKeys returns all keys in a nested struct, taking each name from the
// tag or falling back to the field name. A ",squash" suffix on an embedded
// struct drops its path component, the way mapstructure flattens embedding.
// Pointers are chased, maps are leaves, nesting loops are not detected.
func structKeys(typ reflect.Type, tag, squashValue string) []string {
	return appendStructKeys(typ, tag, ","+squashValue, nil, nil)
}

func appendStructKeys(typ reflect.Type, tag, squashValue string, prefix, keys []string) []string {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return append(keys, strings.Join(prefix, keySep))
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, squash := fieldKeyName(field, tag, squashValue)
		next := prefix
		if !squash {
			next = append(append([]string{}, prefix...), name)
		}
		keys = appendStructKeys(field.Type, tag, squashValue, next, keys)
	}
	return keys
}

func fieldKeyName(field reflect.StructField, tag, squashValue string) (name string, squash bool) {
	name, ok := field.Tag.Lookup(tag)
	if !ok {
		return field.Name, false
	}
	if strings.HasSuffix(name, squashValue) {
		return strings.TrimSuffix(name, squashValue), true
	}
	return name, false
}

// missingRequiredKeys returns the keys of fields tagged `validate:"required"`
// that still hold their zero value. Nil pointers end the walk; an optional
// section left out entirely cannot be missing required keys.
func missingRequiredKeys(value interface{}, tag, squashValue string) []string {
	return appendMissingKeys(reflect.ValueOf(value), tag, ","+squashValue, nil, nil)
}

func appendMissingKeys(v reflect.Value, tag, squashValue string, prefix, missing []string) []string {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return missing
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return missing
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		name, squash := fieldKeyName(field, tag, squashValue)
		next := prefix
		if !squash {
			next = append(append([]string{}, prefix...), name)
		}
		if field.Tag.Get("validate") == "required" && v.Field(i).IsZero() {
			missing = append(missing, strings.Join(next, keySep))
			continue
		}
		missing = appendMissingKeys(v.Field(i), tag, squashValue, next, missing)
	}
	return missing
}
