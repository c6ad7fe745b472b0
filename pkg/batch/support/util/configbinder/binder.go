// Package configbinder decodes loosely typed configuration maps into structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target using yaml tags.
// Strings are converted to numbers and booleans where the target needs them,
// so values coming from environment variables bind like YAML values.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("failed to bind properties to %s: %w", typeName(target), err)
	}
	return nil
}

// BindNamed decodes the entry called name from a map of named sections.
func BindNamed(sections map[string]interface{}, name string, target interface{}) error {
	raw, ok := sections[name]
	if !ok {
		return fmt.Errorf("no configuration section named %q", name)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("configuration section %q is a %T, not a map", name, raw)
	}
	return BindProperties(props, target)
}

func typeName(target interface{}) string {
	t := reflect.TypeOf(target)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
