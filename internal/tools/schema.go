package tools

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaFor reflects a JSON Schema from an argument struct and compiles a
// validator for it. Descriptions come from `description` struct tags.
func schemaFor[T any]() (map[string]interface{}, *jsonschema.Resolved, error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, err
	}
	var schemaMap map[string]interface{}
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, nil, err
	}

	describeProperties(schemaMap, reflect.TypeOf(*new(T)))

	resolved, err := compileSchema(schemaMap)
	if err != nil {
		return nil, nil, err
	}
	return schemaMap, resolved, nil
}

// describeProperties copies `description` tags from the struct's fields
// onto the matching root-level schema properties.
func describeProperties(schemaMap map[string]interface{}, typ reflect.Type) {
	if typ == nil || typ.Kind() != reflect.Struct {
		return
	}
	props, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		prop, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
	}
}

// compileSchema resolves a raw schema map into a validator without
// mutating the map.
func compileSchema(schemaMap map[string]interface{}) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
