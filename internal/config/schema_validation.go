package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	configschema "github.com/Paintersrp/kill-orphan/schema"
)

const schemaURL = "config.v1.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(configschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// validateAgainstSchema checks the raw YAML document. It goes through a JSON
// round trip so the validator sees json.Number rather than Go ints.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config for schema: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var instance any
	if err := decoder.Decode(&instance); err != nil {
		return fmt.Errorf("decode config for schema: %w", err)
	}

	err = schema.Validate(instance)
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed: %s", strings.Join(schemaProblems(verr), "; "))
	}
	return err
}

// schemaProblems lists the leaf failures as "field: message".
func schemaProblems(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		return []string{schemaField(err.InstanceLocation) + ": " + err.Message}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, schemaProblems(cause)...)
	}
	return out
}

// schemaField turns a JSON pointer such as "/log/level" into "log.level".
// Config keys never contain '/' or '~', so no unescaping is needed.
func schemaField(pointer string) string {
	field := strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
	if field == "" {
		return "config"
	}
	return field
}
