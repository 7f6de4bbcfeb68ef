package policy

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultCompiledBy is recorded when no author is supplied.
const DefaultCompiledBy = "system"

// Compile parses YAML policy source into a Document, validates it, and
// stamps compile metadata. Every failure is a *ConfigError.
func Compile(src []byte, compiledBy string, now time.Time) (*Document, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, NewConfigError("", "policy source is empty", nil)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(src, &tree); err != nil {
		return nil, NewConfigError("", "failed to parse YAML", err)
	}
	if tree == nil {
		return nil, NewConfigError("", "policy source must be a mapping", nil)
	}
	if id, _ := tree["id"].(string); strings.TrimSpace(id) == "" {
		return nil, NewConfigError("id", "id is required", nil)
	}
	if err := validateSchema(tree); err != nil {
		return nil, NewConfigError(schemaField(err), "schema validation failed", err)
	}

	var doc Document
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, NewConfigError("", "failed to decode policy", err)
	}
	if err := validate(&doc); err != nil {
		return nil, err
	}

	if compiledBy == "" {
		compiledBy = DefaultCompiledBy
	}
	doc.CompiledAt = now.UTC()
	doc.CompiledBy = compiledBy
	doc.Source = string(src)

	return &doc, nil
}

// Lint compiles src without retaining the result.
func Lint(src []byte) error {
	_, err := Compile(src, DefaultCompiledBy, time.Now())
	return err
}

// validate applies the semantic checks JSON Schema cannot express.
func validate(doc *Document) error {
	for i, r := range doc.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if !r.Operator.Valid() {
			return NewConfigError(field+".operator", fmt.Sprintf("unsupported operator %q", r.Operator), nil)
		}
		if !r.Action.Valid() {
			return NewConfigError(field+".action", fmt.Sprintf("undeclared action kind %q", r.Action), nil)
		}
	}

	for metric, t := range doc.Thresholds {
		if t.Op != "" && !t.Op.Valid() {
			return NewConfigError("thresholds."+metric+".op", fmt.Sprintf("unsupported operator %q", t.Op), nil)
		}
	}

	for i, s := range doc.Rollout.Stages {
		if s.Percent < 0 || s.Percent > 100 {
			return NewConfigError(fmt.Sprintf("rollout.stages[%d].percent", i), "must be between 0 and 100", nil)
		}
		if s.MinHours < 0 {
			return NewConfigError(fmt.Sprintf("rollout.stages[%d].minHours", i), "must not be negative", nil)
		}
	}

	return nil
}

// schemaField extracts the instance location of the deepest schema failure.
func schemaField(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return ""
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	return strings.ReplaceAll(loc, "/", ".")
}
