package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const documentSchemaURL = "inmemory://sentinel/policy.json"

// documentSchema is the structural contract for policy documents. Semantic
// checks that need more than JSON Schema live in validate.
const documentSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": ["string", "number"]},
    "owners": {"type": "array", "items": {"type": "string"}},
    "scope": {
      "type": "object",
      "properties": {
        "teams": {"type": "array", "items": {"type": "string"}},
        "services": {"type": "array", "items": {"type": "string"}}
      }
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["metric", "operator", "value", "action"],
        "properties": {
          "id": {"type": "string"},
          "metric": {"type": "string", "minLength": 1},
          "operator": {"enum": ["<", ">", "<=", ">=", "=="]},
          "value": {"type": "number"},
          "action": {"enum": ["alert", "block_risky_ops", "tune_system", "block_all", "escalate"]}
        }
      }
    },
    "actions": {
      "type": "object",
      "properties": {
        "alert": {
          "type": "object",
          "properties": {
            "notifySlack": {"type": "boolean"},
            "notifyEmail": {"type": "boolean"}
          }
        },
        "block_risky_ops": {
          "type": "object",
          "properties": {
            "disableIntent": {"type": "array", "items": {"type": "string", "minLength": 1}}
          }
        },
        "tune_system": {
          "type": "object",
          "properties": {"invoke": {"type": "string"}}
        },
        "block_all": {"type": "object"},
        "escalate": {
          "type": "object",
          "properties": {"contacts": {"type": "array", "items": {"type": "string"}}}
        }
      },
      "additionalProperties": false
    },
    "thresholds": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "op": {"enum": ["<", ">", "<=", ">=", "=="]},
          "value": {"type": "number"}
        }
      }
    },
    "rollout": {
      "type": "object",
      "properties": {
        "stages": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["percent"],
            "properties": {
              "percent": {"type": "integer", "minimum": 0, "maximum": 100},
              "minHours": {"type": "number", "minimum": 0}
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("add policy schema: %w", err)
	}
	return c.Compile(documentSchemaURL)
})

// validateSchema checks a decoded YAML tree against the document schema.
// The tree is normalised through JSON so numbers reach the validator as
// float64 the way json.Unmarshal would produce them.
func validateSchema(tree map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("normalize policy: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return fmt.Errorf("normalize policy: %w", err)
	}
	return schema.Validate(normalized)
}
