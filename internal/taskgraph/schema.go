package taskgraph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// graphSchema is the structural contract for task-graph JSON. The compiler
// collaborator is expected to emit documents conforming to it, but the
// executor never trusts that: CheckSchema runs on every submitted graph
// before semantic validation.
const graphSchema = `{
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "task_id": {"type": "string"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type", "goal", "predicate"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "goal": {"type": "string"},
          "predicate": {"type": "string"},
          "idempotent": {"type": "boolean"},
          "params": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "array",
        "items": {"type": "string"},
        "minItems": 2,
        "maxItems": 2
      }
    },
    "metadata": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiledGraphSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("taskgraph.json", strings.NewReader(graphSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("taskgraph.json")
	})
	return compiledSchema, schemaErr
}

// CheckSchema validates a decoded JSON document (the result of unmarshalling
// into any) against the task-graph schema. The schema is compiled from a
// constant, so errors there indicate a programming bug, not bad input.
func CheckSchema(doc any) error {
	s, err := compiledGraphSchema()
	if err != nil {
		return fmt.Errorf("compile task graph schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("task graph schema: %w", err)
	}
	return nil
}
