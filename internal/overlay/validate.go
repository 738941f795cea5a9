package overlay

import (
	"fmt"

	"mcpgateway/internal/gwerrors"
)

// validateArgs checks args against a JSON-Schema-shaped map (spec
// §4.D: "validate args against the tool's inputSchema ... MUST NOT
// leak internal stack traces over the wire"). It supports the subset
// of JSON Schema actually used by this gateway's declared tools:
// top-level "required" and per-property "type" (string, number,
// integer, boolean, array, object). Unknown/absent schema is treated
// as "anything goes."
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	for _, name := range requiredFields(schema) {
		if _, ok := args[name]; !ok {
			return invalidArg(name, "required field is missing")
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, raw := range args {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		wantType, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if !valueMatchesType(raw, wantType) {
			return invalidArg(name, fmt.Sprintf("expected type %q", wantType))
		}
	}

	return nil
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func valueMatchesType(v any, want string) bool {
	if v == nil {
		return true
	}
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case float64:
			return n == float64(int64(n))
		case int, int64:
			return true
		}
		return false
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func invalidArg(path, reason string) error {
	return gwerrors.New(gwerrors.InvalidArguments, path+": "+reason)
}
