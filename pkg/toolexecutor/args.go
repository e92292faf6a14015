package toolexecutor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// JSONSchema returns the parameter schema declared to providers that accept
// JSON Schema (OpenAI, Anthropic).
func (d ToolDefinition) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	for _, p := range d.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			items := p.Items
			if items == "" {
				items = "string"
			}
			prop["items"] = map[string]interface{}{"type": items}
		}
		properties[p.Name] = prop
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if required := d.RequiredParams(); len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// coerceParams converts raw model arguments to the declared parameter types.
// Models differ in how they encode arguments: numbers and lists may arrive as
// strings ("50", "[\"a\",\"b\"]", "a,b"), and Gemini declares every parameter
// as a string. Unknown keys are dropped, null or empty optional values fall
// back to the parameter default, and integers above Maximum are clamped.
func coerceParams(def ToolDefinition, raw map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(def.Parameters))
	for _, p := range def.Parameters {
		v, ok := raw[p.Name]
		if ok && isBlank(v) && !p.Required {
			ok = false
		}
		if !ok || v == nil {
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerceValue(p, v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		out[p.Name] = coerced
	}
	return out, nil
}

func coerceValue(p ToolParameter, v interface{}) (interface{}, error) {
	switch p.Type {
	case "string":
		return toString(v)
	case "integer":
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if p.Maximum > 0 && n > p.Maximum {
			n = p.Maximum
		}
		if n < 1 && p.Default != nil {
			return p.Default, nil
		}
		return n, nil
	case "number":
		return cast.ToFloat64E(v)
	case "boolean":
		return cast.ToBoolE(v)
	case "array":
		return toStringSlice(v)
	case "object":
		return cast.ToStringMapE(v)
	default:
		return v, nil
	}
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// toString accepts scalars and joins lists as a qualified name, so
// ["sales", "orders"] becomes "sales.orders".
func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case []interface{}, []string:
		parts, err := cast.ToStringSliceE(t)
		if err != nil {
			return "", err
		}
		return strings.Join(parts, "."), nil
	}
	return cast.ToStringE(v)
}

func toInt(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", s)
		}
		v = f
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not an integer", v)
	}
	return int(f), nil
}

// toStringSlice accepts native lists, JSON-encoded lists, comma separated
// lists and single values.
func toStringSlice(v interface{}) ([]string, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToStringSliceE(v)
	}

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var items []interface{}
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil, fmt.Errorf("invalid list %q: %w", s, err)
		}
		return cast.ToStringSliceE(items)
	}

	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// decodeParams copies coerced params into a handler's argument struct,
// matched on json tags.
func decodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
