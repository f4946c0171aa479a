package llmgateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"
)

var thinkBlockRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes <think>...</think> wrappers some reasoning
// models prepend to structured output, so a subsequent JSON parse can
// succeed. CoerceJSON applies it only as a fallback when the first
// parse fails; the overview stage applies it to free text directly.
func StripThinking(s string) string {
	return thinkBlockRE.ReplaceAllString(s, "")
}

// CoerceJSON parses raw into a value conforming to schema. If the first
// parse attempt fails, it strips <think> wrappers and retries once, per
// spec §4.1's structured-output coercion rule. Once parsed, the decoded
// value is validated against schema's required/properties/type shape —
// a provider honouring json_object mode (or skipping schema enforcement
// entirely, as some local/proxy backends do) can still return valid but
// wrong-shaped JSON, which callers need surfaced as a failure rather
// than silently populating zero values.
func CoerceJSON(raw string, schema json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	var v interface{}
	body := trimmed
	if err := json.Unmarshal(trimmed, &v); err != nil {
		stripped := bytes.TrimSpace([]byte(StripThinking(raw)))
		if err := json.Unmarshal(stripped, &v); err != nil {
			return nil, fmt.Errorf("llmgateway: parse-failure: response is not valid JSON after stripping reasoning wrappers: %w", err)
		}
		body = stripped
	}

	if err := validateAgainstSchema(schema, v); err != nil {
		return nil, fmt.Errorf("llmgateway: response does not conform to the requested schema: %w", err)
	}
	return json.RawMessage(body), nil
}

var schemaCompileCache sync.Map

// CompileSchema compiles and caches schema by its raw JSON text, shared
// by every schema-bearing call that goes through CoerceJSON, so a schema
// reused across many calls is only compiled once.
func CompileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCompileCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("llmgateway.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCompileCache.Store(key, compiled)
	return compiled, nil
}

// validateAgainstSchema is a no-op for an empty/unspecified schema (some
// call sites pass "{}" or an empty envelope when they only want valid
// JSON, not a specific shape).
func validateAgainstSchema(schema json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) == 0 || string(trimmed) == "{}" {
		return nil
	}
	compiled, err := CompileSchema(schema)
	if err != nil {
		return nil // malformed schema at the call site is a programmer error, not a provider-response failure
	}
	return compiled.Validate(v)
}

// RewriteSchemaForGemini converts the common wire form of a JSON Schema
// request body into the bare schema genai.Client expects: unwraps
// {"type":"json_object"} (no schema, just enable JSON mode — returns nil)
// and {"type":"json_schema","json_schema":{...}} into the inner schema,
// then strips "title" keys recursively (Gemini rejects them).
func RewriteSchemaForGemini(wire json.RawMessage) (json.RawMessage, error) {
	if len(wire) == 0 {
		return nil, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(wire, &envelope); err != nil {
		// Not an envelope at all; treat as a bare schema already.
		return stripTitles(wire)
	}
	if typ, ok := envelope["type"]; ok {
		var typStr string
		if err := json.Unmarshal(typ, &typStr); err == nil {
			switch typStr {
			case "json_object":
				return nil, nil
			case "json_schema":
				inner, ok := envelope["json_schema"]
				if !ok {
					return nil, fmt.Errorf("llmgateway: json_schema wrapper missing json_schema field")
				}
				var innerEnvelope map[string]json.RawMessage
				if err := json.Unmarshal(inner, &innerEnvelope); err == nil {
					if s, ok := innerEnvelope["schema"]; ok {
						return stripTitles(s)
					}
				}
				return stripTitles(inner)
			}
		}
	}
	// Already a bare schema (has "properties"/"type":"object" etc).
	return stripTitles(wire)
}

// stripTitles recursively removes "title" keys from a JSON Schema
// document, since Gemini's schema dialect rejects them.
func stripTitles(raw json.RawMessage) (json.RawMessage, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("llmgateway: invalid schema: %w", err)
	}
	cleaned := stripTitlesValue(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GeminiSchema converts wire (the same envelope RewriteSchemaForGemini
// unwraps) into genai.Client's native *genai.Schema, so Gemini requests
// constrain generation via GenerateContentConfig.ResponseSchema instead
// of JSON-mode-plus-hope. Returns nil, nil for a bare json_object
// request (no schema to constrain against).
func GeminiSchema(wire json.RawMessage) (*genai.Schema, error) {
	bare, err := RewriteSchemaForGemini(wire)
	if err != nil {
		return nil, err
	}
	if bare == nil {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(bare, &raw); err != nil {
		return nil, fmt.Errorf("llmgateway: invalid schema for gemini: %w", err)
	}
	return jsonSchemaToGenai(raw), nil
}

func jsonSchemaToGenai(raw map[string]interface{}) *genai.Schema {
	s := &genai.Schema{Type: genaiType(raw["type"])}
	if desc, ok := raw["description"].(string); ok {
		s.Description = desc
	}
	if format, ok := raw["format"].(string); ok {
		s.Format = format
	}
	if enum, ok := raw["enum"].([]interface{}); ok {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if required, ok := raw["required"].([]interface{}); ok {
		for _, r := range required {
			if str, ok := r.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if props, ok := raw["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if propMap, ok := v.(map[string]interface{}); ok {
				s.Properties[name] = jsonSchemaToGenai(propMap)
			}
		}
	}
	if items, ok := raw["items"].(map[string]interface{}); ok {
		s.Items = jsonSchemaToGenai(items)
	}
	return s
}

func genaiType(v interface{}) genai.Type {
	str, _ := v.(string)
	switch strings.ToLower(str) {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

func stripTitlesValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			if k == "title" {
				continue
			}
			out[k] = stripTitlesValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = stripTitlesValue(vv)
		}
		return out
	default:
		return val
	}
}
