package llmgateway

import (
	"encoding/json"
	"testing"
)

func TestStripThinking(t *testing.T) {
	in := "<think>let me reason about this</think>{\"label\":\"ok\"}"
	want := "{\"label\":\"ok\"}"
	if got := StripThinking(in); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCoerceJSONDirect(t *testing.T) {
	raw, err := CoerceJSON(`{"label":"ok"}`, json.RawMessage(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"label":"ok"}` {
		t.Fatalf("got %s", raw)
	}
}

func TestCoerceJSONStripsThinkOnFallback(t *testing.T) {
	raw, err := CoerceJSON("<think>hmm</think>{\"label\":\"ok\"}", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"label":"ok"}` {
		t.Fatalf("got %s", raw)
	}
}

func TestCoerceJSONFailsOnGarbage(t *testing.T) {
	if _, err := CoerceJSON("not json at all", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected parse-failure error")
	}
}

func TestRewriteSchemaForGeminiJSONObject(t *testing.T) {
	out, err := RewriteSchemaForGemini(json.RawMessage(`{"type":"json_object"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil schema for json_object, got %s", out)
	}
}

func TestRewriteSchemaForGeminiJSONSchemaUnwrapsAndStripsTitle(t *testing.T) {
	wire := json.RawMessage(`{"type":"json_schema","json_schema":{"name":"x","schema":{"title":"Foo","type":"object","properties":{"label":{"title":"Label","type":"string"}}}}}`)
	out, err := RewriteSchemaForGemini(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if _, ok := decoded["title"]; ok {
		t.Fatalf("expected top-level title stripped, got %v", decoded)
	}
	props, ok := decoded["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected properties map, got %v", decoded)
	}
	label, ok := props["label"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected label property, got %v", props)
	}
	if _, ok := label["title"]; ok {
		t.Fatalf("expected nested title stripped, got %v", label)
	}
}
