package sanitize

import "encoding/json"

// droppedSchemaKeywords are JSON Schema keywords Gemini's function-calling
// schema does not support and which SanitizeToolSchema strips outright.
var droppedSchemaKeywords = []string{
	"$schema", "$id", "examples", "default",
	"minLength", "maxLength", "pattern",
	"minimum", "maximum", "multipleOf",
	"minItems", "maxItems", "uniqueItems",
	"minProperties", "maxProperties", "patternProperties",
	"if", "then", "else", "not", "oneOf", "anyOf",
}

// SanitizeToolSchema deep-clones raw and rewrites it into the reduced
// dialect Gemini's function-calling schema accepts:
// const-only anyOf unions become a string enum, a single
// catch-all patternProperties entry becomes additionalProperties, and
// every other unsupported keyword is dropped, recursing into properties/
// items/additionalProperties. Malformed input is returned unchanged.
func SanitizeToolSchema(raw json.RawMessage) json.RawMessage {
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return raw
	}
	sanitized := sanitizeSchemaNode(node)
	out, err := json.Marshal(sanitized)
	if err != nil {
		return raw
	}
	return out
}

func sanitizeSchemaNode(node any) any {
	obj, ok := node.(map[string]any)
	if !ok {
		return node
	}

	rewriteConstOnlyAnyOf(obj)
	rewriteSinglePatternProperties(obj)

	for _, keyword := range droppedSchemaKeywords {
		delete(obj, keyword)
	}

	if props, ok := obj["properties"].(map[string]any); ok {
		for key, val := range props {
			props[key] = sanitizeSchemaNode(val)
		}
	}
	if items, ok := obj["items"]; ok {
		obj["items"] = sanitizeSchemaNode(items)
	}
	if addl, ok := obj["additionalProperties"].(map[string]any); ok {
		obj["additionalProperties"] = sanitizeSchemaNode(addl)
	}
	return obj
}

// rewriteConstOnlyAnyOf handles the anyOf rewrite: if anyOf is entirely
// {const: "literal"} entries, it becomes {type:"string", enum:[...]}.
// A mixed anyOf is simply dropped (already covered by the generic
// droppedSchemaKeywords pass since "anyOf" is unconditionally stripped
// below); this function only needs to install the enum replacement before
// that strip runs.
func rewriteConstOnlyAnyOf(obj map[string]any) {
	anyOf, ok := obj["anyOf"].([]any)
	if !ok || len(anyOf) == 0 {
		return
	}

	enum := make([]any, 0, len(anyOf))
	for _, entry := range anyOf {
		entryObj, ok := entry.(map[string]any)
		if !ok || len(entryObj) != 1 {
			return // mixed shape: fall through to the unconditional anyOf drop
		}
		constVal, ok := entryObj["const"]
		if !ok {
			return
		}
		enum = append(enum, constVal)
	}

	obj["type"] = "string"
	obj["enum"] = enum
}

// rewriteSinglePatternProperties handles the patternProperties rewrite: a
// patternProperties with exactly one catch-all key (^.*$ or ^(.*)$)
// becomes additionalProperties with that key's schema; multiple patterns
// are stripped with no replacement (the unconditional
// droppedSchemaKeywords pass removes patternProperties either way).
func rewriteSinglePatternProperties(obj map[string]any) {
	patternProps, ok := obj["patternProperties"].(map[string]any)
	if !ok || len(patternProps) != 1 {
		return
	}
	for pattern, schema := range patternProps {
		if pattern == "^.*$" || pattern == "^(.*)$" {
			obj["additionalProperties"] = schema
		}
	}
}
