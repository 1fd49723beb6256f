package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoJSON is returned when model output contains no decodable JSON value.
var ErrNoJSON = errors.New("no JSON value in model output")

// maxRepairEcho bounds how much of a rejected answer is sent back.
const maxRepairEcho = 12000

// compiled schemas keyed by their raw text
var schemaCache sync.Map

// ParseStructuredJSON extracts the JSON value from model output. It accepts
// bare JSON, a fenced code block, or a value embedded in prose, and returns
// the value compacted.
func ParseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output: %w", ErrNoJSON)
	}

	for _, candidate := range []string{content, fencedBlock(content), embeddedValue(content)} {
		if candidate == "" {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(candidate)); err == nil {
			return json.RawMessage(buf.Bytes()), nil
		}
	}
	return nil, ErrNoJSON
}

// fencedBlock returns the body of the first ``` block.
func fencedBlock(content string) string {
	open := strings.Index(content, "```")
	if open < 0 {
		return ""
	}
	rest := content[open+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return ""
	}
	rest = rest[nl+1:] // drop the language tag line
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// embeddedValue decodes the first object or array that starts in content
// and ignores whatever follows it.
func embeddedValue(content string) string {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(content[start:])).Decode(&raw); err != nil {
		return ""
	}
	return string(raw)
}

// ValidateStructuredJSON checks parsed output against a response schema.
// The schema may be bare or wrapped as {"name","strict","schema"} or
// {"type":"json_schema","json_schema":{"schema"}}.
func ValidateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 || len(parsed) == 0 {
		return nil
	}

	schema, err := compileSchema(schemaRaw)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured output: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func compileSchema(schemaRaw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaRaw)
	if s, ok := schemaCache.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}

	core, err := unwrapSchema(schemaRaw)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load response schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile response schema: %w", err)
	}
	schemaCache.Store(key, schema)
	return schema, nil
}

// unwrapSchema strips the response-format envelope around a JSON schema.
func unwrapSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	var envelope struct {
		Schema     json.RawMessage `json:"schema"`
		JSONSchema *struct {
			Schema json.RawMessage `json:"schema"`
		} `json:"json_schema"`
	}
	if err := json.Unmarshal(schemaRaw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	switch {
	case len(envelope.Schema) > 0:
		return envelope.Schema, nil
	case envelope.JSONSchema != nil && len(envelope.JSONSchema.Schema) > 0:
		return envelope.JSONSchema.Schema, nil
	default:
		return schemaRaw, nil
	}
}

// StructuredRepairPrompt is the follow-up message sent after an answer
// failed parsing or validation.
func StructuredRepairPrompt(schemaRaw json.RawMessage, lastOutput string, issue error) string {
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > maxRepairEcho {
		lastOutput = lastOutput[:maxRepairEcho] + "\n...[truncated]"
	}

	var b strings.Builder
	b.WriteString("Your previous answer could not be used: ")
	fmt.Fprintf(&b, "%v\n\n", issue)
	b.WriteString("Answer again with ONLY a JSON document matching this schema. No markdown, no commentary.\n\n")
	fmt.Fprintf(&b, "Schema:\n%s\n\n", schemaRaw)
	fmt.Fprintf(&b, "Previous answer:\n%s", lastOutput)
	return b.String()
}

// openRouterFormat converts a response format for OpenRouter. Anthropic
// models routed through OpenRouter get no native format: they are steered
// by the prompt and checked locally instead.
func openRouterFormat(model string, rf *ResponseFormat) (*openRouterResponseFormat, error) {
	if rf == nil || isAnthropicModel(model) {
		return nil, nil
	}
	schema, err := schemaForModel(model, rf.JSONSchema)
	if err != nil {
		return nil, err
	}
	return &openRouterResponseFormat{Type: rf.Type, JSONSchema: schema}, nil
}

// schemaForModel applies model specific schema restrictions. Anthropic
// models reject bounds on integer properties.
func schemaForModel(model string, schemaRaw json.RawMessage) (json.RawMessage, error) {
	if len(schemaRaw) == 0 || !isAnthropicModel(model) {
		return schemaRaw, nil
	}

	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	walkSchema(root, func(node map[string]any) {
		if hasType(node["type"], "integer") {
			for _, k := range []string{"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum"} {
				delete(node, k)
			}
		}
	})
	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response schema: %w", err)
	}
	return out, nil
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

func walkSchema(node any, visit func(map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		visit(n)
		for _, v := range n {
			walkSchema(v, visit)
		}
	case []any:
		for _, v := range n {
			walkSchema(v, visit)
		}
	}
}

// hasType reports whether a JSON schema "type" value names want. The value
// may be a string or a list of strings.
func hasType(typeVal any, want string) bool {
	switch t := typeVal.(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, _ := item.(string); s == want {
				return true
			}
		}
	}
	return false
}
