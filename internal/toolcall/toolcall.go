// Package toolcall emulates OpenAI function calling over plain text: tool
// definitions are rendered into a system prompt appendix and the model's
// fenced tool_call blocks are parsed back into structured calls.
package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"crabstack.local/claude-gateway/internal/ids"
	"crabstack.local/claude-gateway/internal/openai"
)

const instructions = "# Available Tools\n\n" +
	"You have access to the following tools. To call a tool, output EXACTLY this format " +
	"(use a fenced code block with the language tag `tool_call`):\n\n" +
	"```tool_call\n" +
	`{"name": "tool_name", "arguments": {"param": "value"}}` + "\n" +
	"```\n\n" +
	"Rules:\n" +
	"- You may include text before and/or after tool calls.\n" +
	"- You may call multiple tools in one response (use separate blocks).\n" +
	"- The arguments value must be a JSON object matching the tool's parameters.\n" +
	"- ALWAYS use this exact format when you want to perform an action.\n\n" +
	"Tools:\n\n"

var blockPattern = regexp.MustCompile("(?s)```tool_call\\s*\\n(.*?)\\n```")

// FormatPrompt renders tools as a system prompt appendix. It returns "" when
// tools is empty.
func FormatPrompt(tools []openai.Tool) string {
	if len(tools) == 0 {
		return ""
	}

	descriptions := make([]string, 0, len(tools))
	for _, tool := range tools {
		descriptions = append(descriptions, describeTool(tool.Function))
	}
	return instructions + strings.Join(descriptions, "\n\n")
}

func describeTool(fn openai.ToolFunction) string {
	var b strings.Builder
	b.WriteString("- **")
	b.WriteString(fn.Name)
	b.WriteString("**")
	if fn.Description != "" {
		b.WriteString(": ")
		b.WriteString(fn.Description)
	}

	if len(fn.Parameters) == 0 {
		return b.String()
	}
	params := gjson.ParseBytes(fn.Parameters)
	properties := params.Get("properties")
	if !properties.IsObject() {
		return b.String()
	}

	required := map[string]bool{}
	params.Get("required").ForEach(func(_, name gjson.Result) bool {
		if name.Type == gjson.String {
			required[name.Str] = true
		}
		return true
	})

	byName := properties.Map()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := byName[name]
		paramType := "any"
		if t := info.Get("type"); t.Type == gjson.String {
			paramType = t.Str
		}
		if required[name] {
			paramType += " (required)"
		}
		description := ""
		if d := info.Get("description"); d.Type == gjson.String {
			description = d.Str
		}
		fmt.Fprintf(&b, "\n  - `%s` (%s): %s", name, paramType, description)
	}
	return b.String()
}

// Parse extracts tool calls from fenced tool_call blocks in text. Blocks with
// invalid JSON or without a string name are skipped. When no block yields a
// call, Parse returns nil and text unchanged; otherwise the returned text has
// every matched block removed, including skipped ones, and is trimmed.
func Parse(text string) ([]openai.ToolCall, string) {
	matches := blockPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, text
	}

	var calls []openai.ToolCall
	for _, match := range matches {
		body := strings.TrimSpace(match[1])
		if !gjson.Valid(body) {
			continue
		}
		parsed := gjson.Parse(body)
		name := parsed.Get("name")
		if !parsed.IsObject() || name.Type != gjson.String {
			continue
		}
		calls = append(calls, openai.ToolCall{
			ID:   ids.NewToolCallID(),
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      name.Str,
				Arguments: encodeArguments(parsed.Get("arguments")),
			},
		})
	}
	if len(calls) == 0 {
		return nil, text
	}

	cleaned := strings.TrimSpace(blockPattern.ReplaceAllLiteralString(text, ""))
	return calls, cleaned
}

func encodeArguments(arguments gjson.Result) string {
	if !arguments.Exists() {
		return "{}"
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(arguments.Raw)); err != nil {
		return arguments.Raw
	}
	return compact.String()
}
