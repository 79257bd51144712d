// Package toolcall recovers and validates tool invocations from model
// output. Smaller local models often skip the structured tool_calls field
// and emit the call inline, so extraction falls back to scanning the
// response text. Nothing in this package returns an error: a response we
// cannot parse is simply a response with no tool call.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/smartcathome/whisker/pkg/models"
)

// markerRe matches the inline channel marker some chat templates leak,
// e.g. `commentary to=functions.saveMemory {"content":"..."}`.
var markerRe = regexp.MustCompile(`(?:commentary\s+)?\bto=(?:functions\.)?([A-Za-z_][A-Za-z0-9_]*)`)

// Extract finds the first tool call in a model response. Structured calls
// win over in-text ones, and only the first call is honored. The returned
// string is the content with any in-text call text removed; when no call
// is found it is the input unchanged.
func Extract(content string, structured []models.ToolCall) (*models.ToolCall, string) {
	if len(structured) > 0 {
		call := structured[0]
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		if call.Name != "" {
			return &call, content
		}
	}

	if call, cleaned, ok := extractMarkerCall(content); ok {
		return call, cleaned
	}
	return extractImplicitCall(content)
}

// extractMarkerCall handles the `to=functions.NAME {...}` form.
func extractMarkerCall(content string) (*models.ToolCall, string, bool) {
	loc := markerRe.FindStringSubmatchIndex(content)
	if loc == nil {
		return nil, content, false
	}
	name := content[loc[2]:loc[3]]

	args := map[string]any{}
	end := loc[1]
	if block, blockEnd, ok := scanJSONBlock(content, loc[1]); ok {
		if err := json.Unmarshal([]byte(block), &args); err != nil {
			log.Debug().Str("tool", name).Err(err).Msg("marker arguments not valid JSON, using empty args")
			args = map[string]any{}
		}
		end = blockEnd
	}

	cleaned := strings.TrimSpace(content[:loc[0]] + content[end:])
	return &models.ToolCall{Name: name, Arguments: args}, cleaned, true
}

// extractImplicitCall handles a bare JSON object that names a tool via a
// tool/function/name key.
func extractImplicitCall(content string) (*models.ToolCall, string) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return nil, content
	}
	block, end, ok := scanJSONBlock(content, start)
	if !ok {
		return nil, content
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(block), &obj); err != nil {
		return nil, content
	}

	var name string
	for _, key := range []string{"tool", "function", "name"} {
		if s, ok := obj[key].(string); ok && s != "" {
			name = s
			break
		}
	}
	if name == "" {
		return nil, content
	}

	args := map[string]any{}
	for _, key := range []string{"arguments", "args", "parameters"} {
		if m, ok := obj[key].(map[string]any); ok {
			args = m
			break
		}
	}

	cleaned := strings.TrimSpace(content[:start] + content[end:])
	return &models.ToolCall{Name: name, Arguments: args}, cleaned
}

// scanJSONBlock returns the first balanced top-level object at or after
// from, honoring string literals and escape sequences. Returns the block,
// the index just past it, and whether a complete block was found.
func scanJSONBlock(s string, from int) (string, int, bool) {
	start := strings.IndexByte(s[from:], '{')
	if start < 0 {
		return "", 0, false
	}
	start += from

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}
