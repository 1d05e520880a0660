package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON decodes JSON from a model response, tolerating code fences and
// leading prose around the payload.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, payloadSnippet(trimmed))
	}

	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, payloadSnippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return ""
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func payloadSnippet(content string) string {
	const maxLen = 120
	collapsed := strings.Join(strings.Fields(content), " ")
	if len(collapsed) > maxLen {
		return collapsed[:maxLen] + "..."
	}
	return collapsed
}
