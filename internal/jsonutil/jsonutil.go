// Package jsonutil extracts and parses JSON from LLM responses, which may
// arrive wrapped in markdown code fences, prefixed with prose, or trailed by
// commentary the model added despite instructions.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a leading ```json (or bare ```) fence and its closing
// fence. Text without fences is returned unchanged apart from trimming.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	// Drop the opening fence line.
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		return strings.TrimPrefix(text, "```")
	}

	// Drop everything from the closing fence on.
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// Extract returns the JSON object or array embedded in text, tolerating
// surrounding prose. It spans from the first { or [ to the last matching
// } or ].
func Extract(text string) (string, error) {
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON content found")
	}

	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}

	end := strings.LastIndex(text, closer)
	if end < start {
		return "", fmt.Errorf("no closing %s found", closer)
	}
	return text[start : end+1], nil
}

// Parse strips fences, extracts the embedded JSON, and unmarshals it into T.
// This is the single entry point pipeline code uses on raw Gemini text.
func Parse[T any](raw string) (T, error) {
	var zero T

	jsonStr, err := Extract(StripFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		preview := jsonStr
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}
	return result, nil
}
