// Package jsonx pulls JSON objects out of decorated model output such as
// prose-wrapped replies or fenced code blocks.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/jsonc"
)

var ErrNoJSONObject = errors.New("no JSON object found in text")

// ExtractObject returns the first well-formed JSON object in text as strict
// JSON. Comments and trailing commas are tolerated.
func ExtractObject(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrNoJSONObject
	}

	if obj, ok := asObject(trimmed); ok {
		return obj, nil
	}

	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '{' {
			continue
		}
		end := matchBrace(trimmed, i)
		if end < 0 {
			continue
		}
		if obj, ok := asObject(trimmed[i : end+1]); ok {
			return obj, nil
		}
	}
	return nil, ErrNoJSONObject
}

// Decode extracts the first object in text and unmarshals it into v.
func Decode(text string, v interface{}) error {
	obj, err := ExtractObject(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(obj, v)
}

func asObject(candidate string) ([]byte, bool) {
	if !strings.HasPrefix(candidate, "{") {
		return nil, false
	}
	clean := bytes.TrimSpace(jsonc.ToJSON([]byte(candidate)))
	if len(clean) == 0 || clean[0] != '{' || !json.Valid(clean) {
		return nil, false
	}
	return clean, true
}

// matchBrace returns the index of the brace closing the one at start, skipping
// braces inside string literals. It returns -1 when unbalanced.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
