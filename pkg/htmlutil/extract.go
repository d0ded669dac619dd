// Package htmlutil extracts data islands embedded in server-rendered HTML.
//
// Streaming React pages inline their props as string literals pushed onto
// self.__next_f. The format has no public schema, so extraction is a text scan
// that gives up quietly rather than a markup parse.
package htmlutil

import (
	"encoding/json"
	"strings"
)

// flightPushMarker opens a serialized flight chunk; the chunk text is a
// JavaScript string literal that starts right after it.
const flightPushMarker = `self.__next_f.push([1,"`

// flightPushEnd closes a serialized flight chunk.
const flightPushEnd = `"])`

// FlightObject returns the JSON object stored under key inside the flight
// chunk that mentions it first. It returns false when any marker is missing,
// the chunk cannot be unescaped, or the object is not balanced valid JSON.
func FlightObject(htmlContent, key string) (json.RawMessage, bool) {
	if key == "" {
		return nil, false
	}

	// Inside the chunk the key's quotes are escaped once.
	keyIdx := strings.Index(htmlContent, key+`\":`)
	if keyIdx == -1 {
		return nil, false
	}

	start := strings.LastIndex(htmlContent[:keyIdx], flightPushMarker)
	if start == -1 {
		return nil, false
	}
	start += len(flightPushMarker)

	end := strings.Index(htmlContent[keyIdx:], flightPushEnd)
	if end == -1 {
		return nil, false
	}
	end += keyIdx

	content, ok := UnquoteJSString(htmlContent[start:end])
	if !ok {
		return nil, false
	}

	return ObjectAt(content, key)
}

// UnquoteJSString decodes the body of a double-quoted string literal.
func UnquoteJSString(body string) (string, bool) {
	var s string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &s); err != nil {
		return "", false
	}
	return s, true
}

// ObjectAt finds `"key":` in a JSON text and returns the object value that
// follows it. Values other than objects are reported as missing.
func ObjectAt(content, key string) (json.RawMessage, bool) {
	idx := strings.Index(content, `"`+key+`":`)
	if idx == -1 {
		return nil, false
	}
	i := idx + len(key) + 3
	for i < len(content) && isSpace(content[i]) {
		i++
	}
	if i >= len(content) || content[i] != '{' {
		return nil, false
	}

	end, ok := BalancedJSON(content, i)
	if !ok {
		return nil, false
	}

	raw := json.RawMessage(content[i:end])
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}

// BalancedJSON returns the index just past the object or array that opens at
// start. Nesting is tracked with a single depth counter across both bracket
// kinds; brackets inside string literals are ignored.
func BalancedJSON(s string, start int) (int, bool) {
	if start < 0 || start >= len(s) || (s[start] != '{' && s[start] != '[') {
		return 0, false
	}

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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
			if depth < 0 {
				return 0, false
			}
		}
	}
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
