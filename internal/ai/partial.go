package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable is returned when no prefix of a response can be repaired into JSON
var ErrUnparseable = errors.New("response is not parseable JSON")

// RepairJSON turns a truncated JSON text into a valid document by closing
// an open string and any open arrays and objects. A trailing member that
// cannot be completed (a dangling key, colon, comma or partial literal) is
// dropped. Reports false when nothing parseable remains.
func RepairJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for end := len(text); end > 0; end-- {
		candidate, ok := closeJSON(text[:end])
		if ok && json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

func closeJSON(prefix string) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(prefix); i++ {
		ch := prefix[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	var b strings.Builder
	b.WriteString(prefix)
	if inString {
		if escaped {
			return "", false
		}
		b.WriteByte('"')
	}

	out := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(out, ",") {
		out = strings.TrimRight(strings.TrimSuffix(out, ","), " \t\r\n")
	}
	if strings.HasSuffix(out, ":") {
		return "", false
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out, true
}

// ParsePartial decodes whatever is parseable of a streaming response
func ParsePartial(text string) (Commentary, error) {
	var c Commentary
	if strings.TrimSpace(text) == "" {
		return c, nil
	}
	repaired, ok := RepairJSON(text)
	if !ok {
		return c, ErrUnparseable
	}
	if err := json.Unmarshal([]byte(repaired), &c); err != nil {
		return Commentary{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return c, nil
}

// ParseComplete decodes a finished response; no repair is attempted
func ParseComplete(text string) (Commentary, error) {
	var c Commentary
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &c); err != nil {
		return Commentary{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return c, nil
}
