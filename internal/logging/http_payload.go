package logging

import (
	"encoding/json"
	"strings"
)

const payloadLogLimit = 4096

// FormatHTTPPayload normalizes an HTTP body for log output: JSON is
// re-indented with credential values masked, a JSON-encoded string is
// unwrapped, anything else is returned trimmed and clipped.
func FormatHTTPPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}

	var quoted string
	if err := json.Unmarshal([]byte(trimmed), &quoted); err == nil {
		trimmed = strings.TrimSpace(quoted)
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		if pretty, ok := marshalIndented(redactJSON(value)); ok {
			trimmed = pretty
		}
	}
	if len(trimmed) > payloadLogLimit {
		return trimmed[:payloadLogLimit] + "...(truncated)"
	}
	return trimmed
}

// redactJSON masks values under credential keys at any depth. Token
// endpoints echo the pair back, and those bodies reach the log files.
func redactJSON(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, inner := range v {
			if isSensitiveKey(key) {
				v[key] = redacted
				continue
			}
			v[key] = redactJSON(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = redactJSON(inner)
		}
		return v
	default:
		return value
	}
}
