package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
)

const clipLimit = 240

// Truncate flattens value onto one line and clips it for status displays.
func Truncate(value string) string {
	value = strings.TrimSpace(value)
	value = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value)
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

func FormatEventLine(event Event) string {
	ts := event.Time.Format("15:04:05")
	level := strings.ToUpper(event.Level.String())
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] ", ts, level)
	if event.Component != "" {
		b.WriteString(event.Component + ": ")
	}
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Fields) {
		fmt.Fprintf(&b, " %s=%s", key, formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		if isSensitiveKey(attr.Key) {
			values[attr.Key] = redacted
			continue
		}
		values[attr.Key] = resolveAttrValue(attr.Value)
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

const redacted = "[redacted]"

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "password", "access", "refresh", "token", "access_token", "refresh_token", "authorization":
		return true
	default:
		return false
	}
}

func resolveAttrValue(value slog.Value) any {
	value = value.Resolve()
	if value.Kind() != slog.KindGroup {
		return value.Any()
	}
	group := map[string]any{}
	for _, inner := range value.Group() {
		if inner.Key != "" {
			group[inner.Key] = resolveAttrValue(inner.Value)
		}
	}
	return group
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if pretty, ok := prettyJSONString(value); ok {
		return pretty
	}
	return fmt.Sprintf("%v", value)
}

// prettyJSONString renders maps, slices, structs and JSON-container strings
// as indented JSON. Scalars and free text report false.
func prettyJSONString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case error:
		return prettyJSONString(v.Error())
	case []byte:
		return prettyJSONString(string(v))
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &decoded); err != nil {
			return "", false
		}
		switch decoded.(type) {
		case map[string]any, []any:
			return marshalIndented(decoded)
		}
		return "", false
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if _, isStringer := value.(fmt.Stringer); isStringer {
			return "", false
		}
		return marshalIndented(rv.Interface())
	}
	return "", false
}

func marshalIndented(value any) (string, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}

// orderedFieldKeys sorts keys with inline values first and multi-line JSON
// blocks last, body-like keys at the very end.
func orderedFieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rank := func(key string) int {
		if _, ok := prettyJSONString(fields[key]); !ok {
			return 0
		}
		if isPayloadFieldKey(key) {
			return 2
		}
		return 1
	}
	sort.SliceStable(keys, func(i, j int) bool { return rank(keys[i]) < rank(keys[j]) })
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "data":
		return true
	default:
		return false
	}
}
