package wire

import (
	"fmt"
	"net/url"
	"strings"
)

// field is one key/value pair of a map string.
type field struct {
	key, value string
}

// formatMap renders fields as {k=v,k=v}. Keys keep their order; values are
// query-escaped so separators cannot leak.
func formatMap(fields []field) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.value))
	}
	b.WriteByte('}')
	return b.String()
}

// parseMap is the inverse of formatMap.
func parseMap(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("map string not enclosed in braces")
	}
	body := s[1 : len(s)-1]
	out := make(map[string]string)
	if body == "" {
		return out, nil
	}
	for _, part := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad map entry %q", part)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("bad value for %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
