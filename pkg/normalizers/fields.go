package normalizers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lookup resolves a dot-notation path through nested maps.
func lookup(raw map[string]any, path string) (any, bool) {
	var current any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func has(raw map[string]any, paths ...string) bool {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok || v == nil {
			return false
		}
	}
	return true
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// str returns the first non-empty string found at paths.
func str(raw map[string]any, paths ...string) string {
	for _, p := range paths {
		if v, ok := lookup(raw, p); ok {
			if s := strings.TrimSpace(asString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// strPtr is str but nil when nothing is found.
func strPtr(raw map[string]any, paths ...string) *string {
	if s := str(raw, paths...); s != "" {
		return &s
	}
	return nil
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// num returns the first numeric value found at paths. Numeric strings are parsed.
func num(raw map[string]any, paths ...string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, true
			}
		case int:
			return float64(t), true
		case int64:
			return float64(t), true
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func boolean(raw map[string]any, path string) bool {
	v, _ := lookup(raw, path)
	b, _ := v.(bool)
	return b
}

// pluck collects field from each map element of the list at path.
func pluck(raw map[string]any, path, field string) []string {
	v, _ := lookup(raw, path)
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		switch t := item.(type) {
		case map[string]any:
			if s := str(t, field); s != "" {
				out = append(out, s)
			}
		case string:
			if field == "" && t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// metadata builds a metadata map, dropping empty values so output stays flat and stable.
type metadata map[string]any

func (m metadata) set(key string, value any) metadata {
	switch v := value.(type) {
	case nil:
		return m
	case string:
		if v == "" {
			return m
		}
	case *string:
		if v == nil {
			return m
		}
		value = *v
	case []string:
		if len(v) == 0 {
			return m
		}
	}
	m[key] = value
	return m
}

func (m metadata) setNum(key string, raw map[string]any, paths ...string) metadata {
	if f, ok := num(raw, paths...); ok {
		m[key] = f
	}
	return m
}

func title(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return untitledDefault
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
