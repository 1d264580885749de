// Package tmpl renders prompt templates containing {{dotted.path}}
// placeholders against a variable bag.
package tmpl

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Render substitutes every {{path}} in template with the stringified value
// found at that path in vars. Unresolvable placeholders are left verbatim.
func Render(template string, vars map[string]any) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}
	bag := normalize(vars)
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		v, ok := lookup(bag, strings.Split(sub[1], "."))
		if !ok || v == nil {
			return match
		}
		return stringify(v)
	})
}

// RenderOptional renders template when present. A nil template stays nil so
// callers can tell "no override" apart from an empty prompt.
func RenderOptional(template *string, vars map[string]any) *string {
	if template == nil {
		return nil
	}
	out := Render(*template, vars)
	return &out
}

// Placeholders lists the distinct paths referenced by template, in order of
// first appearance.
func Placeholders(template string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// normalize turns structs anywhere in the bag into generic maps so dotted
// lookups follow JSON field names.
func normalize(vars map[string]any) map[string]any {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, map[string]any:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return v
	}
	return generic
}

func lookup(bag map[string]any, path []string) (any, bool) {
	var cur any = bag
	for _, key := range path {
		switch m := cur.(type) {
		case map[string]any:
			next, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = normalizeValue(next)
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(m) {
				return nil, false
			}
			cur = normalizeValue(m[idx])
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int32, int64:
		return fmt.Sprint(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
