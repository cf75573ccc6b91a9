// Package template renders {{path.to.value}} placeholders against a nested
// context map. It is used for outbound message bodies and for building AI
// prompts.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_$.\-]+)\s*\}\}`)

// Render substitutes every {{a.b.c}} token with the value at that dotted
// path in ctx. Unknown or undefined paths render as the empty string; the
// literal token never survives into the output.
func Render(tmpl string, ctx map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := tokenPattern.FindStringSubmatch(token)[1]

		value, ok := Lookup(ctx, path)
		if !ok {
			return ""
		}

		return stringify(value)
	})
}

// Lookup resolves a dotted path against nested maps.
func Lookup(ctx map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = ctx

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			value, exists := node[part]
			if !exists {
				return nil, false
			}
			current = value

		case map[string]string:
			value, exists := node[part]
			if !exists {
				return nil, false
			}
			current = value

		default:
			return nil, false
		}
	}

	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
