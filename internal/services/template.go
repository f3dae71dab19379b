package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"fitcrm/internal/models"
)

var templateVarPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ResolveTemplate replaces every {{a.b.c}} occurrence with the value at
// that dotted path in ctx. Unresolved placeholders are left verbatim;
// resolution never fails and never substitutes a partial value.
func ResolveTemplate(template string, ctx map[string]interface{}) string {
	return templateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := lookupPath(ctx, path)
		if !ok || value == nil {
			return match
		}
		return renderValue(value)
	})
}

// ResolveParams applies ResolveTemplate recursively through nested
// parameter maps; non-string leaves pass through unchanged.
func ResolveParams(params models.JSONMap, ctx map[string]interface{}) models.JSONMap {
	if params == nil {
		return nil
	}
	resolved := make(models.JSONMap, len(params))
	for key, value := range params {
		switch v := value.(type) {
		case string:
			if strings.Contains(v, "{{") {
				resolved[key] = ResolveTemplate(v, ctx)
			} else {
				resolved[key] = v
			}
		case map[string]interface{}:
			resolved[key] = map[string]interface{}(ResolveParams(models.JSONMap(v), ctx))
		case models.JSONMap:
			resolved[key] = ResolveParams(v, ctx)
		default:
			resolved[key] = value
		}
	}
	return resolved
}

// lookupPath walks a dotted path through nested maps. A missing
// segment anywhere returns ok=false.
func lookupPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = ctx
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			if jm, isJM := current.(models.JSONMap); isJM {
				m = map[string]interface{}(jm)
			} else {
				return nil, false
			}
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func renderValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; print integers without a
		// trailing ".0".
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// asDocument converts an arbitrary model value into the generic
// JSON-like tree the template resolver operates on.
func asDocument(value interface{}) models.JSONMap {
	if value == nil {
		return nil
	}
	if m, ok := value.(models.JSONMap); ok {
		return m
	}
	if m, ok := value.(map[string]interface{}); ok {
		return models.JSONMap(m)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var doc models.JSONMap
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil
	}
	return doc
}
