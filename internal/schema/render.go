package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Render validates frontmatter, applies defaults, and produces the complete
// markdown file: a delimited frontmatter block with fields in declared
// order, a blank line, then the body. On validation failure it returns the
// error list and an empty string.
func Render(contentType string, frontmatter map[string]any, body string) (string, []string) {
	spec, err := Lookup(contentType)
	if err != nil {
		return "", []string{err.Error()}
	}

	frontmatter = ApplyDefaults(contentType, frontmatter)
	if errs := Validate(contentType, frontmatter); len(errs) > 0 {
		return "", errs
	}

	var b strings.Builder
	b.WriteString("---\n")
	for _, f := range spec.Fields {
		value, ok := frontmatter[f.Name]
		if !ok || value == nil {
			continue
		}
		if f.Kind == KindDate || f.Kind == KindDatetime {
			value = FormatDate(value, f.Kind)
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(yamlValue(value))
		b.WriteByte('\n')
	}
	b.WriteString("---\n\n")

	if body != "" {
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// yamlSpecial marks characters that force quoting of a scalar.
const yamlSpecial = ":#{}[],&*?|-<>=!%@`"

func yamlValue(value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int, int64, float64:
		return fmt.Sprintf("%v", v)
	case []string:
		quoted := make([]string, len(v))
		for i, item := range v {
			quoted[i] = `"` + strings.ReplaceAll(item, `"`, `\"`) + `"`
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	case []any:
		quoted := make([]string, len(v))
		for i, item := range v {
			quoted[i] = `"` + strings.ReplaceAll(fmt.Sprintf("%v", item), `"`, `\"`) + `"`
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	case string:
		if strings.ContainsAny(v, yamlSpecial) {
			return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		switch strings.ToLower(v) {
		case "true", "false", "yes", "no", "null", "on", "off":
			return `"` + v + `"`
		}
		return v
	default:
		return fmt.Sprintf("%v", value)
	}
}

// Parse splits a content file into frontmatter and body. Files without a
// valid frontmatter block yield a nil map and the raw text as body.
func Parse(raw string) (map[string]any, string) {
	if !strings.HasPrefix(raw, "---") {
		return nil, raw
	}
	end := strings.Index(raw[3:], "---")
	if end == -1 {
		return nil, raw
	}
	end += 3

	var frontmatter map[string]any
	if err := yaml.Unmarshal([]byte(raw[3:end]), &frontmatter); err != nil || frontmatter == nil {
		return nil, raw
	}
	return frontmatter, strings.TrimSpace(raw[end+3:])
}
