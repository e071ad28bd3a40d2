// Package schema holds the content type catalog for the site repository and
// validates frontmatter against it. Field order in each spec matches the
// declared order in the site's content config and is preserved when files
// are rendered.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

type FieldKind string

const (
	KindString      FieldKind = "string"
	KindNumber      FieldKind = "number"
	KindBoolean     FieldKind = "boolean"
	KindDate        FieldKind = "date"
	KindDatetime    FieldKind = "datetime"
	KindEnum        FieldKind = "enum"
	KindStringArray FieldKind = "string_array"
)

type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	Default  any
	Options  []string
}

type Spec struct {
	Type      string
	Name      string
	Directory string
	Fields    []Field
}

func (s *Spec) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var localGroupOptions = []string{"brighton", "london", "oxford", "pennines", "scotland", "solent"}

var Catalog = map[string]*Spec{
	"article": {
		Type:      "article",
		Name:      "Article",
		Directory: "src/content/articles/",
		Fields: []Field{
			{Name: "title", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "category", Kind: KindEnum, Required: true, Options: []string{
				"Article", "Commentary", "Research", "Core Ideas", "Core Insights", "But what about...?",
			}},
			{Name: "layout", Kind: KindEnum, Default: "default", Options: []string{"default", "simplified", "rebuttal"}},
			{Name: "sector", Kind: KindString, Default: "Economics"},
			{Name: "author", Kind: KindString, Required: true, Default: "MMTUK"},
			{Name: "authorTitle", Kind: KindString},
			{Name: "pubDate", Kind: KindDate, Required: true},
			{Name: "readTime", Kind: KindNumber, Default: 5},
			{Name: "summary", Kind: KindString},
			{Name: "thumbnail", Kind: KindString},
			{Name: "mainImage", Kind: KindString},
			{Name: "featured", Kind: KindBoolean, Default: false},
			{Name: "color", Kind: KindString},
		},
	},
	"briefing": {
		Type:      "briefing",
		Name:      "Briefing",
		Directory: "src/content/briefings/",
		Fields: []Field{
			{Name: "title", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "author", Kind: KindString, Required: true},
			{Name: "authorTitle", Kind: KindString},
			{Name: "pubDate", Kind: KindDate, Required: true},
			{Name: "readTime", Kind: KindNumber, Default: 5},
			{Name: "summary", Kind: KindString},
			{Name: "thumbnail", Kind: KindString},
			{Name: "mainImage", Kind: KindString},
			{Name: "featured", Kind: KindBoolean, Default: false},
			{Name: "draft", Kind: KindBoolean, Default: false},
			{Name: "sourceUrl", Kind: KindString},
			{Name: "sourceTitle", Kind: KindString},
			{Name: "sourceAuthor", Kind: KindString},
			{Name: "sourcePublication", Kind: KindString},
			{Name: "sourceDate", Kind: KindDate},
		},
	},
	"news": {
		Type:      "news",
		Name:      "News",
		Directory: "src/content/news/",
		Fields: []Field{
			{Name: "title", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "date", Kind: KindDate, Required: true},
			{Name: "category", Kind: KindEnum, Required: true, Options: []string{
				"Announcement", "Event", "Press Release", "Update",
			}},
			{Name: "summary", Kind: KindString},
			{Name: "thumbnail", Kind: KindString},
			{Name: "mainImage", Kind: KindString},
		},
	},
	"local_event": {
		Type:      "local_event",
		Name:      "Local Event",
		Directory: "src/content/localEvents/",
		Fields: []Field{
			{Name: "title", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "localGroup", Kind: KindEnum, Required: true, Options: localGroupOptions},
			{Name: "date", Kind: KindDatetime, Required: true},
			{Name: "tag", Kind: KindString, Required: true},
			{Name: "location", Kind: KindString, Required: true},
			{Name: "description", Kind: KindString, Required: true},
			{Name: "link", Kind: KindString},
			{Name: "image", Kind: KindString},
		},
	},
	"local_news": {
		Type:      "local_news",
		Name:      "Local News",
		Directory: "src/content/localNews/",
		Fields: []Field{
			{Name: "heading", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "text", Kind: KindString, Required: true},
			{Name: "localGroup", Kind: KindEnum, Required: true, Options: localGroupOptions},
			{Name: "date", Kind: KindDate, Required: true},
			{Name: "link", Kind: KindString},
			{Name: "image", Kind: KindString},
		},
	},
	"bio": {
		Type:      "bio",
		Name:      "Bio",
		Directory: "src/content/bios/",
		Fields: []Field{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "role", Kind: KindString, Required: true},
			{Name: "photo", Kind: KindString},
			{Name: "linkedin", Kind: KindString},
			{Name: "twitter", Kind: KindString},
			{Name: "website", Kind: KindString},
			{Name: "advisoryBoard", Kind: KindBoolean, Default: false},
		},
	},
	"ecosystem": {
		Type:      "ecosystem",
		Name:      "Ecosystem Entry",
		Directory: "src/content/ecosystem/",
		Fields: []Field{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "country", Kind: KindString, Default: "UK"},
			{Name: "types", Kind: KindStringArray},
			{Name: "summary", Kind: KindString},
			{Name: "logo", Kind: KindString},
			{Name: "website", Kind: KindString},
			{Name: "twitter", Kind: KindString},
			{Name: "facebook", Kind: KindString},
			{Name: "youtube", Kind: KindString},
			{Name: "discord", Kind: KindString},
			{Name: "status", Kind: KindEnum, Default: "Active", Options: []string{"Active", "Inactive", "Archived"}},
		},
	},
}

// Types lists catalog keys in a stable order.
func Types() []string {
	return []string{"article", "briefing", "news", "local_event", "local_news", "bio", "ecosystem"}
}

func Lookup(contentType string) (*Spec, error) {
	spec, ok := Catalog[contentType]
	if !ok {
		return nil, fmt.Errorf("unknown content type: %s", contentType)
	}
	return spec, nil
}

// FilePath returns the repo-relative markdown path for a content item.
func FilePath(contentType, slug string) (string, error) {
	spec, err := Lookup(contentType)
	if err != nil {
		return "", err
	}
	return spec.Directory + slug + ".md", nil
}

// ImagePath returns the repo-relative image path for a content item. Bios
// and briefings get per-type subdirectories; everything else is flat.
func ImagePath(contentType, slug, ext string) string {
	if ext == "" {
		ext = "png"
	}
	switch contentType {
	case "bio":
		return fmt.Sprintf("public/images/bios/%s.%s", slug, ext)
	case "briefing":
		return fmt.Sprintf("public/images/briefings/%s-thumbnail.%s", slug, ext)
	default:
		return fmt.Sprintf("public/images/%s.%s", slug, ext)
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateSlug derives a URL-safe slug from a title.
func GenerateSlug(title string) string {
	slug := strings.ToLower(title)
	slug = slugRe.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// EstimateReadTime estimates minutes at 200 wpm, minimum 1.
func EstimateReadTime(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(float64(words)/200)))
}

// FormatDate serializes a date or datetime value for frontmatter. Date
// fields always carry a zeroed time component.
func FormatDate(value any, kind FieldKind) string {
	switch v := value.(type) {
	case time.Time:
		if kind == KindDatetime {
			return v.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		return v.UTC().Format("2006-01-02") + "T00:00:00.000Z"
	case string:
		return v
	default:
		return fmt.Sprintf("%v", value)
	}
}

// AutoLayout maps an article category to its page layout.
func AutoLayout(category string) string {
	switch category {
	case "Core Ideas", "Core Insights":
		return "simplified"
	case "But what about...?":
		return "rebuttal"
	default:
		return "default"
	}
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}

// Validate checks frontmatter against the content type's field catalog. It
// returns the list of field errors; an empty list means valid.
func Validate(contentType string, frontmatter map[string]any) []string {
	spec, err := Lookup(contentType)
	if err != nil {
		return []string{err.Error()}
	}

	var errs []string
	for _, f := range spec.Fields {
		if !f.Required {
			continue
		}
		if value, ok := frontmatter[f.Name]; !ok || isEmpty(value) {
			errs = append(errs, fmt.Sprintf("missing required field: %s", f.Name))
		}
	}

	for name, value := range frontmatter {
		f, ok := spec.field(name)
		if !ok || f.Kind != KindEnum || isEmpty(value) {
			continue
		}
		text := fmt.Sprintf("%v", value)
		valid := false
		for _, option := range f.Options {
			if text == option {
				valid = true
				break
			}
		}
		if !valid {
			errs = append(errs, fmt.Sprintf(
				"%s: %q is not a valid option, must be one of: %s",
				name, text, strings.Join(f.Options, ", ")))
		}
	}
	return errs
}

// ApplyDefaults fills missing fields that declare defaults and auto-sets
// the article layout from its category. The input map is not mutated.
func ApplyDefaults(contentType string, frontmatter map[string]any) map[string]any {
	spec, err := Lookup(contentType)
	if err != nil {
		return frontmatter
	}

	result := make(map[string]any, len(frontmatter))
	for k, v := range frontmatter {
		result[k] = v
	}

	for _, f := range spec.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := result[f.Name]; !ok {
			result[f.Name] = f.Default
		}
	}

	if contentType == "article" {
		if category, ok := result["category"].(string); ok {
			if layout, set := frontmatter["layout"]; !set || isEmpty(layout) {
				result["layout"] = AutoLayout(category)
			}
		}
	}
	return result
}

// Title extracts the display title; local_news uses heading, bio and
// ecosystem use name.
func Title(frontmatter map[string]any) string {
	for _, key := range []string{"title", "heading", "name"} {
		if v, ok := frontmatter[key].(string); ok && v != "" {
			return v
		}
	}
	return "Untitled"
}

// LocalGroup returns the localGroup field when present.
func LocalGroup(frontmatter map[string]any) string {
	if v, ok := frontmatter["localGroup"].(string); ok {
		return v
	}
	return ""
}
