package search

import (
	"context"
	"strings"

	"copydesk/api/internal/content"
	"copydesk/api/internal/schema"
)

// Scan is the fallback searcher: a case-insensitive substring match over
// the repository mirror. Slow but dependency-free, used when Meilisearch
// is down or not configured.
type Scan struct {
	reader *content.Service
}

func NewScan(reader *content.Service) *Scan {
	return &Scan{reader: reader}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	types := schema.Types()
	if q.Type != "" {
		types = []string{q.Type}
	}

	var results []Result
	for _, contentType := range types {
		items, err := s.reader.List(ctx, content.ListRequest{
			Type:  contentType,
			Limit: 1000,
			Group: q.Group,
		})
		if err != nil {
			return nil, 0, err
		}
		for _, item := range items {
			haystack := strings.ToLower(item.Title + " " + flatten(item.Frontmatter))
			if needle != "" && !strings.Contains(haystack, needle) {
				continue
			}
			results = append(results, Result{
				Type:    item.Type,
				Slug:    item.Slug,
				Title:   item.Title,
				Snippet: snippet(item.Frontmatter),
			})
		}
	}

	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func flatten(fm map[string]any) string {
	var parts []string
	for _, key := range []string{"summary", "text", "description", "author", "category", "tag"} {
		if v, ok := fm[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func snippet(fm map[string]any) string {
	for _, key := range []string{"summary", "text", "description"} {
		if v, ok := fm[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
