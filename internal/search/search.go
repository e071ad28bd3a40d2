// Package search indexes published content in Meilisearch and answers
// queries, degrading to an in-process scan of the repository mirror when
// Meilisearch is unavailable.
package search

// Record is the unit stored in the search index, one per content file.
type Record struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Body       string `json:"body"`
	LocalGroup string `json:"localGroup,omitempty"`
	Date       string `json:"date,omitempty"`
}

// RecordID builds the index primary key. Meilisearch keys allow only
// alphanumerics, hyphens, and underscores.
func RecordID(contentType, slug string) string {
	return contentType + "__" + slug
}

type Query struct {
	Text  string
	Type  string
	Group string
	Limit int
}

type Result struct {
	Type    string `json:"type"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
