// Package content reads published items out of the site repository mirror,
// with filtering, sorting, and a Redis cache in front of the file reads.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"copydesk/api/internal/cache"
	"copydesk/api/internal/schema"
)

var ErrNotFound = errors.New("content not found")

// Repo is the slice of the git mirror the reader needs.
type Repo interface {
	EnsureFresh(ctx context.Context) error
	ReadFile(path string) (string, error)
	ListFiles(dir, pattern string) ([]string, error)
}

type Item struct {
	Type        string         `json:"type"`
	Slug        string         `json:"slug"`
	Title       string         `json:"title"`
	Frontmatter map[string]any `json:"frontmatter"`
	Body        string         `json:"body,omitempty"`
}

type ListRequest struct {
	Type     string
	Limit    int
	Sort     string
	Group    string
	Category string
}

const DefaultLimit = 10

type Service struct {
	repo  Repo
	cache *cache.Cache
}

func NewService(repo Repo, contentCache *cache.Cache) *Service {
	return &Service{repo: repo, cache: contentCache}
}

// List returns items of a content type, filtered and sorted. An empty type
// lists across every content type. Results are cached per request shape; any
// content mutation flushes the whole cache.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Item, error) {
	types := []string{req.Type}
	if req.Type == "" {
		types = schema.Types()
	} else if _, err := schema.Lookup(req.Type); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Sort == "" {
		req.Sort = "date_desc"
	}

	cacheKey := fmt.Sprintf("list:%s:%s:%s:%s:%d", req.Type, req.Sort, req.Group, req.Category, req.Limit)
	if s.cache != nil {
		if cached := s.cache.Get(ctx, cacheKey); cached != "" {
			var items []Item
			if err := json.Unmarshal([]byte(cached), &items); err == nil {
				return items, nil
			}
		}
	}

	if err := s.repo.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	var items []Item
	for _, contentType := range types {
		spec, err := schema.Lookup(contentType)
		if err != nil {
			return nil, err
		}
		files, err := s.repo.ListFiles(strings.TrimSuffix(spec.Directory, "/"), "*.md")
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			raw, err := s.repo.ReadFile(file)
			if err != nil {
				continue
			}
			fm, _ := schema.Parse(raw)
			if fm == nil {
				continue
			}
			item := Item{
				Type:        contentType,
				Slug:        strings.TrimSuffix(path.Base(file), ".md"),
				Title:       schema.Title(fm),
				Frontmatter: fm,
			}
			if req.Group != "" && schema.LocalGroup(fm) != req.Group {
				continue
			}
			if req.Category != "" {
				if category, _ := fm["category"].(string); category != req.Category {
					continue
				}
			}
			items = append(items, item)
		}
	}

	sortItems(items, req.Sort)
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(items); err == nil {
			s.cache.Set(ctx, cacheKey, string(encoded))
		}
	}
	return items, nil
}

// Read returns a single item including its body.
func (s *Service) Read(ctx context.Context, contentType, slug string) (Item, error) {
	filePath, err := schema.FilePath(contentType, slug)
	if err != nil {
		return Item{}, err
	}

	cacheKey := "read:" + contentType + ":" + slug
	if s.cache != nil {
		if cached := s.cache.Get(ctx, cacheKey); cached != "" {
			var item Item
			if err := json.Unmarshal([]byte(cached), &item); err == nil {
				return item, nil
			}
		}
	}

	if err := s.repo.EnsureFresh(ctx); err != nil {
		return Item{}, err
	}

	raw, err := s.repo.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}

	fm, body := schema.Parse(raw)
	if fm == nil {
		fm = map[string]any{}
	}
	item := Item{
		Type:        contentType,
		Slug:        slug,
		Title:       schema.Title(fm),
		Frontmatter: fm,
		Body:        body,
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(item); err == nil {
			s.cache.Set(ctx, cacheKey, string(encoded))
		}
	}
	return item, nil
}

// SlugExists reports whether a content file already exists, without going
// through the cache.
func (s *Service) SlugExists(ctx context.Context, contentType, slug string) (bool, error) {
	filePath, err := schema.FilePath(contentType, slug)
	if err != nil {
		return false, err
	}
	if err := s.repo.EnsureFresh(ctx); err != nil {
		return false, err
	}
	_, err = s.repo.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stats counts published items per content type.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	if err := s.repo.EnsureFresh(ctx); err != nil {
		return nil, err
	}
	stats := make(map[string]int, len(schema.Types()))
	for _, contentType := range schema.Types() {
		spec, _ := schema.Lookup(contentType)
		files, err := s.repo.ListFiles(strings.TrimSuffix(spec.Directory, "/"), "*.md")
		if err != nil {
			return nil, err
		}
		stats[contentType] = len(files)
	}
	return stats, nil
}

func sortItems(items []Item, order string) {
	date := func(item Item) string {
		for _, key := range []string{"pubDate", "date", "sourceDate"} {
			if v, ok := item.Frontmatter[key].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}
	sort.SliceStable(items, func(i, j int) bool {
		switch order {
		case "date_asc":
			return date(items[i]) < date(items[j])
		case "title_asc":
			return strings.ToLower(items[i].Title) < strings.ToLower(items[j].Title)
		case "title_desc":
			return strings.ToLower(items[i].Title) > strings.ToLower(items[j].Title)
		default: // date_desc
			return date(items[i]) > date(items[j])
		}
	})
}
