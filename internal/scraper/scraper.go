// Package scraper fetches external articles for the briefing workflow. A
// headless browser renders the page so script-heavy sites still produce
// readable text, then the DOM is reduced to markdown plus source metadata.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"
)

type Service struct {
	timeout    time.Duration
	httpClient *http.Client
}

func New() *Service {
	return &Service{
		timeout: 45 * time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Page is the scraped result handed to the assistant.
type Page struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Publication string   `json:"publication"`
	Date        string   `json:"date"`
	Markdown    string   `json:"markdown"`
	Images      []string `json:"images,omitempty"`
}

// Fetch renders the page in a headless browser and extracts it. When the
// browser is unavailable it falls back to a plain HTTP GET, which is enough
// for static pages.
func (s *Service) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	rendered, err := s.render(ctx, pageURL)
	if err != nil {
		rendered, err = s.get(ctx, pageURL)
		if err != nil {
			return nil, err
		}
	}
	return Extract(rendered, pageURL)
}

func (s *Service) render(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, s.timeout)
	defer cancelRun()

	var out string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &out),
	)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return out, nil
}

func (s *Service) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; copydesk/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return string(body), nil
}

const maxImageBytes = 8 << 20

// DownloadImage fetches an image for reuse as a briefing thumbnail.
func (s *Service) DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("not an image: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, contentType, nil
}

// Extract reduces raw HTML to a Page.
func Extract(rawHTML, pageURL string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{URL: pageURL}
	meta := collectMeta(doc)

	page.Title = firstNonEmpty(meta["og:title"], meta["twitter:title"], textOf(find(doc, "title")))
	page.Author = firstNonEmpty(meta["author"], meta["article:author"])
	page.Publication = firstNonEmpty(meta["og:site_name"], hostname(pageURL))
	page.Date = firstNonEmpty(meta["article:published_time"], meta["date"])
	if len(page.Date) > 10 {
		page.Date = page.Date[:10]
	}
	if img := meta["og:image"]; img != "" {
		page.Images = append(page.Images, resolveURL(pageURL, img))
	}

	content := findContentRoot(doc)
	var b strings.Builder
	renderMarkdown(&b, content, pageURL, page)
	page.Markdown = tidyMarkdown(b.String())

	return page, nil
}

func hostname(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
