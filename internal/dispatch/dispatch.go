package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"copydesk/api/internal/content"
	"copydesk/api/internal/policy"
	"copydesk/api/internal/schema"
	"copydesk/api/internal/scraper"
	"copydesk/api/internal/search"
	"copydesk/api/internal/store"
	"copydesk/api/internal/util"
)

// Actor is the authenticated user an action runs as.
type Actor struct {
	ID    string
	Name  string
	Role  policy.Role
	Group policy.Group
}

// Repo is the git mirror surface the dispatcher mutates.
type Repo interface {
	EnsureFresh(ctx context.Context) error
	ReadFile(path string) (string, error)
	WriteFile(path string, data []byte) error
	DeleteFile(path string) (bool, error)
	ListFiles(dir, pattern string) ([]string, error)
	CommitLocally(files []string, message, authorName string) (string, error)
	PushToRemote(ctx context.Context) (int, error)
}

type DraftStore interface {
	CreateDraft(ctx context.Context, draft store.Draft) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry store.AuditEntry) error
}

type Indexer interface {
	IndexRecord(record search.Record)
	DeleteRecord(id string)
}

type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Page, error)
	DownloadImage(ctx context.Context, url string) ([]byte, string, error)
}

// ImageStore holds image payloads for drafts until a reviewer publishes
// them.
type ImageStore interface {
	Put(ctx context.Context, draftID, filename, contentType string, data []byte) (string, error)
}

// Outcome is what a dispatched action produced.
type Outcome struct {
	Summary   string         `json:"summary"`
	Published bool           `json:"published,omitempty"`
	Pending   bool           `json:"pending,omitempty"`
	DraftID   string         `json:"draftId,omitempty"`
	CommitSHA string         `json:"commitSha,omitempty"`
	Item      *content.Item  `json:"item,omitempty"`
	Items     []content.Item `json:"items,omitempty"`
	Page      *scraper.Page  `json:"page,omitempty"`
	// followUp is fed back to the assistant instead of the user.
	followUp string
}

type Dispatcher struct {
	repo    Repo
	reader  *content.Service
	drafts  DraftStore
	audit   AuditLog
	cache   Invalidator
	search  Indexer
	fetcher PageFetcher
	images  ImageStore
}

func New(repo Repo, reader *content.Service, drafts DraftStore, audit AuditLog, cache Invalidator, indexer Indexer, fetcher PageFetcher, images ImageStore) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		reader:  reader,
		drafts:  drafts,
		audit:   audit,
		cache:   cache,
		search:  indexer,
		fetcher: fetcher,
		images:  images,
	}
}

// Dispatch runs one action for an actor.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, action *Action) (*Outcome, error) {
	switch action.Action {
	case "create":
		return d.create(ctx, actor, action)
	case "edit":
		return d.edit(ctx, actor, action)
	case "delete":
		return d.delete(ctx, actor, action)
	case "read":
		return d.read(ctx, action)
	case "list":
		return d.list(ctx, actor, action)
	case "scrape":
		return d.scrape(ctx, actor, action)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action.Action)
	}
}

func (d *Dispatcher) create(ctx context.Context, actor Actor, action *Action) (*Outcome, error) {
	spec, err := schema.Lookup(action.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	contentType := policy.ContentType(action.ContentType)

	if !policy.CanCreate(actor.Role, actor.Group, contentType) {
		return nil, fmt.Errorf("%w: %s may not create %s content", ErrDenied, actor.Role, action.ContentType)
	}

	fm := copyMap(action.Frontmatter)
	slug := action.Slug
	if slug == "" {
		slug = schema.GenerateSlug(schema.Title(fm))
	}
	if slug == "" {
		return nil, fmt.Errorf("%w: cannot derive a slug without a title", ErrMalformedAction)
	}
	fm["slug"] = slug
	fillCreateDefaults(spec, fm, action.Body)

	exists, err := d.reader.SlugExists(ctx, action.ContentType, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrSlugExists, action.ContentType, slug)
	}

	targetGroup := policy.Group(schema.LocalGroup(fm))
	rendered, validationErrs := schema.Render(action.ContentType, fm, action.Body)
	if len(validationErrs) > 0 {
		return nil, &ValidationError{Fields: validationErrs}
	}

	img := d.resolveImage(ctx, action, slug)

	title := schema.Title(fm)
	if policy.CanPublishDirectly(actor.Role, actor.Group, contentType, targetGroup) {
		message := fmt.Sprintf("Add %s: %s", spec.Name, title)
		return d.publish(ctx, actor, "create", action.ContentType, slug, title, rendered, message, fm, action.Body, img)
	}
	return d.saveDraft(ctx, actor, "create", action.ContentType, slug, title, string(targetGroup), fm, action.Body, img, "")
}

func (d *Dispatcher) edit(ctx context.Context, actor Actor, action *Action) (*Outcome, error) {
	spec, err := schema.Lookup(action.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if action.Slug == "" {
		return nil, fmt.Errorf("%w: edit requires a slug", ErrMalformedAction)
	}
	contentType := policy.ContentType(action.ContentType)

	if !policy.CanEdit(actor.Role, actor.Group, contentType, "") {
		return nil, fmt.Errorf("%w: %s may not edit %s content", ErrDenied, actor.Role, action.ContentType)
	}

	existing, err := d.reader.Read(ctx, action.ContentType, action.Slug)
	if errors.Is(err, content.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, action.ContentType, action.Slug)
	}
	if err != nil {
		return nil, err
	}

	// Field-level merge: supplied keys override, everything else survives
	// untouched. A supplied key never removes a field.
	merged := copyMap(existing.Frontmatter)
	for key, value := range action.Frontmatter {
		merged[key] = value
	}
	merged["slug"] = action.Slug

	// The body is replaced only when the action carried one, even an empty
	// one. An omitted body keeps the existing text verbatim.
	body := existing.Body
	if action.hasBody {
		body = action.Body
	}

	targetGroup := policy.Group(schema.LocalGroup(merged))
	if !policy.CanEdit(actor.Role, actor.Group, contentType, targetGroup) {
		return nil, fmt.Errorf("%w: %s may not edit %s content for group %s", ErrDenied, actor.Role, action.ContentType, targetGroup)
	}

	rendered, validationErrs := schema.Render(action.ContentType, merged, body)
	if len(validationErrs) > 0 {
		return nil, &ValidationError{Fields: validationErrs}
	}

	img := d.resolveImage(ctx, action, action.Slug)

	title := schema.Title(merged)
	if policy.CanPublishDirectly(actor.Role, actor.Group, contentType, targetGroup) {
		message := fmt.Sprintf("Update %s: %s", spec.Name, title)
		return d.publish(ctx, actor, "edit", action.ContentType, action.Slug, title, rendered, message, merged, body, img)
	}
	return d.saveDraft(ctx, actor, "edit", action.ContentType, action.Slug, title, string(targetGroup), merged, body, img, "")
}

func (d *Dispatcher) delete(ctx context.Context, actor Actor, action *Action) (*Outcome, error) {
	spec, err := schema.Lookup(action.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if action.Slug == "" {
		return nil, fmt.Errorf("%w: delete requires a slug", ErrMalformedAction)
	}

	if !policy.CanDelete(actor.Role) {
		return nil, fmt.Errorf("%w: only admins and editors may delete content", ErrDenied)
	}

	if err := d.repo.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	filePath, _ := schema.FilePath(action.ContentType, action.Slug)
	existed, err := d.repo.DeleteFile(filePath)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, action.ContentType, action.Slug)
	}

	message := fmt.Sprintf("Delete %s: %s", spec.Name, action.Slug)
	sha, err := d.repo.CommitLocally([]string{filePath}, message, actor.Name)
	if err != nil {
		return nil, err
	}
	if _, err := d.repo.PushToRemote(ctx); err != nil {
		// The removal commit stays local; a later push retries it.
		log.Printf("dispatch: push after delete failed, commit retained locally: %v", err)
	}

	d.afterMutation(ctx)
	if d.search != nil {
		d.search.DeleteRecord(search.RecordID(action.ContentType, action.Slug))
	}
	d.logAudit(ctx, actor, "delete", action.ContentType, action.Slug, nil, sha, nil)

	return &Outcome{
		Summary:   fmt.Sprintf("Deleted %s %q.", spec.Name, action.Slug),
		Published: true,
		CommitSHA: shortSHA(sha),
	}, nil
}

func (d *Dispatcher) read(ctx context.Context, action *Action) (*Outcome, error) {
	item, err := d.reader.Read(ctx, action.ContentType, action.Slug)
	if errors.Is(err, content.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, action.ContentType, action.Slug)
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Summary:  fmt.Sprintf("Read %s %q.", action.ContentType, action.Slug),
		Item:     &item,
		followUp: formatReadFollowUp(&item),
	}, nil
}

func (d *Dispatcher) list(ctx context.Context, actor Actor, action *Action) (*Outcome, error) {
	group := action.LocalGroup
	// Group leads browsing group-scoped content default to their own group.
	if group == "" && actor.Role == policy.RoleGroupLead {
		switch policy.ContentType(action.ContentType) {
		case policy.TypeLocalEvent, policy.TypeLocalNews:
			group = string(actor.Group)
		}
	}

	items, err := d.reader.List(ctx, content.ListRequest{
		Type:     action.ContentType,
		Limit:    action.Limit,
		Sort:     action.Sort,
		Group:    group,
		Category: action.Category,
	})
	if err != nil {
		return nil, err
	}

	label := action.ContentType
	if label == "" {
		label = "content"
	}
	return &Outcome{
		Summary:  fmt.Sprintf("Found %d %s item(s).", len(items), label),
		Items:    items,
		followUp: formatListFollowUp(items, label),
	}, nil
}

func (d *Dispatcher) scrape(ctx context.Context, actor Actor, action *Action) (*Outcome, error) {
	if action.URL == "" {
		return nil, fmt.Errorf("%w: scrape requires a url", ErrMalformedAction)
	}
	if d.fetcher == nil {
		return nil, errors.New("scraping is not configured")
	}

	page, err := d.fetcher.Fetch(ctx, action.URL)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", action.URL, err)
	}

	d.logAudit(ctx, actor, "scrape", "", "", nil, "", map[string]any{"url": action.URL})

	return &Outcome{
		Summary:  fmt.Sprintf("Scraped %q from %s.", page.Title, page.Publication),
		Page:     page,
		followUp: formatScrapeFollowUp(page),
	}, nil
}

// imageAsset is a resolved image payload and where it belongs in the repo.
type imageAsset struct {
	data     []byte
	mime     string
	repoPath string
}

// resolveImage downloads the first requested image reference. A failed or
// unusable reference drops the image and keeps the content operation going;
// the text is worth more than the thumbnail.
func (d *Dispatcher) resolveImage(ctx context.Context, action *Action, slug string) *imageAsset {
	if len(action.Images) == 0 {
		return nil
	}
	ref := action.Images[0]
	if ref.URL == "" || d.fetcher == nil {
		if ref.URL == "" {
			log.Printf("dispatch: image reference for %s has no url, skipping", slug)
		}
		return nil
	}

	data, mime, err := d.fetcher.DownloadImage(ctx, ref.URL)
	if err != nil {
		log.Printf("dispatch: image download %s failed, continuing without it: %v", ref.URL, err)
		return nil
	}

	repoPath := schema.ImagePath(action.ContentType, slug, extForMime(mime))
	if ref.SaveAs != "" {
		repoPath = "public/" + strings.TrimLeft(ref.SaveAs, "/")
	}
	return &imageAsset{data: data, mime: mime, repoPath: repoPath}
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	default:
		return "png"
	}
}

// publish writes, commits, and pushes a content file. Once validation has
// passed, no failure in the git pipeline is allowed to discard the author's
// work: any error degrades to a pending draft carrying the full payload.
func (d *Dispatcher) publish(ctx context.Context, actor Actor, verb, contentType, slug, title, rendered, message string, fm map[string]any, body string, img *imageAsset) (*Outcome, error) {
	sha, err := d.commitContent(ctx, actor, contentType, slug, rendered, message, img)
	if err != nil {
		log.Printf("dispatch: publishing %s/%s failed, preserving as pending draft: %v", contentType, slug, err)
		return d.saveDraft(ctx, actor, verb, contentType, slug, title, schema.LocalGroup(fm), fm, body, img, "publish failed: "+err.Error())
	}

	d.afterMutation(ctx)
	if d.search != nil {
		d.search.IndexRecord(recordFor(contentType, slug, fm, body))
	}

	// Direct publishes still leave a draft row, so the review dashboard
	// shows the full mutation history in one place.
	draft := store.Draft{
		ID:          util.NewID("draft"),
		AuthorID:    actor.ID,
		ContentType: contentType,
		Slug:        slug,
		Title:       title,
		Action:      verb,
		Status:      store.DraftPublished,
		TargetGroup: schema.LocalGroup(fm),
		Payload: map[string]any{
			"frontmatter": fm,
			"body":        body,
		},
		CommitSHA: sha,
	}
	if err := d.drafts.CreateDraft(ctx, draft); err != nil {
		log.Printf("dispatch: recording published draft failed: %v", err)
	}
	d.logAudit(ctx, actor, verb, contentType, slug, &draft.ID, sha, nil)

	return &Outcome{
		Summary:   fmt.Sprintf("Published %s %q.", contentType, slug),
		Published: true,
		DraftID:   draft.ID,
		CommitSHA: shortSHA(sha),
	}, nil
}

// commitContent is the whole ensure/write/commit/push pipeline; the caller
// treats any error here as a publish failure.
func (d *Dispatcher) commitContent(ctx context.Context, actor Actor, contentType, slug, rendered, message string, img *imageAsset) (string, error) {
	if err := d.repo.EnsureFresh(ctx); err != nil {
		return "", err
	}

	filePath, _ := schema.FilePath(contentType, slug)
	if err := d.repo.WriteFile(filePath, []byte(rendered)); err != nil {
		return "", err
	}
	files := []string{filePath}
	if img != nil {
		if err := d.repo.WriteFile(img.repoPath, img.data); err != nil {
			return "", err
		}
		files = append(files, img.repoPath)
	}

	sha, err := d.repo.CommitLocally(files, message, actor.Name)
	if err != nil {
		return "", err
	}
	if _, err := d.repo.PushToRemote(ctx); err != nil {
		return "", err
	}
	return sha, nil
}

func (d *Dispatcher) saveDraft(ctx context.Context, actor Actor, verb, contentType, slug, title, targetGroup string, fm map[string]any, body string, img *imageAsset, reason string) (*Outcome, error) {
	draft := store.Draft{
		ID:          util.NewID("draft"),
		AuthorID:    actor.ID,
		ContentType: contentType,
		Slug:        slug,
		Title:       title,
		Action:      verb,
		Status:      store.DraftPending,
		TargetGroup: targetGroup,
		Payload: map[string]any{
			"frontmatter": fm,
			"body":        body,
		},
	}
	if img != nil {
		if d.images == nil {
			log.Printf("dispatch: no image store configured, dropping image for draft %s", draft.ID)
		} else {
			key, err := d.images.Put(ctx, draft.ID, path.Base(img.repoPath), img.mime, img.data)
			if err != nil {
				log.Printf("dispatch: storing draft image failed: %v", err)
			} else {
				draft.ImageKey = key
				draft.Payload["imagePath"] = img.repoPath
			}
		}
	}
	if err := d.drafts.CreateDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}

	detail := map[string]any{}
	auditAction := "submit_draft"
	if reason != "" {
		detail["reason"] = reason
		auditAction = "publish_failed_draft_saved"
	}
	d.logAudit(ctx, actor, auditAction, contentType, slug, &draft.ID, "", detail)

	summary := fmt.Sprintf("Saved %s %q as a pending draft for editorial review.", contentType, slug)
	if reason != "" {
		summary = fmt.Sprintf("Publishing failed, so %s %q was saved as a pending draft instead. Nothing was lost.", contentType, slug)
	}
	return &Outcome{
		Summary: summary,
		Pending: true,
		DraftID: draft.ID,
	}, nil
}

func (d *Dispatcher) afterMutation(ctx context.Context) {
	if d.cache == nil {
		return
	}
	if err := d.cache.InvalidateAll(ctx); err != nil {
		log.Printf("dispatch: cache invalidation failed: %v", err)
	}
}

func (d *Dispatcher) logAudit(ctx context.Context, actor Actor, action, contentType, slug string, draftID *string, sha string, detail map[string]any) {
	if d.audit == nil {
		return
	}
	entry := store.AuditEntry{
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		Action:      action,
		ContentType: contentType,
		Slug:        slug,
		DraftID:     draftID,
		CommitSHA:   shortSHA(sha),
		Detail:      detail,
	}
	if err := d.audit.AppendAudit(ctx, entry); err != nil {
		log.Printf("dispatch: audit append failed: %v", err)
	}
}

// fillCreateDefaults supplies values a conversational create usually omits:
// today's date for required date fields and an estimated read time.
func fillCreateDefaults(spec *schema.Spec, fm map[string]any, body string) {
	today := time.Now().UTC().Format("2006-01-02")
	for _, f := range spec.Fields {
		switch f.Kind {
		case schema.KindDate, schema.KindDatetime:
			if f.Required {
				if v, ok := fm[f.Name]; !ok || v == nil || v == "" {
					fm[f.Name] = today
				}
			}
		case schema.KindNumber:
			if f.Name == "readTime" && body != "" {
				if _, ok := fm[f.Name]; !ok {
					fm[f.Name] = schema.EstimateReadTime(body)
				}
			}
		}
	}
}

func recordFor(contentType, slug string, fm map[string]any, body string) search.Record {
	summary, _ := fm["summary"].(string)
	date := ""
	for _, key := range []string{"pubDate", "date"} {
		if v, ok := fm[key].(string); ok && v != "" {
			date = v
			break
		}
	}
	return search.Record{
		ID:         search.RecordID(contentType, slug),
		Type:       contentType,
		Slug:       slug,
		Title:      schema.Title(fm),
		Summary:    summary,
		Body:       body,
		LocalGroup: schema.LocalGroup(fm),
		Date:       date,
	}
}

const maxFollowUpBody = 6000

// formatReadFollowUp renders a loaded item for re-injection into the
// conversation so the assistant can discuss it or prepare an edit.
func formatReadFollowUp(item *content.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Loaded %s %q (slug: %s).\n\nFrontmatter:\n", item.Type, item.Title, item.Slug)

	spec, err := schema.Lookup(item.Type)
	if err == nil {
		for _, f := range spec.Fields {
			if v, ok := item.Frontmatter[f.Name]; ok && v != nil {
				fmt.Fprintf(&b, "  %s: %v\n", f.Name, v)
			}
		}
	}

	body := item.Body
	truncated := ""
	if len(body) > maxFollowUpBody {
		body = body[:maxFollowUpBody]
		truncated = "\n\n[Body truncated; the full content is longer.]"
	}
	fmt.Fprintf(&b, "\nBody:\n\n%s%s", body, truncated)
	return b.String()
}

// formatListFollowUp renders a content listing for re-injection into the
// conversation.
func formatListFollowUp(items []content.Item, label string) string {
	if len(items) == 0 {
		return fmt.Sprintf("No %s items found.", label)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d content item(s):\n", len(items))
	for i, item := range items {
		date := ""
		for _, key := range []string{"pubDate", "date"} {
			if v, ok := item.Frontmatter[key].(string); ok && v != "" {
				date = " " + v
				break
			}
		}
		fmt.Fprintf(&b, "%d. [%s] %q (slug: %s)%s\n", i+1, item.Type, item.Title, item.Slug, date)
	}
	return b.String()
}

func formatScrapeFollowUp(page *scraper.Page) string {
	var b strings.Builder
	b.WriteString("Scrape result. Use this to draft the briefing; fill the source fields from the metadata below.\n\n")
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\nAuthor: %s\nPublication: %s\nDate: %s\n", page.URL, page.Title, page.Author, page.Publication, page.Date)
	if len(page.Images) > 0 {
		fmt.Fprintf(&b, "Images: %s\n", strings.Join(page.Images, ", "))
	}
	b.WriteString("\n---\n\n")
	b.WriteString(page.Markdown)
	return b.String()
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
