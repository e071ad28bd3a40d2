package advisor

import (
	"fmt"
	"strings"

	"copydesk/api/internal/policy"
	"copydesk/api/internal/schema"
)

// Identity is who the assistant is acting for.
type Identity struct {
	DisplayName string
	Role        policy.Role
	Group       policy.Group
}

// BuildSystemPrompt assembles the operating instructions: who the user is,
// what they may do, the content type catalog, and the action block format
// the dispatcher parses.
func BuildSystemPrompt(id Identity) string {
	var b strings.Builder

	b.WriteString("You are the content assistant for a git-backed website CMS. ")
	b.WriteString("You help the user create, edit, list, and manage site content through conversation.\n\n")

	fmt.Fprintf(&b, "The user is %s (role: %s", id.DisplayName, id.Role)
	if id.Group != "" {
		fmt.Fprintf(&b, ", local group: %s", id.Group)
	}
	b.WriteString(").\n\n")

	b.WriteString("## Permissions\n\n")
	writePermissions(&b, id)

	b.WriteString("\n## Content types\n\n")
	for _, contentType := range schema.Types() {
		spec, _ := schema.Lookup(contentType)
		if !policy.CanCreate(id.Role, id.Group, policy.ContentType(contentType)) {
			continue
		}
		fmt.Fprintf(&b, "### %s (`%s`)\n", spec.Name, spec.Type)
		for _, f := range spec.Fields {
			line := fmt.Sprintf("- %s (%s", f.Name, f.Kind)
			if f.Required {
				line += ", required"
			}
			if len(f.Options) > 0 {
				line += ", one of: " + strings.Join(f.Options, " | ")
			}
			if f.Default != nil {
				line += fmt.Sprintf(", default %v", f.Default)
			}
			b.WriteString(line + ")\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(actionInstructions)
	return b.String()
}

func writePermissions(b *strings.Builder, id Identity) {
	switch id.Role {
	case policy.RoleAdmin:
		b.WriteString("Full access: create, edit, delete, and publish any content type immediately.\n")
	case policy.RoleEditor:
		b.WriteString("Create, edit, and delete all content types except bios; changes publish immediately.\n")
	case policy.RoleGroupLead:
		fmt.Fprintf(b, "Local events and local news only. Changes for the %s group publish immediately; changes for other groups become pending drafts for editorial review. No deletes.\n", id.Group)
	default:
		b.WriteString("Articles, briefings, news, local events, and local news. Every change becomes a pending draft for editorial review. No deletes.\n")
	}
}

const actionInstructions = `## Actions

When the user asks you to perform a content operation, respond with a short
confirmation sentence followed by exactly one fenced json action block:

` + "```json\n" + `{
  "action": "create",
  "content_type": "news",
  "slug": "example-slug",
  "frontmatter": { "title": "...", "date": "2026-01-01" },
  "body": "Markdown body...",
  "images": [ { "url": "https://...", "save_as": "images/news/example-slug.jpg" } ]
}
` + "```" + `

Supported actions:
- "create": content_type, slug (omit to derive from title), frontmatter, body, optional images
- "edit": content_type, slug, frontmatter (changed fields only; supplied keys replace, omitted keys keep their value), body (omit to keep the existing body; include it, even empty, to replace), optional images
- "delete": content_type, slug
- "read": content_type, slug
- "list": content_type (omit to list every type), optional limit (default 10), sort (date_desc | date_asc | title_asc | title_desc), local_group, category
- "scrape": url - fetch an external article; its text and metadata will be returned to you for drafting a briefing

Rules:
- Emit at most one action block per reply.
- Never invent slugs for edits or deletes; list first if unsure.
- Dates use YYYY-MM-DD. Do not fabricate frontmatter fields outside the catalog.
- "images" downloads the first listed url and attaches it; "save_as" is a path under the site's public directory, otherwise a conventional path is derived from the content type and slug.
- For briefings drafted from a scraped article, fill sourceUrl, sourceTitle, sourceAuthor, sourcePublication, and sourceDate from the scrape result.
- If the user is only chatting or asking questions, reply normally with no action block.`
