package schema

import (
	"strings"
	"testing"
	"time"
)

func TestValidateRequiredFields(t *testing.T) {
	errs := Validate("article", map[string]any{
		"title": "Deficits",
		"slug":  "deficits",
	})
	if len(errs) == 0 {
		t.Fatal("expected missing-field errors")
	}
	joined := strings.Join(errs, "; ")
	for _, field := range []string{"category", "author", "pubDate"} {
		if !strings.Contains(joined, field) {
			t.Errorf("expected error for missing %s, got: %s", field, joined)
		}
	}
}

func TestValidateEnumDomain(t *testing.T) {
	errs := Validate("local_event", map[string]any{
		"title":       "Meetup",
		"slug":        "meetup",
		"localGroup":  "cardiff",
		"date":        "2026-03-01T18:00:00.000Z",
		"tag":         "Meetup",
		"location":    "The Crown",
		"description": "Monthly meetup",
	})
	if len(errs) != 1 || !strings.Contains(errs[0], "localGroup") {
		t.Fatalf("expected a single localGroup enum error, got %v", errs)
	}
}

func TestValidateUnknownType(t *testing.T) {
	errs := Validate("podcast", map[string]any{})
	if len(errs) != 1 || !strings.Contains(errs[0], "unknown content type") {
		t.Fatalf("expected unknown content type error, got %v", errs)
	}
}

func TestApplyDefaults(t *testing.T) {
	fm := ApplyDefaults("article", map[string]any{
		"title":    "Core idea",
		"category": "Core Ideas",
	})
	if fm["layout"] != "simplified" {
		t.Errorf("expected auto layout simplified, got %v", fm["layout"])
	}
	if fm["sector"] != "Economics" {
		t.Errorf("expected default sector, got %v", fm["sector"])
	}
	if fm["readTime"] != 5 {
		t.Errorf("expected default readTime 5, got %v", fm["readTime"])
	}
	if fm["featured"] != false {
		t.Errorf("expected default featured false, got %v", fm["featured"])
	}
}

func TestApplyDefaultsDoesNotOverrideLayout(t *testing.T) {
	fm := ApplyDefaults("article", map[string]any{
		"category": "Core Ideas",
		"layout":   "rebuttal",
	})
	if fm["layout"] != "rebuttal" {
		t.Errorf("explicit layout must win, got %v", fm["layout"])
	}
}

func TestRenderFieldOrderAndQuoting(t *testing.T) {
	out, errs := Render("news", map[string]any{
		"title":    "Launch: new site",
		"slug":     "launch-new-site",
		"date":     time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC),
		"category": "Announcement",
		"summary":  "yes",
	}, "Body text.")
	if len(errs) > 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}

	lines := strings.Split(out, "\n")
	if lines[0] != "---" {
		t.Fatalf("expected frontmatter opener, got %q", lines[0])
	}
	// Declared order: title, slug, date, category, summary.
	wantPrefix := []string{
		`title: "Launch: new site"`,
		"slug: launch-new-site",
		"date: 2026-02-14T00:00:00.000Z",
		"category: Announcement",
		`summary: "yes"`,
		"---",
	}
	for i, want := range wantPrefix {
		if lines[i+1] != want {
			t.Errorf("line %d = %q, want %q", i+1, lines[i+1], want)
		}
	}
	if !strings.HasSuffix(out, "Body text.\n") {
		t.Errorf("body missing or unterminated: %q", out)
	}
}

func TestRenderDatetimeKeepsTime(t *testing.T) {
	out, errs := Render("local_event", map[string]any{
		"title":       "Talk",
		"slug":        "talk",
		"localGroup":  "oxford",
		"date":        time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC),
		"tag":         "Lecture",
		"location":    "Town Hall",
		"description": "An evening talk",
	}, "")
	if len(errs) > 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
	if !strings.Contains(out, "date: 2026-05-01T18:30:00.000Z") {
		t.Errorf("datetime field lost its time component:\n%s", out)
	}
}

func TestParseRoundTrip(t *testing.T) {
	out, errs := Render("local_news", map[string]any{
		"heading":    "New reading group",
		"slug":       "new-reading-group",
		"text":       "Starts in March",
		"localGroup": "scotland",
		"date":       "2026-03-01T00:00:00.000Z",
	}, "Details follow.")
	if len(errs) > 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}

	fm, body := Parse(out)
	if fm == nil {
		t.Fatal("expected parsed frontmatter")
	}
	if fm["heading"] != "New reading group" {
		t.Errorf("heading = %v", fm["heading"])
	}
	if fm["localGroup"] != "scotland" {
		t.Errorf("localGroup = %v", fm["localGroup"])
	}
	if body != "Details follow." {
		t.Errorf("body = %q", body)
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	fm, body := Parse("just some text")
	if fm != nil {
		t.Errorf("expected nil frontmatter, got %v", fm)
	}
	if body != "just some text" {
		t.Errorf("body = %q", body)
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"The Job Guarantee: Explained!", "the-job-guarantee-explained"},
		{"  Money & Taxes  ", "money-taxes"},
		{"MMT 101", "mmt-101"},
	}
	for _, tt := range tests {
		if got := GenerateSlug(tt.in); got != tt.want {
			t.Errorf("GenerateSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEstimateReadTime(t *testing.T) {
	if got := EstimateReadTime(""); got != 1 {
		t.Errorf("empty text read time = %d, want 1", got)
	}
	long := strings.Repeat("word ", 450)
	if got := EstimateReadTime(long); got != 3 {
		t.Errorf("450 words read time = %d, want 3", got)
	}
}

func TestFilePathAndImagePath(t *testing.T) {
	path, err := FilePath("briefing", "deficit-myths")
	if err != nil {
		t.Fatalf("FilePath() error = %v", err)
	}
	if path != "src/content/briefings/deficit-myths.md" {
		t.Errorf("path = %q", path)
	}
	if _, err := FilePath("podcast", "x"); err == nil {
		t.Error("expected error for unknown type")
	}

	if got := ImagePath("bio", "jane-doe", "avif"); got != "public/images/bios/jane-doe.avif" {
		t.Errorf("bio image path = %q", got)
	}
	if got := ImagePath("briefing", "myths", ""); got != "public/images/briefings/myths-thumbnail.png" {
		t.Errorf("briefing image path = %q", got)
	}
	if got := ImagePath("article", "myths", "png"); got != "public/images/myths.png" {
		t.Errorf("article image path = %q", got)
	}
}

func TestTitleFallbacks(t *testing.T) {
	if Title(map[string]any{"title": "A"}) != "A" {
		t.Error("title field")
	}
	if Title(map[string]any{"heading": "B"}) != "B" {
		t.Error("heading field")
	}
	if Title(map[string]any{"name": "C"}) != "C" {
		t.Error("name field")
	}
	if Title(map[string]any{}) != "Untitled" {
		t.Error("fallback")
	}
}
