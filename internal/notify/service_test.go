package notify

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	svc := NewService(Config{})
	if svc.IsConfigured() {
		t.Error("empty config should not be configured")
	}

	svc = NewService(Config{Host: "smtp.example.com", Port: "587", From: "cms@example.com"})
	if !svc.IsConfigured() {
		t.Error("expected configured service")
	}
}

func TestSendEmailUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"a@example.com"}, "subject", "body"); err == nil {
		t.Error("expected error when not configured")
	}
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "subject", "<p>hi</p>"); err == nil {
		t.Error("expected error when not configured")
	}
}

func TestDraftTemplates(t *testing.T) {
	html, err := renderTemplate(draftSubmittedTemplate, DraftReviewData{
		AppName:     "Copydesk",
		AuthorName:  "Jane",
		Title:       "Oxford meetup",
		ContentType: "local_event",
		Action:      "create",
		ReviewURL:   "https://cms.example.com/drafts/d1",
	})
	if err != nil {
		t.Fatalf("render submitted template: %v", err)
	}
	for _, want := range []string{"Jane", "Oxford meetup", "local_event", "https://cms.example.com/drafts/d1"} {
		if !strings.Contains(html, want) {
			t.Errorf("submitted template missing %q", want)
		}
	}

	html, err = renderTemplate(draftDecisionTemplate, DraftDecisionData{
		AppName:    "Copydesk",
		AuthorName: "Jane",
		Title:      "Oxford meetup",
		Decision:   "rejected",
		Note:       "Please fix the date",
	})
	if err != nil {
		t.Fatalf("render decision template: %v", err)
	}
	for _, want := range []string{"rejected", "Please fix the date"} {
		if !strings.Contains(html, want) {
			t.Errorf("decision template missing %q", want)
		}
	}

	// Empty note omits the note box.
	html, _ = renderTemplate(draftDecisionTemplate, DraftDecisionData{Decision: "approved"})
	if strings.Contains(html, `class="note"`) {
		t.Error("empty note should omit the note block")
	}
}
