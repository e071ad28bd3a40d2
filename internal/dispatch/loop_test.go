package dispatch

import (
	"context"
	"strings"
	"testing"

	"copydesk/api/internal/advisor"
	"copydesk/api/internal/scraper"
)

type scriptedResponder struct {
	replies []string
	calls   int
	history [][]advisor.Message
}

func (r *scriptedResponder) Respond(ctx context.Context, system string, history []advisor.Message) (string, error) {
	r.history = append(r.history, append([]advisor.Message(nil), history...))
	reply := r.replies[len(r.replies)-1]
	if r.calls < len(r.replies) {
		reply = r.replies[r.calls]
	}
	r.calls++
	return reply, nil
}

func TestLoopPlainConversation(t *testing.T) {
	env := newTestEnv()
	responder := &scriptedResponder{replies: []string{"Happy to help with your articles."}}
	loop := NewLoop(responder, env.dispatcher, 3)

	turn, err := loop.Run(context.Background(), editor, "system", []advisor.Message{
		{Role: "user", Content: "What can you do?"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if turn.Reply != "Happy to help with your articles." {
		t.Errorf("wrong reply: %q", turn.Reply)
	}
	if len(turn.Outcomes) != 0 {
		t.Errorf("plain chat must not dispatch: %+v", turn.Outcomes)
	}
	if responder.calls != 1 {
		t.Errorf("expected one model call, got %d", responder.calls)
	}
}

func TestLoopDispatchesAction(t *testing.T) {
	env := newTestEnv()
	responder := &scriptedResponder{replies: []string{
		"Creating that now.\n```json\n" +
			`{"action": "create", "content_type": "news", "frontmatter": {"title": "Budget day", "category": "Update"}, "body": "Details."}` +
			"\n```",
	}}
	loop := NewLoop(responder, env.dispatcher, 3)

	turn, err := loop.Run(context.Background(), editor, "system", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(turn.Outcomes) != 1 || !turn.Outcomes[0].Published {
		t.Fatalf("expected one published outcome: %+v", turn.Outcomes)
	}
	if !strings.Contains(turn.Reply, "Creating that now.") || !strings.Contains(turn.Reply, "Published") {
		t.Errorf("reply missing pieces: %q", turn.Reply)
	}
	if strings.Contains(turn.Reply, "```") {
		t.Errorf("action block leaked into reply: %q", turn.Reply)
	}
}

func TestLoopScrapeFeedsBackOnce(t *testing.T) {
	env := newTestEnv()
	env.fetcher.page = &scraper.Page{
		URL:      "https://example.com/story",
		Title:    "Story",
		Markdown: "Body.",
	}
	responder := &scriptedResponder{replies: []string{
		"Fetching the article.\n```json\n{\"action\": \"scrape\", \"url\": \"https://example.com/story\"}\n```",
		"Here is a summary of the scraped article.",
	}}
	loop := NewLoop(responder, env.dispatcher, 3)

	turn, err := loop.Run(context.Background(), editor, "system", []advisor.Message{
		{Role: "user", Content: "Summarize https://example.com/story"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if responder.calls != 2 {
		t.Fatalf("expected a follow-up model call, got %d", responder.calls)
	}
	if turn.Reply != "Here is a summary of the scraped article." {
		t.Errorf("wrong final reply: %q", turn.Reply)
	}

	// The second call must see the scrape result injected as context.
	second := responder.history[1]
	last := second[len(second)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "Story") {
		t.Errorf("scrape result not injected: %+v", last)
	}
}

func TestLoopBoundsFollowUps(t *testing.T) {
	env := newTestEnv()
	env.fetcher.page = &scraper.Page{URL: "https://example.com", Title: "Loop", Markdown: "x"}
	scrape := "```json\n{\"action\": \"scrape\", \"url\": \"https://example.com\"}\n```"
	responder := &scriptedResponder{replies: []string{scrape, scrape, scrape, scrape, scrape, scrape}}
	loop := NewLoop(responder, env.dispatcher, 2)

	turn, err := loop.Run(context.Background(), editor, "system", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Initial call plus two follow-ups, then the loop stops.
	if responder.calls != 3 {
		t.Errorf("expected 3 model calls, got %d", responder.calls)
	}
	if len(turn.Outcomes) != 3 {
		t.Errorf("expected 3 outcomes, got %d", len(turn.Outcomes))
	}
	if turn.Reply == "" {
		t.Error("bounded loop must still produce a reply")
	}
}

func TestLoopTurnsFailureIntoReply(t *testing.T) {
	env := newTestEnv()
	responder := &scriptedResponder{replies: []string{
		"```json\n" +
			`{"action": "create", "content_type": "bio", "frontmatter": {"name": "Jane", "role": "Trustee"}}` +
			"\n```",
	}}
	loop := NewLoop(responder, env.dispatcher, 3)

	turn, err := loop.Run(context.Background(), contributor, "system", nil)
	if err != nil {
		t.Fatalf("dispatch failures must become replies, got error: %v", err)
	}
	if !strings.Contains(turn.Reply, "permission") {
		t.Errorf("reply should explain the denial: %q", turn.Reply)
	}
	if len(turn.Outcomes) != 0 {
		t.Errorf("denied action must not record an outcome: %+v", turn.Outcomes)
	}
}

func TestLoopMalformedActionBecomesApology(t *testing.T) {
	env := newTestEnv()
	responder := &scriptedResponder{replies: []string{"```json\nnot json\n```"}}
	loop := NewLoop(responder, env.dispatcher, 3)

	turn, err := loop.Run(context.Background(), editor, "system", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(turn.Reply, "rephras") {
		t.Errorf("expected an apology asking to rephrase: %q", turn.Reply)
	}
}
