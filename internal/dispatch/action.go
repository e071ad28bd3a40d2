// Package dispatch parses action blocks out of assistant replies and routes
// them to content operations, enforcing capability checks and the approval
// workflow on every mutation.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the structured request the assistant embeds in a reply.
type Action struct {
	Action      string         `json:"action"`
	ContentType string         `json:"content_type,omitempty"`
	Slug        string         `json:"slug,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Body        string         `json:"-"`
	Images      []ImageRef     `json:"images,omitempty"`
	URL         string         `json:"url,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	Sort        string         `json:"sort,omitempty"`
	LocalGroup  string         `json:"local_group,omitempty"`
	Category    string         `json:"category,omitempty"`

	// hasBody distinguishes an explicitly supplied body, including an empty
	// one, from an omitted body. Edits preserve the existing body only when
	// the key was omitted.
	hasBody bool
}

// ImageRef names an image the action wants attached: a URL to download, or
// an index into the images extracted from a previously uploaded document.
type ImageRef struct {
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
	Index  int    `json:"index,omitempty"`
	SaveAs string `json:"save_as,omitempty"`
}

func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	aux := struct {
		*plain
		Body *string `json:"body"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Body != nil {
		a.Body = *aux.Body
		a.hasBody = true
	}
	return nil
}

const (
	actionFenceOpen  = "```json"
	actionFenceClose = "```"
)

// ExtractAction finds the first fenced JSON block in an assistant reply.
// It returns the parsed action and the reply with the block removed, or a
// nil action when the reply is plain conversation. A present but malformed
// block is an error so the caller can surface it instead of silently
// dropping a mutation.
func ExtractAction(reply string) (*Action, string, error) {
	start := strings.Index(reply, actionFenceOpen)
	if start == -1 {
		return nil, reply, nil
	}

	rest := reply[start+len(actionFenceOpen):]
	end := strings.Index(rest, actionFenceClose)
	if end == -1 {
		return nil, reply, fmt.Errorf("%w: unterminated action block", ErrMalformedAction)
	}

	payload := strings.TrimSpace(rest[:end])
	var action Action
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		return nil, reply, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if action.Action == "" {
		return nil, reply, fmt.Errorf("%w: missing action field", ErrMalformedAction)
	}

	stripped := strings.TrimSpace(reply[:start] + rest[end+len(actionFenceClose):])
	return &action, stripped, nil
}
