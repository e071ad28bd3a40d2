package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"

	"copydesk/api/internal/advisor"
)

// Responder produces the next assistant reply for a conversation.
type Responder interface {
	Respond(ctx context.Context, system string, history []advisor.Message) (string, error)
}

// Turn is the outcome of one user message: the assistant's visible reply,
// the actions it ran, and the messages to append to the stored transcript.
type Turn struct {
	Reply      string
	Outcomes   []*Outcome
	Transcript []advisor.Message
}

const defaultMaxFollowUps = 3

// Loop drives the respond/act cycle for a conversation turn.
type Loop struct {
	responder    Responder
	dispatcher   *Dispatcher
	maxFollowUps int
}

func NewLoop(responder Responder, dispatcher *Dispatcher, maxFollowUps int) *Loop {
	if maxFollowUps <= 0 {
		maxFollowUps = defaultMaxFollowUps
	}
	return &Loop{responder: responder, dispatcher: dispatcher, maxFollowUps: maxFollowUps}
}

// Run sends the history to the assistant and executes any action it emits.
// Actions that produce follow-up context, like a scrape result, feed back
// into the assistant for another pass, bounded so a confused model cannot
// loop forever. Action failures become conversational replies rather than
// errors so the user can correct course.
func (l *Loop) Run(ctx context.Context, actor Actor, system string, history []advisor.Message) (*Turn, error) {
	turn := &Turn{}
	working := append([]advisor.Message(nil), history...)

	for followUps := 0; ; followUps++ {
		reply, err := l.responder.Respond(ctx, system, working)
		if err != nil {
			return nil, fmt.Errorf("assistant: %w", err)
		}

		action, visible, err := ExtractAction(reply)
		if err != nil {
			turn.Reply = "I produced a malformed action and could not complete that. Please try rephrasing your request."
			turn.Transcript = append(turn.Transcript, advisor.Message{Role: "assistant", Content: turn.Reply})
			log.Printf("dispatch: discarding malformed action: %v", err)
			return turn, nil
		}

		if action == nil {
			turn.Reply = visible
			turn.Transcript = append(turn.Transcript, advisor.Message{Role: "assistant", Content: reply})
			return turn, nil
		}

		outcome, err := l.dispatcher.Dispatch(ctx, actor, action)
		if err != nil {
			turn.Reply = joinReply(visible, explainFailure(err))
			turn.Transcript = append(turn.Transcript, advisor.Message{Role: "assistant", Content: turn.Reply})
			return turn, nil
		}
		turn.Outcomes = append(turn.Outcomes, outcome)

		if outcome.followUp == "" || followUps >= l.maxFollowUps {
			turn.Reply = joinReply(visible, outcome.Summary)
			turn.Transcript = append(turn.Transcript, advisor.Message{Role: "assistant", Content: turn.Reply})
			return turn, nil
		}

		// Keep the action reply in the working history so the assistant
		// sees what it asked for, then hand it the result.
		working = append(working,
			advisor.Message{Role: "assistant", Content: reply},
			advisor.Message{Role: "user", Content: outcome.followUp},
		)
	}
}

func joinReply(visible, summary string) string {
	if visible == "" {
		return summary
	}
	if summary == "" {
		return visible
	}
	return visible + "\n\n" + summary
}

// explainFailure turns a dispatch error into something the user can act on.
func explainFailure(err error) string {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		return "That content is missing some required details: " + validation.Error() + ". Tell me the missing values and I will try again."
	case errors.Is(err, ErrDenied):
		return "You do not have permission for that: " + err.Error() + "."
	case errors.Is(err, ErrSlugExists):
		return "There is already content with that slug. Pick a different title or slug, or ask me to edit the existing item."
	case errors.Is(err, ErrNotFound):
		return "I could not find that content item. Ask me to list content if you are unsure of the slug."
	case errors.Is(err, ErrMalformedAction), errors.Is(err, ErrUnknownAction):
		return "I could not complete that action. Please try rephrasing your request."
	default:
		return "Something went wrong while doing that: " + err.Error()
	}
}
