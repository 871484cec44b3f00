package bridge

import (
	"fmt"

	"github.com/ssklabs/agentbridge/internal/domain"
	"github.com/ssklabs/agentbridge/internal/remote"
)

// Canned texts sent to the user around the agent reply.
const (
	ApologyText = "Agent Engine not responding, Please Contact IT Team"

	RestartAnnouncementText = "Session has been restarted. What would you like to ask next?"

	QuotaRotationText = "This conversation reached its message limit and a fresh session has been started. Please send your question again."
)

// ExtractReplyText pulls the reply out of a content event. The last part
// of the content is the authoritative reply text.
func ExtractReplyText(event *remote.StreamEvent) (string, error) {
	if event == nil || event.Content == nil {
		return "", fmt.Errorf("%w: no content", ErrMalformedResponse)
	}
	parts := event.Content.Parts
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: content has no parts", ErrMalformedResponse)
	}
	text := parts[len(parts)-1].Text
	if text == "" {
		return "", fmt.Errorf("%w: empty reply text", ErrMalformedResponse)
	}
	return text, nil
}

// FeedbackCard is the card attached to every agent reply. Labels are for
// humans, values are the machine identifiers carried back on taps.
func FeedbackCard() domain.Card {
	return domain.Card{
		Text: "Was this helpful?",
		Actions: []domain.CardAction{
			{Label: "👍 Like", Value: string(domain.FeedbackLike)},
			{Label: "👎 Dislike", Value: string(domain.FeedbackDislike)},
			{Label: "🔄 Restart Session", Value: string(domain.FeedbackRestart)},
		},
	}
}

// AcknowledgedCard replaces a feedback card after a Like or Dislike tap.
// Restart stays available so the user can still reset the conversation.
func AcknowledgedCard(value domain.FeedbackValue) domain.Card {
	text := "Thanks for the feedback!"
	switch value {
	case domain.FeedbackLike:
		text = "👍 Thanks, glad it helped!"
	case domain.FeedbackDislike:
		text = "👎 Thanks, we'll work on it."
	}
	return domain.Card{
		Text: text,
		Actions: []domain.CardAction{
			{Label: "🔄 Restart Session", Value: string(domain.FeedbackRestart)},
		},
	}
}

// DisabledCard replaces a feedback card once its session has been
// restarted, leaving no tappable actions behind.
func DisabledCard() domain.Card {
	return domain.Card{Text: "Session has been restarted."}
}
