package domain

// EventKind tags an inbound channel event.
type EventKind string

const (
	// EventMessage is a plain text message from the end user.
	EventMessage EventKind = "message"
	// EventFeedback is a reaction to a previously sent feedback card.
	EventFeedback EventKind = "feedback"
)

// FeedbackValue is the opaque machine-readable value carried by a feedback
// control, distinct from its display label.
type FeedbackValue string

const (
	FeedbackLike    FeedbackValue = "Like"
	FeedbackDislike FeedbackValue = "Dis-Like"
	FeedbackRestart FeedbackValue = "Restart-session"
	// FeedbackNone marks an unrecognized or absent feedback payload.
	FeedbackNone FeedbackValue = ""
)

// ParseFeedbackValue maps a raw payload value to a known FeedbackValue.
// Anything unrecognized degrades to FeedbackNone, which handlers treat
// as a no-op.
func ParseFeedbackValue(raw string) FeedbackValue {
	switch FeedbackValue(raw) {
	case FeedbackLike:
		return FeedbackLike
	case FeedbackDislike:
		return FeedbackDislike
	case FeedbackRestart:
		return FeedbackRestart
	default:
		return FeedbackNone
	}
}

// InboundEvent is a transport-agnostic inbound channel event. The webhook
// and console transports both normalize their SDK payloads into this
// tagged variant before calling into the bridge.
type InboundEvent struct {
	Kind   EventKind
	UserID string
	// Text is the user's question for EventMessage.
	Text string
	// ReplyContextID references the message the event reacts to
	// (the feedback card id) for EventFeedback.
	ReplyContextID string
	Feedback       FeedbackValue
}

// CardAction is one selectable control on a feedback card.
type CardAction struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Card is an outbound message carrying selectable reaction controls
// correlated back to a specific prior reply.
type Card struct {
	Text    string       `json:"text,omitempty"`
	Actions []CardAction `json:"actions,omitempty"`
}
