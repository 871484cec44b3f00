package bridge

import "errors"

var (
	// ErrRemoteUnavailable indicates the agent engine failed to produce a
	// usable response for a turn. The user has already received the
	// apology message when this is returned.
	ErrRemoteUnavailable = errors.New("agent engine not responding")

	// ErrMalformedResponse indicates the agent engine returned a content
	// event that does not carry any reply text.
	ErrMalformedResponse = errors.New("malformed agent response")
)
