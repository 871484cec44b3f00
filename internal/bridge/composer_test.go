package bridge

import (
	"errors"
	"testing"

	"github.com/ssklabs/agentbridge/internal/domain"
	"github.com/ssklabs/agentbridge/internal/remote"
)

func TestExtractReplyTextUsesLastPart(t *testing.T) {
	t.Parallel()

	event := &remote.StreamEvent{Content: &remote.Content{Parts: []remote.Part{
		{Text: "thinking..."},
		{Text: "final answer"},
	}}}
	text, err := ExtractReplyText(event)
	if err != nil {
		t.Fatalf("ExtractReplyText: %v", err)
	}
	if text != "final answer" {
		t.Errorf("expected last part, got %q", text)
	}
}

func TestExtractReplyTextMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]*remote.StreamEvent{
		"nil event":   nil,
		"no content":  {},
		"no parts":    {Content: &remote.Content{}},
		"empty text":  {Content: &remote.Content{Parts: []remote.Part{{Text: ""}}}},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ExtractReplyText(event); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestFeedbackCardCarriesMachineValues(t *testing.T) {
	t.Parallel()

	card := FeedbackCard()
	values := make(map[string]bool, len(card.Actions))
	for _, a := range card.Actions {
		values[a.Value] = true
	}
	for _, want := range []domain.FeedbackValue{domain.FeedbackLike, domain.FeedbackDislike, domain.FeedbackRestart} {
		if !values[string(want)] {
			t.Errorf("card missing action value %q", want)
		}
	}
}

func TestDisabledCardHasNoActions(t *testing.T) {
	t.Parallel()

	if card := DisabledCard(); len(card.Actions) != 0 {
		t.Errorf("expected no actions, got %+v", card.Actions)
	}
}
