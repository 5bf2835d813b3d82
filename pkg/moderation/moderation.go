// Package moderation redacts messages containing disallowed terms.
package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"

	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

const (
	RedactionReason = "Message contained inappropriate content"
	FailureMessage  = "Failed to moderate a message."
)

var DefaultTerms = []string{"ur mom gay", "aha lol"}

// Filter matches bodies against a term list, case-insensitively.
type Filter struct {
	terms []string
}

// NewFilter lowercases and trims terms. Empty terms are dropped.
func NewFilter(terms []string) *Filter {
	f := &Filter{terms: make([]string, 0, len(terms))}
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			f.terms = append(f.terms, term)
		}
	}
	return f
}

// Match returns the first term contained in body.
func (f *Filter) Match(body string) (string, bool) {
	if f == nil || len(f.terms) == 0 {
		return "", false
	}
	lower := strings.ToLower(body)
	for _, term := range f.terms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

type Moderator struct {
	transport matrixtransport.Transport
	filter    *Filter
}

func NewModerator(transport matrixtransport.Transport, filter *Filter) *Moderator {
	return &Moderator{transport: transport, filter: filter}
}

func (m *Moderator) Matches(body string) bool {
	_, ok := m.filter.Match(body)
	return ok
}

// Handle redacts evt and announces it. If the redaction fails, the room gets
// a generic failure notice instead and the error is only logged.
func (m *Moderator) Handle(ctx context.Context, evt *event.Event) error {
	log := zerolog.Ctx(ctx).With().
		Str("component", "moderation").
		Stringer("event_id", evt.ID).
		Stringer("sender", evt.Sender).
		Logger()
	if err := m.transport.Redact(ctx, evt.RoomID, evt.ID, RedactionReason); err != nil {
		log.Err(err).Msg("Failed to redact message")
		if _, err = m.transport.SendMessage(ctx, evt.RoomID, matrixevents.NewTextContent(FailureMessage, nil)); err != nil {
			return fmt.Errorf("failed to send moderation failure notice: %w", err)
		}
		return nil
	}
	log.Info().Msg("Redacted message with disallowed content")
	notice := fmt.Sprintf("A message from %s was redacted due to inappropriate content.", evt.Sender)
	if _, err := m.transport.SendMessage(ctx, evt.RoomID, matrixevents.NewTextContent(notice, nil)); err != nil {
		return fmt.Errorf("failed to send redaction notice: %w", err)
	}
	return nil
}
