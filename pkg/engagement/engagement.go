// Package engagement computes per-user message statistics from room history.
package engagement

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/directory"
	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

const (
	DefaultHistoryLimit = 10000
	Header              = "Engagement stats:"
	FailureMessage      = "Failed to compute engagement stats."

	excerptLength = 50
)

// Stat is the derived engagement record of one user.
type Stat struct {
	UserID      id.UserID
	DisplayName string
	Count       int
	LastBody    string
	LastTS      int64
}

type Reporter struct {
	transport    matrixtransport.Transport
	directory    *directory.Client
	botID        id.UserID
	historyLimit int
}

func NewReporter(transport matrixtransport.Transport, dir *directory.Client, botID id.UserID, historyLimit int) *Reporter {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Reporter{transport: transport, directory: dir, botID: botID, historyLimit: historyLimit}
}

// Compute groups the room's recent messages by sender, skipping the bot and
// the triggering event. Results are sorted by count, then user ID.
func (r *Reporter) Compute(ctx context.Context, roomID id.RoomID, trigger id.EventID) ([]Stat, error) {
	history, err := r.transport.RecentMessages(ctx, roomID, r.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room history: %w", err)
	}
	byUser := make(map[id.UserID]*Stat)
	for _, evt := range history {
		if evt.Type.Type != event.EventMessage.Type || evt.ID == trigger || evt.Sender == r.botID {
			continue
		}
		stat, ok := byUser[evt.Sender]
		if !ok {
			stat = &Stat{UserID: evt.Sender}
			byUser[evt.Sender] = stat
		}
		stat.Count++
		if evt.Timestamp >= stat.LastTS {
			stat.LastTS = evt.Timestamp
			stat.LastBody = evt.Content.AsMessage().Body
		}
	}
	stats := make([]Stat, 0, len(byUser))
	for _, stat := range byUser {
		stat.DisplayName = r.directory.DisplayName(ctx, stat.UserID)
		stats = append(stats, *stat)
	}
	slices.SortFunc(stats, func(a, b Stat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return stats, nil
}

// Format renders stats under the header, one line per user.
func Format(stats []Stat) string {
	var sb strings.Builder
	sb.WriteString(Header)
	for _, stat := range stats {
		fmt.Fprintf(&sb, "\n%s (%s): %d messages, last: %q at %s",
			stat.DisplayName, stat.UserID, stat.Count, excerpt(stat.LastBody),
			time.UnixMilli(stat.LastTS).UTC().Format(time.RFC3339))
	}
	return sb.String()
}

func excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= excerptLength {
		return body
	}
	return string(runes[:excerptLength]) + "..."
}

// Handle posts the stats for the room evt was sent in.
func (r *Reporter) Handle(ctx context.Context, evt *event.Event) error {
	log := zerolog.Ctx(ctx).With().Str("component", "engagement").Logger()
	body := FailureMessage
	stats, err := r.Compute(ctx, evt.RoomID, evt.ID)
	if err != nil {
		log.Err(err).Msg("Failed to compute engagement stats")
	} else {
		body = Format(stats)
		log.Debug().Int("user_count", len(stats)).Msg("Computed engagement stats")
	}
	if _, err = r.transport.SendMessage(ctx, evt.RoomID, matrixevents.NewTextContent(body, nil)); err != nil {
		return fmt.Errorf("failed to send engagement stats: %w", err)
	}
	return nil
}
