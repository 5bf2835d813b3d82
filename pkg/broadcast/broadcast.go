// Package broadcast fans a message out to every joined room member over new
// direct message rooms.
package broadcast

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

const (
	EmptyPayloadMessage = "Please provide a message to send."
	FailureMessage      = "Error occurred while messaging members."

	DefaultRatePerSecond = 2.0
	DefaultBurst         = 5
)

type Broadcaster struct {
	transport matrixtransport.Transport
	botID     id.UserID
	limiter   *rate.Limiter
}

// NewBroadcaster paces room creation at ratePerSecond with the given burst.
// A non-positive rate disables pacing.
func NewBroadcaster(transport matrixtransport.Transport, botID id.UserID, ratePerSecond float64, burst int) *Broadcaster {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Broadcaster{
		transport: transport,
		botID:     botID,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Recipients returns the joined members other than the bot and sender, deduplicated.
func (b *Broadcaster) Recipients(members []matrixtransport.Member, sender id.UserID) []id.UserID {
	seen := make(map[id.UserID]struct{}, len(members))
	out := make([]id.UserID, 0, len(members))
	for _, m := range members {
		if m.Membership != event.MembershipJoin || m.UserID == b.botID || m.UserID == sender {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m.UserID)
	}
	return out
}

// Send messages every recipient in a fresh DM room and confirms in roomID.
// It returns the number of members that were messaged.
func (b *Broadcaster) Send(ctx context.Context, roomID id.RoomID, sender id.UserID, payload string) (int, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "broadcast").Stringer("room_id", roomID).Logger()
	if payload == "" {
		return 0, b.notify(ctx, roomID, EmptyPayloadMessage)
	}
	members, err := b.transport.GetMembers(ctx, roomID)
	if err != nil {
		log.Err(err).Msg("Failed to get room members for broadcast")
		return 0, b.notify(ctx, roomID, FailureMessage)
	}

	sent := 0
	for _, recipient := range b.Recipients(members, sender) {
		if err = b.limiter.Wait(ctx); err != nil {
			return sent, fmt.Errorf("broadcast interrupted: %w", err)
		}
		if err = b.sendOne(ctx, sender, recipient, payload); err != nil {
			log.Warn().Err(err).Stringer("recipient", recipient).Msg("Failed to message member")
			continue
		}
		sent++
	}
	log.Info().Int("sent_count", sent).Msg("Broadcast finished")
	return sent, b.notify(ctx, roomID, fmt.Sprintf("Created %d direct message rooms and sent: \"%s\"", sent, payload))
}

func (b *Broadcaster) sendOne(ctx context.Context, sender, recipient id.UserID, payload string) error {
	dmRoom, err := b.transport.CreateDirectRoom(ctx, fmt.Sprintf("DM: %s & %s", sender, recipient), recipient)
	if err != nil {
		return err
	}
	_, err = b.transport.SendMessage(ctx, dmRoom, matrixevents.NewTextContent(payload, nil))
	return err
}

func (b *Broadcaster) notify(ctx context.Context, roomID id.RoomID, body string) error {
	if _, err := b.transport.SendMessage(ctx, roomID, matrixevents.NewTextContent(body, nil)); err != nil {
		return fmt.Errorf("failed to send broadcast notice: %w", err)
	}
	return nil
}
