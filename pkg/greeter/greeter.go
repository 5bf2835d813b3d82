// Package greeter welcomes users who join a room.
package greeter

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

var WelcomeEmojis = []string{"👋", "🎉", "✨", "🌟", "🎊", "🙌", "💫", "🤗", "🌈", "💝"}

const HelpText = `**Here's what I can do:**

- ` + "`!assistant <message>`" + `: ask the assistant, which can also assign roles
- ` + "`!assistant summarize <N> days`" + `: summarize the last N days of this room
- ` + "`!engagement`" + `: show who has been talking here
- ` + "`!messageeveryone <message>`" + `: send a message to every member in a new DM
- Quote-reply to one of my role prompts with a role name to assign it`

type Greeter struct {
	transport matrixtransport.Transport
	botID     id.UserID
	pick      func(n int) int
}

func NewGreeter(transport matrixtransport.Transport, botID id.UserID) *Greeter {
	return &Greeter{transport: transport, botID: botID, pick: rand.IntN}
}

// ShouldGreet reports whether evt is a fresh join of someone other than the bot.
func (g *Greeter) ShouldGreet(evt *event.Event) bool {
	if evt.Type.Type != event.StateMember.Type || evt.StateKey == nil {
		return false
	}
	if id.UserID(*evt.StateKey) == g.botID {
		return false
	}
	if membership(&evt.Content) != event.MembershipJoin {
		return false
	}
	// Profile changes arrive as join -> join
	return membership(evt.Unsigned.PrevContent) != event.MembershipJoin
}

func membership(content *event.Content) event.Membership {
	if content == nil {
		return ""
	}
	if content.Parsed == nil {
		_ = content.ParseRaw(event.StateMember)
	}
	member, ok := content.Parsed.(*event.MemberEventContent)
	if !ok {
		return ""
	}
	return member.Membership
}

// Welcome builds the greeting for user.
func (g *Greeter) Welcome(user id.UserID) *event.Content {
	emoji := WelcomeEmojis[g.pick(len(WelcomeEmojis))]
	rendered := format.RenderMarkdown(fmt.Sprintf("Welcome %s! %s\n\n%s", user, emoji, HelpText), true, false)
	return &event.Content{Parsed: &rendered}
}

func (g *Greeter) Handle(ctx context.Context, evt *event.Event) error {
	if !g.ShouldGreet(evt) {
		return nil
	}
	user := id.UserID(*evt.StateKey)
	if _, err := g.transport.SendMessage(ctx, evt.RoomID, g.Welcome(user)); err != nil {
		return fmt.Errorf("failed to send welcome message: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Stringer("user_id", user).Msg("Greeted new member")
	return nil
}
