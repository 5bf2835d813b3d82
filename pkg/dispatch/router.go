// Package dispatch classifies incoming room events and routes each to exactly
// one handler.
package dispatch

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/aierrors"
	"github.com/beeper/helper-bot/pkg/assistant"
	"github.com/beeper/helper-bot/pkg/broadcast"
	"github.com/beeper/helper-bot/pkg/engagement"
	"github.com/beeper/helper-bot/pkg/greeter"
	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
	"github.com/beeper/helper-bot/pkg/moderation"
	"github.com/beeper/helper-bot/pkg/reply"
)

const (
	CommandEngagement = "!engagement"
	CommandBroadcast  = "!messageeveryone"
	CommandAssistant  = "!assistant"
)

type Assistant interface {
	Handle(ctx context.Context, req assistant.Request) error
}

// Handlers are the routing targets. Nil handlers disable their route.
type Handlers struct {
	Moderation *moderation.Moderator
	Engagement *engagement.Reporter
	Broadcast  *broadcast.Broadcaster
	Reply      *reply.Correlator
	Assistant  Assistant
	Greeter    *greeter.Greeter
}

// Route is one entry of the ordered route table. The first route whose Match
// returns true handles the message.
type Route struct {
	Name   string
	Match  func(evt *event.Event, content *event.MessageEventContent) bool
	Handle func(ctx context.Context, evt *event.Event, content *event.MessageEventContent) error
}

type Router struct {
	botID   id.UserID
	routes  []Route
	greeter *greeter.Greeter
	dedupe  *EventDedupe
}

var _ matrixtransport.EventHandler = (*Router)(nil)

func NewRouter(botID id.UserID, h Handlers, dedupe *EventDedupe) *Router {
	if dedupe == nil {
		dedupe = NewEventDedupe(DefaultDedupeTTL, DefaultDedupeMaxSize)
	}
	return &Router{
		botID:   botID,
		routes:  buildRoutes(h),
		greeter: h.Greeter,
		dedupe:  dedupe,
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func buildRoutes(h Handlers) []Route {
	var routes []Route
	if h.Moderation != nil {
		routes = append(routes, Route{
			Name: "moderation",
			Match: func(_ *event.Event, content *event.MessageEventContent) bool {
				return h.Moderation.Matches(content.Body)
			},
			Handle: func(ctx context.Context, evt *event.Event, _ *event.MessageEventContent) error {
				return h.Moderation.Handle(ctx, evt)
			},
		})
	}
	if h.Engagement != nil {
		routes = append(routes, Route{
			Name: "engagement",
			Match: func(_ *event.Event, content *event.MessageEventContent) bool {
				return strings.EqualFold(strings.TrimSpace(content.Body), CommandEngagement)
			},
			Handle: func(ctx context.Context, evt *event.Event, _ *event.MessageEventContent) error {
				return h.Engagement.Handle(ctx, evt)
			},
		})
	}
	if h.Broadcast != nil {
		routes = append(routes, Route{
			Name: "broadcast",
			Match: func(_ *event.Event, content *event.MessageEventContent) bool {
				return hasPrefixFold(content.Body, CommandBroadcast)
			},
			Handle: func(ctx context.Context, evt *event.Event, content *event.MessageEventContent) error {
				payload := strings.TrimSpace(content.Body[len(CommandBroadcast):])
				_, err := h.Broadcast.Send(ctx, evt.RoomID, evt.Sender, payload)
				return err
			},
		})
	}
	if h.Reply != nil {
		routes = append(routes, Route{
			Name: "reply",
			Match: func(_ *event.Event, content *event.MessageEventContent) bool {
				return matrixevents.ReplyTarget(content) != ""
			},
			Handle: func(ctx context.Context, evt *event.Event, _ *event.MessageEventContent) error {
				outcome, err := h.Reply.Handle(ctx, evt)
				if err != nil {
					return err
				}
				zerolog.Ctx(ctx).Debug().Str("outcome", string(outcome)).Msg("Handled reply")
				return nil
			},
		})
	}
	if h.Assistant != nil {
		routes = append(routes, Route{
			Name: "assistant",
			Match: func(_ *event.Event, content *event.MessageEventContent) bool {
				return hasPrefixFold(content.Body, CommandAssistant)
			},
			Handle: func(ctx context.Context, evt *event.Event, content *event.MessageEventContent) error {
				err := h.Assistant.Handle(ctx, assistant.Request{
					RoomID:  evt.RoomID,
					EventID: evt.ID,
					Sender:  evt.Sender,
					Text:    strings.TrimSpace(content.Body[len(CommandAssistant):]),
				})
				if aierrors.IsRunFailed(err) {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("Assistant run did not complete")
					return nil
				}
				return err
			},
		})
	}
	return routes
}

// Routes returns the route table in evaluation order.
func (r *Router) Routes() []Route {
	return r.routes
}

// OnEvent handles one event from the sync loop.
func (r *Router) OnEvent(ctx context.Context, evt *event.Event) error {
	if evt.Sender == r.botID || r.dedupe.Seen(evt.ID) {
		return nil
	}
	switch evt.Type.Type {
	case event.StateMember.Type:
		if r.greeter == nil {
			return nil
		}
		return r.greeter.Handle(ctx, evt)
	case event.EventMessage.Type:
		return r.routeMessage(ctx, evt)
	default:
		return nil
	}
}

func isTextual(msgType event.MessageType) bool {
	switch msgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		return true
	default:
		return false
	}
}

func (r *Router) routeMessage(ctx context.Context, evt *event.Event) error {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || !isTextual(content.MsgType) || content.Body == "" || matrixevents.IsEdit(content) {
		return nil
	}
	for _, route := range r.routes {
		if !route.Match(evt, content) {
			continue
		}
		log := zerolog.Ctx(ctx).With().
			Str("route", route.Name).
			Stringer("room_id", evt.RoomID).
			Stringer("event_id", evt.ID).
			Stringer("sender", evt.Sender).
			Logger()
		log.Debug().Msg("Routing message")
		return route.Handle(log.WithContext(ctx), evt, content)
	}
	return nil
}
