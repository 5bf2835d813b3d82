package dispatch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/aierrors"
	"github.com/beeper/helper-bot/pkg/assistant"
	"github.com/beeper/helper-bot/pkg/broadcast"
	"github.com/beeper/helper-bot/pkg/directory"
	"github.com/beeper/helper-bot/pkg/engagement"
	"github.com/beeper/helper-bot/pkg/greeter"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
	"github.com/beeper/helper-bot/pkg/matrixtransport/transporttest"
	"github.com/beeper/helper-bot/pkg/moderation"
	"github.com/beeper/helper-bot/pkg/pseudostate"
	"github.com/beeper/helper-bot/pkg/reply"
	"github.com/beeper/helper-bot/pkg/roles"
)

const (
	botID   = id.UserID("@helper:example.com")
	aliceID = id.UserID("@alice:example.com")
	bobID   = id.UserID("@bob:example.com")
	roomID  = id.RoomID("!room:example.com")
)

type recordingAssistant struct {
	requests []assistant.Request
	err      error
}

func (a *recordingAssistant) Handle(_ context.Context, req assistant.Request) error {
	a.requests = append(a.requests, req)
	return a.err
}

type fixture struct {
	transport *transporttest.Fake
	engine    *roles.Engine
	assistant *recordingAssistant
	router    *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := transporttest.New(botID)
	transport.SetMembers(roomID,
		matrixtransport.Member{UserID: botID, Membership: event.MembershipJoin},
		matrixtransport.Member{UserID: aliceID, Membership: event.MembershipJoin},
		matrixtransport.Member{UserID: bobID, Membership: event.MembershipJoin},
	)
	engine := roles.NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())
	correlator := reply.NewCorrelator(transport, engine, botID)
	ast := &recordingAssistant{}
	router := NewRouter(botID, Handlers{
		Moderation: moderation.NewModerator(transport, moderation.NewFilter(moderation.DefaultTerms)),
		Engagement: engagement.NewReporter(transport, directory.NewClient(transport), botID, 0),
		Broadcast:  broadcast.NewBroadcaster(transport, botID, 0, 0),
		Reply:      correlator,
		Assistant:  ast,
		Greeter:    greeter.NewGreeter(transport, botID),
	}, nil)
	return &fixture{transport: transport, engine: engine, assistant: ast, router: router}
}

func TestRouteOrder(t *testing.T) {
	f := newFixture(t)
	want := []string{"moderation", "engagement", "broadcast", "reply", "assistant"}
	routes := f.router.Routes()
	if len(routes) != len(want) {
		t.Fatalf("expected %d routes, got %d", len(want), len(routes))
	}
	for i, name := range want {
		if routes[i].Name != name {
			t.Fatalf("route %d: expected %s, got %s", i, name, routes[i].Name)
		}
	}
}

func TestModerationTakesPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, body := range []string{"!assistant AHA LOL", "!messageeveryone aha lol", "!engagement aha lol"} {
		evt := transporttest.TextEvent(roomID, id.EventID("$bad"+string(rune('a'+i))), aliceID, 1, body)
		if err := f.router.OnEvent(ctx, evt); err != nil {
			t.Fatalf("OnEvent(%q) returned error: %v", body, err)
		}
	}
	if len(f.transport.Redactions) != 3 {
		t.Fatalf("expected 3 redactions, got %d", len(f.transport.Redactions))
	}
	if len(f.assistant.requests) != 0 || len(f.transport.Created) != 0 {
		t.Fatalf("moderated messages must not reach other routes")
	}
}

func TestAssistantCommand(t *testing.T) {
	f := newFixture(t)
	evt := transporttest.TextEvent(roomID, "$cmd", aliceID, 1, "!Assistant   make bob a moderator ")
	if err := f.router.OnEvent(context.Background(), evt); err != nil {
		t.Fatalf("OnEvent returned error: %v", err)
	}
	if len(f.assistant.requests) != 1 {
		t.Fatalf("expected one assistant request, got %d", len(f.assistant.requests))
	}
	req := f.assistant.requests[0]
	if req.Text != "make bob a moderator" || req.RoomID != roomID || req.EventID != "$cmd" {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestAssistantFailedRunIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.assistant.err = &aierrors.RunFailedError{RunID: "run_1", Status: "failed"}
	evt := transporttest.TextEvent(roomID, "$cmd", aliceID, 1, "!assistant hi")
	if err := f.router.OnEvent(context.Background(), evt); err != nil {
		t.Fatalf("expected failed runs to be swallowed, got %v", err)
	}

	f.assistant.err = aierrors.ErrRunTimeout
	evt = transporttest.TextEvent(roomID, "$cmd2", aliceID, 1, "!assistant hi")
	if err := f.router.OnEvent(context.Background(), evt); err == nil {
		t.Fatalf("expected timeout to surface")
	}
}

func TestBroadcastCommand(t *testing.T) {
	f := newFixture(t)
	evt := transporttest.TextEvent(roomID, "$cmd", aliceID, 1, "!MessageEveryone  meeting at 5 ")
	if err := f.router.OnEvent(context.Background(), evt); err != nil {
		t.Fatalf("OnEvent returned error: %v", err)
	}
	if len(f.transport.Created) != 1 || f.transport.Created[0].Invitee != bobID {
		t.Fatalf("expected one DM to bob, got %#v", f.transport.Created)
	}
	if sent := f.transport.SentTo(f.transport.Created[0].RoomID); len(sent) != 1 || sent[0] != "meeting at 5" {
		t.Fatalf("unexpected DM payload: %#v", sent)
	}
}

func TestEngagementCommand(t *testing.T) {
	f := newFixture(t)
	evt := transporttest.TextEvent(roomID, "$cmd", aliceID, 1, "  !ENGAGEMENT ")
	if err := f.router.OnEvent(context.Background(), evt); err != nil {
		t.Fatalf("OnEvent returned error: %v", err)
	}
	if sent := f.transport.SentTo(roomID); len(sent) != 1 || sent[0] != engagement.Header {
		t.Fatalf("expected engagement stats, got %#v", sent)
	}
}

func TestPromptReplyAssignsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	correlator := reply.NewCorrelator(f.transport, f.engine, botID)
	promptID, err := correlator.Prompt(ctx, roomID, "Bob")
	if err != nil {
		t.Fatalf("Prompt returned error: %v", err)
	}
	evt := transporttest.ReplyEvent(roomID, "$reply", aliceID, 2, "> <@helper:example.com> Quote-reply...\n\nModerator", promptID)
	if err = f.router.OnEvent(ctx, evt); err != nil {
		t.Fatalf("OnEvent returned error: %v", err)
	}
	ledger, err := f.engine.Ledger(ctx, roomID)
	if err != nil {
		t.Fatalf("Ledger returned error: %v", err)
	}
	if len(ledger.AssignedRoles) != 1 {
		t.Fatalf("expected one assignment, got %#v", ledger.AssignedRoles)
	}
	if a := ledger.AssignedRoles[0]; a.Person.Name != "Bob" || a.Role.Name != "Moderator" {
		t.Fatalf("unexpected assignment: %#v", a)
	}
}

func TestIgnoredEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	own := transporttest.TextEvent(roomID, "$own", botID, 1, "!assistant hi")
	edit := transporttest.NewEvent(roomID, "$edit", aliceID, event.EventMessage, 1, map[string]any{
		"msgtype": "m.text",
		"body":    "* !assistant hi",
		"m.relates_to": map[string]any{
			"rel_type": "m.replace",
			"event_id": "$orig",
		},
	})
	image := transporttest.NewEvent(roomID, "$img", aliceID, event.EventMessage, 1, map[string]any{
		"msgtype": "m.image",
		"body":    "!assistant hi",
	})
	for _, evt := range []*event.Event{own, edit, image} {
		if err := f.router.OnEvent(ctx, evt); err != nil {
			t.Fatalf("OnEvent(%s) returned error: %v", evt.ID, err)
		}
	}
	if len(f.assistant.requests) != 0 {
		t.Fatalf("expected ignored events not to reach the assistant, got %#v", f.assistant.requests)
	}

	dup := transporttest.TextEvent(roomID, "$dup", aliceID, 1, "!assistant hi")
	_ = f.router.OnEvent(ctx, dup)
	_ = f.router.OnEvent(ctx, dup)
	if len(f.assistant.requests) != 1 {
		t.Fatalf("expected duplicate delivery to be handled once, got %d", len(f.assistant.requests))
	}
}

func TestGreeterOnJoin(t *testing.T) {
	f := newFixture(t)
	evt := transporttest.MemberEvent(roomID, "$join", aliceID, event.MembershipJoin)
	if err := f.router.OnEvent(context.Background(), evt); err != nil {
		t.Fatalf("OnEvent returned error: %v", err)
	}
	if sent := f.transport.SentTo(roomID); len(sent) != 1 {
		t.Fatalf("expected a welcome message, got %#v", sent)
	}
}
