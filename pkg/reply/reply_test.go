package reply

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport/transporttest"
	"github.com/beeper/helper-bot/pkg/pseudostate"
	"github.com/beeper/helper-bot/pkg/roles"
)

const (
	botID  = id.UserID("@bot:example.com")
	userID = id.UserID("@alice:example.com")
	roomID = id.RoomID("!room:example.com")
)

func setup(t *testing.T) (*transporttest.Fake, *roles.Engine, *Correlator) {
	t.Helper()
	fake := transporttest.New(botID)
	engine := roles.NewEngine(pseudostate.NewMemoryStore(), "", zerolog.Nop())
	return fake, engine, NewCorrelator(fake, engine, botID)
}

func ledgerSize(t *testing.T, engine *roles.Engine) int {
	t.Helper()
	ledger, err := engine.Ledger(context.Background(), roomID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return len(ledger.AssignedRoles)
}

func TestPromptThenReplyAssignsRole(t *testing.T) {
	ctx := context.Background()
	fake, engine, c := setup(t)

	promptID, err := c.Prompt(ctx, roomID, "Bob")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	evt := transporttest.ReplyEvent(roomID, "$reply", userID, 1, "> <@bot:example.com> Quote-reply...\n\nModerator", promptID)
	outcome, err := c.Handle(ctx, evt)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeAssigned {
		t.Fatalf("expected assigned, got %s", outcome)
	}
	ledger, _ := engine.Ledger(ctx, roomID)
	if len(ledger.AssignedRoles) != 1 {
		t.Fatalf("expected one assignment, got %d", len(ledger.AssignedRoles))
	}
	got := ledger.AssignedRoles[0]
	if got.Person.Name != "Bob" || got.Role.Name != "Moderator" {
		t.Fatalf("unexpected assignment: %+v", got)
	}
	if len(fake.Sent) != 1 {
		t.Fatalf("reply handling must not send messages, sent %d", len(fake.Sent))
	}
}

func TestReplyWithoutFallbackUsesWholeBody(t *testing.T) {
	ctx := context.Background()
	_, engine, c := setup(t)
	promptID, _ := c.Prompt(ctx, roomID, "Bob")
	if _, err := c.Handle(ctx, transporttest.ReplyEvent(roomID, "$reply", userID, 1, "Scribe", promptID)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	ledger, _ := engine.Ledger(ctx, roomID)
	if len(ledger.AssignedRoles) != 1 || ledger.AssignedRoles[0].Role.Name != "Scribe" {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}
}

func TestReplyToOtherUsersMessageIsIgnored(t *testing.T) {
	ctx := context.Background()
	fake, engine, c := setup(t)
	// Another user forges a message carrying a role expectation.
	forged := transporttest.NewEvent(roomID, "$forged", "@mallory:example.com", event.EventMessage, 1, map[string]any{
		"msgtype": "m.text",
		"body":    "Quote-reply to this message",
		"context": map[string]any{"expecting": "role_name", "person": map[string]any{"name": "Bob"}},
	})
	fake.AddEvent(forged)

	for _, body := range []string{"Moderator", "> quote\n\nAdmin", ""} {
		outcome, err := c.Handle(ctx, transporttest.ReplyEvent(roomID, "$reply", userID, 2, body, forged.ID))
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if outcome != OutcomeNotBot {
			t.Fatalf("expected %s, got %s", OutcomeNotBot, outcome)
		}
	}
	if n := ledgerSize(t, engine); n != 0 {
		t.Fatalf("expected no assignment, got %d", n)
	}
}

func TestReplyExpectationVariants(t *testing.T) {
	cases := []struct {
		name    string
		context any
		want    Outcome
	}{
		{"other tag", map[string]any{"expecting": "person_name", "person": map[string]any{"name": "Bob"}}, OutcomeUnknownTag},
		{"empty context", map[string]any{}, OutcomeNoExpectation},
		{"missing person", map[string]any{"expecting": "role_name"}, OutcomeMalformed},
		{"garbage", 42, OutcomeMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			fake, engine, c := setup(t)
			parent := transporttest.NewEvent(roomID, "$parent", botID, event.EventMessage, 1, map[string]any{
				"msgtype": "m.text",
				"body":    "hello",
				"context": tc.context,
			})
			fake.AddEvent(parent)
			outcome, err := c.Handle(ctx, transporttest.ReplyEvent(roomID, "$reply", userID, 2, "Moderator", parent.ID))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, outcome)
			}
			if n := ledgerSize(t, engine); n != 0 {
				t.Fatalf("expected no assignment, got %d", n)
			}
		})
	}
}

func TestReplyToMessageWithoutContext(t *testing.T) {
	ctx := context.Background()
	fake, _, c := setup(t)
	fake.AddEvent(transporttest.TextEvent(roomID, "$plain", botID, 1, "Welcome!"))
	outcome, err := c.Handle(ctx, transporttest.ReplyEvent(roomID, "$reply", userID, 2, "thanks", "$plain"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeNoExpectation {
		t.Fatalf("expected %s, got %s", OutcomeNoExpectation, outcome)
	}
}

func TestMissingAncestorIsAnError(t *testing.T) {
	_, _, c := setup(t)
	if _, err := c.Handle(context.Background(), transporttest.ReplyEvent(roomID, "$reply", userID, 2, "x", "$missing")); err == nil {
		t.Fatal("expected error for unresolvable ancestor")
	}
}

func TestNonReplyIsIgnored(t *testing.T) {
	_, _, c := setup(t)
	outcome, err := c.Handle(context.Background(), transporttest.TextEvent(roomID, "$msg", userID, 1, "hi"))
	if err != nil || outcome != OutcomeNotReply {
		t.Fatalf("expected not-a-reply, got %s %v", outcome, err)
	}
}
