package greeter

import (
	"context"
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport/transporttest"
)

const (
	botID   = id.UserID("@helper:example.com")
	aliceID = id.UserID("@alice:example.com")
	roomID  = id.RoomID("!room:example.com")
)

func TestHandleGreetsJoin(t *testing.T) {
	transport := transporttest.New(botID)
	g := NewGreeter(transport, botID)
	g.pick = func(int) int { return 0 }

	if err := g.Handle(context.Background(), transporttest.MemberEvent(roomID, "$join", aliceID, event.MembershipJoin)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	sent := transport.SentTo(roomID)
	if len(sent) != 1 {
		t.Fatalf("expected one welcome, got %#v", sent)
	}
	if !strings.HasPrefix(sent[0], "Welcome ") || !strings.Contains(sent[0], "alice:example.com") || !strings.Contains(sent[0], "👋") {
		t.Fatalf("unexpected welcome: %q", sent[0])
	}
	if !strings.Contains(sent[0], "!messageeveryone") {
		t.Fatalf("expected help text in welcome: %q", sent[0])
	}
	if _, ok := transport.Sent[0].Raw["formatted_body"]; !ok {
		t.Fatalf("expected markdown to be rendered: %#v", transport.Sent[0].Raw)
	}
}

func TestShouldGreet(t *testing.T) {
	g := NewGreeter(transporttest.New(botID), botID)

	profileChange := transporttest.MemberEvent(roomID, "$p", aliceID, event.MembershipJoin)
	profileChange.Unsigned.PrevContent = &event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipJoin}}

	rejoin := transporttest.MemberEvent(roomID, "$r", aliceID, event.MembershipJoin)
	rejoin.Unsigned.PrevContent = &event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipLeave}}

	cases := []struct {
		name string
		evt  *event.Event
		want bool
	}{
		{"join", transporttest.MemberEvent(roomID, "$j", aliceID, event.MembershipJoin), true},
		{"rejoin", rejoin, true},
		{"bot join", transporttest.MemberEvent(roomID, "$b", botID, event.MembershipJoin), false},
		{"leave", transporttest.MemberEvent(roomID, "$l", aliceID, event.MembershipLeave), false},
		{"invite", transporttest.MemberEvent(roomID, "$i", aliceID, event.MembershipInvite), false},
		{"profile change", profileChange, false},
		{"message", transporttest.TextEvent(roomID, "$m", aliceID, 1, "hi"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.ShouldGreet(tc.evt); got != tc.want {
				t.Fatalf("ShouldGreet = %v, want %v", got, tc.want)
			}
		})
	}
}
