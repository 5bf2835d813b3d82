package matrixtransport

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Member is one entry of a room's membership list.
type Member struct {
	UserID     id.UserID
	Membership event.Membership
}

// Transport abstracts the Matrix client-server calls the bot makes.
//
// Implementations:
// - client adapter (mautrix.Client)
// - transporttest.Fake for tests
type Transport interface {
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.Content) (id.EventID, error)
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)

	GetMembers(ctx context.Context, roomID id.RoomID) ([]Member, error)
	GetDisplayName(ctx context.Context, userID id.UserID) (string, error)

	// RecentMessages returns up to limit room events, newest first.
	RecentMessages(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error)

	Redact(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) error
	CreateDirectRoom(ctx context.Context, name string, invitee id.UserID) (id.RoomID, error)
	JoinRoom(ctx context.Context, roomID id.RoomID) error
	// SetTyping shows or clears the bot's typing notification for up to timeout.
	SetTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) error

	// GetRoomAccountData decodes the bot's account data of the given type in the
	// room into out. found is false when the homeserver has none.
	GetRoomAccountData(ctx context.Context, roomID id.RoomID, eventType string, out any) (found bool, err error)
	SetRoomAccountData(ctx context.Context, roomID id.RoomID, eventType string, data any) error
}

// EventHandler receives normalized events from the sync loop.
type EventHandler interface {
	OnEvent(ctx context.Context, evt *event.Event) error
}
