package matrixtransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client adapts a mautrix client to Transport.
type Client struct {
	Client *mautrix.Client
}

var _ Transport = (*Client)(nil)

// NewClient wraps an authenticated mautrix client.
func NewClient(cli *mautrix.Client) *Client {
	return &Client{Client: cli}
}

func (c *Client) SendMessage(ctx context.Context, roomID id.RoomID, content *event.Content) (id.EventID, error) {
	resp, err := c.Client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	return resp.EventID, nil
}

func (c *Client) GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	evt, err := c.Client.GetEvent(ctx, roomID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	parseContent(evt)
	return evt, nil
}

func (c *Client) GetMembers(ctx context.Context, roomID id.RoomID) ([]Member, error) {
	resp, err := c.Client.Members(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members of %s: %w", roomID, err)
	}
	members := make([]Member, 0, len(resp.Chunk))
	for _, evt := range resp.Chunk {
		if evt == nil || evt.StateKey == nil {
			continue
		}
		parseContent(evt)
		member := Member{UserID: id.UserID(*evt.StateKey)}
		if content := evt.Content.AsMember(); content != nil {
			member.Membership = content.Membership
		}
		members = append(members, member)
	}
	return members, nil
}

func (c *Client) GetDisplayName(ctx context.Context, userID id.UserID) (string, error) {
	profile, err := c.Client.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get profile of %s: %w", userID, err)
	}
	return profile.DisplayName, nil
}

func (c *Client) RecentMessages(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	resp, err := c.Client.Messages(ctx, roomID, "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages of %s: %w", roomID, err)
	}
	for _, evt := range resp.Chunk {
		parseContent(evt)
	}
	return resp.Chunk, nil
}

func (c *Client) Redact(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) error {
	_, err := c.Client.RedactEvent(ctx, roomID, eventID, mautrix.ReqRedact{Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to redact %s: %w", eventID, err)
	}
	return nil
}

func (c *Client) CreateDirectRoom(ctx context.Context, name string, invitee id.UserID) (id.RoomID, error) {
	resp, err := c.Client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		Invite:   []id.UserID{invitee},
		IsDirect: true,
		InitialState: []*event.Event{{
			Type:     event.StateRoomName,
			StateKey: ptr.Ptr(""),
			Content:  event.Content{Parsed: &event.RoomNameEventContent{Name: name}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	return resp.RoomID, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.Client.JoinRoomByID(ctx, roomID); err != nil {
		return fmt.Errorf("failed to join %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) SetTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) error {
	if _, err := c.Client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		return fmt.Errorf("failed to set typing in %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) GetRoomAccountData(ctx context.Context, roomID id.RoomID, eventType string, out any) (bool, error) {
	err := c.Client.GetRoomAccountData(ctx, roomID, eventType, out)
	if errors.Is(err, mautrix.MNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get %s account data in %s: %w", eventType, roomID, err)
	}
	return true, nil
}

func (c *Client) SetRoomAccountData(ctx context.Context, roomID id.RoomID, eventType string, data any) error {
	if err := c.Client.SetRoomAccountData(ctx, roomID, eventType, data); err != nil {
		return fmt.Errorf("failed to set %s account data in %s: %w", eventType, roomID, err)
	}
	return nil
}

func parseContent(evt *event.Event) {
	if evt == nil || evt.Content.Parsed != nil {
		return
	}
	// Unknown event types have no parsed form; callers fall back to Raw.
	_ = evt.Content.ParseRaw(evt.Type)
}
