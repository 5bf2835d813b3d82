// Package directory resolves room members and their display names.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

// RoomMember is a member with a resolved display name. DisplayName falls back
// to the user ID when the profile has none or can't be fetched.
type RoomMember struct {
	UserID      id.UserID
	DisplayName string
}

type Client struct {
	transport matrixtransport.Transport
}

func NewClient(transport matrixtransport.Transport) *Client {
	return &Client{transport: transport}
}

// Members returns everyone listed in the room's membership, in listing order.
func (c *Client) Members(ctx context.Context, roomID id.RoomID) ([]RoomMember, error) {
	return c.members(ctx, roomID, "")
}

// JoinedMembers is like Members but only returns members with join membership.
func (c *Client) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]RoomMember, error) {
	return c.members(ctx, roomID, event.MembershipJoin)
}

func (c *Client) members(ctx context.Context, roomID id.RoomID, only event.Membership) ([]RoomMember, error) {
	list, err := c.transport.GetMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	members := make([]RoomMember, 0, len(list))
	for _, m := range list {
		if only != "" && m.Membership != only {
			continue
		}
		members = append(members, RoomMember{UserID: m.UserID, DisplayName: c.DisplayName(ctx, m.UserID)})
	}
	zerolog.Ctx(ctx).Debug().
		Int("member_count", len(members)).
		Stringer("room_id", roomID).
		Msg("Resolved room members")
	return members, nil
}

// DisplayName looks up a user's profile name, falling back to the user ID.
func (c *Client) DisplayName(ctx context.Context, userID id.UserID) string {
	name, err := c.transport.GetDisplayName(ctx, userID)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Stringer("user_id", userID).Msg("Failed to get profile, using user ID")
		return userID.String()
	}
	if name = strings.TrimSpace(name); name == "" {
		return userID.String()
	}
	return name
}

// Roster formats members as "Name (@user:server), ...".
func Roster(members []RoomMember) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, fmt.Sprintf("%s (%s)", m.DisplayName, m.UserID))
	}
	return strings.Join(parts, ", ")
}
