package transporttest

import (
	"encoding/json"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// NewEvent builds an event the way the sync loop delivers it: content decoded
// from JSON and parsed for known types.
func NewEvent(roomID id.RoomID, eventID id.EventID, sender id.UserID, evtType event.Type, ts int64, content map[string]any) *event.Event {
	evt := &event.Event{
		ID:        eventID,
		RoomID:    roomID,
		Sender:    sender,
		Type:      evtType,
		Timestamp: ts,
	}
	data, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	if err = json.Unmarshal(data, &evt.Content); err != nil {
		panic(err)
	}
	_ = evt.Content.ParseRaw(evtType)
	return evt
}

// TextEvent builds an m.room.message m.text event.
func TextEvent(roomID id.RoomID, eventID id.EventID, sender id.UserID, ts int64, body string) *event.Event {
	return NewEvent(roomID, eventID, sender, event.EventMessage, ts, map[string]any{
		"msgtype": "m.text",
		"body":    body,
	})
}

// ReplyEvent builds an m.text event replying to another event.
func ReplyEvent(roomID id.RoomID, eventID id.EventID, sender id.UserID, ts int64, body string, replyTo id.EventID) *event.Event {
	return NewEvent(roomID, eventID, sender, event.EventMessage, ts, map[string]any{
		"msgtype": "m.text",
		"body":    body,
		"m.relates_to": map[string]any{
			"m.in_reply_to": map[string]any{"event_id": replyTo},
		},
	})
}

// MemberEvent builds an m.room.member state event for userID.
func MemberEvent(roomID id.RoomID, eventID id.EventID, userID id.UserID, membership event.Membership) *event.Event {
	evt := NewEvent(roomID, eventID, userID, event.StateMember, 0, map[string]any{
		"membership": membership,
	})
	stateKey := userID.String()
	evt.StateKey = &stateKey
	return evt
}
