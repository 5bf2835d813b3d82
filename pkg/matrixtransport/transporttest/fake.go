// Package transporttest provides an in-memory matrixtransport.Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

// Sent is a message recorded by Fake.SendMessage.
type Sent struct {
	RoomID  id.RoomID
	EventID id.EventID
	Body    string
	Raw     map[string]any
}

// Redaction is a redaction recorded by Fake.Redact.
type Redaction struct {
	RoomID  id.RoomID
	EventID id.EventID
	Reason  string
}

// TypingUpdate is a typing notification recorded by Fake.SetTyping.
type TypingUpdate struct {
	RoomID id.RoomID
	Typing bool
}

// CreatedRoom is a room recorded by Fake.CreateDirectRoom.
type CreatedRoom struct {
	RoomID  id.RoomID
	Name    string
	Invitee id.UserID
}

// Fake is a concurrency-safe in-memory transport. Sent messages become
// fetchable events authored by BotID.
type Fake struct {
	BotID id.UserID

	mu          sync.Mutex
	seq         int
	events      map[id.EventID]*event.Event
	members     map[id.RoomID][]matrixtransport.Member
	names       map[id.UserID]string
	history     map[id.RoomID][]*event.Event
	accountData map[string][]byte

	Sent       []Sent
	Redactions []Redaction
	Created    []CreatedRoom
	Joined     []id.RoomID
	Typing     []TypingUpdate

	// Optional failure injection.
	MembersErr     error
	RedactErr      error
	HistoryErr     error
	AccountDataErr error
	CreateRoomErr  func(invitee id.UserID) error
	SendErr        func(roomID id.RoomID) error
}

var _ matrixtransport.Transport = (*Fake)(nil)

// New creates an empty fake for the given bot user.
func New(botID id.UserID) *Fake {
	return &Fake{
		BotID:       botID,
		events:      make(map[id.EventID]*event.Event),
		members:     make(map[id.RoomID][]matrixtransport.Member),
		names:       make(map[id.UserID]string),
		history:     make(map[id.RoomID][]*event.Event),
		accountData: make(map[string][]byte),
	}
}

// SetMembers replaces the membership list of a room.
func (f *Fake) SetMembers(roomID id.RoomID, members ...matrixtransport.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[roomID] = members
}

// SetDisplayName sets the profile display name of a user.
func (f *Fake) SetDisplayName(userID id.UserID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[userID] = name
}

// AddEvent stores an event so GetEvent can find it.
func (f *Fake) AddEvent(evt *event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[evt.ID] = evt
}

// AddHistory appends events to a room's history in chronological order.
func (f *Fake) AddHistory(roomID id.RoomID, evts ...*event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[roomID] = append(f.history[roomID], evts...)
}

// SentTo returns the bodies of all messages sent to a room.
func (f *Fake) SentTo(roomID id.RoomID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.Sent {
		if s.RoomID == roomID {
			out = append(out, s.Body)
		}
	}
	return out
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *Fake) SendMessage(_ context.Context, roomID id.RoomID, content *event.Content) (id.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		if err := f.SendErr(roomID); err != nil {
			return "", err
		}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	raw := make(map[string]any)
	if err = json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	evtID := id.EventID(f.nextID("$sent"))
	body, _ := raw["body"].(string)
	f.Sent = append(f.Sent, Sent{RoomID: roomID, EventID: evtID, Body: body, Raw: raw})
	evt := &event.Event{
		ID:      evtID,
		RoomID:  roomID,
		Sender:  f.BotID,
		Type:    event.EventMessage,
		Content: event.Content{VeryRaw: data, Raw: raw},
	}
	_ = evt.Content.ParseRaw(evt.Type)
	f.events[evtID] = evt
	return evtID, nil
}

func (f *Fake) GetEvent(_ context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt, ok := f.events[eventID]
	if !ok || evt.RoomID != roomID {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return evt, nil
}

func (f *Fake) GetMembers(_ context.Context, roomID id.RoomID) ([]matrixtransport.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MembersErr != nil {
		return nil, f.MembersErr
	}
	return append([]matrixtransport.Member(nil), f.members[roomID]...), nil
}

func (f *Fake) GetDisplayName(_ context.Context, userID id.UserID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[userID]
	if !ok {
		return "", errors.New("profile not found")
	}
	return name, nil
}

func (f *Fake) RecentMessages(_ context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	hist := f.history[roomID]
	out := make([]*event.Event, 0, len(hist))
	for i := len(hist) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, hist[i])
	}
	return out, nil
}

func (f *Fake) Redact(_ context.Context, roomID id.RoomID, eventID id.EventID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RedactErr != nil {
		return f.RedactErr
	}
	f.Redactions = append(f.Redactions, Redaction{RoomID: roomID, EventID: eventID, Reason: reason})
	return nil
}

func (f *Fake) CreateDirectRoom(_ context.Context, name string, invitee id.UserID) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateRoomErr != nil {
		if err := f.CreateRoomErr(invitee); err != nil {
			return "", err
		}
	}
	roomID := id.RoomID(f.nextID("!dm"))
	f.Created = append(f.Created, CreatedRoom{RoomID: roomID, Name: name, Invitee: invitee})
	return roomID, nil
}

func (f *Fake) JoinRoom(_ context.Context, roomID id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Joined = append(f.Joined, roomID)
	return nil
}

func (f *Fake) SetTyping(_ context.Context, roomID id.RoomID, typing bool, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Typing = append(f.Typing, TypingUpdate{RoomID: roomID, Typing: typing})
	return nil
}

// TypingUpdates returns a copy of the recorded typing notifications.
func (f *Fake) TypingUpdates() []TypingUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TypingUpdate(nil), f.Typing...)
}

func (f *Fake) GetRoomAccountData(_ context.Context, roomID id.RoomID, eventType string, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountDataErr != nil {
		return false, f.AccountDataErr
	}
	data, ok := f.accountData[string(roomID)+"|"+eventType]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (f *Fake) SetRoomAccountData(_ context.Context, roomID id.RoomID, eventType string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountDataErr != nil {
		return f.AccountDataErr
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.accountData[string(roomID)+"|"+eventType] = encoded
	return nil
}
