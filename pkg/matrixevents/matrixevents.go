package matrixevents

import (
	"encoding/json"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ContextKey is the top-level content key under which the bot attaches
// application metadata (reply expectations) to its outbound messages.
const ContextKey = "context"

// RolesType is the default pseudo-state type key for a room's role ledger.
const RolesType = "com.beeper.helper.roles"

// Tag identifies what kind of reply the bot is waiting for.
type Tag string

const (
	// TagRoleName marks a message whose quote-replies carry a role name.
	TagRoleName Tag = "role_name"
)

// Person is the person an expectation is about.
type Person struct {
	Name string `json:"name"`
}

// Expectation is attached to an outbound message under ContextKey.
type Expectation struct {
	Expecting Tag     `json:"expecting"`
	Person    *Person `json:"person,omitempty"`
}

// ExpectationKind classifies what was found under ContextKey of an event.
type ExpectationKind int

const (
	ExpectationAbsent ExpectationKind = iota
	ExpectationMalformed
	ExpectationWellFormed
)

func (k ExpectationKind) String() string {
	switch k {
	case ExpectationAbsent:
		return "absent"
	case ExpectationMalformed:
		return "malformed"
	case ExpectationWellFormed:
		return "well-formed"
	default:
		return "unknown"
	}
}

// DecodeExpectation reads the expectation embedded in an event's raw content.
//
// A well-formed expectation has a non-empty tag and, for TagRoleName, a
// non-empty person name. Anything else under ContextKey is malformed.
func DecodeExpectation(evt *event.Event) (Expectation, ExpectationKind) {
	if evt == nil || evt.Content.Raw == nil {
		return Expectation{}, ExpectationAbsent
	}
	raw, ok := evt.Content.Raw[ContextKey]
	if !ok || raw == nil {
		return Expectation{}, ExpectationAbsent
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Expectation{}, ExpectationMalformed
	}
	var exp Expectation
	if err = json.Unmarshal(data, &exp); err != nil {
		return Expectation{}, ExpectationMalformed
	}
	if exp.Expecting == "" {
		// Messages sent without an expectation carry an empty context object.
		if m, isMap := raw.(map[string]any); isMap && len(m) == 0 {
			return Expectation{}, ExpectationAbsent
		}
		return Expectation{}, ExpectationMalformed
	}
	if exp.Expecting == TagRoleName && (exp.Person == nil || strings.TrimSpace(exp.Person.Name) == "") {
		return Expectation{}, ExpectationMalformed
	}
	return exp, ExpectationWellFormed
}

// NewTextContent builds an m.text message content, optionally carrying an expectation.
func NewTextContent(body string, exp *Expectation) *event.Content {
	content := &event.Content{
		Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		},
	}
	if exp != nil {
		content.Raw = map[string]any{ContextKey: exp}
	}
	return content
}

// ReplyTarget returns the event a message replies to, or "" if it isn't a reply.
func ReplyTarget(content *event.MessageEventContent) id.EventID {
	if content == nil || content.RelatesTo == nil || content.RelatesTo.InReplyTo == nil {
		return ""
	}
	return content.RelatesTo.InReplyTo.EventID
}

// IsEdit reports whether the message replaces an earlier one.
func IsEdit(content *event.MessageEventContent) bool {
	return content != nil && content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace
}

// ReplyText returns the part of a reply body after the first blank line, which
// is where clients put the user's text after the quoted fallback. Bodies without
// a blank line are returned whole.
func ReplyText(body string) string {
	if _, after, found := strings.Cut(body, "\n\n"); found && strings.TrimSpace(after) != "" {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(body)
}
