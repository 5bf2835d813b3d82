// Package reply routes quote-replies to the action their ancestor message asked for.
package reply

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
	"github.com/beeper/helper-bot/pkg/roles"
)

// RoleAssigner is the part of roles.Engine the correlator needs.
type RoleAssigner interface {
	AssignRole(ctx context.Context, roomID id.RoomID, personName, roleName string) (roles.Assignment, error)
}

// Outcome says what handling a reply did.
type Outcome string

const (
	OutcomeAssigned      Outcome = "assigned"
	OutcomeNotBot        Outcome = "ancestor-not-bot"
	OutcomeNoExpectation Outcome = "no-expectation"
	OutcomeMalformed     Outcome = "malformed-expectation"
	OutcomeUnknownTag    Outcome = "unknown-tag"
	OutcomeNotReply      Outcome = "not-a-reply"
)

type Correlator struct {
	transport matrixtransport.Transport
	assigner  RoleAssigner
	botID     id.UserID
}

func NewCorrelator(transport matrixtransport.Transport, assigner RoleAssigner, botID id.UserID) *Correlator {
	return &Correlator{transport: transport, assigner: assigner, botID: botID}
}

// Handle processes one reply event. Replies to messages that weren't sent by
// the bot, or that carry no usable expectation, are dropped without error.
func (c *Correlator) Handle(ctx context.Context, evt *event.Event) (Outcome, error) {
	log := zerolog.Ctx(ctx)
	content := evt.Content.AsMessage()
	parentID := matrixevents.ReplyTarget(content)
	if parentID == "" {
		return OutcomeNotReply, nil
	}
	replyText := matrixevents.ReplyText(content.Body)

	parent, err := c.transport.GetEvent(ctx, evt.RoomID, parentID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve replied-to event: %w", err)
	}
	if parent.Sender != c.botID {
		return OutcomeNotBot, nil
	}

	exp, kind := matrixevents.DecodeExpectation(parent)
	switch kind {
	case matrixevents.ExpectationAbsent:
		return OutcomeNoExpectation, nil
	case matrixevents.ExpectationMalformed:
		log.Debug().Stringer("parent_event_id", parentID).Msg("Ignoring reply to message with malformed context")
		return OutcomeMalformed, nil
	}

	switch exp.Expecting {
	case matrixevents.TagRoleName:
		if _, err = c.assigner.AssignRole(ctx, evt.RoomID, exp.Person.Name, replyText); err != nil {
			return "", err
		}
		return OutcomeAssigned, nil
	default:
		log.Debug().Str("expecting", string(exp.Expecting)).Msg("Ignoring reply with unknown expectation tag")
		return OutcomeUnknownTag, nil
	}
}

// Prompt asks the room to quote-reply with a role name for personName.
func (c *Correlator) Prompt(ctx context.Context, roomID id.RoomID, personName string) (id.EventID, error) {
	body := fmt.Sprintf("Quote-reply to this message with the name of the role you want to assign to %s.", personName)
	return c.transport.SendMessage(ctx, roomID, matrixevents.NewTextContent(body, &matrixevents.Expectation{
		Expecting: matrixevents.TagRoleName,
		Person:    &matrixevents.Person{Name: personName},
	}))
}
