// Package assistant drives the room assistant: one provider thread per room,
// a run per request, and a poll loop that executes tool calls.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/aierrors"
	"github.com/beeper/helper-bot/pkg/directory"
	"github.com/beeper/helper-bot/pkg/matrixevents"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

const (
	DefaultName         = "Matrix Tool Assistant"
	DefaultModel        = "gpt-4o-mini"
	DefaultInstructions = "You are a helpful assistant in a Matrix chat room. " +
		"You can assign roles to people in the room with the assignRole tool. " +
		"Each user message starts with the list of room members; use their display names exactly. " +
		"If you don't know which role to assign, call assignRole with an empty roleName and the room will be asked."

	DefaultPollInterval = time.Second
	DefaultRunTimeout   = 5 * time.Minute
	DefaultHistoryLimit = 1000

	cancelRunTimeout = 10 * time.Second
)

var errRunPending = errors.New("run still in progress")

type Options struct {
	PollInterval      time.Duration
	RunTimeout        time.Duration
	HistoryLimit      int
	DigestTokenBudget int
	TokenizerModel    string
	TypingInterval    time.Duration
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.TokenizerModel == "" {
		o.TokenizerModel = DefaultModel
	}
}

// Request is one !assistant invocation.
type Request struct {
	RoomID  id.RoomID
	EventID id.EventID
	Sender  id.UserID
	Text    string
}

type Orchestrator struct {
	session   *Session
	provider  Provider
	transport matrixtransport.Transport
	directory *directory.Client
	assigner  RoleAssigner
	prompter  RolePrompter
	opts      Options

	now         func() time.Time
	countTokens func(string) (int, error)
}

func NewOrchestrator(
	session *Session,
	transport matrixtransport.Transport,
	dir *directory.Client,
	assigner RoleAssigner,
	prompter RolePrompter,
	opts Options,
) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		session:     session,
		provider:    session.provider,
		transport:   transport,
		directory:   dir,
		assigner:    assigner,
		prompter:    prompter,
		opts:        opts,
		now:         time.Now,
		countTokens: tiktokenCounter(opts.TokenizerModel),
	}
}

// Handle forwards the request to the room's thread, runs the assistant to a
// terminal state and relays its latest reply to the room.
//
// A run that ends in any terminal status other than completed returns a
// *aierrors.RunFailedError and sends nothing. Exceeding the run timeout
// returns aierrors.ErrRunTimeout.
func (o *Orchestrator) Handle(ctx context.Context, req Request) error {
	log := zerolog.Ctx(ctx).With().
		Str("component", "assistant").
		Str("correlation_id", xid.New().String()).
		Stringer("room_id", req.RoomID).
		Logger()
	ctx = log.WithContext(ctx)

	threadID, created, err := o.session.Thread(ctx, req.RoomID)
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("thread_id", threadID).Msg("Created assistant thread for room")
	}

	text := req.Text
	if days, ok := ParseSummarize(text); ok {
		text, err = o.compileDigest(ctx, req.RoomID, req.EventID, days)
		if err != nil {
			return err
		}
	}

	members, err := o.directory.JoinedMembers(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get room members: %w", err)
	}
	content := fmt.Sprintf("Room members: %s\n\nUser message: %s", directory.Roster(members), text)
	if err = o.provider.AddUserMessage(ctx, threadID, content); err != nil {
		return fmt.Errorf("failed to add message to thread: %w", err)
	}

	typing := startTyping(ctx, o.transport, req.RoomID, o.opts.TypingInterval)
	defer typing.Stop(ctx)

	assistantID, err := o.session.AssistantID(ctx)
	if err != nil {
		return err
	}
	run, err := o.provider.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	log.Debug().Str("thread_id", threadID).Str("run_id", run.ID).Msg("Started assistant run")

	run, err = o.waitForRun(ctx, req.RoomID, threadID, run)
	typing.Stop(ctx)
	if err != nil {
		return err
	}

	msg, ok, err := o.provider.LatestAssistantMessage(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to read assistant reply: %w", err)
	} else if !ok || !msg.HasText || msg.Text == "" {
		log.Debug().Str("run_id", run.ID).Msg("Assistant produced no text reply")
		return nil
	}
	if _, err = o.transport.SendMessage(ctx, req.RoomID, matrixevents.NewTextContent(msg.Text, nil)); err != nil {
		return fmt.Errorf("failed to send assistant reply: %w", err)
	}
	return nil
}

// waitForRun polls until the run reaches a terminal status, executing tool
// calls whenever the run asks for them. A run abandoned on timeout or
// cancellation is cancelled on the provider so the thread accepts new messages.
func (o *Orchestrator) waitForRun(ctx context.Context, roomID id.RoomID, threadID string, run Run) (Run, error) {
	log := zerolog.Ctx(ctx).With().Str("run_id", run.ID).Logger()
	pollCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	answered := make(map[string]struct{})
	var lastTransient, permanent error
	operation := func() (Run, error) {
		current, err := o.provider.GetRun(pollCtx, threadID, run.ID)
		if err != nil {
			if isTransient(err) {
				log.Debug().Err(err).Msg("Transient error polling run")
				lastTransient = err
				return Run{}, err
			}
			permanent = fmt.Errorf("failed to get run: %w", err)
			return Run{}, backoff.Permanent(permanent)
		}
		lastTransient = nil
		switch {
		case current.Status == RunStatusRequiresAction:
			pending := make([]ToolCall, 0, len(current.ToolCalls))
			for _, call := range current.ToolCalls {
				if _, ok := answered[call.ID]; !ok {
					pending = append(pending, call)
				}
			}
			if len(pending) == 0 {
				log.Debug().Msg("Run still reports tool calls that were already answered")
				return Run{}, errRunPending
			}
			log.Debug().Int("tool_calls", len(pending)).Msg("Run requires action")
			outputs := o.executeToolCalls(pollCtx, roomID, pending)
			for _, call := range pending {
				answered[call.ID] = struct{}{}
			}
			submitted, err := o.provider.SubmitToolOutputs(pollCtx, threadID, run.ID, outputs)
			if err != nil {
				permanent = fmt.Errorf("failed to submit tool outputs: %w", err)
				return Run{}, backoff.Permanent(permanent)
			}
			if submitted.Status.Terminal() {
				return submitted, nil
			}
			return Run{}, errRunPending
		case current.Status.Terminal():
			return current, nil
		default:
			return Run{}, errRunPending
		}
	}

	result, err := backoff.Retry(pollCtx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.opts.PollInterval)),
		backoff.WithMaxElapsedTime(o.opts.RunTimeout),
	)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			o.cancelRun(ctx, threadID, run.ID)
			return Run{}, ctx.Err()
		case permanent != nil && pollCtx.Err() == nil:
			return Run{}, permanent
		case lastTransient != nil:
			o.cancelRun(ctx, threadID, run.ID)
			return Run{}, fmt.Errorf("%w: run %s after %s: %w", aierrors.ErrRunTimeout, run.ID, o.opts.RunTimeout, lastTransient)
		default:
			o.cancelRun(ctx, threadID, run.ID)
			return Run{}, fmt.Errorf("%w: run %s after %s", aierrors.ErrRunTimeout, run.ID, o.opts.RunTimeout)
		}
	}
	if result.Status != RunStatusCompleted {
		return result, &aierrors.RunFailedError{
			RunID:   result.ID,
			Status:  string(result.Status),
			Code:    result.ErrorCode,
			Message: result.ErrorMessage,
		}
	}
	return result, nil
}

func (o *Orchestrator) cancelRun(ctx context.Context, threadID, runID string) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRunTimeout)
	defer cancel()
	log := zerolog.Ctx(ctx).With().Str("thread_id", threadID).Str("run_id", runID).Logger()
	if err := o.provider.CancelRun(cancelCtx, threadID, runID); err != nil {
		log.Warn().Err(err).Msg("Failed to cancel abandoned run")
	} else {
		log.Debug().Msg("Cancelled abandoned run")
	}
}

func isTransient(err error) bool {
	switch aierrors.Classify(err) {
	case aierrors.KindRateLimit, aierrors.KindServer, aierrors.KindOverload, aierrors.KindTimeout:
		return true
	default:
		return false
	}
}
