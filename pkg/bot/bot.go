// Package bot wires the Matrix sync loop to the message router.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/assistant"
	"github.com/beeper/helper-bot/pkg/broadcast"
	"github.com/beeper/helper-bot/pkg/config"
	"github.com/beeper/helper-bot/pkg/directory"
	"github.com/beeper/helper-bot/pkg/dispatch"
	"github.com/beeper/helper-bot/pkg/engagement"
	"github.com/beeper/helper-bot/pkg/greeter"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
	"github.com/beeper/helper-bot/pkg/moderation"
	"github.com/beeper/helper-bot/pkg/reply"
	"github.com/beeper/helper-bot/pkg/roles"
	"github.com/beeper/helper-bot/pkg/roles/amqpsink"
)

type Bot struct {
	cfg       *config.Config
	log       zerolog.Logger
	client    *mautrix.Client
	transport *matrixtransport.Client
	router    *dispatch.Router
	session   *assistant.Session
	queue     *eventQueue
	db        *dbutil.Database
	publisher *amqpsink.Publisher
}

// New builds every component from cfg. Nothing talks to the network until Run,
// except dialing the AMQP broker when events are enabled.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver.URL, cfg.Homeserver.UserID, cfg.Homeserver.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "matrix").Logger()
	botID := cfg.Homeserver.UserID
	transport := matrixtransport.NewClient(client)

	b := &Bot{
		cfg:       cfg,
		log:       log,
		client:    client,
		transport: transport,
	}

	store, db, err := openStore(ctx, cfg, transport, log.With().Str("component", "pseudostate").Logger())
	if err != nil {
		return nil, err
	}
	b.db = db
	engine := roles.NewEngine(store, cfg.PseudoState.RolesType, log)
	if cfg.Events.Enabled {
		if b.publisher, err = amqpsink.Dial(cfg.Events.Config); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to event broker: %w", err)
		}
		engine.SetPublisher(b.publisher)
	}

	dir := directory.NewClient(transport)
	correlator := reply.NewCorrelator(transport, engine, botID)

	instructions := cfg.Assistant.Instructions
	if instructions == "" {
		instructions = assistant.DefaultInstructions
	}
	provider := assistant.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, log)
	b.session = assistant.NewSession(provider, assistant.Definition{
		Name:         cfg.Assistant.Name,
		Model:        cfg.Assistant.Model,
		Instructions: instructions,
		Tools:        []assistant.ToolDefinition{assistant.AssignRoleTool()},
	}, cfg.Assistant.AssistantID)
	orchestrator := assistant.NewOrchestrator(b.session, transport, dir, engine, correlator, assistant.Options{
		PollInterval:      cfg.Assistant.PollInterval,
		RunTimeout:        cfg.Assistant.RunTimeout,
		HistoryLimit:      cfg.Assistant.HistoryLimit,
		DigestTokenBudget: cfg.Assistant.DigestTokenBudget,
		TokenizerModel:    cfg.Assistant.Model,
	})

	b.router = dispatch.NewRouter(botID, dispatch.Handlers{
		Moderation: moderation.NewModerator(transport, moderation.NewFilter(cfg.Moderation.Terms)),
		Engagement: engagement.NewReporter(transport, dir, botID, cfg.Commands.HistoryLimit),
		Broadcast:  broadcast.NewBroadcaster(transport, botID, cfg.Broadcast.RatePerSecond, cfg.Broadcast.Burst),
		Reply:      correlator,
		Assistant:  orchestrator,
		Greeter:    greeter.NewGreeter(transport, botID),
	}, nil)
	b.queue = newEventQueue(b.router, DefaultQueueSize, log.With().Str("component", "worker").Logger())

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		b.Close()
		return nil, errors.New("unexpected syncer type")
	}
	if cfg.AutoJoin {
		syncer.OnSync(acceptInitialInvites(transport, log.With().Str("component", "autojoin").Logger()))
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.onEvent)
	syncer.OnEventType(event.StateMember, b.onMember)
	return b, nil
}

func (b *Bot) onEvent(ctx context.Context, evt *event.Event) {
	b.queue.Enqueue(ctx, evt)
}

func (b *Bot) onMember(ctx context.Context, evt *event.Event) {
	if b.cfg.AutoJoin && evt.StateKey != nil && id.UserID(*evt.StateKey) == b.cfg.Homeserver.UserID &&
		evt.Content.AsMember().Membership == event.MembershipInvite {
		acceptInvite(ctx, b.transport, b.log.With().Stringer("inviter", evt.Sender).Logger(), evt.RoomID)
		return
	}
	b.queue.Enqueue(ctx, evt)
}

type roomJoiner interface {
	JoinRoom(ctx context.Context, roomID id.RoomID) error
}

func acceptInvite(ctx context.Context, joiner roomJoiner, log zerolog.Logger, roomID id.RoomID) {
	log = log.With().Stringer("room_id", roomID).Logger()
	if err := joiner.JoinRoom(ctx, roomID); err != nil {
		log.Err(err).Msg("Failed to accept invite")
	} else {
		log.Info().Msg("Accepted invite")
	}
}

// acceptInitialInvites joins rooms the bot was invited to while it was
// offline. Events of the first sync never reach the event handlers.
func acceptInitialInvites(joiner roomJoiner, log zerolog.Logger) mautrix.SyncHandler {
	return func(ctx context.Context, resp *mautrix.RespSync, since string) bool {
		if since != "" {
			return true
		}
		for roomID := range resp.Rooms.Invite {
			acceptInvite(ctx, joiner, log, roomID)
		}
		return true
	}
}

// Run syncs until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	ctx = b.log.WithContext(ctx)
	whoami, err := b.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify access token: %w", err)
	} else if whoami.UserID != b.cfg.Homeserver.UserID {
		return fmt.Errorf("access token belongs to %s, not %s", whoami.UserID, b.cfg.Homeserver.UserID)
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go b.queue.Run(workerCtx)

	b.log.Info().Stringer("user_id", whoami.UserID).Msg("Starting sync")
	err = b.client.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// Close releases the session, broker and database. Safe to call more than once.
func (b *Bot) Close() {
	if b.session != nil {
		b.session.Close()
	}
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Failed to close event publisher")
		}
		b.publisher = nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Failed to close database")
		}
		b.db = nil
	}
}
