package bot

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"

	"github.com/beeper/helper-bot/pkg/aierrors"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

const DefaultQueueSize = 256

// eventQueue decouples the sync loop from event handling. A single consumer
// handles events in arrival order, so handlers never run concurrently.
type eventQueue struct {
	ch      chan *event.Event
	handler matrixtransport.EventHandler
	log     zerolog.Logger
}

func newEventQueue(handler matrixtransport.EventHandler, size int, log zerolog.Logger) *eventQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &eventQueue{
		ch:      make(chan *event.Event, size),
		handler: handler,
		log:     log,
	}
}

// Enqueue blocks until the event is queued or ctx is done.
func (q *eventQueue) Enqueue(ctx context.Context, evt *event.Event) bool {
	select {
	case q.ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run consumes events until ctx is done.
func (q *eventQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-q.ch:
			q.handle(ctx, evt)
		}
	}
}

func (q *eventQueue) handle(ctx context.Context, evt *event.Event) {
	log := q.log.With().
		Stringer("room_id", evt.RoomID).
		Stringer("event_id", evt.ID).
		Str("event_type", evt.Type.Type).
		Logger()
	ctx = log.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("Panic while handling event")
		}
	}()
	if err := q.handler.OnEvent(ctx, evt); err != nil {
		log.Err(err).Str("error_kind", string(aierrors.Classify(err))).Msg("Failed to handle event")
	}
}
