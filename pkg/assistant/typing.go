package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

const (
	// Matrix typing notifications expire after the timeout unless refreshed.
	typingTimeout         = 30 * time.Second
	typingRefreshInterval = 6 * time.Second
)

// typingIndicator keeps the bot's typing notification alive while a run is
// in progress.
type typingIndicator struct {
	transport matrixtransport.Transport
	roomID    id.RoomID
	interval  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func startTyping(ctx context.Context, transport matrixtransport.Transport, roomID id.RoomID, interval time.Duration) *typingIndicator {
	if interval <= 0 {
		interval = typingRefreshInterval
	}
	ti := &typingIndicator{
		transport: transport,
		roomID:    roomID,
		interval:  interval,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	ti.send(ctx, true)
	go ti.refreshLoop(ctx)
	return ti
}

func (ti *typingIndicator) refreshLoop(ctx context.Context) {
	defer close(ti.done)
	ticker := time.NewTicker(ti.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ti.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ti.send(ctx, true)
		}
	}
}

// Stop clears the typing notification. Safe to call more than once.
func (ti *typingIndicator) Stop(ctx context.Context) {
	ti.stopOnce.Do(func() {
		close(ti.stopCh)
		<-ti.done
		ti.send(context.WithoutCancel(ctx), false)
	})
}

func (ti *typingIndicator) send(ctx context.Context, typing bool) {
	if err := ti.transport.SetTyping(ctx, ti.roomID, typing, typingTimeout); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Bool("typing", typing).Msg("Failed to update typing notification")
	}
}
