package assistant

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

var summarizeRegex = regexp.MustCompile(`(?i)^summarize\s+(\d+)\s+days?$`)

// ParseSummarize recognizes "summarize <N> days" and returns N.
func ParseSummarize(text string) (int, bool) {
	match := summarizeRegex.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return 0, false
	}
	days, err := strconv.Atoi(match[1])
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

type digestLine struct {
	ts   int64
	text string
}

// compileDigest collects the room's text messages sent within the last days,
// oldest first, excluding the triggering event.
func (o *Orchestrator) compileDigest(ctx context.Context, roomID id.RoomID, trigger id.EventID, days int) (string, error) {
	history, err := o.transport.RecentMessages(ctx, roomID, o.opts.HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("failed to fetch room history: %w", err)
	}
	cutoff := o.now().UnixMilli() - int64(days)*dayMillis
	lines := make([]digestLine, 0, len(history))
	for _, evt := range history {
		if evt.Type.Type != event.EventMessage.Type || evt.ID == trigger || evt.Timestamp < cutoff {
			continue
		}
		content := evt.Content.AsMessage()
		if content == nil || strings.TrimSpace(content.Body) == "" {
			continue
		}
		lines = append(lines, digestLine{
			ts: evt.Timestamp,
			text: fmt.Sprintf("[%s] %s: %s",
				time.UnixMilli(evt.Timestamp).UTC().Format(time.RFC3339), evt.Sender, content.Body),
		})
	}
	slices.SortStableFunc(lines, func(a, b digestLine) int {
		switch {
		case a.ts < b.ts:
			return -1
		case a.ts > b.ts:
			return 1
		default:
			return 0
		}
	})

	header := fmt.Sprintf("Summarize the messages sent in this room during the last %d days:", days)
	if len(lines) == 0 {
		return header + "\n(no messages)", nil
	}
	texts := make([]string, len(lines))
	for i, line := range lines {
		texts[i] = line.text
	}
	texts = o.trimToBudget(ctx, texts)
	return header + "\n" + strings.Join(texts, "\n"), nil
}

// trimToBudget drops the oldest lines until the digest fits the token budget.
// A budget of zero disables trimming.
func (o *Orchestrator) trimToBudget(ctx context.Context, lines []string) []string {
	if o.opts.DigestTokenBudget <= 0 {
		return lines
	}
	counts := make([]int, len(lines))
	total := 0
	for i, line := range lines {
		n, err := o.countTokens(line)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to count digest tokens, sending untrimmed")
			return lines
		}
		counts[i] = n
		total += n
	}
	start := 0
	for total > o.opts.DigestTokenBudget && start < len(lines)-1 {
		total -= counts[start]
		start++
	}
	if start > 0 {
		zerolog.Ctx(ctx).Debug().
			Int("dropped_lines", start).
			Int("token_estimate", total).
			Msg("Trimmed digest to token budget")
	}
	return lines[start:]
}

var (
	tokenizerCache   = make(map[string]*tiktoken.Tiktoken)
	tokenizerCacheMu sync.Mutex
)

func getTokenizer(model string) (*tiktoken.Tiktoken, error) {
	tokenizerCacheMu.Lock()
	defer tokenizerCacheMu.Unlock()
	if tkm, ok := tokenizerCache[model]; ok {
		return tkm, nil
	}
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown models use the GPT-4 family encoding
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	tokenizerCache[model] = tkm
	return tkm, nil
}

func tiktokenCounter(model string) func(string) (int, error) {
	return func(text string) (int, error) {
		tkm, err := getTokenizer(model)
		if err != nil {
			return 0, err
		}
		return len(tkm.Encode(text, nil, nil)), nil
	}
}
