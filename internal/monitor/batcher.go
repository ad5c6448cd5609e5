package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Classifier submits a batch and returns one verdict per flagged message id.
type Classifier interface {
	AnalyzeBatch(ctx context.Context, entries []Entry, opts Options) (map[string]Verdict, error)
}

// GroupHandler receives one author's flagged messages with the group's
// representative verdict.
type GroupHandler interface {
	HandleGroupViolation(ctx context.Context, authorID string, messages []Message, verdict Verdict)
}

type OptionsSource interface {
	MonitorOptions(ctx context.Context) Options
}

type channelQueue struct {
	entries []Entry
	timer   Timer
}

// Batcher coalesces bursts of monitored messages per channel into one
// classifier call. A debounce timer restarts on every message; reaching the
// batch size flushes immediately.
type Batcher struct {
	mu         sync.Mutex
	queues     map[string]*channelQueue
	batchSize  int
	debounce   time.Duration
	clock      Clock
	classifier Classifier
	handler    GroupHandler
	options    OptionsSource
	logger     *zap.Logger
}

func NewBatcher(batchSize int, debounce time.Duration, classifier Classifier, handler GroupHandler, options OptionsSource, logger *zap.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = 5
	}
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &Batcher{
		queues:     make(map[string]*channelQueue),
		batchSize:  batchSize,
		debounce:   debounce,
		clock:      realClock{},
		classifier: classifier,
		handler:    handler,
		options:    options,
		logger:     logger,
	}
}

func (b *Batcher) WithClock(clock Clock) {
	b.clock = clock
}

// Add buffers a message for its channel. The snapshot-and-clear in the flush
// path happens before any network I/O, so a message arriving mid-flight
// starts a fresh batch and is neither lost nor double-processed.
func (b *Batcher) Add(ctx context.Context, msg Message, contextMsgs []Message) {
	b.mu.Lock()
	queue := b.queues[msg.ChannelID]
	if queue == nil {
		queue = &channelQueue{}
		b.queues[msg.ChannelID] = queue
	}

	queue.entries = append(queue.entries, Entry{
		Message:    msg,
		Context:    contextMsgs,
		EnqueuedAt: b.clock.Now(),
	})

	if queue.timer != nil {
		queue.timer.Stop()
		queue.timer = nil
	}

	if len(queue.entries) >= b.batchSize {
		snapshot := queue.entries
		queue.entries = nil
		b.mu.Unlock()
		b.process(ctx, msg.ChannelID, snapshot)
		return
	}

	channelID := msg.ChannelID
	queue.timer = b.clock.AfterFunc(b.debounce, func() {
		b.flush(context.Background(), channelID)
	})
	b.mu.Unlock()
}

func (b *Batcher) flush(ctx context.Context, channelID string) {
	b.mu.Lock()
	queue := b.queues[channelID]
	if queue == nil || len(queue.entries) == 0 {
		b.mu.Unlock()
		return
	}
	snapshot := queue.entries
	queue.entries = nil
	queue.timer = nil
	b.mu.Unlock()

	b.process(ctx, channelID, snapshot)
}

func (b *Batcher) process(ctx context.Context, channelID string, entries []Entry) {
	opts := Options{}
	if b.options != nil {
		opts = b.options.MonitorOptions(ctx)
	}

	verdicts, err := b.classifier.AnalyzeBatch(ctx, entries, opts)
	if err != nil {
		// Fail open: classifier outages never block message delivery.
		b.logger.Warn("batch classification failed",
			zap.String("channel_id", channelID),
			zap.Int("batch_size", len(entries)),
			zap.Error(err))
		return
	}

	type group struct {
		messages []Message
		verdict  Verdict
	}
	groups := make(map[string]*group)
	var order []string

	for _, entry := range entries {
		verdict, ok := verdicts[entry.Message.ID]
		if !ok || !verdict.Violation {
			continue
		}
		authorID := entry.Message.AuthorID
		g := groups[authorID]
		if g == nil {
			g = &group{}
			groups[authorID] = g
			order = append(order, authorID)
		}
		g.messages = append(g.messages, entry.Message)
		// Highest severity represents the group; on a tie the later
		// message wins.
		if verdict.Severity >= g.verdict.Severity {
			g.verdict = verdict
		}
	}

	for _, authorID := range order {
		g := groups[authorID]
		b.handler.HandleGroupViolation(ctx, authorID, g.messages, g.verdict)
	}
}
