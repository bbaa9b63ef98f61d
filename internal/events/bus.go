// File: internal/events/bus.go
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

// Event is the envelope delivered to subscribers. Exactly one of the three
// payload fields is set, matching Channel.
type Event struct {
	Channel        Channel
	Status         *schemas.StatusUpdate
	Log            *schemas.ActionLog
	ExecutionState *schemas.ExecutionStateEvent
}

// Channel identifies which of the driver's three streams an event belongs to.
type Channel string

const (
	ChannelStatus         Channel = "STATUS_UPDATE"
	ChannelLog            Channel = "ACTION_LOG"
	ChannelExecutionState Channel = "EXECUTION_STATE"
)

// Bus fans events out to subscribers without ever blocking a publisher. Each
// subscriber owns a buffered queue; when the queue is full the oldest entry
// is dropped so publishers stay on the fast path.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
	closed      bool
}

// NewBus initializes the bus. bufferSize bounds each subscriber queue.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &Bus{
		logger:      logger.Named("events"),
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving every subsequent event plus an
// unsubscribe function. The channel is closed on unsubscribe or bus Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe
}

// PublishStatus emits one STATUS_UPDATE event.
func (b *Bus) PublishStatus(update schemas.StatusUpdate) {
	b.logger.Debug("Status update",
		zap.String("status", string(update.Status)),
		zap.String("text", update.Text),
	)
	b.dispatch(Event{Channel: ChannelStatus, Status: &update})
}

// PublishLog emits one ACTION_LOG event.
func (b *Bus) PublishLog(entry schemas.ActionLog) {
	b.logger.Debug("Action log",
		zap.String("log_type", string(entry.LogType)),
		zap.String("text", entry.Text),
	)
	b.dispatch(Event{Channel: ChannelLog, Log: &entry})
}

// PublishExecutionState emits one EXECUTION_STATE event.
func (b *Bus) PublishExecutionState(state schemas.ExecutionStateEvent) {
	b.logger.Debug("Execution state", zap.Bool("running", state.Running))
	b.dispatch(Event{Channel: ChannelExecutionState, ExecutionState: &state})
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		for {
			select {
			case ch <- ev:
			default:
				// Queue full: drop the oldest entry and retry once. A slow
				// subscriber must never stall the agent loop.
				select {
				case <-ch:
					b.logger.Warn("Subscriber queue full, dropping oldest event",
						zap.Int("subscriber", id),
						zap.String("channel", string(ev.Channel)),
					)
					continue
				default:
				}
			}
			break
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
