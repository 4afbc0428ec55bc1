package events

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 256

const (
	TypeHello          = "hello"
	TypeHeartbeat      = "heartbeat"
	TypeSubmitted      = "submitted"
	TypeCommandStarted = "command_started"
	TypeCommandOutput  = "command_output"
	TypeCommandExit    = "command_exit"
	TypeCommandError   = "command_error"
	TypeCommandStopped = "command_stopped"
	TypeTimeout        = "timeout"
	TypeClosed         = "closed"
)

// Event is the message fanned out to every push-channel subscriber.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data,omitempty"`
}

type Hello struct {
	Session string `json:"session"`
}

type Heartbeat struct {
	Session string `json:"session"`
}

type Submitted struct {
	Session string `json:"session"`
}

type Timeout struct {
	Session string `json:"session"`
}

type Closed struct {
	Session string `json:"session"`
}

type CommandStarted struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

type CommandOutput struct {
	PID   int    `json:"pid"`
	Chunk string `json:"chunk"`
}

type CommandExit struct {
	PID      int `json:"pid"`
	ExitCode int `json:"exit_code"`
}

type CommandError struct {
	PID     int    `json:"pid,omitempty"`
	Message string `json:"message"`
}

type CommandStopped struct {
	PID int `json:"pid"`
}

// Option customizes bus construction.
type Option func(*Bus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *Bus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the sink used for dropped-event warnings.
func WithLogger(logger *log.Logger) Option {
	return func(bus *Bus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// Bus is a thread-safe in-process pub/sub bus backed by buffered channels.
// Slow subscribers lose events rather than stall publishers.
type Bus struct {
	mu         sync.RWMutex
	bufferSize int
	logger     *log.Logger
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
}

// Subscription is one receiver registered with a Bus. C is closed when the
// subscription is removed or the bus closes; buffered events remain readable.
type Subscription struct {
	id uint64
	ch chan Event
	C  <-chan Event
}

func New(options ...Option) *Bus {
	bus := &Bus{
		bufferSize: DefaultBufferSize,
		logger:     log.Default(),
		subs:       make(map[uint64]*Subscription),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a new receiver. On a closed bus the returned
// subscription's channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{ch: ch, C: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish delivers event to every current subscriber without blocking.
// Publishing on a closed bus does nothing.
func (b *Bus) Publish(event Event) {
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// The read lock is held across the sends so Unsubscribe and Close cannot
	// close a channel underneath us.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("event dropped: subscriber buffer full", "event_type", event.Type, "subscriber", sub.id)
		}
	}
}

// Close closes every subscription channel. It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
