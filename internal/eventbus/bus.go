package eventbus

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/planboard/chatcore/internal/channel"
	"github.com/planboard/chatcore/internal/logging"
	"github.com/planboard/chatcore/internal/transport"
)

// streamID is the pseudo session id of the single event stream.
const streamID = "events"

// Handler receives events.
type Handler func(Event)

// Options configures a Bus.
type Options struct {
	// URL is the event stream socket URL, without query.
	URL         string
	Header      http.Header
	Tickets     channel.TicketSource
	Dialer      transport.Dialer
	Backoff     channel.Backoff
	RequireAuth bool
	// OnStatus and OnForcedLogout are passed through to the channel.
	OnStatus       func(channel.Status)
	OnForcedLogout func()
	Logger         *slog.Logger
}

// Bus is the event bus subscriber. Handlers run on the channel's dispatch
// goroutine in delivery order and may subscribe or unsubscribe.
type Bus struct {
	ch     *channel.Channel
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	topics map[Entity]map[uint64]Handler
	all    map[uint64]Handler
}

// New creates a Bus. Call Start to connect.
func New(opts Options) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Events()
	}
	b := &Bus{
		logger: logger,
		topics: make(map[Entity]map[uint64]Handler),
		all:    make(map[uint64]Handler),
	}
	url := opts.URL
	b.ch = channel.New(channel.Options{
		Name:        streamID,
		Endpoint:    func(string) string { return url },
		Header:      opts.Header,
		Tickets:     opts.Tickets,
		Dialer:      opts.Dialer,
		Backoff:     opts.Backoff,
		RequireAuth: opts.RequireAuth,
		NoReplay:    true,
		Logger:      logger,
		Handlers: channel.Handlers{
			OnStatus:       opts.OnStatus,
			OnForcedLogout: opts.OnForcedLogout,
			OnEvent:        b.dispatch,
		},
	})
	return b
}

// Start connects the stream. It is a no-op while connected.
func (b *Bus) Start() {
	b.ch.Connect(streamID, 0)
}

// Stop disconnects. Subscriptions are kept for the next Start.
func (b *Bus) Stop() {
	b.ch.Disconnect()
}

// Close disconnects and releases the channel.
func (b *Bus) Close() {
	b.ch.Close()
}

// Status returns the stream connection status.
func (b *Bus) Status() channel.Status {
	return b.ch.Status()
}

// Subscribe registers fn for events of the given entities, or for every
// event when none are given. The returned func unsubscribes.
func (b *Bus) Subscribe(fn Handler, entities ...Entity) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if len(entities) == 0 {
		b.all[id] = fn
		return func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.all, id)
		}
	}
	for _, e := range entities {
		if b.topics[e] == nil {
			b.topics[e] = make(map[uint64]Handler)
		}
		b.topics[e][id] = fn
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, e := range entities {
			delete(b.topics[e], id)
			if len(b.topics[e]) == 0 {
				delete(b.topics, e)
			}
		}
	}
}

// Subscribers returns the number of handlers for entity, catch-all
// handlers included.
func (b *Bus) Subscribers(entity Entity) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[entity]) + len(b.all)
}

func (b *Bus) dispatch(in channel.Inbound) {
	ev, err := Parse(in.Data)
	if err != nil {
		b.logger.Debug("dropping event bus frame", "type", in.Type, "error", err)
		return
	}
	b.Publish(ev)
}

// Publish delivers ev to matching handlers as if it came from the server.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.topics[ev.Entity])+len(b.all))
	for _, fn := range b.topics[ev.Entity] {
		handlers = append(handlers, fn)
	}
	for _, fn := range b.all {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	b.logger.Debug("event", "action", ev.Action, "entity", ev.Entity, "id", ev.ID, "handlers", len(handlers))
	for _, fn := range handlers {
		fn(ev)
	}
}
