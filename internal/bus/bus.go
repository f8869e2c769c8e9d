package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event names carried on the bus.
type Event string

const (
	MeetingStarted  Event = "MEETING_STARTED"
	MeetingEnded    Event = "MEETING_ENDED"
	RecordingActive Event = "RECORDING_ACTIVE"
	RecordingEnded  Event = "RECORDING_ENDED"
	StorageReady    Event = "STORAGE_READY"
)

// Payload is a flat JSON object; producers and consumers agree on keys
// (roomId, recordingId, ...).
type Payload map[string]any

// Handler runs inline on the emitting goroutine and must not block; long
// work belongs on the scheduler.
type Handler func(Payload)

type registration struct {
	id   uint64
	fn   Handler
	once bool
}

// envelope is the cross-replica wire format.
type envelope struct {
	Event   Event   `json:"event"`
	Payload Payload `json:"payload"`
	Origin  string  `json:"origin"`
}

// Bus is the two-tier event bus: an in-process emitter whose handlers fire
// in registration order per event name, and a NATS fan-out that delivers a
// broadcast to every replica (at most once each).
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Event][]*registration

	conn          *nats.Conn
	sub           *nats.Subscription
	subjectPrefix string
	replicaID     string
	logger        *zap.Logger
}

// New builds the bus. conn may be nil (single-replica/dev mode); Broadcast
// then degrades to a local emit.
func New(conn *nats.Conn, subjectPrefix, replicaID string, logger *zap.Logger) *Bus {
	return &Bus{
		handlers:      make(map[Event][]*registration),
		conn:          conn,
		subjectPrefix: subjectPrefix,
		replicaID:     replicaID,
		logger:        logger,
	}
}

// Start subscribes to the cross-replica subject tree and re-emits every
// delivery into the local tier.
func (b *Bus) Start() error {
	if b.conn == nil {
		return nil
	}
	sub, err := b.conn.Subscribe(b.subjectPrefix+".>", func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("bus: dropping malformed broadcast", zap.Error(err))
			return
		}
		b.Emit(env.Event, env.Payload)
	})
	if err != nil {
		return fmt.Errorf("bus subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

func (b *Bus) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}

// On registers a handler; the returned cancel removes exactly this
// registration.
func (b *Bus) On(event Event, fn Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	reg := &registration{id: b.nextID, fn: fn}
	b.handlers[event] = append(b.handlers[event], reg)
	id := reg.id
	return func() { b.removeByID(event, id) }
}

// Once registers a handler removed after its first delivery.
func (b *Bus) Once(event Event, fn Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	reg := &registration{id: b.nextID, fn: fn, once: true}
	b.handlers[event] = append(b.handlers[event], reg)
	id := reg.id
	return func() { b.removeByID(event, id) }
}

// Off removes every handler registered for event.
func (b *Bus) Off(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, event)
}

// Emit fires the local tier. Handlers run synchronously in registration
// order; once-handlers are unregistered before their invocation so a
// re-entrant emit cannot double-deliver.
func (b *Bus) Emit(event Event, payload Payload) {
	b.mu.Lock()
	regs := b.handlers[event]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	kept := regs[:0]
	for _, reg := range regs {
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, event)
	} else {
		b.handlers[event] = kept
	}
	b.mu.Unlock()

	for _, reg := range snapshot {
		reg.fn(payload)
	}
}

// Subscribe returns a channel receiving the first payload matching the
// predicate, then unregisters itself. cancel is idempotent and safe to call
// after delivery.
func (b *Bus) Subscribe(event Event, predicate func(Payload) bool) (<-chan Payload, func()) {
	ch := make(chan Payload, 1)
	var once sync.Once
	var cancelReg func()
	cancelReg = b.On(event, func(p Payload) {
		if predicate != nil && !predicate(p) {
			return
		}
		once.Do(func() {
			ch <- p
			cancelReg()
		})
	})
	cancel := func() {
		once.Do(func() { cancelReg() })
	}
	return ch, cancel
}

// Broadcast publishes to every replica. With NATS connected the local tier
// is reached through this replica's own subscription; without it the emit
// happens inline.
func (b *Bus) Broadcast(ctx context.Context, event Event, payload Payload) error {
	if b.conn == nil {
		b.Emit(event, payload)
		return nil
	}
	env := envelope{Event: event, Payload: payload, Origin: b.replicaID}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus marshal: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", b.subjectPrefix, event)
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("bus publish %s: %w", subject, err)
	}
	return nil
}

func (b *Bus) removeByID(event Event, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[event]
	for i, reg := range regs {
		if reg.id == id {
			b.handlers[event] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// String lets events be used directly as zap fields and map keys.
func (e Event) String() string { return string(e) }
