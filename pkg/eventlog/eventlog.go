// Package eventlog fans out per-task events to live subscribers and backs
// them up to an embedded durable store, so a late subscriber can replay the
// recent history of a task before following it live.
package eventlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/contour/pkg/log"
	"github.com/cuemby/contour/pkg/metrics"
	"github.com/cuemby/contour/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var bucketEvents = []byte("events")

// ringSize bounds the in-memory replay buffer kept per task, ahead of the
// durable back-fill from the bbolt store.
const ringSize = 200

// Subscriber is a channel that receives events for tasks it is attached to.
type Subscriber chan *types.Event

// Store persists events durably. Implemented by *BoltStore.
type Store interface {
	Append(event *types.Event) error
	ListByTask(taskID string) ([]*types.Event, error)
	Close() error
}

// Log is the Event Log / Notifier: it accepts published events, broadcasts
// them to subscribers of the owning task, and asynchronously persists them.
type Log struct {
	store Store
	log   zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]bool // taskID -> subscriber set
	ring        map[string][]*types.Event       // taskID -> recent events

	nextID uint64
	eventCh chan *types.Event
	stopCh  chan struct{}
}

// New creates an event Log backed by store.
func New(store Store) *Log {
	return &Log{
		store:       store,
		log:         log.WithComponent("eventlog"),
		subscribers: make(map[string]map[Subscriber]bool),
		ring:        make(map[string][]*types.Event),
		eventCh:     make(chan *types.Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the persistence loop.
func (l *Log) Start() {
	go l.run()
}

// Stop stops the persistence loop.
func (l *Log) Stop() {
	close(l.stopCh)
}

// Subscribe attaches to a task's event stream and returns the channel plus
// a replay of the events already buffered for that task.
func (l *Log) Subscribe(taskID string) (Subscriber, []*types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := make(Subscriber, 64)
	if l.subscribers[taskID] == nil {
		l.subscribers[taskID] = make(map[Subscriber]bool)
	}
	l.subscribers[taskID][sub] = true
	metrics.EventSubscribersGauge.Inc()

	backlog := append([]*types.Event(nil), l.ring[taskID]...)
	return sub, backlog
}

// Unsubscribe detaches a subscriber from a task's stream.
func (l *Log) Unsubscribe(taskID string, sub Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if set, ok := l.subscribers[taskID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			close(sub)
			metrics.EventSubscribersGauge.Dec()
		}
		if len(set) == 0 {
			delete(l.subscribers, taskID)
		}
	}
}

// Publish records an event, broadcasts it to live subscribers, and queues
// it for durable persistence.
func (l *Log) Publish(event *types.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.nextID++
	event.ID = l.nextID
	ring := append(l.ring[event.TaskID], event)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	l.ring[event.TaskID] = ring
	l.broadcastLocked(event)
	l.mu.Unlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(event.Kind)).Inc()

	select {
	case l.eventCh <- event:
	case <-l.stopCh:
	}
}

func (l *Log) broadcastLocked(event *types.Event) {
	for sub := range l.subscribers[event.TaskID] {
		select {
		case sub <- event:
		default:
			l.log.Warn().Str("task_id", log.ShortUUID(event.TaskID)).Msg("subscriber buffer full, dropping event")
		}
	}
}

func (l *Log) run() {
	for {
		select {
		case event := <-l.eventCh:
			if err := l.store.Append(event); err != nil {
				l.log.Error().Err(err).Str("task_id", log.ShortUUID(event.TaskID)).Msg("failed to persist event")
			}
		case <-l.stopCh:
			return
		}
	}
}

// Replay loads the full durable history for a task, oldest first.
func (l *Log) Replay(taskID string) ([]*types.Event, error) {
	return l.store.ListByTask(taskID)
}

// BoltStore is the embedded durable Store implementation.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bbolt-backed event store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create event bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Append stores one event under a key derived from its task and id, so
// ListByTask can prefix-scan in creation order.
func (s *BoltStore) Append(event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := fmt.Sprintf("%s/%020d", event.TaskID, event.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).Put([]byte(key), data)
	})
}

// ListByTask returns every persisted event for taskID in id order.
func (s *BoltStore) ListByTask(taskID string) ([]*types.Event, error) {
	var events []*types.Event
	prefix := []byte(taskID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var event types.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("unmarshal event %s: %w", k, err)
			}
			events = append(events, &event)
		}
		return nil
	})
	return events, err
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
