// Package registry implements the stream fan-out bus (spec component
// C5): an explicit, non-singleton Registry value mapping stream name to
// one publisher and a set of subscriber channels, with cached sequence
// headers replayed to late joiners.
//
// Grounded on the ancestor server's RTMPServer.channels map
// (server-wide, mutex-guarded, keyed by channel/stream name) generalized
// into a value that does not live at package scope, and on the
// publisher/subscriber-set/cached-init-message shape of the bus.Stream
// reference pattern, with the broadcast's consumption side rewritten to
// block on channel receive rather than busy-poll.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/AgustinSRG/relaystream/internal/amf0"
	"github.com/AgustinSRG/relaystream/internal/message"
)

// Subscriber is one registered receiver of a stream's fan-out. Callers
// read Messages() in a loop; the channel is closed when the publisher
// leaves or the subscriber is explicitly removed.
type Subscriber struct {
	id      uint64
	ch      chan *message.Message
	dropped uint64
}

func (s *Subscriber) ID() uint64 { return s.id }

func (s *Subscriber) Messages() <-chan *message.Message { return s.ch }

func (s *Subscriber) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

func (s *Subscriber) send(msg *message.Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}

	// Backlog full. Non-key video frames are expendable — the spec's
	// documented alternative to an unbounded channel is exactly this:
	// a bounded channel with a non-blocking send that drops frames on
	// overflow so a slow subscriber never blocks the publisher.
	if isDroppableVideoFrame(msg) {
		atomic.AddUint64(&s.dropped, 1)
		return
	}

	// A key frame (or non-video message) arriving into a full backlog
	// means this subscriber is badly behind a whole GOP; draining the
	// stale backlog and starting fresh from the key frame lets it catch
	// up instead of compounding the delay.
	for {
		select {
		case <-s.ch:
			continue
		default:
		}
		break
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func isDroppableVideoFrame(msg *message.Message) bool {
	if msg.TypeID != message.TypeVideo || len(msg.Body) == 0 {
		return false
	}
	frameType := msg.Body[0] >> 4
	return frameType != 1 // 1 == key frame
}

// Stream is one named publishing session: its cached sequence headers
// and metadata, plus the live subscriber set.
type Stream struct {
	name string

	mu           sync.RWMutex
	hasPublisher bool
	publisherID  uint64

	metaMsg        *message.Message
	metaData       *amf0.Value
	videoHeaderMsg *message.Message
	audioHeaderMsg *message.Message

	subscribers map[uint64]*Subscriber
	nextSubID   uint64
}

func newStream(name string) *Stream {
	return &Stream{name: name, subscribers: make(map[uint64]*Subscriber)}
}

func (s *Stream) Name() string { return s.name }

// AcquirePublisher claims this stream for publisherID, failing if
// another publisher already holds it (spec.md's publisher-uniqueness
// invariant).
func (s *Stream) AcquirePublisher(publisherID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPublisher {
		return false
	}
	s.hasPublisher = true
	s.publisherID = publisherID
	return true
}

func (s *Stream) HasPublisher() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPublisher
}

func (s *Stream) PublisherID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisherID
}

// ReleasePublisher clears publisher state, drops cached headers, and
// closes every subscriber channel so their read loops terminate.
func (s *Stream) ReleasePublisher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasPublisher = false
	s.publisherID = 0
	s.metaMsg = nil
	s.metaData = nil
	s.videoHeaderMsg = nil
	s.audioHeaderMsg = nil
	for id, sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}

func (s *Stream) CacheMeta(msg *message.Message, decoded *amf0.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaMsg = msg
	s.metaData = decoded
}

func (s *Stream) CacheVideoHeader(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoHeaderMsg = msg
}

func (s *Stream) CacheAudioHeader(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioHeaderMsg = msg
}

func (s *Stream) MetaData() *amf0.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metaData
}

func (s *Stream) VideoHeader() *message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoHeaderMsg
}

func (s *Stream) AudioHeader() *message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioHeaderMsg
}

// Subscribe registers a new receiver with the given channel capacity,
// replaying any cached metadata and sequence headers ahead of live
// traffic so a late joiner always sees them before media (spec.md's
// Header-replay invariant).
func (s *Stream) Subscribe(capacity int) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	sub := &Subscriber{id: s.nextSubID, ch: make(chan *message.Message, capacity)}

	if s.metaMsg != nil {
		sub.ch <- s.metaMsg
	}
	if s.videoHeaderMsg != nil {
		sub.ch <- s.videoHeaderMsg
	}
	if s.audioHeaderMsg != nil {
		sub.ch <- s.audioHeaderMsg
	}

	s.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a receiver and, if it was still registered,
// closes its channel so a caller blocked on receive is released. An id
// that is no longer registered (for example after ReleasePublisher
// already closed every channel) is a no-op.
func (s *Stream) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(sub.ch)
	}
}

func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Stream) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.hasPublisher && len(s.subscribers) == 0
}

// Publish performs the non-blocking broadcast: every live subscriber is
// sent a reference to msg (subscribers must not mutate it). The
// subscriber slice is snapshotted under RLock, so no lock is held
// during the sends themselves.
func (s *Stream) Publish(msg *message.Message) {
	s.mu.RLock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.send(msg)
	}
}

// Registry is the explicit, non-singleton map of stream name to Stream.
// One Registry is created per server instance and passed by reference
// to every connection task; there is no package-level ambient state.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

func New() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// GetOrCreate is the entry/upsert primitive spec.md §5 requires for
// "create if absent" style operations: a single locked step, not a
// read-then-write pair that could race with a concurrent creator.
func (r *Registry) GetOrCreate(name string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[name]; ok {
		return s
	}
	s := newStream(name)
	r.streams[name] = s
	return s
}

func (r *Registry) Lookup(name string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[name]
	return s, ok
}

// Drop removes name from the registry, but only if the current entry
// is still the one the caller held a reference to — a publisher
// reconnecting onto the same name between the caller's lookup and its
// cleanup should not cause it to drop the new entry.
func (r *Registry) Drop(name string, s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.streams[name]; ok && cur == s {
		delete(r.streams, name)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
