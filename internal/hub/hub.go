package hub

import (
	"sync"
	"sync/atomic"

	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/monitoring"
)

// CloseReason explains why the hub evicted a subscriber.
type CloseReason string

const (
	// CloseSlowConsumer means the subscriber forced drops on too many
	// consecutive dispatches and was disconnected by policy.
	CloseSlowConsumer CloseReason = "slow_consumer"
)

// Subscriber is one consumer of a stream's live messages. Messages arrive
// on Out; Done is closed when the hub evicts the subscriber.
type Subscriber struct {
	streamID string

	out  chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeReason CloseReason

	dropped          atomic.Int64
	consecutiveDrops int // guarded by the hub mutex
}

func (s *Subscriber) StreamID() string { return s.streamID }

// Out delivers messages in arrival order. Oldest messages are silently
// dropped when the consumer falls behind.
func (s *Subscriber) Out() <-chan []byte { return s.out }

// Done is closed when the hub disconnects the subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Reason reports why the subscriber was evicted. Valid after Done closes.
func (s *Subscriber) Reason() CloseReason { return s.closeReason }

// Dropped returns the total messages dropped for this subscriber.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		close(s.done)
	})
}

// Hub fans stream messages out to per-stream subscriber sets. Dispatch
// never blocks: full subscriber queues drop their oldest entry, and
// subscribers that keep forcing drops are evicted.
type Hub struct {
	logger logging.Logger

	queueDepth          int
	maxConsecutiveDrops int

	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}

	metrics      *monitoring.FlowMetrics
	totalDropped atomic.Int64
}

func New(logger logging.Logger, queueDepth, maxConsecutiveDrops int) *Hub {
	if queueDepth <= 0 {
		queueDepth = 4
	}
	if maxConsecutiveDrops <= 0 {
		maxConsecutiveDrops = 64
	}
	return &Hub{
		logger:              logger,
		queueDepth:          queueDepth,
		maxConsecutiveDrops: maxConsecutiveDrops,
		subs:                make(map[string]map[*Subscriber]struct{}),
	}
}

// SetMetrics attaches the domain metrics. Optional.
func (h *Hub) SetMetrics(m *monitoring.FlowMetrics) {
	h.metrics = m
}

func gaugeLabel(streamID string) string {
	if streamID == "" {
		return "*"
	}
	return streamID
}

// Subscribe registers a consumer for one stream's messages. An empty
// stream id subscribes to every stream.
func (h *Hub) Subscribe(streamID string) *Subscriber {
	sub := &Subscriber{
		streamID: streamID,
		out:      make(chan []byte, h.queueDepth),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subs[streamID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[streamID] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(gaugeLabel(streamID)).Set(float64(count))
	}

	h.logger.WithFields(logging.Fields{
		"stream_id":   streamID,
		"subscribers": count,
	}).Debug("Subscriber attached")
	return sub
}

// Unsubscribe removes a consumer. Safe to call more than once and after
// a policy eviction.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	remaining := -1
	if set, ok := h.subs[sub.streamID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			remaining = len(set)
			if len(set) == 0 {
				delete(h.subs, sub.streamID)
			}
		}
	}
	h.mu.Unlock()

	if remaining >= 0 && h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(gaugeLabel(sub.streamID)).Set(float64(remaining))
	}
	sub.close("")
}

// Dispatch delivers one message to every subscriber of the stream and to
// every wildcard subscriber. A full queue sheds its oldest message so the
// newest always lands; a subscriber that forces drops on too many
// consecutive dispatches is evicted.
func (h *Hub) Dispatch(streamID string, payload []byte) {
	h.mu.Lock()
	evicted := h.sendToSet(streamID, streamID, payload)
	if streamID != "" {
		evicted = append(evicted, h.sendToSet("", streamID, payload)...)
	}
	h.mu.Unlock()

	for _, sub := range evicted {
		sub.close(CloseSlowConsumer)
		h.logger.WithFields(logging.Fields{
			"stream_id": gaugeLabel(sub.streamID),
			"dropped":   sub.Dropped(),
		}).Warn("Evicted slow subscriber")
	}
}

// sendToSet delivers to the subscriber set stored under key. The caller
// holds the hub mutex. Evicted subscribers are removed from the set and
// returned; the caller closes them outside the lock.
func (h *Hub) sendToSet(key, streamID string, payload []byte) []*Subscriber {
	set := h.subs[key]
	if len(set) == 0 {
		return nil
	}

	var evicted []*Subscriber
	for sub := range set {
		select {
		case sub.out <- payload:
			sub.consecutiveDrops = 0
			continue
		default:
		}

		// Queue full: shed the oldest entry, then enqueue.
		select {
		case <-sub.out:
		default:
		}
		select {
		case sub.out <- payload:
		default:
		}
		sub.dropped.Add(1)
		h.totalDropped.Add(1)
		if h.metrics != nil {
			h.metrics.FramesDropped.WithLabelValues(streamID, monitoring.DropQueueFull).Inc()
		}
		sub.consecutiveDrops++
		if sub.consecutiveDrops >= h.maxConsecutiveDrops {
			evicted = append(evicted, sub)
		}
	}

	for _, sub := range evicted {
		delete(set, sub)
	}
	if len(set) == 0 {
		delete(h.subs, key)
	}
	if len(evicted) > 0 && h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(gaugeLabel(key)).Set(float64(len(set)))
	}
	return evicted
}

// SubscriberCount reports how many consumers a stream currently has.
func (h *Hub) SubscriberCount(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[streamID])
}

// TotalDropped returns the process-wide count of shed messages.
func (h *Hub) TotalDropped() int64 {
	return h.totalDropped.Load()
}
