package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/profikid/river-sense-proof-of-concept/internal/hub"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
	"github.com/profikid/river-sense-proof-of-concept/pkg/monitoring"
)

// SettingsSource yields the current settings snapshot; the live preview
// FPS cap is re-read on every frame so changes apply without restart.
type SettingsSource interface {
	Snapshot() models.SystemSettings
}

// Sink receives liveness observations extracted from the message flow.
type Sink interface {
	MarkFrame(streamID string, at time.Time)
	MarkStatus(streamID, status string, at time.Time)
}

// Broker consumes worker messages from Redis pub/sub and fans them out to
// the hub. Frames are throttled to the configured preview FPS per stream;
// status messages always pass through.
type Broker struct {
	rdb      goredis.UniversalClient
	hub      *hub.Hub
	settings SettingsSource
	sink     Sink
	logger   logging.Logger

	pattern    string
	backoffMin time.Duration
	backoffMax time.Duration

	mu          sync.Mutex
	lastForward map[string]time.Time

	metrics *monitoring.FlowMetrics
}

type Config struct {
	Pattern    string
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func New(rdb goredis.UniversalClient, h *hub.Hub, settings SettingsSource, sink Sink, cfg Config, logger logging.Logger) *Broker {
	if cfg.Pattern == "" {
		cfg.Pattern = "frames/*"
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	return &Broker{
		rdb:         rdb,
		hub:         h,
		settings:    settings,
		sink:        sink,
		logger:      logger,
		pattern:     cfg.Pattern,
		backoffMin:  cfg.BackoffMin,
		backoffMax:  cfg.BackoffMax,
		lastForward: make(map[string]time.Time),
	}
}

// SetMetrics attaches the domain metrics. Optional.
func (b *Broker) SetMetrics(m *monitoring.FlowMetrics) {
	b.metrics = m
}

// Run subscribes and consumes until the context is cancelled. Connection
// loss is retried with doubling backoff, reset after a healthy session.
func (b *Broker) Run(ctx context.Context) error {
	backoff := b.backoffMin
	for {
		err := b.consume(ctx, &backoff)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.WithFields(logging.Fields{
			"error":   err,
			"backoff": backoff.String(),
		}).Warn("Pub/sub session ended, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.backoffMax {
			backoff = b.backoffMax
		}
	}
}

func (b *Broker) consume(ctx context.Context, backoff *time.Duration) error {
	ps := b.rdb.PSubscribe(ctx, b.pattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	b.logger.WithField("pattern", b.pattern).Info("Subscribed to worker channels")

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		*backoff = b.backoffMin
		b.handle(msg.Channel, []byte(msg.Payload))
	}
}

// envelope is the minimal slice of a worker message the broker inspects.
// The full payload is forwarded untouched.
type envelope struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Status   string `json:"status"`
}

func (b *Broker) handle(channel string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.WithFields(logging.Fields{
			"channel": channel,
			"error":   err,
		}).Warn("Dropping malformed worker message")
		return
	}

	streamID := env.StreamID
	if streamID == "" {
		// Workers key their channel by stream id; fall back to it.
		if i := strings.LastIndexByte(channel, '/'); i >= 0 {
			streamID = channel[i+1:]
		}
	}
	if streamID == "" {
		return
	}

	now := time.Now()
	if b.metrics != nil {
		b.metrics.FramesReceived.WithLabelValues(streamID, env.Type).Inc()
	}
	switch env.Type {
	case models.MessageTypeStatus:
		if b.sink != nil {
			b.sink.MarkStatus(streamID, env.Status, now)
		}
		b.hub.Dispatch(streamID, payload)
	case models.MessageTypeFrame:
		if b.sink != nil {
			b.sink.MarkFrame(streamID, now)
		}
		if !b.admitFrame(streamID, now) {
			if b.metrics != nil {
				b.metrics.FramesDropped.WithLabelValues(streamID, monitoring.DropThrottled).Inc()
			}
			return
		}
		if b.metrics != nil {
			b.metrics.FramesForwarded.WithLabelValues(streamID).Inc()
		}
		b.hub.Dispatch(streamID, payload)
	default:
		// Unknown types pass through so new worker message kinds don't
		// need a broker release.
		b.hub.Dispatch(streamID, payload)
	}
}

// admitFrame enforces the per-stream preview FPS cap.
func (b *Broker) admitFrame(streamID string, now time.Time) bool {
	fps := b.settings.Snapshot().LivePreviewFPS
	if fps <= 0 {
		return true
	}
	minInterval := time.Duration(float64(time.Second) / fps)

	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.lastForward[streamID]; ok && now.Sub(last) < minInterval {
		return false
	}
	b.lastForward[streamID] = now
	return true
}

// ForgetStream drops throttle state for a removed stream.
func (b *Broker) ForgetStream(streamID string) {
	b.mu.Lock()
	delete(b.lastForward, streamID)
	b.mu.Unlock()
}
