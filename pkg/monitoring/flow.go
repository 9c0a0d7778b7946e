package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported on the frames_dropped_total counter.
const (
	DropThrottled = "throttled"
	DropQueueFull = "queue_full"
)

// FlowMetrics bundles the domain metrics reported by the frame path, the
// reconciler and the alert ingest.
type FlowMetrics struct {
	FramesReceived  *prometheus.CounterVec
	FramesForwarded *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	Subscribers     *prometheus.GaugeVec
	StatusChanges   *prometheus.CounterVec
	WorkerStarts    *prometheus.CounterVec
	AlertsReceived  *prometheus.CounterVec
}

func NewFlowMetrics(mc *MetricsCollector) *FlowMetrics {
	return &FlowMetrics{
		FramesReceived: mc.NewCounter("frames_received_total",
			"Worker messages received from pub/sub", []string{"stream_id", "type"}),
		FramesForwarded: mc.NewCounter("frames_forwarded_total",
			"Frames forwarded to the subscriber hub", []string{"stream_id"}),
		FramesDropped: mc.NewCounter("frames_dropped_total",
			"Frames suppressed by throttling or shed from full subscriber queues",
			[]string{"stream_id", "reason"}),
		Subscribers: mc.NewGauge("frame_subscribers",
			"Attached live-frame subscribers", []string{"stream_id"}),
		StatusChanges: mc.NewCounter("stream_status_changes_total",
			"Stream connection status transitions", []string{"status"}),
		WorkerStarts: mc.NewCounter("worker_starts_total",
			"Worker start attempts", []string{"result"}),
		AlertsReceived: mc.NewCounter("alerts_received_total",
			"Alert webhook events stored", []string{"severity"}),
	}
}
