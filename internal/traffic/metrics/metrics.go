package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "traffic"

var (
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_subscribers",
		Help:      "Live websocket subscribers",
	})
	SubscriberOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_subscriber_open_total",
		Help:      "Total websocket subscribers accepted",
	})
	SubscriberCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_subscriber_close_total",
		Help:      "Total websocket subscribers closed, partitioned by reason",
	}, []string{"reason"})

	FramesOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_frames_out_total",
		Help:      "Total envelopes written to subscribers",
	}, []string{"type"}) // initial_data / traffic_update
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_bytes_out_total",
		Help:      "Total websocket bytes sent out",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_write_errors_total",
		Help:      "Total websocket write errors",
	})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_total",
		Help:      "Total frames not delivered",
	}, []string{"why"})
	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ws_write_duration_seconds",
		Help:      "Duration of a single websocket frame write",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})

	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_ping_sent_total",
		Help:      "Total ping sent",
	})
	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_ping_errors_total",
		Help:      "Total ping send errors",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_pong_recv_total",
		Help:      "Total pong received",
	})

	SubmitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_submit_total",
		Help:      "Candidate snapshots submitted to the change detector",
	}, []string{"origin", "outcome"}) // outcome: changed / unchanged / empty
	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_version",
		Help:      "Version of the current snapshot",
	})
	SnapshotBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_bytes",
		Help:      "Canonical size of the current snapshot",
	})

	BroadcastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_total",
		Help:      "Total traffic_update broadcasts",
	})
	BroadcastRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "broadcast_recipients",
		Help:      "Subscribers reached per broadcast",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
	})

	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_total",
		Help:      "Poll cycles, partitioned by source and result",
	}, []string{"source", "result"}) // ok / absent / malformed / error
	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_messages_total",
		Help:      "Bus messages received, partitioned by kind and result",
	}, []string{"kind", "result"}) // kind: analysis / sensor
	SourceRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_restarts_total",
		Help:      "Ingest source restarts after an error",
	}, []string{"source"})

	ArchivePointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_points_total",
		Help:      "Points handed to the time series archive",
	}, []string{"measurement"})
	ArchiveDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_dropped_total",
		Help:      "Archive items dropped because the write queue was full",
	}, []string{"measurement"})
	ArchiveErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_errors_total",
		Help:      "Asynchronous archive write errors",
	})
)

func OnOpen() {
	Subscribers.Inc()
	SubscriberOpenTotal.Inc()
}

func OnClose(reason string) {
	Subscribers.Dec()
	SubscriberCloseTotal.WithLabelValues(reason).Inc()
}

func ObserveWrite(frameType string, bytes int, dur time.Duration, err error) {
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	FramesOutTotal.WithLabelValues(frameType).Inc()
	BytesOutTotal.Add(float64(bytes))
}

func ObserveAccepted(version uint64, size int) {
	SnapshotVersion.Set(float64(version))
	SnapshotBytes.Set(float64(size))
}

func ObserveBroadcast(recipients int) {
	BroadcastTotal.Inc()
	BroadcastRecipients.Observe(float64(recipients))
}
