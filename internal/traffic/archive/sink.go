package archive

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/analytics"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/logger"
)

const (
	MeasurementIntersection = "intersection"
	MeasurementSensor       = "sensor_reading"
)

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip"`

	// 待写队列长度，满了直接丢弃并计数
	QueueLen int `mapstructure:"queue_len"`
}

const DefaultQueueLen = 1024

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v queue=%d",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip, cfg.QueueLen)
}

// PointWriter is the write side of the influx client. WritePoint may block
// while a batch is in flight, so only Run calls it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// job is one queued archive item: an accepted snapshot or a raw sensor reading.
type job struct {
	snap     snapshot.Snapshot
	sensorID string
	payload  []byte
	at       time.Time
}

// Sink archives accepted snapshots and raw sensor readings as time series.
// It is both a detect.Publisher and an ingest.SensorHandler. Both only enqueue;
// Run owns the influx writer. A full queue drops the item.
type Sink struct {
	client influxdb2.Client
	w      PointWriter
	now    func() time.Time
	queue  chan job
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入错误会阻塞
	go func() {
		for err := range w.Errors() {
			metrics.ArchiveErrorsTotal.Inc()
			logger.Log.Warn("influx write error", zap.Error(err))
		}
	}()

	s := NewWithWriter(w, cfg.QueueLen)
	s.client = c
	return s
}

// NewWithWriter builds a Sink on top of an arbitrary writer. queueLen <= 0
// means DefaultQueueLen.
func NewWithWriter(w PointWriter, queueLen int) *Sink {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	return &Sink{w: w, now: time.Now, queue: make(chan job, queueLen)}
}

// Close flushes buffered points.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Publish queues snap for archiving. It reports 1 when queued and 0 when the
// queue was full.
func (s *Sink) Publish(ctx context.Context, snap snapshot.Snapshot) int {
	if !s.enqueue(ctx, job{snap: snap, at: s.now()}, MeasurementIntersection) {
		return 0
	}
	return 1
}

// HandleSensor queues a raw bus reading.
func (s *Sink) HandleSensor(ctx context.Context, sensorID string, payload []byte) {
	s.enqueue(ctx, job{sensorID: sensorID, payload: payload, at: s.now()}, MeasurementSensor)
}

func (s *Sink) enqueue(ctx context.Context, j job, measurement string) bool {
	select {
	case s.queue <- j:
		return true
	default:
		metrics.ArchiveDroppedTotal.WithLabelValues(measurement).Inc()
		logger.Debug(ctx, "archive: queue full, item dropped", zap.String("measurement", measurement))
		return false
	}
}

// Run drains the queue into the influx writer until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-s.queue:
			s.write(ctx, j)
		}
	}
}

func (s *Sink) write(ctx context.Context, j job) {
	if j.sensorID != "" {
		p, err := SensorPoint(j.sensorID, j.payload, j.at)
		if err != nil {
			logger.Debug(ctx, "archive: sensor reading skipped", zap.String("sensor", j.sensorID), zap.Error(err))
			return
		}
		s.w.WritePoint(p)
		metrics.ArchivePointsTotal.WithLabelValues(MeasurementSensor).Inc()
		return
	}

	report, err := analytics.FromSnapshot(j.snap)
	if err != nil {
		logger.Debug(ctx, "archive: snapshot is not a report", zap.Uint64("version", j.snap.Version), zap.Error(err))
		return
	}
	pts := IntersectionPoints(report, j.snap.Version, j.at)
	for _, p := range pts {
		s.w.WritePoint(p)
	}
	metrics.ArchivePointsTotal.WithLabelValues(MeasurementIntersection).Add(float64(len(pts)))
}

// IntersectionPoints maps a report to points. Tags stay low-cardinality
// (id and status); everything measured is a field.
func IntersectionPoints(r analytics.Report, version uint64, ts time.Time) []*write.Point {
	out := make([]*write.Point, 0, len(r.Intersections))
	for _, it := range r.Intersections {
		tags := map[string]string{
			"intersection_id": strconv.Itoa(it.ID),
			"status":          it.Status,
		}
		if r.Source != "" {
			tags["source"] = r.Source
		}
		fields := map[string]interface{}{
			"density":       it.Density,
			"avg_speed":     it.AvgSpeed,
			"wait_time":     it.WaitTime,
			"vehicle_count": it.VehicleCount,
			"lat":           it.Lat,
			"lng":           it.Lng,
			"version":       int64(version),
		}
		out = append(out, write.NewPoint(MeasurementIntersection, tags, fields, ts))
	}
	return out
}

// sensorMessage is what POST /api/iot/sensor/data publishes.
type sensorMessage struct {
	SensorID       interface{}            `json:"sensorId"`
	IntersectionID interface{}            `json:"intersectionId"`
	Data           map[string]interface{} `json:"data"`
	Timestamp      string                 `json:"timestamp"`
}

// SensorPoint maps a bus reading to a point. Numeric and boolean values of
// data become fields; a reading with none of them is rejected.
func SensorPoint(sensorID string, payload []byte, now time.Time) (*write.Point, error) {
	var msg sensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("archive: decode sensor reading: %w", err)
	}

	fields := make(map[string]interface{}, len(msg.Data))
	for k, v := range msg.Data {
		switch v.(type) {
		case float64, bool:
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("archive: sensor %s reading has no numeric fields", sensorID)
	}

	ts := now
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}
	tags := map[string]string{"sensor_id": sensorID}
	if msg.IntersectionID != nil {
		tags["intersection_id"] = fmt.Sprint(msg.IntersectionID)
	}
	return write.NewPoint(MeasurementSensor, tags, fields, ts), nil
}
