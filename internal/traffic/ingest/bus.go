package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/gateway"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/safe"
)

const OriginBus = "bus"

var errSubscriptionClosed = errors.New("ingest: bus subscription closed")

// BusSource is the push path: full snapshots arrive on the analysis topic,
// raw sensor readings on the sensor pattern.
type BusSource struct {
	broker  gateway.Broker
	sensors SensorHandler
}

// NewBusSource builds a bus source. sensors may be nil.
func NewBusSource(broker gateway.Broker, sensors SensorHandler) *BusSource {
	return &BusSource{broker: broker, sensors: sensors}
}

func (s *BusSource) Name() string { return OriginBus }

func (s *BusSource) Run(ctx context.Context, sink Sink) error {
	ch, err := s.broker.Subscribe(ctx, []string{gateway.SensorDataPattern, gateway.AnalysisTopic})
	if err != nil {
		return err
	}
	logger.Info(ctx, "bus subscribed",
		zap.Strings("topics", []string{gateway.SensorDataPattern, gateway.AnalysisTopic}))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errSubscriptionClosed
			}
			s.handle(ctx, sink, m)
		}
	}
}

func (s *BusSource) handle(ctx context.Context, sink Sink, m gateway.Message) {
	if m.Topic == gateway.AnalysisTopic {
		cand, err := snapshot.Decode(m.Payload)
		if err != nil {
			metrics.BusMessagesTotal.WithLabelValues("analysis", resultOf(err)).Inc()
			logger.Warn(ctx, "bus analysis payload dropped", zap.Int("bytes", len(m.Payload)), zap.Error(err))
			return
		}
		if sink.Submit(ctx, OriginBus, cand) {
			metrics.BusMessagesTotal.WithLabelValues("analysis", "changed").Inc()
		} else {
			metrics.BusMessagesTotal.WithLabelValues("analysis", "unchanged").Inc()
		}
		return
	}

	id, ok := gateway.SensorIDFromTopic(m.Topic)
	if !ok {
		metrics.BusMessagesTotal.WithLabelValues("unknown", "ignored").Inc()
		return
	}
	metrics.BusMessagesTotal.WithLabelValues("sensor", "ok").Inc()
	if s.sensors != nil {
		safe.Call(ctx, "ingest.sensor", func() { s.sensors.HandleSensor(ctx, id, m.Payload) })
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSourceAbsent):
		return "absent"
	case errors.Is(err, snapshot.ErrEmpty):
		return "empty"
	case errors.Is(err, snapshot.ErrMalformed):
		return "malformed"
	}
	return "error"
}
