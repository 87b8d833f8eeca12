package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/analytics"
	"trafficpulse.com/internal/traffic/gateway"
	"trafficpulse.com/internal/traffic/history"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/common"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/ratelimit"
	"trafficpulse.com/pkg/xerr"
)

// BreakerBusPublish guards sensor publishes to the bus.
const BreakerBusPublish = "bus.publish"

// Counter reports how many real-time subscribers are connected.
type Counter interface {
	Len() int
}

// Deps is everything the handlers read from. History, Bus and Breakers may be nil.
type Deps struct {
	Docs     *Documents
	History  history.Repo
	Bus      gateway.Broker
	Breakers *ratelimit.Manager
	Store    *snapshot.Store
	Members  Counter
}

type Handler struct {
	deps Deps
	now  func() time.Time
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, now: time.Now}
}

func (h *Handler) Current(c *gin.Context) {
	data, err := h.deps.Docs.Current(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, data)
}

func (h *Handler) Intersection(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "intersection id must be an integer"))
		return
	}
	report, err := h.deps.Docs.Report(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	it, ok := report.Find(id)
	if !ok {
		common.FailErr(c, xerr.New(xerr.RecordNotFound, "intersection not found"))
		return
	}
	common.Success(c, it)
}

func (h *Handler) Predictions(c *gin.Context) {
	data, err := h.deps.Docs.Predictions(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, data)
}

func (h *Handler) History(c *gin.Context) {
	if h.deps.History == nil {
		common.FailErr(c, xerr.NewErrCode(xerr.DbDisabled))
		return
	}

	// 非法 hours 回落到默认值
	q := history.Query{}
	if hours, err := strconv.Atoi(c.Query("hours")); err == nil {
		q.Hours = hours
	}
	if raw := c.Query("intersection_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			common.FailErr(c, xerr.New(xerr.RequestParamsError, "intersection_id must be an integer"))
			return
		}
		q.IntersectionID = &id
	}

	rows, err := h.deps.History.Recent(c.Request.Context(), q)
	if err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.DbError, ""))
		return
	}
	if rows == nil {
		rows = []history.TrafficLog{}
	}
	common.SuccessList(c, rows, len(rows))
}

func (h *Handler) Stats(c *gin.Context) {
	report, err := h.deps.Docs.Report(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	st, err := analytics.ComputeStats(report.Intersections)
	if err != nil {
		common.FailErr(c, analyticsErr(err))
		return
	}
	common.Success(c, st)
}

func (h *Handler) OptimizeRoute(c *gin.Context) {
	var req analytics.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "request body must be json"))
		return
	}
	if !present(req.Origin) || !present(req.Destination) {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "origin and destination are required"))
		return
	}

	report, err := h.deps.Docs.Report(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	rec, err := analytics.Recommend(req, report.Intersections)
	if err != nil {
		common.FailErr(c, analyticsErr(err))
		return
	}
	common.Success(c, rec)
}

type sensorRequest struct {
	SensorID       interface{} `json:"sensorId"`
	IntersectionID interface{} `json:"intersectionId"`
	Data           interface{} `json:"data"`
}

type sensorMessage struct {
	SensorID       interface{} `json:"sensorId"`
	IntersectionID interface{} `json:"intersectionId"`
	Data           interface{} `json:"data"`
	Timestamp      string      `json:"timestamp"`
}

func (h *Handler) SensorData(c *gin.Context) {
	var req sensorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "request body must be json"))
		return
	}
	if !present(req.SensorID) || !present(req.IntersectionID) || !present(req.Data) {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "sensorId, intersectionId and data are required"))
		return
	}
	sensorID := fmt.Sprint(req.SensorID)
	if strings.ContainsAny(sensorID, ":.*> \t\r\n") {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "sensorId contains reserved characters"))
		return
	}
	if h.deps.Bus == nil {
		common.FailErr(c, xerr.NewErrCode(xerr.BusError))
		return
	}

	payload, err := json.Marshal(sensorMessage{
		SensorID:       req.SensorID,
		IntersectionID: req.IntersectionID,
		Data:           req.Data,
		Timestamp:      h.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, ""))
		return
	}

	ctx := c.Request.Context()
	if err := h.publish(ctx, gateway.SensorTopic(sensorID), payload); err != nil {
		logger.Warn(ctx, "sensor publish failed", zap.String("sensor", sensorID), zap.Error(err))
		common.FailErr(c, xerr.Wrap(err, xerr.BusError, ""))
		return
	}
	c.JSON(http.StatusOK, common.Response{Success: true, Message: "data received"})
}

func (h *Handler) publish(ctx context.Context, topic string, payload []byte) error {
	if h.deps.Breakers == nil {
		return h.deps.Bus.Publish(ctx, topic, payload)
	}
	return h.deps.Breakers.Execute(BreakerBusPublish, func() error {
		return h.deps.Bus.Publish(ctx, topic, payload)
	})
}

type realtimeStatus struct {
	HasSnapshot bool   `json:"hasSnapshot"`
	Version     uint64 `json:"version"`
	Bytes       int    `json:"bytes"`
	Subscribers int    `json:"subscribers"`
}

func (h *Handler) RealtimeStatus(c *gin.Context) {
	var st realtimeStatus
	if h.deps.Store != nil {
		if cur, ok := h.deps.Store.Get(); ok {
			st.HasSnapshot = true
			st.Version = cur.Version
			st.Bytes = cur.Size()
		}
	}
	if h.deps.Members != nil {
		st.Subscribers = h.deps.Members.Len()
	}
	common.Success(c, st)
}

func (h *Handler) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success":   false,
		"message":   "endpoint not found",
		"endpoints": Endpoints,
	})
}

// Endpoints is listed by the 404 handler.
var Endpoints = []string{
	"GET /api/traffic/current",
	"GET /api/traffic/intersection/:id",
	"GET /api/traffic/predictions",
	"GET /api/traffic/history",
	"GET /api/traffic/stats",
	"POST /api/traffic/route/optimize",
	"POST /api/iot/sensor/data",
	"GET /api/realtime/status",
}

func analyticsErr(err error) error {
	if errors.Is(err, analytics.ErrNoIntersections) || errors.Is(err, analytics.ErrZeroSpeed) {
		return xerr.Wrap(err, xerr.NoData, "")
	}
	return xerr.Wrap(err, xerr.ServerCommonError, "")
}

// present treats JSON null, "", 0 and false as missing.
func present(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0
	case bool:
		return t
	}
	return true
}
