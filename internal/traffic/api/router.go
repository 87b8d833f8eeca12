package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"trafficpulse.com/pkg/middleware"
	"trafficpulse.com/pkg/ratelimit"
)

type Options struct {
	ServiceName string
	// 每个 ip+route 的速率和突发；Rate 为 0 时不限流
	Rate        float64
	Burst       int
	CORSOrigins []string
	Tracing     bool
	Prometheus  bool
}

// NewRouter builds the query API. ctx bounds the rate limiter janitor.
func NewRouter(ctx context.Context, h *Handler, opt Options) *gin.Engine {
	r := gin.New()
	if opt.Prometheus {
		p := ginprom.NewPrometheus("traffic_api")
		p.Use(r)
	}

	mws := []gin.HandlerFunc{}
	if opt.Tracing {
		mws = append(mws, otelgin.Middleware(opt.ServiceName))
	}
	mws = append(mws,
		middleware.ReqId(),
		corsMiddleware(opt.CORSOrigins),
		middleware.Recover(),
	)
	if opt.Rate > 0 {
		store := ratelimit.NewStore(rate.Limit(opt.Rate), opt.Burst, 10*time.Minute)
		store.StartJanitor(ctx, time.Minute)
		mws = append(mws, middleware.RateLimit(store))
	}
	r.Use(mws...)

	api := r.Group("/api")
	traffic := api.Group("/traffic")
	{
		traffic.GET("/current", h.Current)
		traffic.GET("/intersection/:id", h.Intersection)
		traffic.GET("/predictions", h.Predictions)
		traffic.GET("/history", h.History)
		traffic.GET("/stats", h.Stats)
		traffic.POST("/route/optimize", h.OptimizeRoute)
	}
	api.POST("/iot/sensor/data", h.SensorData)
	api.GET("/realtime/status", h.RealtimeStatus)

	r.NoRoute(h.NotFound)
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}

func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
