package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"trafficpulse.com/internal/traffic"
	"trafficpulse.com/internal/traffic/api"
	"trafficpulse.com/internal/traffic/archive"
	"trafficpulse.com/internal/traffic/detect"
	"trafficpulse.com/internal/traffic/gateway"
	"trafficpulse.com/internal/traffic/history"
	"trafficpulse.com/internal/traffic/hub"
	"trafficpulse.com/internal/traffic/ingest"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/internal/traffic/ws"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/metrics"
	"trafficpulse.com/pkg/orm"
	"trafficpulse.com/pkg/ratelimit"
	"trafficpulse.com/pkg/trace"
	"trafficpulse.com/pkg/xredis"
)

const shutdownTimeout = 5 * time.Second

type server struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

// App wires the real-time pipeline and its HTTP surfaces:
//
//	bus/poll -> detector -> store -> broadcaster -> registry -> ws clients
type App struct {
	cfg traffic.Cfg

	store    *snapshot.Store
	registry *hub.Registry
	detector *detect.Detector
	runner   *ingest.Runner
	breakers *ratelimit.Manager

	broker  gateway.Broker
	rdb     *redis.Client
	sqlDB   *sql.DB
	archive *archive.Sink

	servers       []*server
	traceShutdown func(context.Context) error
}

// New builds every component. Optional backends (redis, mysql, influx) are
// connected here; a configured backend that cannot be reached is an error.
func New(ctx context.Context, cfg traffic.Cfg) (*App, error) {
	cfg.Normalize()
	a := &App{cfg: cfg}

	if cfg.Trace.Enabled {
		shutdown, err := trace.InitTrace(cfg.Name, cfg.Trace.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("init trace: %w", err)
		}
		a.traceShutdown = shutdown
	}

	a.breakers = ratelimit.NewManager(ratelimit.Rule{
		Timeout:                 cfg.Breaker.Timeout,
		TripConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, nil, ingest.ErrSourceAbsent)

	if err := a.connectBackends(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.store = snapshot.NewStore()
	a.registry = hub.NewRegistry(a.store)
	a.detector = detect.New(a.store, hub.NewBroadcaster(a.registry))

	var sensors ingest.SensorHandler
	if a.archive != nil {
		a.detector.AddPublisher(a.archive)
		sensors = a.archive
	}

	switch cfg.Bus.Driver {
	case "nats":
		a.broker = gateway.NewNatsBroker(cfg.Bus.Nats)
	case "mem":
		a.broker = gateway.NewMemBroker()
	case "off":
	default:
		a.Close()
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}

	current, err := a.currentReader()
	if err != nil {
		a.Close()
		return nil, err
	}

	var sources []ingest.Source
	if a.broker != nil {
		sources = append(sources, ingest.NewBusSource(a.broker, sensors))
	}
	if cfg.Poll.Enabled {
		sources = append(sources, ingest.NewPollSource(current, cfg.Poll.Interval))
	}
	a.runner = ingest.NewRunner(a.detector, sources...)

	a.buildServers(ctx, current)
	return a, nil
}

func (a *App) connectBackends(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Redis.Enabled {
		rdb, err := xredis.NewRedis(ctx, &cfg.Redis.Config)
		if err != nil {
			return err
		}
		a.rdb = rdb
		metrics.ObserveRedisStats(ctx, rdb, 10*time.Second)
	}
	if cfg.DB.Enabled {
		db, err := orm.NewSQLDB(ctx, &cfg.DB.Config)
		if err != nil {
			return err
		}
		a.sqlDB = db
		metrics.ObserveDBStats(ctx, db, 10*time.Second)
	}
	if cfg.Archive.Enabled {
		logger.Info(ctx, "influx archive enabled", zap.Stringer("archive", cfg.Archive.Config))
		a.archive = archive.New(cfg.Archive.Config)
	}
	return nil
}

func (a *App) currentReader() (ingest.Reader, error) {
	var r ingest.Reader
	switch a.cfg.Poll.Source {
	case "file":
		r = ingest.FileReader{Path: a.cfg.Files.Current}
	case "redis":
		if a.rdb == nil {
			return nil, errors.New("poll.source is redis but redis is not enabled")
		}
		r = ingest.RedisReader{Client: a.rdb, Key: a.cfg.Poll.RedisKey}
	default:
		return nil, fmt.Errorf("unknown poll source %q", a.cfg.Poll.Source)
	}
	return ingest.BreakerReader{Reader: r, Breakers: a.breakers, Breaker: "poll." + r.Name()}, nil
}

func (a *App) buildServers(ctx context.Context, current ingest.Reader) {
	cfg := a.cfg

	wsSrv := ws.NewServer(a.registry)
	wsSrv.SendBuf = cfg.WS.SendBuffer
	wsSrv.PingPeriod = cfg.WS.PingPeriod
	wsSrv.PongWait = cfg.WS.PongWait
	wsSrv.WriteWait = cfg.WS.WriteWait
	wsSrv.AllowOrigins(cfg.WS.AllowedOrigins)
	wsMux := http.NewServeMux()
	wsMux.Handle(cfg.WS.Path, wsSrv)
	a.servers = append(a.servers, &server{name: "ws", srv: &http.Server{
		Addr:              cfg.WS.Addr,
		Handler:           wsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}})

	deps := api.Deps{
		Docs:     api.NewDocuments(current, ingest.FileReader{Path: cfg.Files.Predictions}),
		Bus:      a.broker,
		Breakers: a.breakers,
		Store:    a.store,
		Members:  a.registry,
	}
	if a.sqlDB != nil {
		if gdb, err := orm.NewGorm(a.sqlDB); err == nil {
			deps.History = history.NewGormRepo(gdb)
		} else {
			logger.Error(ctx, "gorm init failed, history disabled", zap.Error(err))
		}
	}
	router := api.NewRouter(ctx, api.NewHandler(deps), api.Options{
		ServiceName: cfg.Name,
		Rate:        cfg.HTTP.RateLimit,
		Burst:       cfg.HTTP.Burst,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Tracing:     cfg.Trace.Enabled,
		Prometheus:  cfg.Metrics.Addr != "",
	})
	a.servers = append(a.servers, &server{name: "api", srv: api.NewServer(cfg.HTTP.Addr, router)})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.servers = append(a.servers, &server{name: "metrics", srv: &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}})
	}
	if cfg.Metrics.Pprof != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		a.servers = append(a.servers, &server{name: "pprof", srv: &http.Server{
			Addr:              cfg.Metrics.Pprof,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}})
	}
}

// Listen binds every server. Run calls it when it has not been called yet.
func (a *App) Listen() error {
	for _, s := range a.servers {
		if s.ln != nil {
			continue
		}
		ln, err := net.Listen("tcp", s.srv.Addr)
		if err != nil {
			return fmt.Errorf("%s listen %s: %w", s.name, s.srv.Addr, err)
		}
		s.ln = ln
	}
	return nil
}

// Addr returns the bound address of the named server ("ws", "api", ...).
func (a *App) Addr(name string) string {
	for _, s := range a.servers {
		if s.name == name && s.ln != nil {
			return s.ln.Addr().String()
		}
	}
	return ""
}

// Run serves until ctx is done or a server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range a.servers {
		s := s
		g.Go(func() error {
			logger.Info(gctx, "server listening", zap.String("server", s.name), zap.String("addr", s.ln.Addr().String()))
			if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s serve: %w", s.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		_ = a.runner.Run(gctx)
		return nil
	})
	if a.archive != nil {
		g.Go(func() error {
			_ = a.archive.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})
	return g.Wait()
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 先停 ws 的 accept，再把存量订阅者全部关掉（升级后的连接不归 http.Server 管）
	for _, s := range a.servers {
		if s.name == "ws" {
			_ = s.srv.Shutdown(ctx)
		}
	}
	a.registry.Close()

	for _, s := range a.servers {
		if s.name != "ws" {
			_ = s.srv.Shutdown(ctx)
		}
	}
	logger.Info(ctx, "servers stopped")
}

// Close releases backends. Call it after Run returns.
func (a *App) Close() {
	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.archive != nil {
		a.archive.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.traceShutdown(ctx)
	}
}

// OnReload applies the parts of a changed config file that are safe to change
// at runtime. Everything else needs a restart.
func OnReload(e fsnotify.Event, fresh interface{}, err error) {
	if err != nil {
		logger.Log.Warn("config reload failed", zap.String("file", e.Name), zap.Error(err))
		return
	}
	cfg, ok := fresh.(*traffic.Cfg)
	if !ok {
		return
	}
	cfg.Normalize()
	logger.SetLevel(cfg.Log.Level)
	logger.Log.Info("config reloaded", zap.String("file", e.Name), zap.String("level", logger.Level().String()))
}
