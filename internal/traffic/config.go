package traffic

import (
	"time"

	"trafficpulse.com/internal/traffic/archive"
	"trafficpulse.com/internal/traffic/gateway"
	"trafficpulse.com/pkg/orm"
	"trafficpulse.com/pkg/xredis"
)

// 总配置
type Cfg struct {
	Name    string        `mapstructure:"name"`
	Log     LogConfig     `mapstructure:"log"`
	WS      WSConfig      `mapstructure:"ws"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Trace   TraceConfig   `mapstructure:"trace"`

	Bus     BusConfig     `mapstructure:"bus"`
	Poll    PollConfig    `mapstructure:"poll"`
	Files   FilesConfig   `mapstructure:"files"`
	Redis   RedisConfig   `mapstructure:"redis"`
	DB      DBConfig      `mapstructure:"db"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // 空：logs/{name}.log；"-"：只写控制台
}

type WSConfig struct {
	Addr           string        `mapstructure:"addr"`
	Path           string        `mapstructure:"path"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	Burst       int      `mapstructure:"burst"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type MetricsConfig struct {
	Addr  string `mapstructure:"addr"`
	Pprof string `mapstructure:"pprof"`
}

type TraceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type BusConfig struct {
	// nats | mem | off
	Driver string             `mapstructure:"driver"`
	Nats   gateway.NatsConfig `mapstructure:"nats"`
}

type PollConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// file | redis
	Source   string `mapstructure:"source"`
	RedisKey string `mapstructure:"redis_key"`
}

type FilesConfig struct {
	Current     string `mapstructure:"current"`
	Predictions string `mapstructure:"predictions"`
}

type RedisConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	xredis.Config `mapstructure:",squash"`
}

type DBConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	orm.Config `mapstructure:",squash"`
}

type ArchiveConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	archive.Config `mapstructure:",squash"`
}

type BreakerConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// Normalize fills defaults for everything left empty.
func (c *Cfg) Normalize() {
	if c.Name == "" {
		c.Name = "traffic-realtime"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.WS.Addr == "" {
		c.WS.Addr = ":8080"
	}
	if c.WS.Path == "" {
		c.WS.Path = "/ws"
	}
	if c.WS.SendBuffer <= 0 {
		c.WS.SendBuffer = 16
	}
	if c.WS.PingPeriod <= 0 {
		c.WS.PingPeriod = 30 * time.Second
	}
	if c.WS.PongWait <= c.WS.PingPeriod {
		c.WS.PongWait = 2 * c.WS.PingPeriod
	}
	if c.WS.WriteWait <= 0 {
		c.WS.WriteWait = 5 * time.Second
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3001"
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.Burst <= 0 {
		c.HTTP.Burst = int(2 * c.HTTP.RateLimit)
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = "nats"
	}
	if c.Bus.Nats.Name == "" {
		c.Bus.Nats.Name = c.Name
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 30 * time.Second
	}
	if c.Poll.Source == "" {
		c.Poll.Source = "file"
	}
	if c.Poll.RedisKey == "" {
		c.Poll.RedisKey = "traffic:current"
	}
	if c.Files.Current == "" {
		c.Files.Current = "current_traffic_data.json"
	}
	if c.Files.Predictions == "" {
		c.Files.Predictions = "traffic_predictions.json"
	}

	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
}
