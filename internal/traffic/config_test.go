package traffic

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trafficpulse.com/pkg/config"
)

func TestNormalize_Defaults(t *testing.T) {
	var c Cfg
	c.Normalize()

	assert.Equal(t, "traffic-realtime", c.Name)
	assert.Equal(t, 30*time.Second, c.Poll.Interval)
	assert.Equal(t, "file", c.Poll.Source)
	assert.Equal(t, "current_traffic_data.json", c.Files.Current)
	assert.Equal(t, "/ws", c.WS.Path)
	assert.Equal(t, 16, c.WS.SendBuffer)
	assert.Equal(t, 60*time.Second, c.WS.PongWait)
	assert.Equal(t, "nats", c.Bus.Driver)
	assert.Equal(t, "traffic-realtime", c.Bus.Nats.Name)
}

func TestLoad_SampleConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "traffic-realtime.yaml"), []byte(`
name: traffic-realtime
poll:
  enabled: true
  interval: 5s
  source: redis
redis:
  enabled: true
  addr: 127.0.0.1:6379
  pool_size: 4
db:
  enabled: true
  source_name: "u:p@tcp(127.0.0.1:3306)/traffic?parseTime=true"
archive:
  enabled: false
  bucket: traffic
`), 0o644))
	t.Chdir(dir)
	t.Setenv("TRAFFIC_REALTIME_POLL_INTERVAL", "10s")

	var c Cfg
	_, err := config.Load("traffic-realtime", &c)
	require.NoError(t, err)
	c.Normalize()

	assert.Equal(t, 10*time.Second, c.Poll.Interval)
	assert.Equal(t, "redis", c.Poll.Source)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "127.0.0.1:6379", c.Redis.Addr)
	assert.Equal(t, 4, c.Redis.PoolSize)
	assert.Contains(t, c.DB.SourceName, "tcp(127.0.0.1:3306)")
	assert.Equal(t, "traffic", c.Archive.Bucket)
}
