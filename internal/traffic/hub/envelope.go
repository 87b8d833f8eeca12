package hub

import (
	"time"

	"github.com/segmentio/encoding/json"
	"trafficpulse.com/internal/traffic/snapshot"
)

// 出站消息类型
const (
	TypeInitialData   = "initial_data"
	TypeTrafficUpdate = "traffic_update"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the wire shape of every outbound message.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Frame is one encoded envelope. A broadcast encodes once and hands the same
// Frame to every subscriber; Payload must be treated as read-only.
type Frame struct {
	Type    string
	Version uint64
	Payload []byte
}

// Encode wraps snap in an envelope of the given type, stamped with now.
func Encode(typ string, snap snapshot.Snapshot, now time.Time) (Frame, error) {
	b, err := json.Marshal(Envelope{
		Type:      typ,
		Data:      snap.Payload(),
		Timestamp: now.UTC().Format(TimestampLayout),
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Version: snap.Version, Payload: b}, nil
}
