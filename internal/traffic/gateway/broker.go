package gateway

import "context"

// Message is one bus delivery. Topic is in colon form (traffic:sensors:7:data).
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is the publish/subscribe bus. Topics use ':' separators; a '*' segment
// matches one segment and a trailing '>' matches the rest.
type Broker interface {
	// Publish 发布一条消息
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe 订阅；返回的 channel 在 ctx 结束或连接关闭后被关闭
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	// 关闭
	Close() error
}
