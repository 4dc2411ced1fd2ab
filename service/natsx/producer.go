package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Producer 生产端
type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

// Publish 按 Biz 路由发送
func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	if p.c.nc == nil {
		return fmt.Errorf("nats not connected")
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	if len(hdr) > 0 {
		msg.Header = toHeader(hdr)
	}

	switch r.Mode {
	case Core:
		if err := p.c.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", r.Subject, err)
		}
		return nil
	case JetStreamPush:
		if _, err := p.c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %s: %w", r.Subject, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported mode %d", r.Mode)
	}
}
