package chat

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"

	"MissionChat/tools/errs"
)

// HandlerFunc handles one inbound event from client c.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[event] = h
	d.mu.Unlock()
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, f *Frame) error {
	d.mu.RLock()
	h, ok := d.handlers[f.Event]
	d.mu.RUnlock()
	if !ok {
		return errs.InvalidOperation("Unsupported event").WrapMsg("no handler", "event", f.Event)
	}
	return h(ctx, c, f.Data)
}

func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for e := range d.handlers {
		out = append(out, e)
	}
	return out
}
