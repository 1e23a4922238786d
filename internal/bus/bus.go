// Package bus wraps the NATS connection used to fan messages between the
// feed/replay, paper broker, and risk gate pipeline processes.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects used by the core. The cmd/ entry points publish and subscribe
// on these constants directly; only the replay control subject can be
// overridden by an environment variable (REPLAY_CONTROL_SUBJECT in
// cmd/replay). The other subjects cannot be changed through the
// environment.
const (
	SubjectMarketData = "market.data"
	SubjectOrders     = "trading.orders"
	SubjectExecutions = "trading.executions"
	SubjectRiskState  = "risk.state"
	SubjectReplayCtl  = "replay.control"
	SubjectReports    = "reports.performance"
)

// Client is a thin typed layer over *nats.Conn. Publish/Subscribe carry
// JSON payloads; each subscription dispatches on its own goroutine
// per-subject FIFO, matching NATS's own ordering contract.
type Client struct {
	nc *nats.Conn
}

// Connect dials the given NATS URL with reconnect enabled: unlimited
// reconnect attempts, 2s apart, with disconnects and reconnects logged.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("bus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("bus: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &Client{nc: nc}, nil
}

// Close closes the underlying connection. It does not drain pending
// messages first.
func (c *Client) Close() {
	c.nc.Close()
}

// Conn exposes the underlying connection for callers that need raw access
// (e.g. the ops HTTP surface exposing a health check against it).
func (c *Client) Conn() *nats.Conn { return c.nc }

// Publish marshals v as JSON and publishes it on subject.
func Publish[T any](c *Client, subject string, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal for %s: %w", subject, err)
	}
	if err := c.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler to be invoked once per message received on
// subject. Messages that fail to unmarshal are logged and dropped rather
// than crashing the dispatcher.
func Subscribe[T any](c *Client, subject string, handler func(T)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Printf("bus: could not unmarshal message on %s: %v", subject, err)
			return
		}
		handler(v)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}
	return sub, nil
}
