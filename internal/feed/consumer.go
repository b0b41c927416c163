// Package feed consumes an external stream of sensor readings and relays
// each one to realtime observers.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/engine"
)

const maxLine = 1 << 20

var errFeedClosed = errors.New("sensor feed closed")

// Relay is the part of engine.Engine the consumer drives.
type Relay interface {
	RelaySensor(r engine.SensorReading) error
}

// Consumer reads newline-delimited JSON objects ({"A1":1,...}) from a TCP
// peer and reconnects with exponential backoff when the stream breaks.
type Consumer struct {
	Addr       string
	MaxBackoff time.Duration
	Relay      Relay
	Log        *zap.Logger

	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Run blocks until ctx is cancelled. It only returns an error for a
// misconfigured consumer.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Addr == "" {
		return errors.New("sensor feed: empty address")
	}
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	dial := c.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if c.MaxBackoff > 0 {
		b.MaxInterval = c.MaxBackoff
		if b.InitialInterval > c.MaxBackoff {
			b.InitialInterval = c.MaxBackoff
		}
	}

	op := func() error {
		delivered, err := c.stream(ctx, dial, log)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if delivered > 0 {
			b.Reset()
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("sensor feed disconnected", zap.String("addr", c.Addr), zap.Duration("retry_in", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// stream runs one connection and reports how many readings it relayed.
func (c *Consumer) stream(ctx context.Context, dial func(context.Context, string, string) (net.Conn, error), log *zap.Logger) (int, error) {
	conn, err := dial(ctx, "tcp", c.Addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	log.Info("sensor feed connected", zap.String("addr", c.Addr))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLine)

	delivered := 0
	for sc.Scan() {
		if c.OnMessage(sc.Bytes(), log) {
			delivered++
		}
	}
	if err := sc.Err(); err != nil {
		return delivered, fmt.Errorf("read %s: %w", c.Addr, err)
	}
	return delivered, errFeedClosed
}

// OnMessage relays one line. Blank and malformed lines are skipped.
func (c *Consumer) OnMessage(line []byte, log *zap.Logger) bool {
	if len(line) == 0 {
		return false
	}
	var reading engine.SensorReading
	if err := json.Unmarshal(line, &reading); err != nil {
		log.Warn("sensor feed decode error", zap.ByteString("line", line), zap.Error(err))
		return false
	}
	if err := c.Relay.RelaySensor(reading); err != nil {
		log.Warn("sensor reading rejected", zap.Error(err))
		return false
	}
	return true
}
