package redis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

func defaultDial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

type conn struct {
	net.Conn
	r *bufio.Reader
	w *bufio.Writer
}

func (s *Store) acquire(ctx context.Context) (*conn, error) {
	select {
	case c := <-s.pool:
		return c, nil
	default:
	}
	nc, err := s.cfg.dial(ctx, s.cfg.addr, s.cfg.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("redis: dial %s: %w", s.cfg.addr, err)
	}
	c := &conn{Conn: nc, r: bufio.NewReader(nc), w: bufio.NewWriter(nc)}
	if err := c.handshake(ctx, s.cfg); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

func (s *Store) release(c *conn, broken bool) {
	if broken {
		_ = c.Close()
		return
	}
	select {
	case s.pool <- c:
	default:
		_ = c.Close()
	}
}

func (c *conn) handshake(ctx context.Context, cfg config) error {
	if cfg.password != "" {
		if err := c.expectOK(ctx, cfg, "AUTH", cfg.password); err != nil {
			return fmt.Errorf("redis: auth: %w", err)
		}
	}
	if cfg.db > 0 {
		if err := c.expectOK(ctx, cfg, "SELECT", strconv.Itoa(cfg.db)); err != nil {
			return fmt.Errorf("redis: select db %d: %w", cfg.db, err)
		}
	}
	return nil
}

func (c *conn) expectOK(ctx context.Context, cfg config, args ...string) error {
	reply, err := c.roundTrip(ctx, cfg, args...)
	if err != nil {
		return err
	}
	if !isOK(reply) {
		return fmt.Errorf("expected OK, got %v", reply)
	}
	return nil
}

// roundTrip writes one command and reads its reply. Deadlines come from the
// configured timeouts, tightened by ctx's deadline when it is sooner.
func (c *conn) roundTrip(ctx context.Context, cfg config, args ...string) (any, error) {
	if err := c.SetWriteDeadline(deadline(ctx, cfg.writeTimeout)); err != nil {
		return nil, err
	}
	if err := writeCommand(c.w, args...); err != nil {
		return nil, err
	}
	if err := c.SetReadDeadline(deadline(ctx, cfg.readTimeout)); err != nil {
		return nil, err
	}
	return readReply(c.r)
}

// deadline returns the zero time when neither bound applies.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}
