package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	PoolSize     int
	TLS          bool
}

// ValkeyProvider implements Provider over a small pool of RESP connections.
type ValkeyProvider struct {
	cfg ValkeyConfig

	mu     sync.Mutex
	idle   []*respConn
	closed bool
}

// NewValkeyProvider validates cfg and pings the server so misconfiguration
// fails at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyDefaults(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

func applyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
}

// Ping checks connectivity and credentials.
func (p *ValkeyProvider) Ping(ctx context.Context) error {
	r, err := p.do(ctx, []byte("PING"))
	if err != nil {
		return err
	}
	if r.kind != kindSimple || string(r.data) != "PONG" {
		return fmt.Errorf("unexpected PING response: %s", r.data)
	}
	return nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := p.do(ctx, []byte("GET"), p.key(key))
	if err != nil {
		return nil, err
	}
	switch r.kind {
	case kindNil:
		return nil, ErrCacheMiss
	case kindBulk:
		return r.data, nil
	default:
		return nil, fmt.Errorf("unexpected reply %q for GET", r.kind)
	}
}

// Set stores bytes with the provided TTL. A non-positive TTL never expires.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r, err := p.do(ctx, setArgs(p.key(key), value, ttl, false)...)
	if err != nil {
		return err
	}
	if !r.isOK() {
		return fmt.Errorf("unexpected SET response: %s", r.data)
	}
	return nil
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	r, err := p.do(ctx, setArgs(p.key(key), value, ttl, true)...)
	if err != nil {
		return false, err
	}
	switch r.kind {
	case kindSimple:
		return true, nil
	case kindNil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected reply %q for SET NX", r.kind)
	}
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, []byte("DEL"), p.key(key))
	return err
}

// Close drops every pooled connection. Later calls fail.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *ValkeyProvider) key(k string) []byte {
	return []byte(p.cfg.KeyPrefix + k)
}

func setArgs(key, value []byte, ttl time.Duration, nx bool) [][]byte {
	args := [][]byte{[]byte("SET"), key, value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	if nx {
		args = append(args, []byte("NX"))
	}
	return args
}

// do runs one command, retrying transient network errors on a fresh connection.
func (p *ValkeyProvider) do(ctx context.Context, args ...[]byte) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return reply{}, err
		}
		c, err := p.acquire(ctx)
		if err == nil {
			var r reply
			r, err = c.do(args...)
			var se serverError
			if err == nil || errors.As(err, &se) {
				p.release(c)
				return r, err
			}
			c.close()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) acquire(ctx context.Context) (*respConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("valkey provider closed")
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()
	return p.dial(ctx)
}

func (p *ValkeyProvider) release(c *respConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.cfg.PoolSize {
		c.close()
		return
	}
	p.idle = append(p.idle, c)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	c := newRespConn(conn, p.cfg.ReadTimeout, p.cfg.WriteTimeout)
	if err := p.handshake(c); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (p *ValkeyProvider) handshake(c *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if p.cfg.Username != "" {
			args = append(args, []byte(p.cfg.Username))
		}
		args = append(args, []byte(p.cfg.Password))
		r, err := c.do(args...)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if !r.isOK() {
			return fmt.Errorf("auth failed: %s", r.data)
		}
	}
	if p.cfg.DB > 0 {
		r, err := c.do([]byte("SELECT"), []byte(strconv.Itoa(p.cfg.DB)))
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		if !r.isOK() {
			return fmt.Errorf("select failed: %s", r.data)
		}
	}
	return nil
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
