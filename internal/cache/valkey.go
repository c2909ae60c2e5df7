package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible
// server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider over a plain RESP connection per
// command. The evidence cache issues a handful of commands per analysis, so
// connection pooling is not worth its complexity here.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates the configuration and pings the target so a
// bad address or credential fails at startup instead of mid-analysis.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
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

	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, err
	}
	if reply.kind != kindSimple || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", []byte(key))
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case kindNil:
		return nil, ErrCacheMiss
	case kindBulk:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected GET reply kind %q", reply.kind)
	}
}

// Set stores bytes with the provided TTL. A non-positive TTL stores the key
// without expiry.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := [][]byte{[]byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if reply.kind != kindSimple || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET response: %s", reply.data)
	}
	return nil
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", []byte(key))
	return err
}

// Close closes the provider. Connections are per command, so there is
// nothing to release.
func (p *ValkeyProvider) Close() error { return nil }

// do dials, authenticates, runs one command, and reads its reply, retrying
// on timeouts up to MaxRetries attempts.
func (p *ValkeyProvider) do(ctx context.Context, command string, args ...[]byte) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return reply{}, ctx.Err()
		}
		if attempt > 0 {
			time.Sleep(time.Duration(1<<(attempt-1)) * 25 * time.Millisecond)
		}

		r, err := p.doOnce(ctx, command, args)
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) doOnce(ctx context.Context, command string, args [][]byte) (reply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return reply{}, err
	}
	defer conn.close()

	if err := p.handshake(conn); err != nil {
		return reply{}, err
	}
	if err := conn.send(command, args...); err != nil {
		return reply{}, err
	}
	return conn.receive()
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	timeout := p.cfg.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	dialer := net.Dialer{Timeout: timeout}

	var (
		nc  net.Conn
		err error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		nc, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         nc,
		reader:       bufio.NewReader(nc),
		writer:       bufio.NewWriter(nc),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) handshake(conn *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte(p.cfg.Password)}
		if p.cfg.Username != "" {
			args = [][]byte{[]byte(p.cfg.Username), []byte(p.cfg.Password)}
		}
		if err := expectOK(conn, "AUTH", args...); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := expectOK(conn, "SELECT", []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return fmt.Errorf("select db: %w", err)
		}
	}
	return nil
}

func expectOK(conn *respConn, command string, args ...[]byte) error {
	if err := conn.send(command, args...); err != nil {
		return err
	}
	r, err := conn.receive()
	if err != nil {
		return err
	}
	if r.kind != kindSimple || !strings.EqualFold(string(r.data), "OK") {
		return fmt.Errorf("unexpected response: %s", r.data)
	}
	return nil
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type replyKind byte

const (
	kindSimple  replyKind = '+'
	kindInteger replyKind = ':'
	kindBulk    replyKind = '$'
	kindNil     replyKind = '_'
)

type reply struct {
	kind replyKind
	data []byte
}

// respConn speaks the subset of RESP the provider needs.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) send(command string, args ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1)
	parts := append([][]byte{[]byte(command)}, args...)
	for _, part := range parts {
		fmt.Fprintf(c.writer, "$%d\r\n", len(part))
		c.writer.Write(part)
		c.writer.WriteString("\r\n")
	}
	return c.writer.Flush()
}

func (c *respConn) receive() (reply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return reply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return reply{}, err
	}
	switch prefix {
	case '+':
		line, err := c.readLine()
		return reply{kind: kindSimple, data: line}, err
	case ':':
		line, err := c.readLine()
		return reply{kind: kindInteger, data: line}, err
	case '-':
		line, err := c.readLine()
		if err != nil {
			return reply{}, err
		}
		return reply{}, errors.New(string(line))
	case '$':
		line, err := c.readLine()
		if err != nil {
			return reply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, err
		}
		if size < 0 {
			return reply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errors.New("malformed bulk string terminator")
		}
		return reply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
