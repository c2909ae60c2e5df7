package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey is a minimal RESP server backed by a map, enough to exercise
// the provider's command round trips.
type fakeValkey struct {
	listener net.Listener
	mu       sync.Mutex
	data     map[string][]byte
}

func startFakeValkey(t *testing.T) *fakeValkey {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &fakeValkey{listener: listener, data: map[string][]byte{}}
	go srv.serve()
	t.Cleanup(func() { listener.Close() })
	return srv
}

func (s *fakeValkey) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		parts, err := readCommand(reader)
		if err != nil {
			return
		}
		switch strings.ToUpper(parts[0]) {
		case "PING":
			fmt.Fprint(conn, "+PONG\r\n")
		case "SET":
			s.mu.Lock()
			s.data[parts[1]] = []byte(parts[2])
			s.mu.Unlock()
			fmt.Fprint(conn, "+OK\r\n")
		case "GET":
			s.mu.Lock()
			value, ok := s.data[parts[1]]
			s.mu.Unlock()
			if !ok {
				fmt.Fprint(conn, "$-1\r\n")
				continue
			}
			fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(value), value)
		case "DEL":
			s.mu.Lock()
			delete(s.data, parts[1])
			s.mu.Unlock()
			fmt.Fprint(conn, ":1\r\n")
		default:
			fmt.Fprintf(conn, "-ERR unknown command '%s'\r\n", parts[0])
		}
	}
}

func readCommand(reader *bufio.Reader) ([]string, error) {
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("unexpected header %q", header)
	}
	count, err := strconv.Atoi(strings.TrimRight(header[1:], "\r\n"))
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(strings.TrimPrefix(sizeLine, "$"), "\r\n"))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, err
		}
		parts = append(parts, string(buf[:size]))
	}
	return parts, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t)

	provider, err := NewValkeyProvider(ValkeyConfig{Addr: srv.listener.Addr().String()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer provider.Close()

	ctx := context.Background()
	if err := provider.Set(ctx, "evidence:abc", []byte(`{"service":"checkout"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := provider.Get(ctx, "evidence:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"service":"checkout"}` {
		t.Fatalf("unexpected payload: %s", got)
	}

	if err := provider.Del(ctx, "evidence:abc"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := provider.Get(ctx, "evidence:abc"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestValkeyProviderMiss(t *testing.T) {
	srv := startFakeValkey(t)

	provider, err := NewValkeyProvider(ValkeyConfig{Addr: srv.listener.Addr().String()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer provider.Close()

	if _, err := provider.Get(context.Background(), "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
}

func TestNoopProvider(t *testing.T) {
	var provider NoopProvider
	ctx := context.Background()

	if err := provider.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := provider.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop get should always miss, got %v", err)
	}
	if err := provider.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
