package communicator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bilal/dashline-agent/internal/config"
)

// Sink is a line destination. WriteBatch must not retain items.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, items []Line) error
	Close() error
}

// NewSink builds the sink described by cfg.Output.
func NewSink(cfg *config.Config) (Sink, error) {
	out := cfg.Output
	switch out.Type {
	case "stdout":
		return NewWriter("stdout", os.Stdout, nil), nil
	case "file":
		f, err := os.OpenFile(out.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open output file: %w", err)
		}
		return NewWriter("file", f, f), nil
	case "tcp":
		return NewTCP(out.Address, cfg.Agent.Timeout()), nil
	case "http":
		return NewHTTP(cfg), nil
	case "kafka":
		return NewKafkaProducer(cfg)
	}
	return nil, fmt.Errorf("unknown output type %q", out.Type)
}

// Writer writes raw line bytes to an io.Writer, one write per batch.
type Writer struct {
	name   string
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	buf    []byte
}

// NewWriter wraps w. closer may be nil when w is not owned by the sink.
func NewWriter(name string, w io.Writer, closer io.Closer) *Writer {
	return &Writer{name: name, w: w, closer: closer}
}

func (s *Writer) Name() string { return s.name }

func (s *Writer) WriteBatch(_ context.Context, items []Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = s.buf[:0]
	for _, l := range items {
		s.buf = append(s.buf, l.Text...)
	}
	if _, err := s.w.Write(s.buf); err != nil {
		return fmt.Errorf("%s output: %w", s.name, err)
	}
	return nil
}

func (s *Writer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// TCP streams lines to a socket, typically a serial bridge. The connection
// is dialled on first use and redialled after a failed write.
type TCP struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	buf  []byte
}

func NewTCP(addr string, timeout time.Duration) *TCP {
	return &TCP{addr: addr, timeout: timeout}
}

func (s *TCP) Name() string { return "tcp" }

func (s *TCP) WriteBatch(ctx context.Context, items []Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		d := net.Dialer{Timeout: s.timeout}
		conn, err := d.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.addr, err)
		}
		s.conn = conn
	}

	s.buf = s.buf[:0]
	for _, l := range items {
		s.buf = append(s.buf, l.Text...)
	}
	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			s.resetConn()
			return fmt.Errorf("set deadline %s: %w", s.addr, err)
		}
	}
	if _, err := s.conn.Write(s.buf); err != nil {
		s.resetConn()
		return fmt.Errorf("write %s: %w", s.addr, err)
	}
	return nil
}

// resetConn drops the connection so the next batch redials.
func (s *TCP) resetConn() {
	s.conn.Close()
	s.conn = nil
}

func (s *TCP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// HTTP posts batches as JSON to a backend.
type HTTP struct {
	endpoint string
	client   *http.Client
	token    string
}

func NewHTTP(cfg *config.Config) *HTTP {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.Agent.InsecureSkipVerify,
	}
	client := &http.Client{
		Timeout: cfg.Agent.Timeout(),
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
		},
	}

	token := ""
	if cfg.Agent.BackendAuthTokenEnv != "" {
		token = os.Getenv(cfg.Agent.BackendAuthTokenEnv)
	}

	return &HTTP{
		endpoint: cfg.Output.URL,
		client:   client,
		token:    token,
	}
}

func (s *HTTP) Name() string { return "http" }

func (s *HTTP) WriteBatch(ctx context.Context, items []Line) error {
	// batch payload
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	// correlation header for the batch (first item's id)
	if len(items) > 0 {
		req.Header.Set("X-Correlation-ID", items[0].CorrelationID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	// drain and close body to reuse connection
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTP) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
