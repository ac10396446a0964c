package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/bilal/dashline-agent/internal/config"
	"github.com/bilal/dashline-agent/internal/telemetry"
)

// Source produces a fresh telemetry snapshot per poll.
type Source interface {
	Snapshot(ctx context.Context) (telemetry.Snapshot, error)
}

// New builds the source described by cfg.
func New(cfg config.SourceConfig, timeout time.Duration) (Source, error) {
	switch cfg.Type {
	case "file":
		return NewFile(cfg.Path, cfg.Format), nil
	case "http":
		return NewHTTP(cfg.URL, timeout), nil
	case "static":
		return Static{}, nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Type)
}

// Static always returns the same snapshot.
type Static struct {
	Snap telemetry.Snapshot
}

func (s Static) Snapshot(context.Context) (telemetry.Snapshot, error) {
	return s.Snap, nil
}

// File re-reads a snapshot document on every poll.
type File struct {
	path   string
	format string
}

// NewFile returns a File source. An empty format is inferred from the
// extension.
func NewFile(path, format string) *File {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	return &File{path: path, format: strings.ToLower(format)}
}

func (f *File) Snapshot(ctx context.Context) (telemetry.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := Decode(f.format, raw)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	return snap, nil
}

// Decode parses a snapshot document in the given format
// (json, yaml/yml, toml, msgpack/mpk).
func Decode(format string, raw []byte) (telemetry.Snapshot, error) {
	var m map[string]any
	var err error
	switch format {
	case "json":
		err = json.Unmarshal(raw, &m)
	case "yaml", "yml":
		err = yaml.Unmarshal(raw, &m)
	case "toml":
		_, err = toml.Decode(string(raw), &m)
	case "msgpack", "mpk":
		err = msgpack.NewDecoder(bytes.NewReader(raw)).Decode(&m)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return telemetry.Snapshot(m), nil
}

// HTTP fetches a JSON snapshot from a URL.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Snapshot(ctx context.Context) (telemetry.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch snapshot: bad status: %d", resp.StatusCode)
	}

	snap := telemetry.Snapshot{}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
