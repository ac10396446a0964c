package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bilal/dashline-agent/internal/communicator"
	"github.com/bilal/dashline-agent/internal/config"
	"github.com/bilal/dashline-agent/internal/metrics"
	"github.com/bilal/dashline-agent/internal/script"
	"github.com/bilal/dashline-agent/internal/telemetry"
)

const idleLine = "S,RPM=0,SPD=0,GEAR=0,FUEL=0,OIL=0,IGN=0\n"

type captureSender struct {
	mu    sync.Mutex
	lines []communicator.Line
}

func (c *captureSender) Send(l communicator.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

type scriptedSource struct {
	snaps []telemetry.Snapshot
	errs  []error
	i     int
}

func (s *scriptedSource) Snapshot(context.Context) (telemetry.Snapshot, error) {
	i := s.i
	s.i++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.snaps) {
		return s.snaps[i], nil
	}
	return telemetry.Snapshot{}, nil
}

type statusRecorder struct {
	sourceOK bool
	link     string
}

func (s *statusRecorder) SetSourceHealthy(ok bool) { s.sourceOK = ok }
func (s *statusRecorder) SetLinkState(v string)    { s.link = v }

type countingRecorder struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (r *countingRecorder) IncCounter(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += v
}

func (r *countingRecorder) SetGauge(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = v
}

func (r *countingRecorder) ObserveLatency(string, float64) {}

type failingFormatter struct{}

func (failingFormatter) Format(telemetry.PropertySource) (string, error) {
	return "", errors.New("script exploded")
}

func testConfig() *config.Config {
	return &config.Config{
		Agent: config.AgentConfig{Name: "rig-1", IntervalMs: 5},
		Link:  config.LinkConfig{FailCount: 1, LostAfterMs: 60_000},
	}
}

func TestTickEmitsFormattedLine(t *testing.T) {
	src := &scriptedSource{snaps: []telemetry.Snapshot{{
		telemetry.PropRPM:         4500.6,
		telemetry.PropSpeedKmh:    101.4,
		telemetry.PropGear:        3,
		telemetry.PropFuelPercent: 55.5,
		telemetry.PropOilTemp:     89.2,
		telemetry.PropIgnition:    true,
	}}}
	sender := &captureSender{}
	status := &statusRecorder{}
	rec := newCountingRecorder()

	m := New(testConfig(), src, sender, WithStatus(status), WithRecorder(rec))
	line, sent := m.Tick(context.Background())

	want := "S,RPM=4501,SPD=101,GEAR=3,FUEL=555,OIL=89,IGN=1\n"
	if !sent || line != want {
		t.Fatalf("expected %q to be sent, got %q (sent=%v)", want, line, sent)
	}
	if sender.count() != 1 || sender.lines[0].Text != want || sender.lines[0].AgentName != "rig-1" {
		t.Fatalf("unexpected sent lines %+v", sender.lines)
	}
	if !status.sourceOK || status.link != "LINK_LIVE" {
		t.Fatalf("unexpected status %+v", status)
	}

	if rec.counters[metrics.LinesEmitted] != 1 {
		t.Fatalf("expected emitted counter 1, got %v", rec.counters[metrics.LinesEmitted])
	}
	if rec.gauges[metrics.LinkState] != 0 {
		t.Fatalf("expected link gauge 0, got %v", rec.gauges[metrics.LinkState])
	}
}

func TestTickSkipsFailedPollUntilLost(t *testing.T) {
	cfg := testConfig()
	cfg.Link.LostAfterMs = 20
	boom := errors.New("simulator closed")
	src := &scriptedSource{errs: []error{boom, boom}}
	sender := &captureSender{}
	status := &statusRecorder{}

	rec := newCountingRecorder()
	m := New(cfg, src, sender, WithStatus(status), WithRecorder(rec))

	if _, sent := m.Tick(context.Background()); sent {
		t.Fatalf("expected no line while link is degraded")
	}
	if status.sourceOK || status.link != "LINK_DEGRADED" {
		t.Fatalf("unexpected status %+v", status)
	}

	time.Sleep(30 * time.Millisecond)
	line, sent := m.Tick(context.Background())
	if !sent || line != idleLine {
		t.Fatalf("expected idle line once link is lost, got %q (sent=%v)", line, sent)
	}
	if status.link != "LINK_LOST" {
		t.Fatalf("expected LINK_LOST, got %s", status.link)
	}
	if rec.counters[metrics.SourceErrors] != 2 {
		t.Fatalf("expected 2 source errors, got %v", rec.counters[metrics.SourceErrors])
	}
}

func TestTickUsesScript(t *testing.T) {
	f, err := script.New("custom", `return "G" .. round(prop("Gear") or 0) .. "\n"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer f.Close()

	src := &scriptedSource{snaps: []telemetry.Snapshot{{telemetry.PropGear: 5}}}
	m := New(testConfig(), src, &captureSender{}, WithScript(f))

	if line, _ := m.Tick(context.Background()); line != "G5\n" {
		t.Fatalf("expected script line, got %q", line)
	}
}

func TestTickFallsBackWhenScriptFails(t *testing.T) {
	src := &scriptedSource{}
	rec := newCountingRecorder()
	m := New(testConfig(), src, &captureSender{}, WithScript(failingFormatter{}), WithRecorder(rec))

	if line, _ := m.Tick(context.Background()); line != idleLine {
		t.Fatalf("expected built-in line, got %q", line)
	}
	if rec.counters[metrics.ScriptErrors] != 1 {
		t.Fatalf("expected script error counter 1, got %v", rec.counters[metrics.ScriptErrors])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sender := &captureSender{}
	m := New(testConfig(), &scriptedSource{}, sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("monitor did not emit lines")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("monitor did not stop")
	}
}

func TestPollTimeoutIsCappedByInterval(t *testing.T) {
	cases := []struct {
		agent config.AgentConfig
		want  time.Duration
	}{
		{config.AgentConfig{IntervalMs: 100, TimeoutSeconds: 5}, 100 * time.Millisecond},
		{config.AgentConfig{IntervalMs: 10_000, TimeoutSeconds: 2}, 2 * time.Second},
		{config.AgentConfig{IntervalMs: 250}, 250 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := pollTimeout(tc.agent); got != tc.want {
			t.Fatalf("pollTimeout(%+v): expected %s, got %s", tc.agent, tc.want, got)
		}
	}
}

func TestTickFallsBackWhenScriptRunsAway(t *testing.T) {
	f, err := script.New("runaway", "while true do end")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer f.Close()
	f.SetTimeout(10 * time.Millisecond)

	rec := newCountingRecorder()
	m := New(testConfig(), &scriptedSource{}, &captureSender{}, WithScript(f), WithRecorder(rec))

	done := make(chan string, 1)
	go func() {
		line, _ := m.Tick(context.Background())
		done <- line
	}()

	select {
	case line := <-done:
		if line != idleLine {
			t.Fatalf("expected built-in line, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tick blocked on runaway script")
	}
	if rec.counters[metrics.ScriptErrors] != 1 {
		t.Fatalf("expected script error counter 1, got %v", rec.counters[metrics.ScriptErrors])
	}
}
