package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bilal/dashline-agent/internal/communicator"
	"github.com/bilal/dashline-agent/internal/config"
	"github.com/bilal/dashline-agent/internal/decision"
	"github.com/bilal/dashline-agent/internal/formatter"
	"github.com/bilal/dashline-agent/internal/metrics"
	"github.com/bilal/dashline-agent/internal/source"
	"github.com/bilal/dashline-agent/internal/telemetry"
)

// Sender accepts formatted lines without blocking.
type Sender interface {
	Send(l communicator.Line)
}

// StatusReporter receives health updates.
type StatusReporter interface {
	SetSourceHealthy(ok bool)
	SetLinkState(state string)
}

type Monitor struct {
	cfg     *config.Config
	source  source.Source
	engine  *decision.DecisionEngine
	script  formatter.LineFormatter
	comm    Sender
	status  StatusReporter
	rec     metrics.Recorder
	timeout time.Duration
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithScript renders lines with f, falling back to the built-in layout when
// f fails.
func WithScript(f formatter.LineFormatter) Option {
	return func(m *Monitor) { m.script = f }
}

func WithStatus(s StatusReporter) Option {
	return func(m *Monitor) { m.status = s }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(m *Monitor) { m.rec = r }
}

func New(cfg *config.Config, src source.Source, comm Sender, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		source: src,
		engine: decision.NewEngine(decision.ThresholdConfig{
			FailCount: cfg.Link.FailCount,
			LostAfter: cfg.Link.LostAfter(),
			Cooldown:  cfg.Link.Cooldown(),
		}),
		comm:    comm,
		rec:     metrics.Nop{},
		timeout: pollTimeout(cfg.Agent),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// pollTimeout bounds one snapshot read: timeout_seconds, capped at the poll
// interval so a slow source cannot stack ticks.
func pollTimeout(a config.AgentConfig) time.Duration {
	timeout, interval := a.Timeout(), a.Interval()
	if timeout <= 0 || (interval > 0 && interval < timeout) {
		return interval
	}
	return timeout
}

func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Dur("interval", m.cfg.Agent.Interval()).Msg("monitor started")

	ticker := time.NewTicker(m.cfg.Agent.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor stopping")
			return nil

		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick polls the source once and emits a line. It returns the line and
// whether one was sent; a failed poll sends nothing until the link is lost,
// after which the idle line goes out so the dash powers down.
func (m *Monitor) Tick(ctx context.Context) (string, bool) {
	start := time.Now()

	pollCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	snap, err := m.source.Snapshot(pollCtx)
	if err != nil {
		m.rec.IncCounter(metrics.SourceErrors, 1)
		log.Warn().Err(err).Msg("snapshot read failed")
	}

	state := m.engine.Evaluate(err == nil)
	m.rec.SetGauge(metrics.LinkState, state.Gauge())
	if m.status != nil {
		m.status.SetSourceHealthy(err == nil)
		m.status.SetLinkState(string(state))
	}

	var props telemetry.PropertySource
	switch {
	case err == nil:
		props = snap
	case state == decision.LinkLost:
		props = telemetry.Snapshot{}
	default:
		return "", false
	}

	line := m.format(props)
	m.rec.ObserveLatency(metrics.FormatLatency, time.Since(start).Seconds())

	m.comm.Send(communicator.Line{
		AgentName: m.cfg.Agent.Name,
		Timestamp: time.Now(),
		Text:      line,
		LinkState: string(state),
	})
	m.rec.IncCounter(metrics.LinesEmitted, 1)

	log.Debug().
		Str("link_state", string(state)).
		Str("line", line).
		Msg("line emitted")

	return line, true
}

func (m *Monitor) format(src telemetry.PropertySource) string {
	if m.script != nil {
		line, err := m.script.Format(src)
		if err == nil {
			return line
		}
		m.rec.IncCounter(metrics.ScriptErrors, 1)
		log.Error().Err(err).Msg("script failed, using built-in layout")
	}
	return formatter.Format(src)
}
