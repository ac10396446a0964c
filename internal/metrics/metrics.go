package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	LinesEmitted  = "dashline_lines_emitted_total"
	LinesDropped  = "dashline_lines_dropped_total"
	SourceErrors  = "dashline_source_errors_total"
	ScriptErrors  = "dashline_script_errors_total"
	SendFailures  = "dashline_send_failures_total"
	QueueLength   = "dashline_queue_length"
	LinkState     = "dashline_link_state"
	FormatLatency = "dashline_format_latency_seconds"
)

// Recorder is the metrics surface the agent components report to.
type Recorder interface {
	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)
}

// Prom keeps the agent's collectors by name.
type Prom struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewProm creates the collectors and registers them on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	emitted := counter(LinesEmitted, "Dash lines handed to the communicator.")
	dropped := counter(LinesDropped, "Dash lines dropped because the queue was full or delivery gave up.")
	srcErrs := counter(SourceErrors, "Failed snapshot reads.")
	scrErrs := counter(ScriptErrors, "Script runs that failed and fell back to the built-in layout.")
	sendFail := counter(SendFailures, "Failed sink writes, including retried ones.")
	queueLen := gauge(QueueLength, "Lines waiting in the communicator queue.")
	link := gauge(LinkState, "Link state: 0 live, 1 degraded, 2 lost.")
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    FormatLatency,
		Help:    "Time from snapshot read to formatted line.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
	})

	reg.MustRegister(emitted, dropped, srcErrs, scrErrs, sendFail, queueLen, link, latency)

	return &Prom{
		counters: map[string]prometheus.Counter{
			LinesEmitted: emitted,
			LinesDropped: dropped,
			SourceErrors: srcErrs,
			ScriptErrors: scrErrs,
			SendFailures: sendFail,
		},
		gauges: map[string]prometheus.Gauge{
			QueueLength: queueLen,
			LinkState:   link,
		},
		histos: map[string]prometheus.Observer{
			FormatLatency: latency,
		},
	}
}

func (p *Prom) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *Prom) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *Prom) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64)     {}
func (Nop) SetGauge(string, float64)       {}
func (Nop) ObserveLatency(string, float64) {}

var (
	_ Recorder = (*Prom)(nil)
	_ Recorder = Nop{}
)
