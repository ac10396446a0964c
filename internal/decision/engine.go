package decision

import (
	"sync"
	"time"
)

type LinkState string

const (
	LinkLive     LinkState = "LINK_LIVE"
	LinkDegraded LinkState = "LINK_DEGRADED"
	LinkLost     LinkState = "LINK_LOST"
)

// Gauge maps the state onto the dashline_link_state metric.
func (s LinkState) Gauge() float64 {
	switch s {
	case LinkDegraded:
		return 1
	case LinkLost:
		return 2
	}
	return 0
}

type ThresholdConfig struct {
	FailCount int           // consecutive failures before LIVE -> DEGRADED
	LostAfter time.Duration // time without a good snapshot before LOST
	Cooldown  time.Duration // minimum time between LIVE/DEGRADED flips
}

// DecisionEngine tracks whether the telemetry source is still feeding us.
type DecisionEngine struct {
	mu sync.Mutex

	state LinkState

	failures       int
	lastGood       time.Time
	lastSwitchTime time.Time

	cfg ThresholdConfig
	now func() time.Time
}

func NewEngine(cfg ThresholdConfig) *DecisionEngine {
	return newEngineAt(cfg, time.Now)
}

func newEngineAt(cfg ThresholdConfig, now func() time.Time) *DecisionEngine {
	if cfg.FailCount < 1 {
		cfg.FailCount = 1
	}
	return &DecisionEngine{
		state:    LinkLive,
		lastGood: now(),
		cfg:      cfg,
		now:      now,
	}
}

// Evaluate records the outcome of one poll and returns the resulting state.
func (e *DecisionEngine) Evaluate(ok bool) LinkState {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if ok {
		e.failures = 0
		e.lastGood = now
		if e.state == LinkLost || now.Sub(e.lastSwitchTime) >= e.cfg.Cooldown {
			e.switchTo(LinkLive, now)
		}
		return e.state
	}

	e.failures++

	if e.cfg.LostAfter > 0 && now.Sub(e.lastGood) >= e.cfg.LostAfter {
		e.switchTo(LinkLost, now)
		return e.state
	}

	// Prevent flapping, allow stabilization
	if e.state == LinkLive && e.failures >= e.cfg.FailCount && now.Sub(e.lastSwitchTime) >= e.cfg.Cooldown {
		e.switchTo(LinkDegraded, now)
	}
	return e.state
}

// State returns the current state without recording anything.
func (e *DecisionEngine) State() LinkState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *DecisionEngine) switchTo(s LinkState, now time.Time) {
	if e.state == s {
		return
	}
	e.state = s
	e.lastSwitchTime = now
}
