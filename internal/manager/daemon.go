// Package manager implements the Manager Daemon: a single long-lived
// reconciliation loop that wakes on a configurable interval and runs a
// fixed-order sequence of checks over live agents, stories, and pull
// requests (spec §4.3). Every check follows the phase-1-read /
// phase-2-I-O / phase-3-write pattern: external probes (session capture,
// VCS/PM calls) happen outside database locks, and database mutations are
// done in short enclosed transactions.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hive/internal/connectors"
	"hive/internal/metrics"
	"hive/internal/notify"
	"hive/internal/scheduler"
	"hive/internal/session"
	"hive/internal/store"
)

// Config carries the Manager Daemon's tunables, all spec-named defaults.
type Config struct {
	FastPollInterval     time.Duration // default tick cadence
	StaleThreshold        time.Duration // last_seen age beyond which an agent is unresponsive (4.3.1)
	StaticInactivityMs    time.Duration // 4.3.2 idle/unknown nudge window
	NudgeCooldown         time.Duration // 4.3.2a
	EscalationCooldown    time.Duration // 4.3.2 dedup window
	StuckThreshold        time.Duration // 4.3.3 estimated->planned stall window
	HandoffRetryDelay     time.Duration // 4.3.3 PROACTIVE_HANDOFF_RETRY_DELAY_MS
	DrainInterval         time.Duration // 4.3.4 drain wait before kill
	CaptureLines          int
	WorktreeRoot          string // root directory orphan cleanup scans for stale worktrees/locks
}

// DefaultConfig returns the documented defaults (spec §4.3, §9).
func DefaultConfig() Config {
	return Config{
		FastPollInterval:   5 * time.Second,
		StaleThreshold:     2 * time.Minute,
		StaticInactivityMs: 90 * time.Second,
		NudgeCooldown:      2 * time.Minute,
		EscalationCooldown: 10 * time.Minute,
		StuckThreshold:     10 * time.Minute,
		HandoffRetryDelay:  5 * time.Minute,
		DrainInterval:      10 * time.Second,
		CaptureLines:       120,
	}
}

// sessionTrack is the in-memory bookkeeping the stuck/nudge/escalate check
// keeps per live session; it has no durable counterpart (spec §4.3.2
// tracks "unchanged for Δ ms" in memory, not in the store).
type sessionTrack struct {
	lastOutput     string
	unchangedSince time.Time
	lastNudge      time.Time
	completionSent bool
}

// handoffTrack is the per-requirement bookkeeping the stalled-planning
// check keeps for its two-stage signature policy (spec §4.3.3).
type handoffTrack struct {
	signature string
	firstSeen time.Time
	nudged    bool
}

// Daemon is the Manager Daemon. One Daemon owns one store, one session
// supervisor, and the in-memory trackers its checks require.
type Daemon struct {
	store      *store.Store
	supervisor session.Supervisor
	scheduler  *scheduler.Scheduler
	vcs        connectors.VCS
	pm         connectors.PM
	metrics    *metrics.Metrics
	notifier   notify.Notifier
	cfg        Config
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionTrack
	handoffs map[string]*handoffTrack
	signoffs map[string]bool // feature_test agent id -> its sign-off verdict already acted on
}

// New builds a Manager Daemon. vcs and pm may be nil; checks that need them
// degrade to a logged no-op (spec §4.6: connector absence is never fatal).
// A nil notifier defaults to notify.NopNotifier.
func New(st *store.Store, sup session.Supervisor, sched *scheduler.Scheduler, vcs connectors.VCS, pm connectors.PM, m *metrics.Metrics, notifier notify.Notifier, cfg Config, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Daemon{
		store:      st,
		supervisor: sup,
		scheduler:  sched,
		vcs:        vcs,
		pm:         pm,
		metrics:    m,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		sessions:   make(map[string]*sessionTrack),
		handoffs:   make(map[string]*handoffTrack),
		signoffs:   make(map[string]bool),
	}
}

// Run blocks, ticking every cfg.FastPollInterval until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.FastPollInterval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// checkFunc is one named, independently-recoverable check in the tick.
type checkFunc struct {
	name string
	run  func(context.Context) error
}

// Tick runs every check exactly once, in the fixed order spec §4.3
// mandates. A failing check is logged and skipped; it never aborts the
// remaining checks in the tick (spec §7: a failure in one check does not
// abort the tick).
func (d *Daemon) Tick(ctx context.Context) {
	checks := []checkFunc{
		{"liveness", d.checkLiveness},
		{"stuck_nudge_escalate", d.checkStuckNudgeEscalate},
		{"stalled_planning_handoff", d.checkStalledPlanningHandoff},
		{"spin_down", d.checkSpinDown},
		{"approved_pr_merge", d.checkApprovedPRMerge},
		{"orphaned_reviewer", d.checkOrphanedReviewer},
		{"feature_signoff", d.checkFeatureSignOff},
		{"orphan_cleanup", d.checkOrphanCleanup},
		{"pm_sync", d.checkPMSync},
	}

	for _, c := range checks {
		result := "ok"
		if err := c.run(ctx); err != nil {
			d.log.Warn("manager: check failed", "check", c.name, "error", err)
			result = "error"
		}
		if d.metrics != nil {
			d.metrics.ManagerTicks.WithLabelValues(c.name, result).Inc()
		}
	}
}

// liveSessionSet asks the Session Supervisor for every hive-managed
// session still running (the authoritative "session exists" source, spec
// §4.3.1).
func (d *Daemon) liveSessionSet(ctx context.Context) (map[string]bool, error) {
	sessions, err := d.supervisor.ListHiveSessions()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		set[s.Name] = true
	}
	return set, nil
}
