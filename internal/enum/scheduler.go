// Package enum implements the Enumeration Scheduler (spec §4.6): a
// self-rescheduling timer that runs users-then-groups full sweeps against
// the directory, advancing per-kind modification-timestamp watermarks,
// with a hard per-run timeout and immediate reschedule on failure or
// timeout.
package enum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smnsjas/go-identd/internal/cache"
	"github.com/smnsjas/go-identd/internal/clockutil"
	"github.com/smnsjas/go-identd/internal/dirconn"
	"github.com/smnsjas/go-identd/internal/idgen"
	"github.com/smnsjas/go-identd/internal/obslog"
	"github.com/smnsjas/go-identd/internal/sched"
)

// Phase identifies which half of a sweep is running.
type Phase int

const (
	PhaseUsers Phase = iota
	PhaseGroups
)

// Config holds the per-kind schema the scheduler needs to build filters
// and materialize results into the local cache.
type Config struct {
	Enabled        bool
	RefreshTimeout time.Duration

	UserBaseDN      string
	UserNameAttr    string
	UserObjectClass string
	UserModstamp    string

	GroupBaseDN      string
	GroupNameAttr    string
	GroupObjectClass string
	GroupModstamp    string

	// UserAttrs and GroupAttrs are the schema-mapped attribute lists
	// requested for each phase's sweep, built the same objectClass-first
	// way the identity dispatcher builds its own attribute lists (§4.5).
	UserAttrs  []string
	GroupAttrs []string
}

type phaseFunc func(ctx context.Context, phase Phase, watermark string) (highest string, err error)

// Scheduler drives one backend's enumeration sweeps.
type Scheduler struct {
	cfg    Config
	conn   *dirconn.Manager
	store  cache.Store
	loop   *sched.Loop
	clock  clockutil.Clock
	logger *slog.Logger

	runPhase phaseFunc
	runSeq   idgen.Sequence

	mu             sync.Mutex
	generation     int
	userWatermark  string
	groupWatermark string
	lastRun        time.Time
}

// New creates a Scheduler. Call Start to install the initial "now" run.
func New(cfg Config, conn *dirconn.Manager, store cache.Store, loop *sched.Loop, clock clockutil.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockutil.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{cfg: cfg, conn: conn, store: store, loop: loop, clock: clock, logger: logger}
	s.runPhase = s.defaultRunPhase
	return s
}

// Start schedules the initial run for "now" (§4.6). It is infallible
// given Go's time.AfterFunc never fails to register a timer; a real
// reimplementation whose scheduler primitive CAN fail at install time
// should treat that as the fatal startup condition §4.6 calls for.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.loop.AfterFunc(0, s.runIteration)
	return nil
}

// UserWatermark returns the current user high-watermark, for tests and
// diagnostics.
func (s *Scheduler) UserWatermark() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userWatermark
}

// GroupWatermark returns the current group high-watermark.
func (s *Scheduler) GroupWatermark() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupWatermark
}

func (s *Scheduler) runIteration() {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.lastRun = s.clock.Now()
	lastRun := s.lastRun
	s.mu.Unlock()

	runNum := s.runSeq.Next()
	timer := s.loop.AfterFunc(s.cfg.RefreshTimeout, func() { s.onTimeout(gen, runNum) })

	go func() {
		err := s.sweep(gen)
		s.loop.Post(func() { s.onSweepDone(gen, runNum, lastRun, timer, err) })
	}()
}

// sweep runs users-then-groups in sequence (§4.6, §5: "serialises
// users-before-groups within one iteration").
func (s *Scheduler) sweep(gen int) error {
	if err := s.runOnePhase(gen, PhaseUsers); err != nil {
		return fmt.Errorf("users phase: %w", err)
	}
	if err := s.runOnePhase(gen, PhaseGroups); err != nil {
		return fmt.Errorf("groups phase: %w", err)
	}
	return nil
}

func (s *Scheduler) runOnePhase(gen int, phase Phase) error {
	watermark := s.watermark(phase)
	highest, err := s.runPhase(context.Background(), phase, watermark)
	if err != nil {
		return err
	}
	s.advanceWatermark(gen, phase, highest)
	return nil
}

// onTimeout implements the hard-timeout tear-down: if the run identified
// by gen is still the current one, abandon it and schedule a fresh run
// for "now" rather than last_run (§4.6). Advancing the generation here
// means the abandoned sweep's eventual onSweepDone (and any watermark
// write still in flight inside it) becomes a no-op.
func (s *Scheduler) onTimeout(gen int, runNum int64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.mu.Unlock()

	s.logger.Warn("enumeration run timed out, abandoning", slog.Duration("timeout", s.cfg.RefreshTimeout))
	s.logEnum(runNum, obslog.OutcomeFailure, obslog.SeverityWarning, map[string]any{"reason": "timeout"})
	s.loop.AfterFunc(0, s.runIteration)
}

// onSweepDone implements the success/failure reschedule rule: steady
// cadence (last_run + refresh_timeout) on success, immediate "now" on
// failure. It is a no-op if the run was already torn down by onTimeout.
func (s *Scheduler) onSweepDone(gen int, runNum int64, lastRun time.Time, timer *time.Timer, err error) {
	timer.Stop()

	s.mu.Lock()
	current := s.generation
	s.mu.Unlock()
	if current != gen {
		return
	}

	if err != nil {
		s.logger.Warn("enumeration run failed", slog.String("error", err.Error()))
		s.logEnum(runNum, obslog.OutcomeFailure, obslog.SeverityWarning, map[string]any{"reason": err.Error()})
		s.loop.AfterFunc(0, s.runIteration)
		return
	}

	s.logEnum(runNum, obslog.OutcomeSuccess, obslog.SeverityInfo, map[string]any{
		"user_watermark":  s.UserWatermark(),
		"group_watermark": s.GroupWatermark(),
	})

	delay := lastRun.Add(s.cfg.RefreshTimeout).Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.loop.AfterFunc(delay, s.runIteration)
}

// logEnum emits one LogEnumeration security event for run runNum, the
// sequence number idgen.Sequence assigned this iteration in runIteration.
func (s *Scheduler) logEnum(runNum int64, outcome, severity string, details map[string]any) {
	details["run"] = runNum
	obslog.NewSecurityLogger(s.logger, "").LogEnumeration(obslog.SubtypeEnumRun, outcome, severity, details)
}

func (s *Scheduler) watermark(phase Phase) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phase == PhaseGroups {
		return s.groupWatermark
	}
	return s.userWatermark
}

// advanceWatermark replaces the phase's watermark with highest, but only
// if highest is non-empty, strictly greater than the current value (never
// rewound, §3), and the run identified by gen has not been torn down.
func (s *Scheduler) advanceWatermark(gen int, phase Phase, highest string) {
	if highest == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	if phase == PhaseGroups {
		if highest > s.groupWatermark {
			s.groupWatermark = highest
		}
		return
	}
	if highest > s.userWatermark {
		s.userWatermark = highest
	}
}

func (s *Scheduler) phaseSchema(phase Phase) (baseDN, nameAttr, objectClass, modstampAttr string, attrs []string) {
	if phase == PhaseGroups {
		return s.cfg.GroupBaseDN, s.cfg.GroupNameAttr, s.cfg.GroupObjectClass, s.cfg.GroupModstamp, s.cfg.GroupAttrs
	}
	return s.cfg.UserBaseDN, s.cfg.UserNameAttr, s.cfg.UserObjectClass, s.cfg.UserModstamp, s.cfg.UserAttrs
}

// defaultRunPhase queries the directory for one phase and materializes
// results into the local cache, returning the highest modification
// timestamp observed.
func (s *Scheduler) defaultRunPhase(ctx context.Context, phase Phase, watermark string) (string, error) {
	if s.conn.IsOffline() {
		return "", errors.New("enum: backend offline")
	}

	handle, err := s.conn.EnsureConnected(ctx)
	if err != nil {
		return "", err
	}

	baseDN, nameAttr, objectClass, modstampAttr, attrs := s.phaseSchema(phase)
	filter := buildEnumFilter(nameAttr, objectClass, modstampAttr, watermark)

	// The loop below reads nameAttr and modstampAttr off every result, so
	// an explicit attribute list must request them as well.
	if len(attrs) > 0 {
		attrs = append([]string(nil), attrs...)
		for _, a := range []string{nameAttr, modstampAttr} {
			if a != "" && !slices.Contains(attrs, a) {
				attrs = append(attrs, a)
			}
		}
	}

	results, err := handle.Search(ctx, baseDN, filter, attrs, 0)
	if err != nil {
		return "", err
	}

	highest := watermark
	for _, r := range results {
		acct := cache.Account{}
		if vs := r.Attributes[nameAttr]; len(vs) > 0 {
			acct.Name = vs[0]
		}
		if vs := r.Attributes[modstampAttr]; len(vs) > 0 {
			acct.ModStamp = vs[0]
			if acct.ModStamp > highest {
				highest = acct.ModStamp
			}
		}
		if err := s.store.UpsertAccount(ctx, acct); err != nil {
			return "", fmt.Errorf("cache upsert: %w", err)
		}
	}
	return highest, nil
}

// buildEnumFilter builds the per-phase filter (§4.6): a full sweep when
// watermark is unset, or a "strictly greater than" incremental filter
// otherwise.
func buildEnumFilter(nameAttr, objectClass, modstampAttr, watermark string) string {
	if watermark == "" {
		return fmt.Sprintf("(&(%s=*)(objectclass=%s))", nameAttr, objectClass)
	}
	return fmt.Sprintf("(&(%s=*)(objectclass=%s)(%s>=%s)(!(%s=%s)))",
		nameAttr, objectClass, modstampAttr, watermark, modstampAttr, watermark)
}
