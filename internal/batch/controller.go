// Package batch implements the concurrency-limited scheduling loop that
// multiplexes per-molecule pipelines under a global cap, persists progress
// to the status store, and raises alerts for stalls and failures.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/photonlab/phosflow/internal/alert"
	"github.com/photonlab/phosflow/internal/config"
	"github.com/photonlab/phosflow/internal/logging"
	"github.com/photonlab/phosflow/internal/pipeline"
	"github.com/photonlab/phosflow/internal/store"
)

// timeoutAlertMarker is appended to a stalled molecule's remark so the
// same stall episode alerts only once.
const timeoutAlertMarker = "[Timeout Alert Sent]"

// FlowFactory builds the pipeline engine for one molecule. Swapped out in
// tests for engines with fake submitters.
type FlowFactory func(name, xyzPath string) (*pipeline.Flow, error)

// Controller is the outer scheduling loop. It is the sole writer of the
// status store and holds no molecule state of its own: everything it
// needs is reconstructed each cycle from the store and the working trees.
type Controller struct {
	cfg      *config.Config
	store    *store.Store
	notifier *alert.Notifier
	logger   *logging.Logger
	newFlow  FlowFactory
	now      func() time.Time

	idleStreak int
	idleLogged bool
}

// Option adjusts a Controller at construction.
type Option func(*Controller)

// WithFlowFactory replaces the pipeline engine constructor.
func WithFlowFactory(fn FlowFactory) Option {
	return func(c *Controller) { c.newFlow = fn }
}

// WithNotifier replaces the alert sink.
func WithNotifier(n *alert.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller, loads the status store, and ensures the
// source and results directories exist.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:      cfg,
		store:    store.New(cfg.StatusFile),
		notifier: alert.NewNotifier(cfg.WebhookURL, cfg.AlertsEnabled, logger),
		logger:   logger,
		now:      time.Now,
	}
	c.newFlow = func(name, xyzPath string) (*pipeline.Flow, error) {
		return pipeline.NewFlow(name, xyzPath, cfg.ResultsDir, logger)
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load status store: %w", err)
	}
	for _, dir := range []string{cfg.SourceDir, cfg.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return c, nil
}

// Store exposes the status store.
func (c *Controller) Store() *store.Store {
	return c.store
}

// Run loops RunCycle at the configured poll interval until the context is
// cancelled or, with auto-exit enabled, the idle-cycle threshold is
// reached. It always runs one cycle immediately.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Int("max_concurrent", c.cfg.MaxConcurrent).
		Dur("poll_interval", c.cfg.PollInterval).
		Msg("Batch controller started")

	if done := c.cycleAndCheckExit(ctx); done {
		return nil
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Batch controller stopping")
			return ctx.Err()
		case <-ticker.C:
			if done := c.cycleAndCheckExit(ctx); done {
				return nil
			}
		}
	}
}

func (c *Controller) cycleAndCheckExit(ctx context.Context) bool {
	idle := c.RunCycle(ctx)

	if !idle {
		c.idleStreak = 0
		c.idleLogged = false
		return false
	}

	c.idleStreak++
	if !c.idleLogged {
		c.logger.Info().Msg("No active molecules, waiting for new structure files")
		c.idleLogged = true
	}
	if c.cfg.AutoExit && c.idleStreak >= c.cfg.IdleCycles {
		c.logger.Info().Int("idle_cycles", c.idleStreak).Msg("Idle threshold reached, shutting down")
		c.saveStore()
		return true
	}
	return false
}

// RunCycle performs one full scheduling pass: discover new molecules,
// admit pending ones up to the concurrency cap, advance every active
// pipeline, persist the store, and run the stall watchdog. It reports
// whether the cycle was idle (nothing RUNNING after admission).
func (c *Controller) RunCycle(ctx context.Context) bool {
	c.logger.Debug().Msg("Starting schedule cycle")

	c.scanNewMolecules()
	c.admitPending()

	running := c.store.Count(store.StatusRunning)
	c.logger.Debug().Int("active", running).Int("limit", c.cfg.MaxConcurrent).Msg("Slot usage")

	active := c.store.SortedNamesByStatus(store.StatusRunning)
	active = append(active, c.store.SortedNamesByStatus(store.StatusError)...)

	for _, name := range active {
		c.processMolecule(ctx, name)
	}

	c.saveStore()
	c.runWatchdog()

	return c.store.Count(store.StatusRunning) == 0
}

// scanNewMolecules registers structure files not yet present in the
// store.
func (c *Controller) scanNewMolecules() {
	paths, err := filepath.Glob(filepath.Join(c.cfg.SourceDir, "*.xyz"))
	if err != nil {
		c.logger.Error().Err(err).Msg("Source directory scan failed")
		return
	}

	newCount := 0
	for _, p := range paths {
		name := stem(p)
		if name == "" || c.store.Has(name) {
			continue
		}
		c.store.Put(store.Record{
			Name:         name,
			Status:       store.StatusPending,
			CurrentStage: "Init",
			LastUpdated:  c.now().Format(store.TimeLayout),
			Remark:       "Newly added",
		})
		newCount++
	}
	if newCount > 0 {
		c.logger.Info().Int("count", newCount).Msg("New molecules discovered")
		c.saveStore()
	}
}

// admitPending promotes pending molecules to RUNNING in discovery order
// while slots remain under the concurrency cap.
func (c *Controller) admitPending() {
	slots := c.cfg.MaxConcurrent - c.store.Count(store.StatusRunning)
	if slots <= 0 {
		return
	}

	pending := c.store.NamesByStatus(store.StatusPending)
	for _, name := range pending {
		if slots == 0 {
			return
		}
		stamp := c.now().Format(store.TimeLayout)
		c.store.Update(name, func(r *store.Record) {
			r.Status = store.StatusRunning
			r.Remark = "Activated"
			r.StartTime = stamp
			r.LastUpdated = stamp
		})
		c.logger.Info().Str("molecule", name).Msg("Molecule activated")
		slots--
	}
}

// processMolecule classifies and advances one active molecule. All
// failures are absorbed into the record and the alert sink; the cycle
// continues regardless.
func (c *Controller) processMolecule(ctx context.Context, name string) {
	defer func() {
		if r := recover(); r != nil {
			c.recordError(name, fmt.Errorf("panic: %v", r))
		}
	}()

	xyzPath := filepath.Join(c.cfg.SourceDir, name+".xyz")

	if _, err := os.Stat(xyzPath); err != nil {
		c.logger.Warn().Str("molecule", name).Msg("Source structure file missing")
		c.setOutcome(name, store.StatusFailed, "", "XYZ Missing")
		c.notifier.Send("Source File Missing", fmt.Sprintf("Structure file lost: %s.xyz", name))
		return
	}

	flow, err := c.newFlow(name, xyzPath)
	if err != nil {
		c.recordError(name, err)
		return
	}

	switch {
	case flow.Failed():
		prev, _ := c.store.Get(name)
		c.setOutcome(name, store.StatusFailed, "", "Fatal Error")
		// The status transition gates the alert, so a molecule that is
		// already FAILED does not re-alert every cycle.
		if prev.Status != store.StatusFailed {
			c.notifier.Send(
				fmt.Sprintf("Calculation Failed: %s", name),
				fmt.Sprintf("Reason: %s", alert.Tail(flow.FatalLog(), 200)),
			)
		}

	case flow.Completed():
		c.setOutcome(name, store.StatusCompleted, "Finished", "PLQY Report Generated")

	default:
		if err := flow.Advance(ctx); err != nil {
			c.recordError(name, err)
			return
		}
		// A successful pass re-promotes an ERROR molecule, but only into
		// a free slot: if admission already refilled its slot, it waits
		// as PENDING so count(RUNNING) never exceeds the cap.
		status := store.StatusRunning
		if prev, _ := c.store.Get(name); prev.Status == store.StatusError &&
			c.store.Count(store.StatusRunning) >= c.cfg.MaxConcurrent {
			status = store.StatusPending
		}
		c.setOutcome(name, status, flow.CurrentStage(), "Processing")
	}
}

func (c *Controller) recordError(name string, err error) {
	c.logger.Error().Err(err).Str("molecule", name).Msg("Pipeline advance failed")
	c.setOutcome(name, store.StatusError, "", alert.Truncate(err.Error(), 50))
	c.notifier.Send(
		fmt.Sprintf("Pipeline Error: %s", name),
		fmt.Sprintf("Uncaught error: %s", err),
	)
}

// setOutcome applies a cycle's classification to a record. Last_Updated
// advances only when the status or stage label actually changed, so the
// stall watchdog measures real progress rather than loop activity.
func (c *Controller) setOutcome(name, status, stage, remark string) {
	stamp := c.now().Format(store.TimeLayout)
	c.store.Update(name, func(r *store.Record) {
		progressed := r.Status != status || (stage != "" && r.CurrentStage != stage)
		r.Status = status
		if stage != "" {
			r.CurrentStage = stage
		}
		// A stall marker survives remark rewrites until the molecule
		// progresses; progress starts a fresh stall episode.
		if !progressed && strings.Contains(r.Remark, timeoutAlertMarker) {
			remark += " " + timeoutAlertMarker
		}
		r.Remark = remark
		if progressed || r.LastUpdated == "" {
			r.LastUpdated = stamp
		}
	})
}

// runWatchdog alerts once per stall episode: a RUNNING molecule whose
// last recorded progress is older than the timeout threshold gets one
// alert and a remark marker that suppresses repeats.
func (c *Controller) runWatchdog() {
	threshold := c.cfg.TimeoutThreshold
	now := c.now()

	for _, rec := range c.store.All() {
		if rec.Status != store.StatusRunning {
			continue
		}
		last, err := time.Parse(store.TimeLayout, rec.LastUpdated)
		if err != nil {
			continue
		}
		stalled := now.Sub(last)
		if stalled <= threshold {
			continue
		}
		if strings.Contains(rec.Remark, timeoutAlertMarker) {
			continue
		}

		c.logger.Warn().Str("molecule", rec.Name).
			Float64("stalled_hours", stalled.Hours()).Msg("Molecule appears stalled")
		c.notifier.Send(
			"Task Timeout Warning",
			fmt.Sprintf("Molecule %s has been stuck for %.1f hours.\nCurrent stage: %s",
				rec.Name, stalled.Hours(), rec.CurrentStage),
		)
		c.store.Update(rec.Name, func(r *store.Record) {
			r.Remark += " " + timeoutAlertMarker
		})
	}
}

func (c *Controller) saveStore() {
	if err := c.store.Save(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist status store")
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
