package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/photonlab/phosflow/internal/gaussian"
	"github.com/photonlab/phosflow/internal/orca"
	"github.com/photonlab/phosflow/internal/slurm"
)

// Advance runs one idempotent pass over the molecule's stage machine. It
// submits at most what the on-disk evidence allows, never blocks on the
// external jobs, and is a no-op once the molecule is fatal or complete.
// Returned errors are unclassified failures for the batch layer to record;
// domain failures are absorbed into the fatal-error log.
func (f *Flow) Advance(ctx context.Context) error {
	if f.Failed() {
		return nil
	}

	s0OK, err := f.gaussianCycle(ctx, stateS0)
	if err != nil || !s0OK {
		return err
	}

	s1OK, err := f.gaussianCycle(ctx, stateS1)
	if err != nil || f.Failed() {
		return err
	}
	t1OK, err := f.gaussianCycle(ctx, stateT1)
	if err != nil || f.Failed() {
		return err
	}

	if s1OK && t1OK {
		if err := f.handleOrca(ctx); err != nil {
			return err
		}
	}

	// Kr and Kisc need S0, T1 and the coupling calculation; Kic needs S0
	// and S1 only. The branches progress independently.
	for _, branch := range []rateBranch{branchKr, branchKisc, branchKic} {
		if !f.gateOpen(branch) {
			continue
		}
		if err := f.handleRateBranch(ctx, branch); err != nil {
			return err
		}
		if f.Failed() {
			return nil
		}
	}

	if f.done(StageKr) && f.done(StageKisc) && f.done(StageKic) {
		return f.runFinalAnalysis()
	}
	return nil
}

// gateOpen reports whether every upstream stage of a rate branch carries a
// completion marker.
func (f *Flow) gateOpen(branch rateBranch) bool {
	for _, dep := range branch.Upstream() {
		if !f.done(dep) {
			return false
		}
	}
	return true
}

// gaussianCycle drives one electronic state through optimize, frequency,
// and the imaginary-mode acceptance check. It returns true only when the
// state's frequency result has passed validation.
func (f *Flow) gaussianCycle(ctx context.Context, state geometryState) (bool, error) {
	optDir := f.dirs[state.optKey]
	freqDir := f.dirs[state.freqKey]
	optLog := f.stageLog(state.optKey)
	freqLog := f.stageLog(state.freqKey)

	if !f.done(state.optKey) {
		keywords := routeKeywords[state.optKey]
		if fileExists(filepath.Join(optDir, RetryCalcallMarker)) {
			f.logger.Info().Str("molecule", f.Name).Str("stage", string(state.optKey)).
				Msg("Resubmitting with opt=calcall")
			keywords = gaussian.RetryKeywords(keywords)
		}
		return false, f.runOptStep(ctx, state, keywords)
	}

	if !gaussian.NormalTermination(optLog) {
		f.markFatal(fmt.Sprintf("%s terminated abnormally. See log: %s", state.optKey, optLog))
		return false, nil
	}

	if !f.done(state.freqKey) {
		return false, f.runFreqStep(ctx, state)
	}

	if !gaussian.NormalTermination(freqLog) {
		f.markFatal(fmt.Sprintf("%s terminated abnormally. See log: %s", state.freqKey, freqLog))
		return false, nil
	}

	hasImag, imagVals, err := gaussian.ImaginaryFrequencies(freqLog)
	if err != nil {
		return false, err
	}
	if !hasImag {
		return true, nil
	}

	f.logger.Warn().Str("molecule", f.Name).Str("stage", string(state.freqKey)).
		Floats64("modes", imagVals).Msg("Imaginary frequencies found")

	if fileExists(filepath.Join(optDir, RetryCalcallMarker)) {
		f.markFatal(fmt.Sprintf("%s failed convergence (imaginary frequency after opt=calcall retry)", state.label))
		return false, nil
	}

	elapsed := gaussian.ElapsedHours(freqLog)
	if elapsed >= retryBudgetHours {
		f.markFatal(fmt.Sprintf("%s imaginary frequency; run took %.2f h, over the %.0f h retry budget", state.label, elapsed, retryBudgetHours))
		return false, nil
	}

	f.logger.Info().Str("molecule", f.Name).Str("stage", string(state.optKey)).
		Float64("elapsed_hours", elapsed).Msg("Triggering re-optimization with opt=calcall")
	f.triggerRetry(optDir, freqDir)
	return false, nil
}

// runOptStep prepares and submits an optimization job. Re-entering while a
// submission record exists with no completion marker is a no-op, so
// repeated Advance calls cannot duplicate a submission.
func (f *Flow) runOptStep(ctx context.Context, state geometryState, keywords string) error {
	dir := f.dirs[state.optKey]
	if f.submitted(state.optKey) && !f.done(state.optKey) {
		return nil
	}

	jobName := f.jobName(state.optKey)
	f.logger.Info().Str("molecule", f.Name).Str("job", jobName).Msg("Preparing optimization")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}

	var coords string
	var err error
	if state.fromXYZ {
		coords, err = gaussian.ReadXYZCoords(f.XYZPath)
	} else {
		coords, err = f.extractGeom(ctx, f.stageLog(StageS0Opt), dir)
	}
	if err != nil {
		f.markFatal(fmt.Sprintf("failed to extract coordinates for %s: %v", state.optKey, err))
		return nil
	}

	if err := gaussian.WriteInput(dir, gaussian.InputParams{
		JobName:  jobName,
		Coords:   coords,
		Charge:   state.charge,
		Spin:     state.spin,
		Keywords: keywords,
		Nproc:    f.env.Nproc,
		Mem:      gaussianMem,
	}); err != nil {
		return err
	}
	if err := slurm.WriteGaussianScript(f.env, dir, jobName); err != nil {
		return err
	}
	return f.submit(ctx, dir)
}

// runFreqStep prepares and submits a frequency job seeded with the
// optimization checkpoint and geometry. When the checkpoint or log is not
// back from the cluster yet, it waits for a later cycle.
func (f *Flow) runFreqStep(ctx context.Context, state geometryState) error {
	dir := f.dirs[state.freqKey]
	if f.submitted(state.freqKey) && !f.done(state.freqKey) {
		return nil
	}

	jobName := f.jobName(state.freqKey)
	f.logger.Info().Str("molecule", f.Name).Str("job", jobName).Msg("Preparing frequency calculation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}

	optChk := filepath.Join(f.dirs[state.optKey], f.jobName(state.optKey)+".chk")
	if !fileExists(optChk) {
		f.logger.Debug().Str("molecule", f.Name).Str("path", optChk).Msg("Waiting for optimization checkpoint")
		return nil
	}
	if err := copyFile(optChk, filepath.Join(dir, jobName+".chk")); err != nil {
		return fmt.Errorf("failed to copy checkpoint: %w", err)
	}

	optLog := f.stageLog(state.optKey)
	if !fileExists(optLog) {
		f.logger.Debug().Str("molecule", f.Name).Str("path", optLog).Msg("Waiting for optimization log")
		return nil
	}

	coords, err := f.extractGeom(ctx, optLog, dir)
	if err != nil {
		f.markFatal(fmt.Sprintf("failed to extract coordinates from %s: %v", state.optKey, err))
		return nil
	}

	keywords := routeKeywords[state.freqKey]
	keywords = strings.ReplaceAll(keywords, "geom=allcheck", "")
	keywords = strings.ReplaceAll(keywords, "geom=check", "")

	if err := gaussian.WriteInput(dir, gaussian.InputParams{
		JobName:  jobName,
		Coords:   coords,
		Charge:   state.charge,
		Spin:     state.spin,
		Keywords: keywords,
		Nproc:    f.env.Nproc,
		Mem:      gaussianMem,
	}); err != nil {
		return err
	}
	if err := slurm.WriteGaussianScript(f.env, dir, jobName); err != nil {
		return err
	}
	return f.submit(ctx, dir)
}

// triggerRetry spends the single calcall retry for a geometry state:
// flag it, back up the rejected logs, drop the regenerable checkpoints and
// clear both completion markers and submission records so the pair
// resubmits on the next pass.
func (f *Flow) triggerRetry(optDir, freqDir string) {
	marker := filepath.Join(optDir, RetryCalcallMarker)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		f.logger.Error().Err(err).Str("path", marker).Msg("Failed to create retry marker")
		return
	}

	for _, dir := range []string{optDir, freqDir} {
		if !fileExists(dir) {
			continue
		}
		os.Remove(filepath.Join(dir, slurm.DoneMarker))
		os.Remove(filepath.Join(dir, slurm.ScriptName))

		logs, _ := filepath.Glob(filepath.Join(dir, f.Name+"_*.log"))
		for _, logFile := range logs {
			bak := logFile + ".bak"
			os.Remove(bak)
			if err := os.Rename(logFile, bak); err != nil {
				f.logger.Warn().Err(err).Str("path", logFile).Msg("Failed to back up rejected log")
			}
		}

		chks, _ := filepath.Glob(filepath.Join(dir, "*.chk"))
		for _, chk := range chks {
			if err := os.Remove(chk); err != nil {
				f.logger.Warn().Err(err).Str("path", chk).Msg("Failed to delete checkpoint")
			}
		}
	}
}

// handleOrca prepares and submits the spin-orbit-coupling job at the T1
// geometry once the S1 and T1 cycles have passed.
func (f *Flow) handleOrca(ctx context.Context) error {
	dir := f.dirs[StageOrca]
	if f.done(StageOrca) || f.submitted(StageOrca) {
		return nil
	}

	t1Log := f.stageLog(StageT1Opt)
	if !fileExists(t1Log) {
		return nil
	}

	f.logger.Info().Str("molecule", f.Name).Msg("Preparing ORCA SOC calculation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}

	coords, err := f.extractGeom(ctx, t1Log, dir)
	if err != nil {
		f.logger.Error().Err(err).Str("molecule", f.Name).Msg("Failed to extract T1 geometry for ORCA")
		return nil
	}

	if err := orca.WriteInput(dir, coords, 8000); err != nil {
		return err
	}
	if err := slurm.WriteOrcaScript(f.env, dir, f.jobName(StageOrca), orca.InputFile); err != nil {
		return err
	}
	return f.submit(ctx, dir)
}

func (f *Flow) submit(ctx context.Context, dir string) error {
	f.logger.Info().Str("molecule", f.Name).Str("dir", dir).Msg("Submitting to queue")
	if err := f.submitter.Submit(ctx, dir); err != nil {
		return fmt.Errorf("submission failed: %w", err)
	}
	return nil
}
