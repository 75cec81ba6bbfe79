package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/photonlab/phosflow/internal/gaussian"
	"github.com/photonlab/phosflow/internal/momap"
	"github.com/photonlab/phosflow/internal/orca"
	"github.com/photonlab/phosflow/internal/slurm"
)

// handleRateBranch drives one MOMAP stage through its two sub-stages:
// first the EVC mode-overlap run, validated against the reorganization
// energies, then the rate calculation proper seeded with the molecule's
// energy gap and, where needed, the ORCA couplings. Sub-stage progress is
// tracked with the evc.done artifact: while it is absent the directory
// belongs to the EVC run, afterwards to the rate run.
func (f *Flow) handleRateBranch(ctx context.Context, branch rateBranch) error {
	dir := f.dirs[branch.key]

	if _, err := momap.ReadSelectedDSFile(dir); err != nil {
		return f.handleEVC(ctx, branch)
	}
	return f.handleRateJob(ctx, branch)
}

// handleEVC runs the EVC sub-stage. An internal-coordinate failure is
// retried once in Cartesian coordinates; any other MOMAP error, or
// over-threshold reorganization energies, halts the molecule.
func (f *Flow) handleEVC(ctx context.Context, branch rateBranch) error {
	dir := f.dirs[branch.key]

	switch momap.CheckErrFile(dir) {
	case momap.ErrCoordinate:
		if fileExists(filepath.Join(dir, RetryCartMarker)) {
			f.markFatal(fmt.Sprintf("%s EVC failed in Cartesian coordinates as well. See %s", branch.key, filepath.Join(dir, momap.ErrFile)))
			return nil
		}
		f.logger.Warn().Str("molecule", f.Name).Str("stage", string(branch.key)).
			Msg("EVC internal-coordinate failure, retrying in Cartesian coordinates")
		if err := os.WriteFile(filepath.Join(dir, RetryCartMarker), nil, 0o644); err != nil {
			return fmt.Errorf("failed to create retry marker: %w", err)
		}
		os.Remove(filepath.Join(dir, momap.ErrFile))
		os.Remove(filepath.Join(dir, slurm.DoneMarker))
		os.Remove(filepath.Join(dir, slurm.ScriptName))
	case momap.ErrFatal:
		f.markFatal(fmt.Sprintf("%s EVC failed. See %s", branch.key, filepath.Join(dir, momap.ErrFile)))
		return nil
	}

	if f.done(branch.key) {
		bestFile, ok := momap.CheckReorg(dir)
		if !ok {
			f.markFatal(fmt.Sprintf("%s reorganization energy exceeds %.0f cm-1, mode mapping rejected", branch.key, momap.ReorgThreshold))
			return nil
		}
		if branch.key == StageKic {
			// The IC rate reads the Cartesian displacements and the
			// matching NAC file regardless of which mapping scored
			// better.
			bestFile = "evc.cart.dat"
		}
		f.logger.Info().Str("molecule", f.Name).Str("stage", string(branch.key)).
			Str("ds_file", bestFile).Msg("EVC validated")
		if err := momap.WriteSelectedDSFile(dir, bestFile); err != nil {
			return err
		}
		os.Remove(filepath.Join(dir, slurm.DoneMarker))
		os.Remove(filepath.Join(dir, slurm.ScriptName))
		return f.handleRateJob(ctx, branch)
	}

	if f.submitted(branch.key) {
		return nil
	}

	f.logger.Info().Str("molecule", f.Name).Str("stage", string(branch.key)).Msg("Preparing EVC calculation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}
	if err := f.stageFreqArtifacts(branch); err != nil {
		return err
	}

	if err := momap.WriteEVCInput(dir, momap.EVCParams{
		FreqLog1:     branch.log1,
		FreqLog2:     branch.log2,
		UseCartesian: fileExists(filepath.Join(dir, RetryCartMarker)),
	}); err != nil {
		return err
	}
	if err := slurm.WriteMomapScript(f.env, dir, f.jobName(branch.key)+"_evc", momap.InputFile); err != nil {
		return err
	}
	return f.submit(ctx, dir)
}

// stageFreqArtifacts copies the two frequency logs (and their formatted
// checkpoints, when present) into the rate directory under the fixed
// names the namelists reference.
func (f *Flow) stageFreqArtifacts(branch rateBranch) error {
	pairs := []struct {
		key  StageKey
		name string
	}{
		{branch.freq1, branch.log1},
		{branch.freq2, branch.log2},
	}
	dir := f.dirs[branch.key]
	for _, p := range pairs {
		if err := copyFile(f.stageLog(p.key), filepath.Join(dir, p.name)); err != nil {
			return fmt.Errorf("failed to stage %s: %w", p.key, err)
		}
		fchk := filepath.Join(f.dirs[p.key], f.jobName(p.key)+".fchk")
		if fileExists(fchk) {
			dst := strings.TrimSuffix(p.name, ".log") + ".fchk"
			if err := copyFile(fchk, filepath.Join(dir, dst)); err != nil {
				return fmt.Errorf("failed to stage %s: %w", p.key, err)
			}
		}
	}
	return nil
}

// handleRateJob prepares and submits the rate calculation once the EVC
// sub-stage has been validated.
func (f *Flow) handleRateJob(ctx context.Context, branch rateBranch) error {
	dir := f.dirs[branch.key]
	if f.done(branch.key) || f.submitted(branch.key) {
		return nil
	}

	dsFile, err := momap.ReadSelectedDSFile(dir)
	if err != nil {
		return err
	}

	e1 := gaussian.Energy(filepath.Join(dir, branch.log1))
	e2 := gaussian.Energy(filepath.Join(dir, branch.log2))
	if e1 == 0 || e2 == 0 {
		f.markFatal(fmt.Sprintf("%s could not read state energies from the staged frequency logs", branch.key))
		return nil
	}

	mode := rateModes[branch.key]
	params := momap.DefaultRateParams(mode)
	params.Ead = math.Abs(e2 - e1)
	params.DSFile = dsFile

	switch mode {
	case momap.ModeKr:
		params.EDME = orca.ExtractEDME(f.orcaOutput())
	case momap.ModeKisc:
		params.Hso = orca.ExtractSOC(f.orcaOutput())
	}

	f.logger.Info().Str("molecule", f.Name).Str("stage", string(branch.key)).
		Float64("ead_hartree", params.Ead).Msg("Preparing rate calculation")

	if err := momap.WriteRateInput(dir, mode, params); err != nil {
		return err
	}
	if err := slurm.WriteMomapScript(f.env, dir, f.jobName(branch.key), momap.InputFile); err != nil {
		return err
	}
	return f.submit(ctx, dir)
}

var rateModes = map[StageKey]momap.RateMode{
	StageKr:   momap.ModeKr,
	StageKisc: momap.ModeKisc,
	StageKic:  momap.ModeKic,
}
