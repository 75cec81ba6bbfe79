package pipeline

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/photonlab/phosflow/internal/gaussian"
	"github.com/photonlab/phosflow/internal/momap"
)

const (
	// kbHartree is the Boltzmann constant in Hartree/K.
	kbHartree = 3.1668114e-6
	// hartreeToEV converts Hartree to electron volts.
	hartreeToEV = 27.2114
	// analysisTemp is the temperature the Boltzmann population ratio is
	// evaluated at, in K.
	analysisTemp = 300.0
)

// runFinalAnalysis collects the three rate constants, computes the PLQY
// and the emission band properties, and writes the report artifact. The
// report file doubles as the molecule's completion marker, so this runs
// exactly once.
func (f *Flow) runFinalAnalysis() error {
	reportPath := filepath.Join(f.Root, ReportFile)
	if fileExists(reportPath) {
		return nil
	}

	f.logger.Info().Str("molecule", f.Name).Msg("Running final analysis")

	rates := momap.ExtractRates(
		filepath.Join(f.dirs[StageKr], "spec.tvcf.log"),
		filepath.Join(f.dirs[StageKisc], "isc.tvcf.log"),
		filepath.Join(f.dirs[StageKic], "ic.tvcf.log"),
	)

	eS1 := gaussian.Energy(f.stageLog(StageS1Freq))
	eT1 := gaussian.Energy(f.stageLog(StageT1Freq))
	deltaE := eS1 - eT1
	if deltaE < 0 {
		f.logger.Warn().Str("molecule", f.Name).Float64("delta_e", deltaE).
			Msg("S1 is below T1, Boltzmann ratio exceeds one")
	}

	plqy, ratio := calculatePLQY(rates, deltaE, analysisTemp)

	var peakWL, fwhmWL float64
	specPath := filepath.Join(f.dirs[StageKr], momap.SpectrumFile)
	if p, w, err := momap.SpectrumPeak(specPath); err != nil {
		f.logger.Error().Err(err).Str("molecule", f.Name).Msg("Failed to read emission spectrum")
	} else {
		peakWL, fwhmWL = p, w
	}

	report := buildReport(f.Name, eS1, eT1, deltaE, ratio, rates, plqy, peakWL, fwhmWL)
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	f.logger.Info().Str("molecule", f.Name).Str("report", reportPath).
		Float64("plqy", plqy).Msg("Report generated")
	return nil
}

// calculatePLQY evaluates kr/(kr + kisc + kic·ratio), where ratio is the
// Boltzmann population ratio n(S1)/n(T1) at temp.
func calculatePLQY(r momap.Rates, deltaE, temp float64) (plqy, ratio float64) {
	kt := kbHartree * temp
	ratio = math.Exp(-deltaE / kt)
	if math.IsInf(ratio, 1) {
		ratio = 0
	}

	total := r.Kr + r.Kisc + r.Kic*ratio
	if total == 0 {
		return 0, ratio
	}
	return r.Kr / total, ratio
}

func buildReport(name string, eS1, eT1, deltaE, ratio float64, r momap.Rates, plqy, peakWL, fwhmWL float64) string {
	var b strings.Builder
	rule := strings.Repeat("=", 50)

	fmt.Fprintf(&b, "%s\n", rule)
	fmt.Fprintf(&b, "Analysis Report for %s\n", name)
	fmt.Fprintf(&b, "%s\n", rule)
	b.WriteString("1. Energies (Hartree)\n")
	fmt.Fprintf(&b, "   E(S1): %.6f\n", eS1)
	fmt.Fprintf(&b, "   E(T1): %.6f\n", eT1)
	fmt.Fprintf(&b, "   dE(S1-T1): %.6f Ha (%.3f eV)\n", deltaE, deltaE*hartreeToEV)
	fmt.Fprintf(&b, "   Boltzmann Ratio n(S1)/n(T1): %.4e (at %.0f K)\n", ratio, analysisTemp)
	b.WriteString("\n2. Rates (s^-1)\n")
	fmt.Fprintf(&b, "   Kr   (Rad): %.4e\n", r.Kr)
	fmt.Fprintf(&b, "   Kisc (ISC): %.4e\n", r.Kisc)
	fmt.Fprintf(&b, "   Kic  (IC) : %.4e\n", r.Kic)
	b.WriteString("\n3. PLQY Calculation\n")
	b.WriteString("   Formula: Kr / (Kr + Kisc + Kic * Ratio)\n")
	fmt.Fprintf(&b, "   PLQY: %.2f%% (%.4f)\n", plqy*100, plqy)
	b.WriteString("\n4. Spectrum Properties\n")
	fmt.Fprintf(&b, "   Peak Wavelength: %.1f nm\n", peakWL)
	fmt.Fprintf(&b, "   FWHM: %.1f nm\n", fwhmWL)
	fmt.Fprintf(&b, "%s\n", rule)

	return b.String()
}
