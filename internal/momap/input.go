// Package momap generates MOMAP input files for the vibration-correlation
// (EVC) and rate stages, and probes their outputs.
package momap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InputFile is the fixed MOMAP input filename inside a rate stage directory.
const InputFile = "momap.inp"

// RateMode selects which rate calculation an input file drives.
type RateMode string

const (
	ModeKr   RateMode = "kr"   // radiative rate, spec_tvcf
	ModeKisc RateMode = "kisc" // intersystem crossing, isc_tvcf
	ModeKic  RateMode = "kic"  // internal conversion, ic_tvcf
)

// EVCParams describes a mode-overlap (EVC) calculation between two
// frequency logs.
type EVCParams struct {
	FreqLog1 string
	FreqLog2 string
	// UseCartesian requests set_cart=t, the alternate coordinate
	// representation used for the bounded retry after an
	// internal-coordinate failure.
	UseCartesian bool
}

// WriteEVCInput renders the EVC namelist into dir.
func WriteEVCInput(dir string, p EVCParams) error {
	var b strings.Builder
	b.WriteString("do_evc = 1\n")
	b.WriteString("&evc\n")
	fmt.Fprintf(&b, " ffreq(1) = \"%s\"\n", p.FreqLog1)
	fmt.Fprintf(&b, " ffreq(2) = \"%s\"\n", p.FreqLog2)
	if p.UseCartesian {
		b.WriteString(" set_cart = .t.\n")
	}
	b.WriteString("/\n")

	return writeInput(dir, b.String())
}

// RateParams carries the namelist values for a rate calculation. Zero
// values are filled from the per-mode defaults by DefaultRateParams.
type RateParams struct {
	Temp        int
	Tmax        int
	Dt          float64
	NScale      int
	Emin        float64
	Emax        float64
	DE          float64
	Dushin      string
	Herz        string
	Spectra0    string
	IsGauss     string
	BroadenType string
	BroadenFunc string
	FWHM        int
	FreqScale   float64

	// Per-molecule quantities injected by the pipeline.
	Ead      float64 // adiabatic energy gap, Hartree
	EDMA     float64 // Debye, kr only
	EDME     float64 // Debye, kr only
	Hso      float64 // cm-1, kisc only
	DSFile   string
	CoulFile string // kic only
}

// DefaultRateParams returns the production parameter set for a mode.
func DefaultRateParams(mode RateMode) RateParams {
	p := RateParams{
		Temp:        300,
		Tmax:        3000,
		Dt:          0.01,
		NScale:      10,
		Emin:        -0.3,
		Emax:        0.3,
		DE:          0.00001,
		Dushin:      ".f.",
		Herz:        ".f.",
		Spectra0:    ".f.",
		IsGauss:     ".f.",
		BroadenType: "gaussian",
		BroadenFunc: "frequency",
		FreqScale:   1.0,
	}
	switch mode {
	case ModeKr:
		p.FWHM = 20
		p.EDMA = 1.0
		p.DSFile = "evc.cart.dat"
	case ModeKisc:
		p.FWHM = 50
		p.DSFile = "evc.dint.dat"
	case ModeKic:
		p.Dushin = ".t."
		p.IsGauss = ".t."
		p.FWHM = 500
		p.NScale = 20
		p.DSFile = "evc.cart.dat"
		p.CoulFile = "evc.cart.nac"
	}
	return p
}

// WriteRateInput renders the rate namelist for the given mode into dir.
func WriteRateInput(dir string, mode RateMode, p RateParams) error {
	var content string

	switch mode {
	case ModeKisc:
		content = fmt.Sprintf(`do_isc_tvcf_ft   = 1
do_isc_tvcf_spec = 1

&isc_tvcf
 DUSHIN        = %s
 HERZ          = %s
 Temp          = %d K
 tmax          = %d fs
 dt            = %g fs
 Ead           = %.8f au
 Hso           = %.5f cm-1
 FreqScale     = %g
 DSFile        = "%s"
 isgauss       = %s
 BroadenType   = "%s"
 Broadenfunc   = "%s"
 FWHM          = %d cm-1
 GFile         = "spec.tvcf.gauss.dat"
 NScale        = %d
 Emin          = %g au
 Emax          = %g au
 dE            = %g au
 logFile       = "isc.tvcf.log"
 FoFile        = "isc.tvcf.fo.dat"
 FtFile        = "isc.tvcf.ft.dat"
 FoSFile       = "isc.tvcf.spec.dat"
 spectra0      = %s
 IntEmin       = 0.0 au
 IntEmax       = 0.09 au
/
`, p.Dushin, p.Herz, p.Temp, p.Tmax, p.Dt, p.Ead, p.Hso, p.FreqScale,
			p.DSFile, p.IsGauss, p.BroadenType, p.BroadenFunc, p.FWHM,
			p.NScale, p.Emin, p.Emax, p.DE, p.Spectra0)

	case ModeKic:
		content = fmt.Sprintf(`do_ic_tvcf_ft   = 1
do_ic_tvcf_spec = 1

&ic_tvcf
 DUSHIN        = %s
 Temp          = %d K
 tmax          = %d fs
 dt            = %g fs
 Ead           = %.8f au
 DSFile        = "%s"
 CoulFile      = "%s"
 isgauss       = %s
 BroadenType   = "%s"
 Broadenfunc   = "%s"
 FWHM          = %d cm-1
 GFile         = "spec.tvcf.gauss.dat"
 NScale        = %d
 Emax          = %g au
 logFile       = "ic.tvcf.log"
 FtFile        = "ic.tvcf.ft.dat"
 FoFile        = "ic.tvcf.fo.dat"
/
`, p.Dushin, p.Temp, p.Tmax, p.Dt, p.Ead, p.DSFile, p.CoulFile,
			p.IsGauss, p.BroadenType, p.BroadenFunc, p.FWHM, p.NScale, p.Emax)

	case ModeKr:
		content = fmt.Sprintf(`do_spec_tvcf_ft   = 1
do_spec_tvcf_spec = 1

&spec_tvcf
 DUSHIN        = %s
 HERZ          = %s
 Temp          = %d K
 tmax          = %d fs
 dt            = %g fs
 Ead           = %.8f au
 EDMA          = %g debye
 EDME          = %.8f debye
 FreqScale     = %g
 DSFile        = "%s"
 isgauss       = %s
 BroadenType   = "%s"
 Broadenfunc   = "%s"
 FWHM          = %d cm-1
 GFile         = "spec.tvcf.gauss.dat"
 NScale        = %d
 Emin          = %g au
 Emax          = %g au
 dE            = %g au
 logFile       = "spec.tvcf.log"
 FoFile        = "spec.tvcf.fo.dat"
 FtFile        = "spec.tvcf.ft.dat"
 FoSFile       = "spec.tvcf.spec.dat"
 spectra0      = %s
 IntEmin       = 0.0 au
 IntEmax       = 0.09 au
/
`, p.Dushin, p.Herz, p.Temp, p.Tmax, p.Dt, p.Ead, p.EDMA, p.EDME,
			p.FreqScale, p.DSFile, p.IsGauss, p.BroadenType, p.BroadenFunc,
			p.FWHM, p.NScale, p.Emin, p.Emax, p.DE, p.Spectra0)

	default:
		return fmt.Errorf("unknown rate mode %q", mode)
	}

	return writeInput(dir, content)
}

func writeInput(dir, content string) error {
	path := filepath.Join(dir, InputFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write momap input: %w", err)
	}
	return nil
}
