package momap

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckErrFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
		want    ErrStatus
	}{
		{"missing file", "", true, ErrNone},
		{"empty file", "   \n", false, ErrNone},
		{"coordinate failure", "Failed to build internal coordinate system\n", false, ErrCoordinate},
		{"generic crash", "Traceback (most recent call last):\n  ...\n", false, ErrFatal},
		{"error keyword", "ERROR: allocation failed\n", false, ErrFatal},
		{"benign output", "srun: job 12345 queued\n", false, ErrNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if !tt.missing {
				writeFile(t, dir, ErrFile, tt.content)
			}
			if got := CheckErrFile(dir); got != tt.want {
				t.Errorf("CheckErrFile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckReorgSelectsLowestMean(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "evc.dint.dat",
		"Total reorganization energy      (cm-1):    1200.5    1500.0\n")
	writeFile(t, dir, "evc.cart.dat",
		"Total reorganization energy      (cm-1):    900.0    1000.0\n")

	best, ok := CheckReorg(dir)
	if !ok {
		t.Fatal("CheckReorg() rejected in-threshold energies")
	}
	if best != "evc.cart.dat" {
		t.Errorf("best = %q, want evc.cart.dat", best)
	}
}

func TestCheckReorgRejectsOverThreshold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "evc.dint.dat",
		"Total reorganization energy      (cm-1):    800.0    7000.0\n")

	if _, ok := CheckReorg(dir); ok {
		t.Error("CheckReorg() accepted an over-threshold component")
	}
}

func TestCheckReorgNoCandidates(t *testing.T) {
	if _, ok := CheckReorg(t.TempDir()); ok {
		t.Error("CheckReorg() succeeded with no displacement files")
	}
}

func TestExtractRates(t *testing.T) {
	dir := t.TempDir()
	krLog := writeFile(t, dir, "spec.tvcf.log",
		"radiative rate     (0):   0.23146776E-05atomic unit  2.34E+05 /s\n")
	kiscLog := writeFile(t, dir, "isc.tvcf.log",
		"Intersystem crossing Ead is 0.05123, rate is  4.56E+07 s-1\n")
	kicLog := writeFile(t, dir, "ic.tvcf.log", `# header preamble
#1Energy(Hartree) 2Ead(eV) 3lambda 4gap 5gamma 6kic(s^{-1})
# ------------------------------------------------------
 0.0735  2.001  0.15  0.30  0.002  1.23E+08
 0.0800  2.177  0.15  0.30  0.002  9.99E+07
`)

	r := ExtractRates(krLog, kiscLog, kicLog)
	if math.Abs(r.Kr-2.34e5) > 1 {
		t.Errorf("Kr = %v, want 2.34e5", r.Kr)
	}
	if math.Abs(r.Kisc-4.56e7) > 1 {
		t.Errorf("Kisc = %v, want 4.56e7", r.Kisc)
	}
	if math.Abs(r.Kic-1.23e8) > 1 {
		t.Errorf("Kic = %v, want first-row kic 1.23e8", r.Kic)
	}
}

func TestExtractRatesMissingLogs(t *testing.T) {
	dir := t.TempDir()
	r := ExtractRates(
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "b.log"),
		filepath.Join(dir, "c.log"),
	)
	if r.Kr != 0 || r.Kisc != 0 || r.Kic != 0 {
		t.Errorf("rates from missing logs = %+v, want zeros", r)
	}
}

func TestSelectedDSFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WriteSelectedDSFile(dir, "evc.dint.dat"); err != nil {
		t.Fatalf("WriteSelectedDSFile() error: %v", err)
	}
	got, err := ReadSelectedDSFile(dir)
	if err != nil {
		t.Fatalf("ReadSelectedDSFile() error: %v", err)
	}
	if got != "evc.dint.dat" {
		t.Errorf("selected = %q, want evc.dint.dat", got)
	}
}

func TestReadSelectedDSFileMissing(t *testing.T) {
	if _, err := ReadSelectedDSFile(t.TempDir()); err == nil {
		t.Error("ReadSelectedDSFile() on missing marker did not fail")
	}
}

func TestSpectrumPeak(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, SpectrumFile, `# spectrum header
# energy wn wl abs emi
 1.0  2.0  20000.0  500.0  0.0  0.1
 1.0  2.0  19000.0  526.0  0.0  1.0
 1.0  2.0  18000.0  555.0  0.0  0.6
 1.0  2.0  17000.0  588.0  0.0  0.2
`)

	peak, fwhm, err := SpectrumPeak(spec)
	if err != nil {
		t.Fatalf("SpectrumPeak() error: %v", err)
	}
	if peak != 526.0 {
		t.Errorf("peak = %v, want 526.0", peak)
	}
	if math.Abs(fwhm-29.0) > 1e-9 {
		t.Errorf("fwhm = %v, want 29.0", fwhm)
	}
}

func TestWriteEVCInput(t *testing.T) {
	dir := t.TempDir()
	err := WriteEVCInput(dir, EVCParams{
		FreqLog1: "s0.log",
		FreqLog2: "t1.log",
	})
	if err != nil {
		t.Fatalf("WriteEVCInput() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, InputFile))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"do_evc = 1", `ffreq(1) = "s0.log"`, `ffreq(2) = "t1.log"`} {
		if !strings.Contains(text, want) {
			t.Errorf("evc input missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "set_cart") {
		t.Error("set_cart present without the Cartesian retry")
	}

	if err := WriteEVCInput(dir, EVCParams{FreqLog1: "s0.log", FreqLog2: "t1.log", UseCartesian: true}); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, InputFile))
	if !strings.Contains(string(data), "set_cart = .t.") {
		t.Error("set_cart missing for the Cartesian retry")
	}
}

func TestWriteRateInputKr(t *testing.T) {
	dir := t.TempDir()
	p := DefaultRateParams(ModeKr)
	p.Ead = 0.07350000
	p.EDME = 1.23456789
	p.DSFile = "evc.dint.dat"

	if err := WriteRateInput(dir, ModeKr, p); err != nil {
		t.Fatalf("WriteRateInput() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, InputFile))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"do_spec_tvcf_ft   = 1",
		"Ead           = 0.07350000 au",
		"EDME          = 1.23456789 debye",
		"EDMA          = 1 debye",
		`DSFile        = "evc.dint.dat"`,
		"FWHM          = 20 cm-1",
		`logFile       = "spec.tvcf.log"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("kr input missing %q", want)
		}
	}
}

func TestDefaultRateParams(t *testing.T) {
	kic := DefaultRateParams(ModeKic)
	if kic.Dushin != ".t." || kic.IsGauss != ".t." {
		t.Errorf("kic defaults: Dushin=%q IsGauss=%q, want .t. for both", kic.Dushin, kic.IsGauss)
	}
	if kic.FWHM != 500 || kic.NScale != 20 {
		t.Errorf("kic defaults: FWHM=%d NScale=%d, want 500, 20", kic.FWHM, kic.NScale)
	}
	if kic.CoulFile != "evc.cart.nac" {
		t.Errorf("kic CoulFile = %q, want evc.cart.nac", kic.CoulFile)
	}

	kisc := DefaultRateParams(ModeKisc)
	if kisc.FWHM != 50 || kisc.DSFile != "evc.dint.dat" {
		t.Errorf("kisc defaults: FWHM=%d DSFile=%q", kisc.FWHM, kisc.DSFile)
	}
}

func TestWriteRateInputUnknownMode(t *testing.T) {
	if err := WriteRateInput(t.TempDir(), RateMode("bogus"), RateParams{}); err == nil {
		t.Error("unknown mode did not fail")
	}
}
