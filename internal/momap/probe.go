package momap

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ReorgThreshold is the acceptance ceiling for the total reorganization
// energy (cm-1). Either component above it rejects the EVC result.
const ReorgThreshold = 5000.0

// ErrFile is the scheduler output file the EVC error probe inspects.
const ErrFile = "momap.err"

// ErrStatus classifies the contents of a rate stage's error log.
type ErrStatus int

const (
	// ErrNone means no diagnosable failure is recorded.
	ErrNone ErrStatus = iota
	// ErrCoordinate is the internal-coordinate failure signature; it is
	// recoverable once by switching to Cartesian coordinates.
	ErrCoordinate
	// ErrFatal is any other recorded crash.
	ErrFatal
)

var reorgRe = regexp.MustCompile(`Total reorganization energy.*:\s+([\d.]+)\s+([\d.]+)`)

// CheckErrFile classifies momap.err in dir. A missing or empty file means
// no failure.
func CheckErrFile(dir string) ErrStatus {
	data, err := os.ReadFile(filepath.Join(dir, ErrFile))
	if err != nil {
		return ErrNone
	}
	content := strings.ToLower(string(data))
	if strings.TrimSpace(content) == "" {
		return ErrNone
	}
	if strings.Contains(content, "internal coordinate") {
		return ErrCoordinate
	}
	if strings.Contains(content, "error") || strings.Contains(content, "traceback") {
		return ErrFatal
	}
	return ErrNone
}

// CheckReorg validates the reorganization energies in evc.dint.dat and
// evc.cart.dat. It returns the displacement file with the lowest mean
// reorganization energy, or ok=false when a component exceeds the
// threshold or no candidate file parses.
func CheckReorg(dir string) (bestFile string, ok bool) {
	candidates := []string{"evc.dint.dat", "evc.cart.dat"}
	means := make(map[string]float64)

	for _, fname := range candidates {
		data, err := os.ReadFile(filepath.Join(dir, fname))
		if err != nil {
			continue
		}
		m := reorgRe.FindStringSubmatch(string(data))
		if m == nil {
			continue
		}
		re1, err1 := strconv.ParseFloat(m[1], 64)
		re2, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if re1 > ReorgThreshold || re2 > ReorgThreshold {
			return "", false
		}
		means[fname] = (re1 + re2) / 2.0
	}

	if len(means) == 0 {
		return "", false
	}

	best := ""
	for fname, mean := range means {
		if best == "" || mean < means[best] {
			best = fname
		}
	}
	return best, true
}

var (
	krRateRe   = regexp.MustCompile(`radiative rate\s+\(\d+\):.*?([\d.Ee+-]+)\s+/s`)
	kiscRateRe = regexp.MustCompile(`Intersystem crossing Ead is.*?rate is\s+([\d.Ee+-]+)\s+s-1`)
)

// Rates holds the three extracted rate constants, in s^-1.
type Rates struct {
	Kr   float64
	Kisc float64
	Kic  float64
}

// ExtractRates pulls the radiative, intersystem-crossing and internal-
// conversion rates out of their tvcf logs. A missing or unparseable log
// leaves that rate at zero.
func ExtractRates(krLog, kiscLog, kicLog string) Rates {
	var r Rates

	if data, err := os.ReadFile(krLog); err == nil {
		if m := krRateRe.FindStringSubmatch(string(data)); m != nil {
			r.Kr, _ = strconv.ParseFloat(m[1], 64)
		}
	}

	if data, err := os.ReadFile(kiscLog); err == nil {
		if m := kiscRateRe.FindStringSubmatch(string(data)); m != nil {
			r.Kisc, _ = strconv.ParseFloat(m[1], 64)
		}
	}

	if data, err := os.ReadFile(kicLog); err == nil {
		r.Kic = extractKic(string(data))
	}

	return r
}

// extractKic finds the rate table by its header and reads the kic column
// of the first data row.
func extractKic(content string) float64 {
	foundHeader := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, "1Energy") && strings.Contains(line, "6kic") {
			foundHeader = true
			continue
		}
		if !foundHeader {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
			continue
		}
		v, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			continue
		}
		return v
	}
	return 0
}

// EVCDoneFile is the marker recording which displacement file the
// validation step selected. Its content, not just its presence, is read by
// the rate phase.
const EVCDoneFile = "evc.done"

// ReadSelectedDSFile returns the displacement file recorded in evc.done.
func ReadSelectedDSFile(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, EVCDoneFile))
	if err != nil {
		return "", fmt.Errorf("failed to read evc selection: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("evc selection in %s is empty", dir)
	}
	return name, nil
}

// WriteSelectedDSFile persists the validation step's displacement file
// choice.
func WriteSelectedDSFile(dir, name string) error {
	path := filepath.Join(dir, EVCDoneFile)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		return fmt.Errorf("failed to write evc selection: %w", err)
	}
	return nil
}

// SpectrumFile is the correlation-function spectrum written by the
// radiative rate run.
const SpectrumFile = "spec.tvcf.spec.dat"

// SpectrumPeak reads a tvcf spectrum and returns the peak emission
// wavelength and the emission band's full width at half maximum, both in
// nm. The intensities are not assumed to be normalized; the half-maximum
// threshold is taken from the observed peak.
func SpectrumPeak(path string) (peakWL, fwhmWL float64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read spectrum: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 2 {
		lines = lines[2:]
	}

	var wls, emis []float64
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		wl, err1 := strconv.ParseFloat(fields[3], 64)
		emi, err2 := strconv.ParseFloat(fields[5], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		wls = append(wls, wl)
		emis = append(emis, emi)
	}
	if len(emis) == 0 {
		return 0, 0, fmt.Errorf("spectrum %s has no data rows", path)
	}

	maxVal := emis[0]
	maxIdx := 0
	for i, v := range emis {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	if maxVal == 0 {
		return 0, 0, nil
	}

	threshold := maxVal / 2
	first, last := -1, -1
	for i, v := range emis {
		if v > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	peakWL = wls[maxIdx]
	fwhmWL = math.Abs(wls[first] - wls[last])
	return peakWL, fwhmWL, nil
}
