package gaussian

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	freqLineRe    = regexp.MustCompile(`Frequencies\s+--\s+(.*)`)
	elapsedRe     = regexp.MustCompile(`Elapsed time:\s+(\d+)\s+days\s+(\d+)\s+hours\s+(\d+)\s+minutes\s+([\d.]+)\s+seconds`)
	scfDoneRe     = regexp.MustCompile(`SCF Done:\s+E\(\S+\)\s+=\s+(-?[\d.]+)`)
	totalEnergyRe = regexp.MustCompile(`Total Energy.*?(-?[\d.]+)\s*$`)
)

// NormalTermination reports whether the log ends in a normal Gaussian
// termination. A missing or unreadable log counts as abnormal.
func NormalTermination(logPath string) bool {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "Normal termination")
}

// ImaginaryFrequencies scans the frequency blocks of a log and returns any
// negative (imaginary) vibrational modes found.
func ImaginaryFrequencies(logPath string) (bool, []float64, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return false, nil, fmt.Errorf("failed to read log: %w", err)
	}

	var imag []float64
	for _, m := range freqLineRe.FindAllStringSubmatch(string(data), -1) {
		for _, field := range strings.Fields(m[1]) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			if v < 0 {
				imag = append(imag, v)
			}
		}
	}
	return len(imag) > 0, imag, nil
}

// ElapsedHours returns the wall-clock duration reported at the end of a
// Gaussian log, in hours. Returns 0 when the log carries no timing line.
func ElapsedHours(logPath string) float64 {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0
	}
	m := elapsedRe.FindStringSubmatch(string(data))
	if m == nil {
		return 0
	}
	days, _ := strconv.ParseFloat(m[1], 64)
	hours, _ := strconv.ParseFloat(m[2], 64)
	minutes, _ := strconv.ParseFloat(m[3], 64)
	seconds, _ := strconv.ParseFloat(m[4], 64)
	return days*24 + hours + minutes/60 + seconds/3600
}

// Energy extracts the electronic energy (Hartree) from a log. A
// "Total Energy" line wins over the last "SCF Done" line.
func Energy(logPath string) float64 {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0
	}

	var scf, total float64
	for _, line := range strings.Split(string(data), "\n") {
		if m := scfDoneRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				scf = v
			}
		}
		if strings.Contains(line, "Total Energy") {
			if m := totalEnergyRe.FindStringSubmatch(strings.TrimRight(line, " \r")); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					total = v
				}
			}
		}
	}

	if total != 0 {
		return total
	}
	return scf
}
