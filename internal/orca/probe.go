package orca

import (
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	edmeHeader = "SOC CORRECTED ABSORPTION SPECTRUM VIA TRANSITION ELECTRIC DIPOLE MOMENTS"
	socHeader  = "CALCULATED SOCME BETWEEN TRIPLETS AND SINGLETS"
)

// debyePerAU converts sqrt(D2) in atomic units to Debye.
const debyePerAU = 2.5417

// socRowRe matches the T=1, S=0 row of the SOCME table: three complex
// components, each printed as "( Re , Im )".
var socRowRe = regexp.MustCompile(
	`(?m)^\s*1\s+0\s+` +
		`\(\s*(-?[\d.]+)\s*,\s*(-?[\d.]+)\s*\)\s+` +
		`\(\s*(-?[\d.]+)\s*,\s*(-?[\d.]+)\s*\)\s+` +
		`\(\s*(-?[\d.]+)\s*,\s*(-?[\d.]+)\s*\)`)

// ExtractEDME computes the effective electric transition dipole moment
// (Debye) from the D2 column of the first three transitions in the SOC
// corrected spectrum table. Missing output or table falls back to 1.0.
func ExtractEDME(outPath string) float64 {
	data, err := os.ReadFile(outPath)
	if err != nil {
		return 1.0
	}

	blocks := strings.Split(string(data), edmeHeader)
	if len(blocks) < 2 {
		return 1.0
	}

	var target string
	for i := len(blocks) - 1; i >= 1; i-- {
		if strings.Contains(blocks[i], "0-1.0A") && strings.Contains(blocks[i], "D2") {
			target = blocks[i]
			break
		}
	}
	if target == "" {
		return 1.0
	}

	var d2 []float64
	for _, line := range strings.Split(target, "\n") {
		if !strings.Contains(line, "->") || !strings.Contains(line, "0-1.0A") {
			continue
		}
		fields := strings.Fields(line)
		// Row layout: from -> to, energy(eV), energy(cm-1), wavelength,
		// fosc, D2, then the moment components.
		if len(fields) < 8 {
			continue
		}
		v, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			continue
		}
		d2 = append(d2, v)
		if len(d2) == 3 {
			break
		}
	}
	if len(d2) == 0 {
		return 1.0
	}

	var sum float64
	for _, v := range d2 {
		sum += v
	}
	return math.Sqrt(sum/float64(len(d2))) * debyePerAU
}

// ExtractSOC computes the root-mean-square spin-orbit coupling constant
// (cm-1) between T1 and S0 from the Cartesian SOCME table. Returns 0 when
// the table or the T=1,S=0 row is missing.
func ExtractSOC(outPath string) float64 {
	data, err := os.ReadFile(outPath)
	if err != nil {
		return 0
	}

	blocks := strings.Split(string(data), socHeader)
	var target string
	for _, block := range blocks[1:] {
		// The table with X, Y, Z component columns, as opposed to the
		// scalar SOC summary.
		lines := strings.Split(block, "\n")
		n := len(lines)
		if n > 10 {
			n = 10
		}
		head := strings.Join(lines[:n], " ")
		if strings.Contains(head, "X") && strings.Contains(head, "Y") && strings.Contains(head, "Z") {
			target = block
			break
		}
	}
	if target == "" {
		return 0
	}

	m := socRowRe.FindStringSubmatch(target)
	if m == nil {
		return 0
	}

	var sqSum float64
	for _, s := range m[1:] {
		v, _ := strconv.ParseFloat(s, 64)
		sqSum += v * v
	}
	return math.Sqrt(sqSum / 3.0)
}
